package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/DocuMindAI/docindex/engine/domain"
)

func TestChunkTextOffsets(t *testing.T) {
	// 26 runes, no whitespace: fixed windows with stride size-overlap.
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks, err := ChunkText("doc-1", text, 10, 3, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}

	want := []struct{ start, end int }{
		{0, 10}, {7, 17}, {14, 24}, {21, 26},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, w := range want {
		c := chunks[i]
		if c.Start != w.start || c.End != w.end {
			t.Errorf("chunk %d: offsets [%d,%d), want [%d,%d)", i, c.Start, c.End, w.start, w.end)
		}
		if c.Index != i {
			t.Errorf("chunk %d: index %d", i, c.Index)
		}
		if c.Text != text[w.start:w.end] {
			t.Errorf("chunk %d: text %q does not match offsets", i, c.Text)
		}
	}
}

func TestChunkTextCoversInput(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	chunks, err := ChunkText("doc-1", text, 100, 20, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}

	runes := []rune(text)
	covered := make([]bool, len(runes))
	prevStart := -1
	for i, c := range chunks {
		if c.End <= c.Start {
			t.Fatalf("chunk %d: zero or negative length [%d,%d)", i, c.Start, c.End)
		}
		if c.Start <= prevStart {
			t.Fatalf("chunk %d: start %d did not advance past %d", i, c.Start, prevStart)
		}
		prevStart = c.Start
		if got := string(runes[c.Start:c.End]); got != c.Text {
			t.Fatalf("chunk %d: text disagrees with offsets", i)
		}
		for p := c.Start; p < c.End; p++ {
			covered[p] = true
		}
	}
	for p, ok := range covered {
		if !ok {
			t.Fatalf("rune %d not covered by any chunk", p)
		}
	}
	if last := chunks[len(chunks)-1]; last.End != len(runes) {
		t.Errorf("last chunk ends at %d, want %d", last.End, len(runes))
	}
}

func TestChunkTextDeterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 100)
	a, _ := ChunkText("d", text, 80, 15, nil)
	b, _ := ChunkText("d", text, 80, 15, nil)
	if len(a) != len(b) {
		t.Fatalf("runs disagree: %d vs %d chunks", len(a), len(b))
	}
	for i := range a {
		if a[i].Start != b[i].Start || a[i].End != b[i].End || a[i].Text != b[i].Text {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestChunkTextShortInput(t *testing.T) {
	chunks, err := ChunkText("d", "hello", 100, 10, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != "hello" || c.Start != 0 || c.End != 5 {
		t.Errorf("got %+v", c)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	chunks, err := ChunkText("d", "", 100, 10, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if chunks != nil {
		t.Errorf("got %d chunks for empty text", len(chunks))
	}
}

func TestChunkTextInvalidConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ChunkText("d", "some text", tc.size, tc.overlap, nil)
			if !errors.Is(err, domain.ErrInvalidChunkConfig) {
				t.Errorf("size=%d overlap=%d: err = %v, want ErrInvalidChunkConfig", tc.size, tc.overlap, err)
			}
		})
	}
}

func TestChunkTextPrefersWhitespaceBoundary(t *testing.T) {
	// A space sits just inside the lookback window before the hard cut.
	text := "aaaaaaaa bbbbbbbbbbbbbbbbbbbb"
	chunks, err := ChunkText("d", text, 12, 5, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if chunks[0].End != 9 {
		t.Errorf("first chunk ends at %d, want 9 (after the space)", chunks[0].End)
	}
	if chunks[0].Text != "aaaaaaaa " {
		t.Errorf("first chunk text %q", chunks[0].Text)
	}
}

func TestChunkTextNoWhitespaceSplitsHard(t *testing.T) {
	text := strings.Repeat("x", 50)
	chunks, err := ChunkText("d", text, 20, 5, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if chunks[0].End != 20 {
		t.Errorf("first chunk ends at %d, want exact size 20", chunks[0].End)
	}
}

func TestChunkTextUnicodeOffsets(t *testing.T) {
	// Multi-byte runes: offsets must count runes, not bytes.
	text := strings.Repeat("héllo wörld ", 20)
	chunks, err := ChunkText("d", text, 30, 6, nil)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	runes := []rune(text)
	for i, c := range chunks {
		if string(runes[c.Start:c.End]) != c.Text {
			t.Fatalf("chunk %d: rune offsets disagree with text", i)
		}
	}
}

func TestChunkTextMetadataIsolated(t *testing.T) {
	meta := map[string]string{"source": "unit"}
	chunks, err := ChunkText("d", "alpha beta gamma delta epsilon zeta", 12, 3, meta)
	if err != nil {
		t.Fatalf("ChunkText: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	chunks[0].Metadata["source"] = "mutated"
	if chunks[1].Metadata["source"] != "unit" {
		t.Error("metadata shared between chunks")
	}
	if meta["source"] != "unit" {
		t.Error("caller metadata mutated")
	}
}
