package ingest

import (
	"fmt"
	"unicode"

	"github.com/DocuMindAI/docindex/engine/domain"
)

const (
	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 800
	// DefaultOverlap is the overlap width between consecutive chunks.
	DefaultOverlap = 150
	// maxBoundaryLookback caps how far back a chunk end may shift to
	// land on whitespace.
	maxBoundaryLookback = 32
)

// ChunkText splits text into overlapping chunks of up to size runes,
// advancing by size-overlap. Chunk ends prefer the nearest whitespace
// within a small lookback window so tokens are not split mid-word; a
// window with no whitespace splits exactly at size. The result is
// deterministic, eager, and never contains a zero-length chunk. Text
// shorter than size yields exactly one chunk. Offsets are rune offsets
// into text. Each chunk gets its own copy of meta.
func ChunkText(docID, text string, size, overlap int, meta map[string]string) ([]domain.Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk_size=%d overlap=%d (need 0 <= overlap < chunk_size, chunk_size > 0)",
			domain.ErrInvalidChunkConfig, size, overlap)
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	lookback := overlap
	if lookback > maxBoundaryLookback {
		lookback = maxBoundaryLookback
	}

	var chunks []domain.Chunk
	start := 0
	for idx := 0; start < n; idx++ {
		end := start + size
		if end >= n {
			end = n
		} else if lookback > 0 {
			end = breakNear(runes, start, end, lookback, overlap)
		}

		chunks = append(chunks, domain.Chunk{
			DocID:    docID,
			Index:    idx,
			Text:     string(runes[start:end]),
			Start:    start,
			End:      end,
			Metadata: domain.CloneMetadata(meta),
		})

		if end == n {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// breakNear returns the nearest position at or before end where the
// preceding rune is whitespace, looking back at most lookback runes.
// Positions that would stall the walk (next start not past the current
// one) are skipped.
func breakNear(runes []rune, start, end, lookback, overlap int) int {
	limit := end - lookback
	for p := end; p > limit; p-- {
		if p-start <= overlap+1 {
			break
		}
		if unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return end
}
