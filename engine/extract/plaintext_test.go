package extract

import (
	"context"
	"testing"
)

func TestTextExtractorUTF8(t *testing.T) {
	te := &textExtractor{mediaType: "text/plain"}
	got, err := te.Extract(context.Background(), []byte("héllo wörld"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "héllo wörld" {
		t.Errorf("got %q", got)
	}
}

func TestTextExtractorBOM(t *testing.T) {
	te := &textExtractor{mediaType: "text/plain"}
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("content")...)
	got, err := te.Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "content" {
		t.Errorf("BOM not stripped: %q", got)
	}
}

func TestTextExtractorLatin1(t *testing.T) {
	te := &textExtractor{mediaType: "text/plain; charset=iso-8859-1"}
	// "café" in latin-1: é is a lone 0xE9, invalid as UTF-8.
	data := []byte{'c', 'a', 'f', 0xE9}
	got, err := te.Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "café" {
		t.Errorf("got %q, want café", got)
	}
}

func TestTextExtractorEmpty(t *testing.T) {
	te := &textExtractor{mediaType: "text/plain"}
	got, err := te.Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "" {
		t.Errorf("got %q for empty input", got)
	}
}
