package extract

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/DocuMindAI/docindex/engine/domain"
	"golang.org/x/net/html/charset"
)

// textExtractor decodes text-family files (plain text, markdown, code,
// JSON) from their declared or detected character encoding. No OCR.
type textExtractor struct {
	mediaType string // as declared, charset parameter included
}

func (t *textExtractor) Extract(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	// Fast path: already valid UTF-8, which DetermineEncoding cannot
	// always distinguish from latin-1 on short inputs.
	if utf8.Valid(data) {
		return string(trimBOM(data)), nil
	}
	enc, _, _ := charset.DetermineEncoding(data, t.mediaType)
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: decode text: %v", domain.ErrExtraction, err)
	}
	return string(decoded), nil
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
