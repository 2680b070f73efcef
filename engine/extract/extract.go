// Package extract converts raw files into plain text. Dispatch is by
// declared media type: digital PDFs read their text layer, low-density PDF
// pages and images go through the OCR provider, and text-family files are
// decoded from their character encoding. A successful extraction that
// yields no usable characters returns empty text and a nil error; only the
// caller decides whether "nothing to index" is a problem.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/DocuMindAI/docindex/engine/domain"
)

// OCRClient is the capability provider for optical character recognition.
// Implementations may be slow (seconds per page) and must honor ctx.
type OCRClient interface {
	Recognize(ctx context.Context, image []byte, languages []string) (string, error)
}

// TextExtractor converts one format family into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Config holds extraction tunables.
type Config struct {
	// MinCharsPerPage is the OCR-fallback density threshold: a PDF page
	// whose text layer has fewer non-whitespace characters than this is
	// treated as scanned and rasterized for OCR.
	MinCharsPerPage int
	// OCRDPI is the raster resolution for OCR fallback pages.
	OCRDPI float64
	// Languages is the OCR language set.
	Languages []string
}

// DefaultConfig mirrors the production heuristics: 50 chars per page,
// 2x render resolution.
var DefaultConfig = Config{
	MinCharsPerPage: 50,
	OCRDPI:          144,
	Languages:       []string{"eng"},
}

// Extractor dispatches files to the right TextExtractor variant.
type Extractor struct {
	ocr OCRClient
	cfg Config
	log *slog.Logger
}

// New creates an Extractor. Zero config fields get defaults.
func New(ocr OCRClient, cfg Config, log *slog.Logger) *Extractor {
	if cfg.MinCharsPerPage <= 0 {
		cfg.MinCharsPerPage = DefaultConfig.MinCharsPerPage
	}
	if cfg.OCRDPI <= 0 {
		cfg.OCRDPI = DefaultConfig.OCRDPI
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultConfig.Languages
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{ocr: ocr, cfg: cfg, log: log}
}

// ForMediaType selects the extractor variant for a declared media type.
// Selection is a pure function of the normalized type; the PDF variant
// decides digital-vs-OCR per page with its density probe.
func (e *Extractor) ForMediaType(mediaType string) (TextExtractor, error) {
	mt := domain.NormalizeMediaType(mediaType)
	switch {
	case mt == "application/pdf":
		return &pdfExtractor{ocr: e.ocr, cfg: e.cfg, log: e.log}, nil
	case mt == "image/png" || mt == "image/jpeg":
		return &imageExtractor{ocr: e.ocr, cfg: e.cfg}, nil
	case strings.HasPrefix(mt, "text/") || mt == "application/json":
		return &textExtractor{mediaType: mediaType}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedMediaType, mediaType)
	}
}

// Extract converts a file into plain text, dispatching on media type.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	variant, err := e.ForMediaType(mediaType)
	if err != nil {
		return "", err
	}
	text, err := variant.Extract(ctx, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// inkCount counts non-whitespace runes; the density probe for the OCR
// fallback decision.
func inkCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// cleanOCRText strips blank lines and per-line whitespace artifacts
// that OCR engines commonly emit.
func cleanOCRText(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}
