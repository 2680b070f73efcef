package domain

import (
	"fmt"
	"mime"
	"strings"
)

// DefaultMediaTypes is the media type set accepted out of the box.
var DefaultMediaTypes = map[string]bool{
	"application/pdf":  true,
	"text/plain":       true,
	"text/markdown":    true,
	"text/x-python":    true,
	"application/json": true,
	"image/png":        true,
	"image/jpeg":       true,
}

// NormalizeMediaType strips parameters (charset etc.) and folds aliases,
// e.g. "image/jpg" -> "image/jpeg".
func NormalizeMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

// ValidateIngestRequest rejects a request before any extraction or
// embedding work is spent on it.
func ValidateIngestRequest(req IngestRequest, supported map[string]bool, maxBytes int64) error {
	if req.Filename == "" {
		return fmt.Errorf("validate: filename is empty")
	}
	if len(supported) == 0 {
		supported = DefaultMediaTypes
	}
	if !supported[NormalizeMediaType(req.MediaType)] {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, req.MediaType)
	}
	if maxBytes > 0 && int64(len(req.Data)) > maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(req.Data), maxBytes)
	}
	return nil
}

// TextbookInfo is the structured metadata required for the textbook
// ingest variant. BookName and Publisher are mandatory.
type TextbookInfo struct {
	BookName    string
	Publisher   string
	Grade       string
	ProductName string
}

// Validate fails fast with ErrMissingRequiredMetadata so no OCR or
// embedding cost is spent on an unusable upload.
func (t TextbookInfo) Validate() error {
	if strings.TrimSpace(t.BookName) == "" {
		return fmt.Errorf("%w: book_name", ErrMissingRequiredMetadata)
	}
	if strings.TrimSpace(t.Publisher) == "" {
		return fmt.Errorf("%w: publisher", ErrMissingRequiredMetadata)
	}
	return nil
}

// FullName is the display name derived from the structured fields.
func (t TextbookInfo) FullName() string {
	name := strings.TrimSpace(t.BookName) + " - " + strings.TrimSpace(t.Publisher)
	if g := strings.TrimSpace(t.Grade); g != "" {
		name += " - " + g
	}
	return name
}

// Metadata renders the textbook fields as chunk metadata.
func (t TextbookInfo) Metadata() map[string]string {
	m := map[string]string{
		"book_name":      strings.TrimSpace(t.BookName),
		"publisher":      strings.TrimSpace(t.Publisher),
		"book_full_name": t.FullName(),
	}
	if g := strings.TrimSpace(t.Grade); g != "" {
		m["grade"] = g
	}
	product := strings.TrimSpace(t.ProductName)
	if product == "" {
		product = t.FullName()
	}
	m["product_name"] = product
	return m
}
