package extract

import (
	"context"
	"fmt"

	"github.com/DocuMindAI/docindex/engine/domain"
)

// imageExtractor always runs OCR; an image has no text layer to probe.
type imageExtractor struct {
	ocr OCRClient
	cfg Config
}

func (i *imageExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	text, err := i.ocr.Recognize(ctx, data, i.cfg.Languages)
	if err != nil {
		return "", fmt.Errorf("%w: ocr image: %v", domain.ErrExtraction, err)
	}
	return cleanOCRText(text), nil
}
