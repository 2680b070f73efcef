package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DocuMindAI/docindex/engine/domain"
	"github.com/gen2brain/go-fitz"
)

// pdfExtractor reads the PDF text layer page by page and falls back to
// rasterize-and-OCR for pages whose text layer is below the density
// threshold (scanned pages). Pages are joined with blank lines so chunk
// boundaries tend to land between pages.
type pdfExtractor struct {
	ocr OCRClient
	cfg Config
	log *slog.Logger
}

func (p *pdfExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", domain.ErrExtraction, err)
	}
	// The fitz handle owns native scratch memory for rendered pages;
	// release it on every exit path.
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrExtraction, err)
		}

		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("%w: page %d text: %v", domain.ErrExtraction, n+1, err)
		}

		if inkCount(text) >= p.cfg.MinCharsPerPage {
			pages = append(pages, strings.TrimSpace(text))
			continue
		}

		// Low-density page: likely scanned. Rasterize and OCR.
		p.log.Info("extract: ocr fallback", "page", n+1, "pages", doc.NumPage())
		png, err := doc.ImagePNG(n, p.cfg.OCRDPI)
		if err != nil {
			return "", fmt.Errorf("%w: render page %d: %v", domain.ErrExtraction, n+1, err)
		}
		recognized, err := p.ocr.Recognize(ctx, png, p.cfg.Languages)
		if err != nil {
			return "", fmt.Errorf("%w: ocr page %d: %v", domain.ErrExtraction, n+1, err)
		}
		pages = append(pages, cleanOCRText(recognized))
	}

	return strings.Join(pages, "\n\n"), nil
}
