package ingest

import (
	"context"

	"github.com/DocuMindAI/docindex/engine/domain"
)

// Pipeline states, logged as each ingest call advances. Terminal states
// are stored, empty, and failed.
const (
	stateReceived  = "received"
	stateExtracted = "extracted"
	stateChunked   = "chunked"
	stateEmbedded  = "embedded"
	stateStored    = "stored"
)

// Extractor converts a raw file into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Embedder turns chunk texts into vectors, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Store is the vector store gateway, bound to one collection.
type Store interface {
	Upsert(ctx context.Context, records []domain.EmbeddingRecord) (int, error)
	TrimDocument(ctx context.Context, docID string, keep int) error
	DeleteDocument(ctx context.Context, docID string) (int, error)
	GetMetadata(ctx context.Context, docID string) (map[string]string, error)
	SetMetadata(ctx context.Context, docID string, meta map[string]string) error
}

// extractedDoc is a document with its extracted text.
type extractedDoc struct {
	Doc  domain.Document
	Text string
}

// chunkedDoc is an extracted document split into chunks.
type chunkedDoc struct {
	extractedDoc
	Chunks []domain.Chunk
}

// embeddedDoc is a chunked document with one vector per chunk.
type embeddedDoc struct {
	chunkedDoc
	Vectors [][]float32
}
