// Package domain defines the core value types and error taxonomy of the
// document indexing pipeline. Everything here is a plain value: chunks carry
// a copy of their parent document's metadata rather than a reference, so
// each one is independently serializable.
package domain

import (
	"maps"
	"time"
)

// Document describes one ingested file. The ID is generated when the file is
// received and stays stable for the document's lifetime; nothing about a
// Document is mutated in place except metadata, which is replaced wholesale.
type Document struct {
	ID         string
	Filename   string
	MediaType  string
	ByteSize   int
	Metadata   map[string]string
	IngestedAt time.Time
}

// Chunk is a contiguous slice of a document's extracted text.
// Start and End are rune offsets into the extracted text, half-open.
type Chunk struct {
	DocID    string
	Index    int
	Text     string
	Start    int
	End      int
	Metadata map[string]string
}

// EmbeddingRecord is the unit persisted in the vector store: a chunk plus
// its vector plus the deterministic point id derived from
// (document id, chunk index).
type EmbeddingRecord struct {
	PointID string
	Chunk
	Vector []float32
}

// IngestStatus is the terminal state of one ingest call.
type IngestStatus string

const (
	// StatusStored means all chunks were embedded and persisted.
	StatusStored IngestStatus = "stored"
	// StatusEmpty means extraction succeeded but yielded no usable text;
	// nothing was written. This is a successful no-op, not a failure.
	StatusEmpty IngestStatus = "empty"
	// StatusFailed means the pipeline aborted with no partial writes.
	StatusFailed IngestStatus = "failed"
)

// IngestRequest is one file handed to the pipeline by the caller.
type IngestRequest struct {
	Filename  string
	MediaType string
	Data      []byte
	Metadata  map[string]string
}

// IngestResult summarizes one ingest call. Err is non-nil only when
// Status is StatusFailed.
type IngestResult struct {
	DocumentID string        `json:"document_id"`
	Filename   string        `json:"filename"`
	ChunkCount int           `json:"chunk_count"`
	Status     IngestStatus  `json:"status"`
	Message    string        `json:"message,omitempty"`
	Err        error         `json:"-"`
}

// CloneMetadata returns a copy of m, never nil.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}
