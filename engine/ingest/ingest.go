// Package ingest is the indexing orchestrator: it drives one file through
// extraction, chunking, embedding, and storage, and owns document identity
// and replace/delete semantics. Each ingest call is an independent task;
// durable state lives entirely in the vector store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DocuMindAI/docindex/engine/domain"
	"github.com/DocuMindAI/docindex/pkg/fn"
	"github.com/DocuMindAI/docindex/pkg/metrics"
	"github.com/google/uuid"
)

// Config is the immutable pipeline configuration.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MaxFileBytes int64
	// SupportedMediaTypes defaults to domain.DefaultMediaTypes.
	SupportedMediaTypes map[string]bool
	// BatchWorkers bounds concurrent files in IngestBatch.
	BatchWorkers int
}

// Deps holds the external collaborators of the pipeline.
type Deps struct {
	Extractor Extractor
	Embedder  Embedder
	Store     Store
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Service composes extraction, chunking, embedding, and storage into the
// ingest operations exposed to the HTTP layer.
type Service struct {
	deps Deps
	cfg  Config

	docsTotal    func(status domain.IngestStatus) *metrics.Counter
	chunksTotal  *metrics.Counter
	pointsTotal  *metrics.Counter
	stageSeconds func(stage string) *metrics.Histogram
}

// New creates a Service with defaults applied.
func New(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultOverlap
	}
	if cfg.SupportedMediaTypes == nil {
		cfg.SupportedMediaTypes = domain.DefaultMediaTypes
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 4
	}

	reg := deps.Metrics
	return &Service{
		deps: deps,
		cfg:  cfg,
		docsTotal: func(status domain.IngestStatus) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("docindex_documents_total", "status", string(status)),
				"Documents ingested by terminal status.")
		},
		chunksTotal: reg.Counter("docindex_chunks_total", "Chunks produced by the splitter."),
		pointsTotal: reg.Counter("docindex_points_upserted_total", "Points written to the vector store."),
		stageSeconds: func(stage string) *metrics.Histogram {
			return reg.Histogram(metrics.WithLabels("docindex_stage_seconds", "stage", stage),
				"Pipeline stage latency.", nil)
		},
	}
}

// PointID derives the deterministic point id for one chunk. Identical
// (document id, index) pairs always map to the same id, which is what
// makes re-indexing overwrite instead of duplicate — no locking needed.
func PointID(docID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, index))).String()
}

// IngestDocument runs the full pipeline on one file under a freshly
// generated document id.
func (s *Service) IngestDocument(ctx context.Context, req domain.IngestRequest) domain.IngestResult {
	return s.ingest(ctx, uuid.New().String(), req)
}

// Reingest replaces a previously indexed document under the same id:
// new chunks are upserted over the old points, then any tail points
// beyond the new chunk count are trimmed.
func (s *Service) Reingest(ctx context.Context, docID string, req domain.IngestRequest) domain.IngestResult {
	return s.ingest(ctx, docID, req)
}

// IngestTextbook validates the structured textbook fields before any
// extraction or embedding cost is spent, then ingests with the textbook
// metadata merged into every chunk.
func (s *Service) IngestTextbook(ctx context.Context, req domain.IngestRequest, book domain.TextbookInfo) domain.IngestResult {
	if err := book.Validate(); err != nil {
		return s.failed(uuid.New().String(), req, domain.NewStageError("validate", err))
	}
	meta := domain.CloneMetadata(req.Metadata)
	for k, v := range book.Metadata() {
		meta[k] = v
	}
	req.Metadata = meta
	return s.IngestDocument(ctx, req)
}

// IngestBatch processes files independently with bounded concurrency.
// One file's failure never aborts its siblings; callers get one result
// entry per file, in input order.
func (s *Service) IngestBatch(ctx context.Context, reqs []domain.IngestRequest) []domain.IngestResult {
	return fn.ParMap(reqs, s.cfg.BatchWorkers, func(req domain.IngestRequest) domain.IngestResult {
		return s.IngestDocument(ctx, req)
	})
}

// ExtractText extracts without indexing: no embedding, no storage.
// Returns empty text with a nil error for a blank-but-valid document.
func (s *Service) ExtractText(ctx context.Context, req domain.IngestRequest) (string, error) {
	if err := domain.ValidateIngestRequest(req, s.cfg.SupportedMediaTypes, s.cfg.MaxFileBytes); err != nil {
		return "", domain.NewStageError("validate", err)
	}
	text, err := s.deps.Extractor.Extract(ctx, req.Data, req.MediaType)
	if err != nil {
		return "", domain.NewStageError("extract", err)
	}
	return text, nil
}

// DeleteDocument removes every stored chunk of a document. Unknown ids
// delete zero points and are not an error.
func (s *Service) DeleteDocument(ctx context.Context, docID string) (int, error) {
	deleted, err := s.deps.Store.DeleteDocument(ctx, docID)
	if err != nil {
		return 0, domain.NewStageError("store", err)
	}
	s.deps.Logger.Info("ingest: document deleted", "doc_id", docID, "points", deleted)
	return deleted, nil
}

// GetDocumentMetadata returns the metadata stored with a document.
func (s *Service) GetDocumentMetadata(ctx context.Context, docID string) (map[string]string, error) {
	return s.deps.Store.GetMetadata(ctx, docID)
}

// UpdateDocumentMetadata replaces a document's metadata wholesale.
func (s *Service) UpdateDocumentMetadata(ctx context.Context, docID string, meta map[string]string) error {
	if err := s.deps.Store.SetMetadata(ctx, docID, meta); err != nil {
		return err
	}
	s.deps.Logger.Info("ingest: metadata replaced", "doc_id", docID)
	return nil
}

// ingest drives one file through the pipeline. The document id exists
// from the first log line on, so failed attempts stay identifiable even
// though nothing is persisted for them. Writes are all-or-nothing per
// document: every chunk is embedded before the first upsert.
func (s *Service) ingest(ctx context.Context, docID string, req domain.IngestRequest) domain.IngestResult {
	log := s.deps.Logger.With("doc_id", docID, "filename", req.Filename)
	log.Info("ingest: state", "state", stateReceived, "bytes", len(req.Data))

	if err := domain.ValidateIngestRequest(req, s.cfg.SupportedMediaTypes, s.cfg.MaxFileBytes); err != nil {
		return s.failed(docID, req, domain.NewStageError("validate", err))
	}
	// Reject a bad chunk config before extraction cost is spent.
	if _, err := ChunkText(docID, "x", s.cfg.ChunkSize, s.cfg.ChunkOverlap, nil); err != nil {
		return s.failed(docID, req, domain.NewStageError("validate", err))
	}

	doc := domain.Document{
		ID:         docID,
		Filename:   req.Filename,
		MediaType:  domain.NormalizeMediaType(req.MediaType),
		ByteSize:   len(req.Data),
		Metadata:   domain.CloneMetadata(req.Metadata),
		IngestedAt: time.Now().UTC(),
	}

	extracted := timed(s.stageSeconds(stateExtracted), fn.TracedStage("ingest.extract", s.extractStage(req)))(ctx, doc)
	if extracted.IsErr() {
		_, err := extracted.Unwrap()
		return s.failed(docID, req, err)
	}
	ext, _ := extracted.Unwrap()
	if ext.Text == "" {
		log.Info("ingest: state", "state", string(domain.StatusEmpty))
		s.docsTotal(domain.StatusEmpty).Inc()
		return domain.IngestResult{
			DocumentID: docID,
			Filename:   req.Filename,
			ChunkCount: 0,
			Status:     domain.StatusEmpty,
			Message:    "extraction yielded no usable text; nothing indexed",
		}
	}

	rest := fn.Then(
		timed(s.stageSeconds(stateChunked), fn.TracedStage("ingest.chunk", s.chunkStage())),
		fn.Then(
			timed(s.stageSeconds(stateEmbedded), fn.TracedStage("ingest.embed", s.embedStage())),
			timed(s.stageSeconds(stateStored), fn.TracedStage("ingest.store", s.storeStage())),
		),
	)

	out := rest(ctx, ext)
	if out.IsErr() {
		_, err := out.Unwrap()
		return s.failed(docID, req, err)
	}
	stored, _ := out.Unwrap()

	log.Info("ingest: state", "state", stateStored, "chunks", len(stored.Chunks))
	s.docsTotal(domain.StatusStored).Inc()
	return domain.IngestResult{
		DocumentID: docID,
		Filename:   req.Filename,
		ChunkCount: len(stored.Chunks),
		Status:     domain.StatusStored,
		Message:    fmt.Sprintf("indexed %d chunks", len(stored.Chunks)),
	}
}

func (s *Service) failed(docID string, req domain.IngestRequest, err error) domain.IngestResult {
	s.deps.Logger.Error("ingest: pipeline failed", "doc_id", docID, "filename", req.Filename, "error", err)
	s.docsTotal(domain.StatusFailed).Inc()
	return domain.IngestResult{
		DocumentID: docID,
		Filename:   req.Filename,
		Status:     domain.StatusFailed,
		Message:    err.Error(),
		Err:        err,
	}
}

// timed observes stage latency into the given histogram.
func timed[In, Out any](h *metrics.Histogram, inner fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		start := time.Now()
		defer h.Since(start)
		return inner(ctx, in)
	}
}

// --- Pipeline stages ---

func (s *Service) extractStage(req domain.IngestRequest) fn.Stage[domain.Document, extractedDoc] {
	return func(ctx context.Context, doc domain.Document) fn.Result[extractedDoc] {
		text, err := s.deps.Extractor.Extract(ctx, req.Data, req.MediaType)
		if err != nil {
			return fn.Err[extractedDoc](domain.NewStageError("extract", err))
		}
		return fn.Ok(extractedDoc{Doc: doc, Text: text})
	}
}

func (s *Service) chunkStage() fn.Stage[extractedDoc, chunkedDoc] {
	return func(_ context.Context, ext extractedDoc) fn.Result[chunkedDoc] {
		meta := domain.CloneMetadata(ext.Doc.Metadata)
		meta["filename"] = ext.Doc.Filename
		meta["media_type"] = ext.Doc.MediaType
		meta["byte_size"] = strconv.Itoa(ext.Doc.ByteSize)
		meta["ingested_at"] = ext.Doc.IngestedAt.Format(time.RFC3339)

		chunks, err := ChunkText(ext.Doc.ID, ext.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap, meta)
		if err != nil {
			return fn.Err[chunkedDoc](domain.NewStageError("chunk", err))
		}
		total := strconv.Itoa(len(chunks))
		for _, c := range chunks {
			c.Metadata["total_chunks"] = total
		}
		s.chunksTotal.Add(int64(len(chunks)))
		return fn.Ok(chunkedDoc{extractedDoc: ext, Chunks: chunks})
	}
}

func (s *Service) embedStage() fn.Stage[chunkedDoc, embeddedDoc] {
	return func(ctx context.Context, doc chunkedDoc) fn.Result[embeddedDoc] {
		// The empty-document path terminates before this stage; a zero
		// chunk count here is a bug, not a backend problem.
		if len(doc.Chunks) == 0 {
			return fn.Err[embeddedDoc](domain.NewStageError("embed", domain.ErrEmptyInput))
		}
		texts := fn.Map(doc.Chunks, func(c domain.Chunk) string { return c.Text })
		vectors, err := s.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[embeddedDoc](domain.NewStageError("embed",
				fmt.Errorf("%w: %v", domain.ErrEmbeddingBackend, err)))
		}
		if len(vectors) != len(texts) {
			return fn.Err[embeddedDoc](domain.NewStageError("embed",
				fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingBackend, len(vectors), len(texts))))
		}
		return fn.Ok(embeddedDoc{chunkedDoc: doc, Vectors: vectors})
	}
}

func (s *Service) storeStage() fn.Stage[embeddedDoc, embeddedDoc] {
	return func(ctx context.Context, doc embeddedDoc) fn.Result[embeddedDoc] {
		records := make([]domain.EmbeddingRecord, len(doc.Chunks))
		for i, chunk := range doc.Chunks {
			records[i] = domain.EmbeddingRecord{
				PointID: PointID(chunk.DocID, chunk.Index),
				Chunk:   chunk,
				Vector:  doc.Vectors[i],
			}
		}
		stored, err := s.deps.Store.Upsert(ctx, records)
		if err != nil {
			return fn.Err[embeddedDoc](domain.NewStageError("store", err))
		}
		s.pointsTotal.Add(int64(stored))

		// Drop tail points left over from a longer prior version of this
		// document. A no-op on first ingest.
		if err := s.deps.Store.TrimDocument(ctx, doc.Doc.ID, len(doc.Chunks)); err != nil {
			return fn.Err[embeddedDoc](domain.NewStageError("store", err))
		}
		return fn.Ok(doc)
	}
}
