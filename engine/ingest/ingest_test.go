package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DocuMindAI/docindex/engine/domain"
	"github.com/DocuMindAI/docindex/pkg/embed"
	"github.com/DocuMindAI/docindex/pkg/fn"
)

// --- Fakes ---

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeEmbedder struct {
	dim     int
	err     error
	batches [][]string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

type trimCall struct {
	docID string
	keep  int
}

type fakeStore struct {
	upserts   [][]domain.EmbeddingRecord
	trims     []trimCall
	deleted   []string
	meta      map[string]map[string]string
	upsertErr error
}

func (f *fakeStore) Upsert(_ context.Context, records []domain.EmbeddingRecord) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserts = append(f.upserts, records)
	return len(records), nil
}

func (f *fakeStore) TrimDocument(_ context.Context, docID string, keep int) error {
	f.trims = append(f.trims, trimCall{docID, keep})
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, docID string) (int, error) {
	f.deleted = append(f.deleted, docID)
	return 3, nil
}

func (f *fakeStore) GetMetadata(_ context.Context, docID string) (map[string]string, error) {
	m, ok := f.meta[docID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) SetMetadata(_ context.Context, docID string, meta map[string]string) error {
	if f.meta == nil {
		f.meta = map[string]map[string]string{}
	}
	f.meta[docID] = meta
	return nil
}

func newTestService(ext *fakeExtractor, emb Embedder, store *fakeStore) *Service {
	return New(Deps{
		Extractor: ext,
		Embedder:  emb,
		Store:     store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{
		ChunkSize:    50,
		ChunkOverlap: 10,
		MaxFileBytes: 1 << 20,
	})
}

func textRequest(body string) domain.IngestRequest {
	return domain.IngestRequest{
		Filename:  "notes.txt",
		MediaType: "text/plain",
		Data:      []byte(body),
		Metadata:  map[string]string{"source": "unit"},
	}
}

// --- Tests ---

func TestIngestDocumentStored(t *testing.T) {
	ext := &fakeExtractor{text: strings.Repeat("all work and no play makes jack a dull boy ", 10)}
	emb := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	svc := newTestService(ext, emb, store)

	res := svc.IngestDocument(context.Background(), textRequest("raw bytes"))

	if res.Status != domain.StatusStored {
		t.Fatalf("status = %s (%s), want stored", res.Status, res.Message)
	}
	if res.DocumentID == "" {
		t.Fatal("no document id assigned")
	}
	if len(store.upserts) != 1 {
		t.Fatalf("got %d upsert calls, want 1", len(store.upserts))
	}
	records := store.upserts[0]
	if len(records) != res.ChunkCount || res.ChunkCount == 0 {
		t.Fatalf("chunk count %d vs %d records", res.ChunkCount, len(records))
	}
	for i, r := range records {
		if r.PointID != PointID(res.DocumentID, i) {
			t.Errorf("record %d: point id not derived from (doc, index)", i)
		}
		if r.Metadata["source"] != "unit" {
			t.Errorf("record %d: caller metadata missing", i)
		}
		if r.Metadata["filename"] != "notes.txt" || r.Metadata["media_type"] != "text/plain" {
			t.Errorf("record %d: document fields not merged into metadata: %v", i, r.Metadata)
		}
		if len(r.Vector) != 4 {
			t.Errorf("record %d: vector dim %d", i, len(r.Vector))
		}
	}
	// Tail trim always runs with keep = new chunk count.
	if len(store.trims) != 1 || store.trims[0] != (trimCall{res.DocumentID, res.ChunkCount}) {
		t.Errorf("trims = %+v", store.trims)
	}
}

func TestIngestDocumentEmptyTextIsNoOp(t *testing.T) {
	ext := &fakeExtractor{text: ""}
	emb := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	svc := newTestService(ext, emb, store)

	res := svc.IngestDocument(context.Background(), textRequest("scanned blank page"))

	if res.Status != domain.StatusEmpty {
		t.Fatalf("status = %s, want empty", res.Status)
	}
	if res.ChunkCount != 0 || res.Err != nil {
		t.Errorf("empty result carries chunks or error: %+v", res)
	}
	if len(emb.batches) != 0 {
		t.Error("embedder called for empty document")
	}
	if len(store.upserts) != 0 || len(store.trims) != 0 {
		t.Error("store touched for empty document")
	}
}

func TestIngestDocumentUnsupportedMediaType(t *testing.T) {
	ext := &fakeExtractor{text: "irrelevant"}
	svc := newTestService(ext, &fakeEmbedder{dim: 4}, &fakeStore{})

	req := textRequest("x")
	req.MediaType = "application/zip"
	res := svc.IngestDocument(context.Background(), req)

	if res.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrUnsupportedMediaType) {
		t.Errorf("err = %v, want ErrUnsupportedMediaType", res.Err)
	}
	if ext.calls != 0 {
		t.Error("extractor called for rejected media type")
	}
}

func TestIngestDocumentFileTooLarge(t *testing.T) {
	svc := New(Deps{
		Extractor: &fakeExtractor{text: "x"},
		Embedder:  &fakeEmbedder{dim: 4},
		Store:     &fakeStore{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{MaxFileBytes: 8})

	res := svc.IngestDocument(context.Background(), textRequest("well over eight bytes"))
	if !errors.Is(res.Err, domain.ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", res.Err)
	}
}

func TestIngestDocumentEmbedFailureNoWrites(t *testing.T) {
	ext := &fakeExtractor{text: "some perfectly extractable text"}
	emb := &fakeEmbedder{dim: 4, err: errors.New("backend down")}
	store := &fakeStore{}
	svc := newTestService(ext, emb, store)

	res := svc.IngestDocument(context.Background(), textRequest("x"))

	if res.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrEmbeddingBackend) {
		t.Errorf("err = %v, want ErrEmbeddingBackend", res.Err)
	}
	var stage *domain.StageError
	if !errors.As(res.Err, &stage) || stage.Stage != "embed" {
		t.Errorf("stage = %v, want embed", res.Err)
	}
	if len(store.upserts) != 0 || len(store.trims) != 0 {
		t.Error("store touched after embed failure")
	}
}

func TestReingestKeepsIDAndTrims(t *testing.T) {
	ext := &fakeExtractor{text: "short replacement text"}
	store := &fakeStore{}
	svc := newTestService(ext, &fakeEmbedder{dim: 4}, store)

	res := svc.Reingest(context.Background(), "doc-42", textRequest("v2"))

	if res.DocumentID != "doc-42" {
		t.Fatalf("document id = %s, want doc-42", res.DocumentID)
	}
	if res.Status != domain.StatusStored {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	if store.upserts[0][0].PointID != PointID("doc-42", 0) {
		t.Error("reingest did not reuse deterministic point ids")
	}
	if len(store.trims) != 1 || store.trims[0].keep != res.ChunkCount {
		t.Errorf("trims = %+v, want keep=%d", store.trims, res.ChunkCount)
	}
}

func TestIngestTextbookMergesMetadata(t *testing.T) {
	ext := &fakeExtractor{text: "chapter one: the cell"}
	store := &fakeStore{}
	svc := newTestService(ext, &fakeEmbedder{dim: 4}, store)

	res := svc.IngestTextbook(context.Background(), textRequest("pdf bytes"), domain.TextbookInfo{
		BookName:  "Biology",
		Publisher: "Acme Press",
		Grade:     "10",
	})

	if res.Status != domain.StatusStored {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	meta := store.upserts[0][0].Metadata
	if meta["book_name"] != "Biology" || meta["publisher"] != "Acme Press" {
		t.Errorf("textbook fields missing from metadata: %v", meta)
	}
	if meta["book_full_name"] != "Biology - Acme Press - 10" {
		t.Errorf("book_full_name = %q", meta["book_full_name"])
	}
	if meta["source"] != "unit" {
		t.Error("caller metadata lost in merge")
	}
}

func TestIngestTextbookMissingFieldsFailsFast(t *testing.T) {
	ext := &fakeExtractor{text: "never read"}
	svc := newTestService(ext, &fakeEmbedder{dim: 4}, &fakeStore{})

	res := svc.IngestTextbook(context.Background(), textRequest("x"), domain.TextbookInfo{
		BookName: "Biology", // publisher missing
	})

	if res.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrMissingRequiredMetadata) {
		t.Errorf("err = %v, want ErrMissingRequiredMetadata", res.Err)
	}
	if ext.calls != 0 {
		t.Error("extraction ran before textbook validation")
	}
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	ext := &fakeExtractor{text: "good text for everyone"}
	store := &fakeStore{}
	svc := newTestService(ext, &fakeEmbedder{dim: 4}, store)

	bad := textRequest("x")
	bad.MediaType = "application/zip"
	reqs := []domain.IngestRequest{textRequest("a"), bad, textRequest("c")}

	results := svc.IngestBatch(context.Background(), reqs)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Status != domain.StatusStored || results[2].Status != domain.StatusStored {
		t.Errorf("siblings of a failed file did not store: %+v", results)
	}
	if results[1].Status != domain.StatusFailed {
		t.Errorf("bad file status = %s", results[1].Status)
	}
	if len(store.upserts) != 2 {
		t.Errorf("got %d upserts, want 2", len(store.upserts))
	}
}

func TestExtractTextDoesNotIndex(t *testing.T) {
	ext := &fakeExtractor{text: "just the text"}
	emb := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	svc := newTestService(ext, emb, store)

	text, err := svc.ExtractText(context.Background(), textRequest("x"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "just the text" {
		t.Errorf("text = %q", text)
	}
	if len(emb.batches) != 0 || len(store.upserts) != 0 {
		t.Error("extract-only call reached embedder or store")
	}
}

func TestDeleteDocument(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(&fakeExtractor{}, &fakeEmbedder{dim: 4}, store)

	n, err := svc.DeleteDocument(context.Background(), "doc-7")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "doc-7" {
		t.Errorf("deleted ids = %v", store.deleted)
	}
}

// TestIngestRetriesTransientEmbedFailure wires a real embedding client
// against a backend that rate-limits twice before succeeding: the
// document must still be stored, with exactly one upsert.
func TestIngestRetriesTransientEmbedFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]any{"data": []map[string]any{}}
		data := resp["data"].([]map[string]any)
		for i := range req.Input {
			data = append(data, map[string]any{"embedding": []float64{0.1, 0.2}, "index": i})
		}
		resp["data"] = data
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	emb := embed.NewClient(embed.Config{
		BaseURL:    srv.URL,
		Dimensions: 2,
		Retry:      fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
	})
	ext := &fakeExtractor{text: "text that survives a flaky embedding backend"}
	store := &fakeStore{}
	svc := newTestService(ext, emb, store)

	res := svc.IngestDocument(context.Background(), textRequest("x"))

	if res.Status != domain.StatusStored {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	if calls != 3 {
		t.Errorf("backend called %d times, want 3", calls)
	}
	if len(store.upserts) != 1 {
		t.Errorf("got %d upserts, want exactly 1", len(store.upserts))
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("doc-1", 0)
	if a != PointID("doc-1", 0) {
		t.Error("same (doc, index) produced different ids")
	}
	seen := map[string]bool{a: true}
	for _, pair := range []struct {
		doc string
		idx int
	}{{"doc-1", 1}, {"doc-2", 0}, {"doc-2", 1}} {
		id := PointID(pair.doc, pair.idx)
		if seen[id] {
			t.Errorf("collision for %s/%d", pair.doc, pair.idx)
		}
		seen[id] = true
	}
}
