// Package main implements the docindex API server, a thin HTTP caller of
// the indexing pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/DocuMindAI/docindex/engine/domain"
	"github.com/DocuMindAI/docindex/engine/extract"
	"github.com/DocuMindAI/docindex/engine/ingest"
	"github.com/DocuMindAI/docindex/engine/semantic"
	"github.com/DocuMindAI/docindex/pkg/embed"
	"github.com/DocuMindAI/docindex/pkg/metrics"
	"github.com/DocuMindAI/docindex/pkg/mid"
	"github.com/DocuMindAI/docindex/pkg/ocr"
)

// maxMultipartMemory bounds in-memory multipart parsing; larger parts
// spill to scratch files that the stdlib removes after the request.
const maxMultipartMemory = 32 << 20

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	QdrantURL     string
	Collection    string
	EmbedURL      string
	EmbedAPIKey   string
	EmbedModel    string
	EmbedDim      int
	OCRURL        string
	OCRLangs      []string
	OCRMinChars   int
	ChunkSize     int
	ChunkOverlap  int
	MaxFileSizeMB int
	CORSOrigin    string
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8080"),
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", "docindex"),
		EmbedURL:      envOr("EMBED_URL", embed.DefaultBaseURL),
		EmbedAPIKey:   envOr("EMBED_API_KEY", ""),
		EmbedModel:    envOr("EMBED_MODEL", embed.DefaultModel),
		EmbedDim:      envIntOr("EMBED_DIM", 0),
		OCRURL:        envOr("OCR_URL", "http://localhost:8884"),
		OCRLangs:      strings.Split(envOr("OCR_LANGS", "eng"), ","),
		OCRMinChars:   envIntOr("OCR_MIN_CHARS_PER_PAGE", extract.DefaultConfig.MinCharsPerPage),
		ChunkSize:     envIntOr("CHUNK_SIZE", ingest.DefaultChunkSize),
		ChunkOverlap:  envIntOr("CHUNK_OVERLAP", ingest.DefaultOverlap),
		MaxFileSizeMB: envIntOr("MAX_FILE_SIZE_MB", 100),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding backend ---
	embedder := embed.NewClient(embed.Config{
		BaseURL:    cfg.EmbedURL,
		APIKey:     cfg.EmbedAPIKey,
		Model:      cfg.EmbedModel,
		Dimensions: cfg.EmbedDim,
	})

	// --- Qdrant ---
	store, err := semantic.New(cfg.QdrantURL, semantic.Config{
		Collection: cfg.Collection,
		Dimensions: embedder.Dimensions(),
	})
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	// --- OCR sidecar + extractor ---
	ocrClient := ocr.NewClient(cfg.OCRURL, 0)
	extractor := extract.New(ocrClient, extract.Config{
		MinCharsPerPage: cfg.OCRMinChars,
		Languages:       cfg.OCRLangs,
	}, logger)

	// --- Pipeline ---
	reg := metrics.New()
	svc := ingest.New(ingest.Deps{
		Extractor: extractor,
		Embedder:  embedder,
		Store:     store,
		Metrics:   reg,
		Logger:    logger,
	}, ingest.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		MaxFileBytes: int64(cfg.MaxFileSizeMB) << 20,
	})

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(store))
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/extract", handleExtract(svc))
	mux.HandleFunc("POST /api/documents", handleUpload(svc))
	mux.HandleFunc("POST /api/documents/batch", handleUploadBatch(svc))
	mux.HandleFunc("POST /api/textbooks", handleUploadTextbook(svc))
	mux.HandleFunc("PUT /api/documents/{id}", handleReingest(svc))
	mux.HandleFunc("DELETE /api/documents/{id}", handleDelete(svc))
	mux.HandleFunc("GET /api/documents/{id}/metadata", handleGetMetadata(svc))
	mux.HandleFunc("PUT /api/documents/{id}/metadata", handleSetMetadata(svc))
	mux.HandleFunc("POST /api/search", handleSearch(embedder, store))
	mux.HandleFunc("GET /api/collection", handleCollectionInfo(store))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("docindex-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute, // OCR-heavy uploads are slow
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Service interfaces (narrow, for handler tests) ---

type pipeline interface {
	ExtractText(ctx context.Context, req domain.IngestRequest) (string, error)
	IngestDocument(ctx context.Context, req domain.IngestRequest) domain.IngestResult
	IngestTextbook(ctx context.Context, req domain.IngestRequest, book domain.TextbookInfo) domain.IngestResult
	IngestBatch(ctx context.Context, reqs []domain.IngestRequest) []domain.IngestResult
	Reingest(ctx context.Context, docID string, req domain.IngestRequest) domain.IngestResult
	DeleteDocument(ctx context.Context, docID string) (int, error)
	GetDocumentMetadata(ctx context.Context, docID string) (map[string]string, error)
	UpdateDocumentMetadata(ctx context.Context, docID string, meta map[string]string) error
}

type embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type querier interface {
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]semantic.ScoredRecord, error)
	Info(ctx context.Context) (semantic.CollectionInfo, error)
	Health(ctx context.Context) error
}

// --- Handlers ---

func handleHealth(store querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		connected := true
		if err := store.Health(r.Context()); err != nil {
			status = "degraded"
			connected = false
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          status,
			"store_connected": connected,
		})
	}
}

func handleExtract(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readUpload(r)
		if err != nil {
			writeError(w, err)
			return
		}
		text, err := svc.ExtractText(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"text":       text,
			"filename":   req.Filename,
			"media_type": req.MediaType,
			"char_count": len([]rune(text)),
			"status":     statusForText(text),
		})
	}
}

func statusForText(text string) string {
	if text == "" {
		return string(domain.StatusEmpty)
	}
	return "success"
}

func handleUpload(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readUpload(r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeIngestResult(w, svc.IngestDocument(r.Context(), req))
	}
}

func handleUploadBatch(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeError(w, badRequest("parse multipart: %v", err))
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeError(w, badRequest("no files provided"))
			return
		}
		reqs := make([]domain.IngestRequest, 0, len(headers))
		for _, h := range headers {
			req, err := readPart(h, r.FormValue("metadata"))
			if err != nil {
				writeError(w, err)
				return
			}
			reqs = append(reqs, req)
		}
		writeJSON(w, http.StatusOK, svc.IngestBatch(r.Context(), reqs))
	}
}

func handleUploadTextbook(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readUpload(r)
		if err != nil {
			writeError(w, err)
			return
		}
		book := domain.TextbookInfo{
			BookName:    r.FormValue("book_name"),
			Publisher:   r.FormValue("publisher"),
			Grade:       r.FormValue("grade"),
			ProductName: r.FormValue("product_name"),
		}
		writeIngestResult(w, svc.IngestTextbook(r.Context(), req, book))
	}
}

func handleReingest(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readUpload(r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeIngestResult(w, svc.Reingest(r.Context(), r.PathValue("id"), req))
	}
}

func handleDelete(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := svc.DeleteDocument(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": r.PathValue("id"),
			"deleted":     deleted,
		})
	}
}

func handleGetMetadata(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta, err := svc.GetDocumentMetadata(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": r.PathValue("id"),
			"metadata":    meta,
		})
	}
}

func handleSetMetadata(svc pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var meta map[string]string
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			writeError(w, badRequest("decode metadata: %v", err))
			return
		}
		if err := svc.UpdateDocumentMetadata(r.Context(), r.PathValue("id"), meta); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": r.PathValue("id"),
			"status":      "updated",
		})
	}
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Query  string            `json:"query"`
	TopK   int               `json:"top_k,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

func handleSearch(emb embedder, store querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, badRequest("decode search request: %v", err))
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, badRequest("query is empty"))
			return
		}
		if req.TopK <= 0 {
			req.TopK = 5
		}
		vectors, err := emb.EmbedBatch(r.Context(), []string{req.Query})
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrEmbeddingBackend, err))
			return
		}
		hits, err := store.Query(r.Context(), vectors[0], req.TopK, req.Filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query":   req.Query,
			"count":   len(hits),
			"results": hits,
		})
	}
}

func handleCollectionInfo(store querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := store.Info(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// --- Request/response helpers ---

// readUpload parses the "file" part plus the optional "metadata" JSON
// form field into an IngestRequest.
func readUpload(r *http.Request) (domain.IngestRequest, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return domain.IngestRequest{}, badRequest("parse multipart: %v", err)
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return domain.IngestRequest{}, badRequest("missing file part")
	}
	return readPart(headers[0], r.FormValue("metadata"))
}

func readPart(header *multipart.FileHeader, metadataJSON string) (domain.IngestRequest, error) {
	f, err := header.Open()
	if err != nil {
		return domain.IngestRequest{}, badRequest("open upload: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.IngestRequest{}, badRequest("read upload: %v", err)
	}

	meta := map[string]string{}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &meta); err != nil {
			return domain.IngestRequest{}, badRequest("metadata must be a JSON string map: %v", err)
		}
	}

	return domain.IngestRequest{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
		Metadata:  meta,
	}, nil
}

func writeIngestResult(w http.ResponseWriter, res domain.IngestResult) {
	code := http.StatusOK
	if res.Status == domain.StatusFailed {
		code = statusCode(res.Err)
	}
	writeJSON(w, code, res)
}

// errBadRequest tags caller mistakes detected in the HTTP layer itself.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusCode maps pipeline error kinds to HTTP statuses.
func statusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrUnsupportedMediaType),
		errors.Is(err, domain.ErrInvalidChunkConfig),
		errors.Is(err, domain.ErrMissingRequiredMetadata),
		errors.Is(err, domain.ErrFileTooLarge),
		errors.Is(err, domain.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmbeddingBackend):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
