// Package semantic is the sole owner of all Qdrant operations: the
// collection-scoped upsert, delete, trim, metadata, and similarity-query
// paths. Transient RPC failures are retried a bounded number of times
// behind a circuit breaker; once exhausted they surface as
// domain.ErrStoreUnavailable and are never silently retried further.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DocuMindAI/docindex/engine/domain"
	"github.com/DocuMindAI/docindex/pkg/fn"
	"github.com/DocuMindAI/docindex/pkg/resilience"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// upsertBatchSize caps points per upsert RPC to avoid store timeouts.
const upsertBatchSize = 100

// pointsAPI is the subset of pb.PointsClient the gateway uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	SetPayload(ctx context.Context, in *pb.SetPayloadPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the gateway uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Config holds gateway configuration. Collection and Dimensions are
// required; the rest defaults.
type Config struct {
	Collection string
	Dimensions int
	Timeout    time.Duration
	Retry      fn.RetryOpts
}

// VectorStore is a Qdrant gateway bound to one collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	breaker     *resilience.Breaker
	cfg         Config

	mu      sync.Mutex
	ensured bool
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// It works against managed and self-hosted instances alike.
func New(addr string, cfg Config) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	v := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg)
	v.conn = conn
	return v, nil
}

// NewWithClients creates a VectorStore over explicit API clients, with
// no connection of its own. Tests inject mocks here.
func NewWithClients(points pointsAPI, collections collectionsAPI, cfg Config) *VectorStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second, Jitter: true}
	}
	return &VectorStore{
		points:      points,
		collections: collections,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
		cfg:         cfg,
	}
}

// Close closes the underlying gRPC connection, if this store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// call runs one store RPC with timeout, circuit breaker, and bounded
// retry. Exhausted retries surface as domain.ErrStoreUnavailable.
func (v *VectorStore) call(ctx context.Context, op string, f func(context.Context) error) error {
	result := fn.Retry(ctx, v.cfg.Retry, func(ctx context.Context) fn.Result[struct{}] {
		err := v.breaker.Call(ctx, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
			defer cancel()
			return f(cctx)
		})
		if err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	if _, err := result.Unwrap(); err != nil {
		if errors.Is(err, domain.ErrCollectionMismatch) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return nil
}

// EnsureCollection creates the collection if absent, and rejects an
// existing collection whose vector size differs from the configured
// dimensionality.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	v.mu.Lock()
	done := v.ensured
	v.mu.Unlock()
	if done {
		return nil
	}

	err := v.call(ctx, "ensure collection", func(ctx context.Context) error {
		list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
		if err != nil {
			return err
		}
		for _, c := range list.GetCollections() {
			if c.GetName() != v.cfg.Collection {
				continue
			}
			info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.cfg.Collection})
			if err != nil {
				return err
			}
			size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
			if size != uint64(v.cfg.Dimensions) {
				return fn.Permanent(fmt.Errorf("%w: collection %s has %d dimensions, want %d",
					domain.ErrCollectionMismatch, v.cfg.Collection, size, v.cfg.Dimensions))
			}
			return nil
		}

		_, err = v.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: v.cfg.Collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(v.cfg.Dimensions),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.ensured = true
	v.mu.Unlock()
	return nil
}

// Upsert stores embedding records, creating the collection on first
// write. Idempotent: a record's point id is derived from
// (document id, chunk index), so re-upserting overwrites rather than
// duplicates. Returns the number of points written.
func (v *VectorStore) Upsert(ctx context.Context, records []domain.EmbeddingRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := v.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	wait := true
	for _, batch := range fn.Chunk(records, upsertBatchSize) {
		points := fn.Map(batch, pointStruct)
		err := v.call(ctx, fmt.Sprintf("upsert %d points", len(points)), func(ctx context.Context) error {
			_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
				CollectionName: v.cfg.Collection,
				Wait:           &wait,
				Points:         points,
			})
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func pointStruct(r domain.EmbeddingRecord) *pb.PointStruct {
	payload := map[string]*pb.Value{
		payloadTextKey:  stringValue(r.Text),
		payloadDocKey:   stringValue(r.DocID),
		payloadIndexKey: intValue(r.Index),
		payloadStartKey: intValue(r.Start),
		payloadEndKey:   intValue(r.End),
		payloadMetaKey:  metaStruct(r.Metadata),
	}
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: r.PointID},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: r.Vector},
			},
		},
		Payload: payload,
	}
}

// DeleteDocument removes every point of a document and returns how many
// were removed. Deleting an unknown document is a no-op, not an error.
func (v *VectorStore) DeleteDocument(ctx context.Context, docID string) (int, error) {
	exact := true
	var count uint64
	err := v.call(ctx, "count points", func(ctx context.Context) error {
		resp, err := v.points.Count(ctx, &pb.CountPoints{
			CollectionName: v.cfg.Collection,
			Filter:         docFilter(docID),
			Exact:          &exact,
		})
		if err != nil {
			return err
		}
		count = resp.GetResult().GetCount()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	wait := true
	err = v.call(ctx, "delete document", func(ctx context.Context) error {
		_, err := v.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: v.cfg.Collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: docFilter(docID)},
			},
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// TrimDocument deletes a document's points with chunk index >= keep.
// Used after re-indexing so a shorter replacement leaves no orphaned
// tail chunks.
func (v *VectorStore) TrimDocument(ctx context.Context, docID string, keep int) error {
	wait := true
	filter := docFilter(docID)
	filter.Must = append(filter.Must, indexAtLeast(keep))
	return v.call(ctx, "trim document", func(ctx context.Context) error {
		_, err := v.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: v.cfg.Collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
}

// GetMetadata returns the caller metadata stored with a document, read
// from its first point. Every chunk carries the same copy.
func (v *VectorStore) GetMetadata(ctx context.Context, docID string) (map[string]string, error) {
	limit := uint32(1)
	var meta map[string]string
	var found bool
	err := v.call(ctx, "get metadata", func(ctx context.Context) error {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.cfg.Collection,
			Filter:         docFilter(docID),
			Limit:          &limit,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.GetResult()) == 0 {
			found = false
			return nil
		}
		found = true
		meta = metaFromPayload(resp.GetResult()[0].GetPayload())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, docID)
	}
	return meta, nil
}

// SetMetadata replaces a document's metadata on every point. Full
// replacement, not a merge: the nested metadata struct is overwritten
// wholesale while the reserved text/offset fields stay untouched.
func (v *VectorStore) SetMetadata(ctx context.Context, docID string, meta map[string]string) error {
	// Full replacement means an unknown document must report NotFound,
	// not quietly write nothing.
	if _, err := v.GetMetadata(ctx, docID); err != nil {
		return err
	}
	wait := true
	return v.call(ctx, "set metadata", func(ctx context.Context) error {
		_, err := v.points.SetPayload(ctx, &pb.SetPayloadPoints{
			CollectionName: v.cfg.Collection,
			Wait:           &wait,
			Payload:        map[string]*pb.Value{payloadMetaKey: metaStruct(meta)},
			PointsSelector: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: docFilter(docID)},
			},
		})
		return err
	})
}

// Query performs metadata-filtered similarity search. Filter keys match
// against the caller metadata of each point.
func (v *VectorStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]ScoredRecord, error) {
	req := &pb.SearchPoints{
		CollectionName: v.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if len(filter) > 0 {
		must := make([]*pb.Condition, 0, len(filter))
		for k, val := range filter {
			must = append(must, fieldMatch(payloadMetaKey+"."+k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	var results []ScoredRecord
	err := v.call(ctx, "query", func(ctx context.Context) error {
		resp, err := v.points.Search(ctx, req)
		if err != nil {
			return err
		}
		results = make([]ScoredRecord, len(resp.GetResult()))
		for i, hit := range resp.GetResult() {
			payload := hit.GetPayload()
			results[i] = ScoredRecord{
				ID:         hit.GetId().GetUuid(),
				Score:      hit.GetScore(),
				Text:       payload[payloadTextKey].GetStringValue(),
				DocID:      payload[payloadDocKey].GetStringValue(),
				ChunkIndex: int(payload[payloadIndexKey].GetIntegerValue()),
				Metadata:   metaFromPayload(payload),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CollectionInfo reports point count and status for the collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	Status      string `json:"status"`
}

// Info returns collection statistics.
func (v *VectorStore) Info(ctx context.Context) (CollectionInfo, error) {
	var out CollectionInfo
	err := v.call(ctx, "collection info", func(ctx context.Context) error {
		resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.cfg.Collection})
		if err != nil {
			return err
		}
		out = CollectionInfo{
			Name:        v.cfg.Collection,
			PointsCount: resp.GetResult().GetPointsCount(),
			Status:      resp.GetResult().GetStatus().String(),
		}
		return nil
	})
	return out, err
}

// Health checks store connectivity with a single cheap RPC, no retries.
func (v *VectorStore) Health(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()
	if _, err := v.collections.List(cctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
