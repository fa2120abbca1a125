package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

const (
	// DefaultQdrantCollection holds one point per chunk row.
	DefaultQdrantCollection = "document_chunks"

	vectorName      = "content"
	upsertBatchSize = 100
	scrollBatchSize = uint32(100)
)

// QdrantConfig holds connection and collection settings.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// QdrantStore keeps chunk rows as Qdrant points: the row is the payload and the
// embedding, when present, is the named "content" vector.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

var _ ChunkStore = (*QdrantStore)(nil)

// NewQdrantStore creates a Qdrant client with health validation and ensures
// the collection exists. It fails fast with ErrQdrantUnreachable.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultQdrantCollection
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant store needs a positive dimension, got %d", cfg.Dimension)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// healthCheckWithRetry performs health check with exponential backoff.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(newBackoff(), ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes if missing.
// Idempotent - safe to call multiple times.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	// Named vectors let rows without an embedding live in the same collection.
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Dot,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "document_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field document_id: %w", err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(newBackoff(), ctx))
}

// Put upserts rows in batches of 100.
func (s *QdrantStore) Put(ctx context.Context, rows []ChunkRow) error {
	for i, row := range rows {
		if row.Embedding != nil && len(row.Embedding) != s.dimension {
			return fmt.Errorf("%w: row %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(row.Embedding), s.dimension)
		}
	}

	for i := 0; i < len(rows); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(rows))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, row := range rows[i:end] {
			point, err := s.toPoint(row)
			if err != nil {
				return err
			}
			points = append(points, point)
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (s *QdrantStore) toPoint(row ChunkRow) (*qdrant.PointStruct, error) {
	metadataJSON, err := marshalMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	vectors := map[string]*qdrant.Vector{}
	if row.Embedding != nil {
		vectors[vectorName] = qdrant.NewVector(row.Embedding...)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(row.ID),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: qdrant.NewValueMap(map[string]any{
			"document_id": row.DocumentID,
			"chunk_index": row.ChunkIndex,
			"page_number": row.PageNumber,
			"chunk_text":  row.Text,
			"char_count":  row.CharCount,
			"word_count":  row.WordCount,
			"metadata":    metadataJSON,
			"created_at":  createdAt.Format(time.RFC3339Nano),
		}),
	}, nil
}

// Get returns a row by ID or ErrChunkNotFound.
func (s *QdrantStore) Get(ctx context.Context, id string) (ChunkRow, error) {
	result, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return ChunkRow{}, fmt.Errorf("failed to get chunk: %w", err)
	}
	if len(result) == 0 {
		return ChunkRow{}, ErrChunkNotFound
	}
	return fromPoint(result[0].Id, result[0].Payload, result[0].Vectors), nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
	}
}

// scrollAll pages through every point matching filter. Scroll offsets are
// inclusive, so the boundary point of each page is skipped on the next one.
func (s *QdrantStore) scrollAll(ctx context.Context, filter *qdrant.Filter, withPayload *qdrant.WithPayloadSelector, withVectors bool, visit func(*qdrant.RetrievedPoint)) error {
	var offset *qdrant.PointId
	seen := make(map[string]struct{})

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(scrollBatchSize),
			Offset:         offset,
			WithPayload:    withPayload,
			WithVectors:    qdrant.NewWithVectors(withVectors),
		})
		if err != nil {
			return fmt.Errorf("failed to scroll chunks: %w", err)
		}

		for _, point := range results {
			id := point.Id.GetUuid()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			visit(point)
		}

		if uint32(len(results)) < scrollBatchSize {
			return nil
		}
		offset = results[len(results)-1].Id
	}
}

// GetByDocument returns a document's rows ordered by chunk index.
func (s *QdrantStore) GetByDocument(ctx context.Context, documentID string) ([]ChunkRow, error) {
	out := []ChunkRow{}
	err := s.scrollAll(ctx, documentFilter(documentID), qdrant.NewWithPayload(true), true,
		func(p *qdrant.RetrievedPoint) {
			out = append(out, fromPoint(p.Id, p.Payload, p.Vectors))
		})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// DeleteByDocument removes a document's points and returns how many were removed.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	filter := documentFilter(documentID)

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return int(n), nil
}

// Delete removes points by chunk ID and returns how many existed.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to look up chunks: %w", err)
	}
	if len(existing) == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return len(existing), nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(n), nil
}

// DocumentIDs returns the distinct document IDs, sorted.
func (s *QdrantStore) DocumentIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.scrollAll(ctx, nil, qdrant.NewWithPayloadInclude("document_id"), false,
		func(p *qdrant.RetrievedPoint) {
			seen[p.Payload["document_id"].GetStringValue()] = struct{}{}
		})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func fromPoint(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) ChunkRow {
	row := ChunkRow{
		ID:         id.GetUuid(),
		DocumentID: payload["document_id"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		PageNumber: int(payload["page_number"].GetIntegerValue()),
		Text:       payload["chunk_text"].GetStringValue(),
		CharCount:  int(payload["char_count"].GetIntegerValue()),
		WordCount:  int(payload["word_count"].GetIntegerValue()),
	}

	if raw := payload["metadata"].GetStringValue(); raw != "" && raw != "{}" {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			row.Metadata = m
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue()); err == nil {
		row.CreatedAt = t
	}

	if named := vectors.GetVectors(); named != nil {
		if v, ok := named.GetVectors()[vectorName]; ok {
			if dense := v.GetDense(); dense != nil {
				row.Embedding = dense.GetData()
			} else {
				row.Embedding = v.GetData()
			}
		}
	}
	return row
}
