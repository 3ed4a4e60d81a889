package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// VectorSize is the embedding dimension used when a namespace's
	// collection is first created.
	VectorSize int

	// scrollLimit caps how many points List returns per namespace.
	// Zero uses the default of 4096, which comfortably covers a single
	// project's memory count under the 10/30/60 tier distribution.
	ScrollLimit int
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 256
	}
	if c.ScrollLimit == 0 {
		c.ScrollLimit = 4096
	}
}

// QdrantIndex implements Index against a Qdrant server over gRPC.
// One Qdrant collection per namespace, created lazily on first upsert.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// known caches collections already verified to exist.
	known sync.Map
}

// NewQdrantIndex connects to Qdrant and verifies the connection.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant index ready",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
	)

	return &QdrantIndex{client: client, config: cfg, logger: logger}, nil
}

func (s *QdrantIndex) ensureCollection(ctx context.Context, namespace string) (string, error) {
	name, err := collectionName(namespace)
	if err != nil {
		return "", err
	}
	if _, ok := s.known.Load(name); ok {
		return name, nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return "", fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("created qdrant collection", zap.String("collection", name))
	}

	s.known.Store(name, true)
	return name, nil
}

func stringPayload(metadata map[string]string) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	return payload
}

func payloadStrings(payload map[string]*qdrant.Value) map[string]string {
	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			metadata[k] = sv.StringValue
		}
	}
	return metadata
}

func keywordFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   k,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// Upsert inserts or replaces points.
func (s *QdrantIndex) Upsert(ctx context.Context, namespace string, points []Point) (err error) {
	start := time.Now()
	defer func() { observe("qdrant", "upsert", start, err) }()

	if len(points) == 0 {
		return ErrEmptyPoints
	}
	name, err := s.ensureCollection(ctx, namespace)
	if err != nil {
		return err
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point %d has no id", i)
		}
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: stringPayload(p.Metadata),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         qpoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return nil
}

// Query performs similarity search within the namespace.
func (s *QdrantIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) (matches []Match, err error) {
	start := time.Now()
	defer func() { observe("qdrant", "query", start, err) }()

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	name, err := collectionName(namespace)
	if err != nil {
		return nil, err
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return []Match{}, nil
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         keywordFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	matches = make([]Match, 0, len(results))
	for _, sp := range results {
		matches = append(matches, Match{
			ID:       sp.Id.GetUuid(),
			Score:    sp.Score,
			Metadata: payloadStrings(sp.Payload),
		})
	}
	return matches, nil
}

// Fetch returns full records by id; missing ids are omitted.
func (s *QdrantIndex) Fetch(ctx context.Context, namespace string, ids []string) (records map[string]Record, err error) {
	start := time.Now()
	defer func() { observe("qdrant", "fetch", start, err) }()

	records = make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return records, nil
	}
	name, err := collectionName(namespace)
	if err != nil {
		return nil, err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %d points: %w", len(ids), err)
	}

	for _, p := range points {
		rec := Record{
			ID:       p.Id.GetUuid(),
			Metadata: payloadStrings(p.Payload),
		}
		if v := p.Vectors.GetVector(); v != nil {
			rec.Vector = v.GetData()
		}
		records[rec.ID] = rec
	}
	return records, nil
}

// List returns records matching the filter, up to the configured scroll limit.
func (s *QdrantIndex) List(ctx context.Context, namespace string, filter map[string]string) (records []Record, err error) {
	start := time.Now()
	defer func() { observe("qdrant", "list", start, err) }()

	name, err := collectionName(namespace)
	if err != nil {
		return nil, err
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return []Record{}, nil
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Filter:         keywordFilter(filter),
		Limit:          qdrant.PtrOf(uint32(s.config.ScrollLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scrolling namespace %s: %w", namespace, err)
	}

	records = make([]Record, 0, len(points))
	for _, p := range points {
		rec := Record{
			ID:       p.Id.GetUuid(),
			Metadata: payloadStrings(p.Payload),
		}
		if v := p.Vectors.GetVector(); v != nil {
			rec.Vector = v.GetData()
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes points by id.
func (s *QdrantIndex) Delete(ctx context.Context, namespace string, ids []string) (err error) {
	start := time.Now()
	defer func() { observe("qdrant", "delete", start, err) }()

	if len(ids) == 0 {
		return nil
	}
	name, err := collectionName(namespace)
	if err != nil {
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}
