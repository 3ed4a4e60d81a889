package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty runs fully in-memory,
	// which is the mode tests and ephemeral deployments use.
	Path string

	// Compress enables gzip compression of persisted data.
	Compress bool
}

// ChromemIndex implements Index on chromem-go, an embedded pure-Go vector
// database. One chromem collection per namespace.
//
// Points always arrive with precomputed embeddings, so collections are
// created with an embedding func that refuses to run; an accidental
// text-query path fails loudly instead of silently calling out to a model.
type ChromemIndex struct {
	db     *chromem.DB
	logger *zap.Logger

	// mu guards ids, the per-namespace id registry backing Fetch/List.
	// chromem has no listing API; the registry lives for the process
	// lifetime, same as the embedded DB in in-memory mode.
	mu  sync.RWMutex
	ids map[string]map[string]struct{}
}

// NewChromemIndex creates an embedded index, persistent when cfg.Path is set.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem DB: %w", err)
		}
	}

	logger.Info("chromem index ready",
		zap.String("path", cfg.Path),
		zap.Bool("persistent", cfg.Path != ""),
	)

	return &ChromemIndex{
		db:     db,
		logger: logger,
		ids:    make(map[string]map[string]struct{}),
	}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index requires precomputed embeddings")
}

func (s *ChromemIndex) collection(namespace string, create bool) (*chromem.Collection, error) {
	name, err := collectionName(namespace)
	if err != nil {
		return nil, err
	}
	if create {
		col, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
		if err != nil {
			return nil, fmt.Errorf("creating collection %s: %w", name, err)
		}
		return col, nil
	}
	return s.db.GetCollection(name, noEmbedding), nil
}

// Upsert inserts or replaces points.
func (s *ChromemIndex) Upsert(ctx context.Context, namespace string, points []Point) (err error) {
	start := time.Now()
	defer func() { observe("chromem", "upsert", start, err) }()

	if len(points) == 0 {
		return ErrEmptyPoints
	}

	col, err := s.collection(namespace, true)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point %d has no id", i)
		}
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   p.Metadata["content"],
			Metadata:  p.Metadata,
			Embedding: p.Vector,
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.mu.Lock()
	reg := s.ids[namespace]
	if reg == nil {
		reg = make(map[string]struct{})
		s.ids[namespace] = reg
	}
	for _, p := range points {
		reg[p.ID] = struct{}{}
	}
	s.mu.Unlock()

	return nil
}

// Query performs similarity search within the namespace.
func (s *ChromemIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) (matches []Match, err error) {
	start := time.Now()
	defer func() { observe("chromem", "query", start, err) }()

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	if col == nil || col.Count() == 0 {
		return []Match{}, nil
	}

	// chromem requires nResults <= document count.
	if n := col.Count(); topK > n {
		topK = n
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	matches = make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{ID: r.ID, Score: r.Similarity, Metadata: r.Metadata}
	}
	return matches, nil
}

// Fetch returns full records by id; missing ids are omitted.
func (s *ChromemIndex) Fetch(ctx context.Context, namespace string, ids []string) (records map[string]Record, err error) {
	start := time.Now()
	defer func() { observe("chromem", "fetch", start, err) }()

	records = make(map[string]Record, len(ids))
	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return records, nil
	}

	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue // unknown id
		}
		records[id] = Record{ID: doc.ID, Vector: doc.Embedding, Metadata: doc.Metadata}
	}
	return records, nil
}

// List returns all records matching the filter.
func (s *ChromemIndex) List(ctx context.Context, namespace string, filter map[string]string) (records []Record, err error) {
	start := time.Now()
	defer func() { observe("chromem", "list", start, err) }()

	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return []Record{}, nil
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.ids[namespace]))
	for id := range s.ids[namespace] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	records = make([]Record, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if !matchesFilter(doc.Metadata, filter) {
			continue
		}
		records = append(records, Record{ID: doc.ID, Vector: doc.Embedding, Metadata: doc.Metadata})
	}
	return records, nil
}

// Delete removes points by id.
func (s *ChromemIndex) Delete(ctx context.Context, namespace string, ids []string) (err error) {
	start := time.Now()
	defer func() { observe("chromem", "delete", start, err) }()

	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(namespace, false)
	if err != nil {
		return err
	}
	if col == nil {
		return nil
	}

	var failed []string
	for _, id := range ids {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			failed = append(failed, id)
			s.logger.Warn("delete failed", zap.String("id", id), zap.Error(err))
		}
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.ids[namespace], id)
	}
	s.mu.Unlock()

	if len(failed) > 0 {
		return fmt.Errorf("failed to delete %d of %d points", len(failed), len(ids))
	}
	return nil
}

// Close releases resources. The embedded DB has nothing to close; persisted
// state is flushed on every write.
func (s *ChromemIndex) Close() error {
	return nil
}
