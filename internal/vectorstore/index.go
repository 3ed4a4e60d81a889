// Package vectorstore defines the vector index interface behind the memory
// engine and its chromem-go (embedded) and Qdrant (gRPC) implementations.
//
// Namespaces isolate projects: every operation targets exactly one
// namespace and results never cross namespaces. Metadata is a flat
// string map matching the size-capped persisted record shape.
package vectorstore

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidConfig indicates invalid index configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyPoints indicates an upsert with no points.
	ErrEmptyPoints = errors.New("no points to upsert")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrInvalidNamespace indicates a namespace name that cannot be mapped
	// to a backend collection.
	ErrInvalidNamespace = errors.New("invalid namespace")
)

// Point is a vector with its persisted metadata record.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is a similarity search hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Record is a fully fetched point.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Index is the narrow interface the memory engine persists through.
//
// Unknown namespaces and unknown ids are empty results, not errors; the
// engine treats NotFound as "nothing stored yet".
type Index interface {
	// Upsert inserts or replaces points in a namespace.
	Upsert(ctx context.Context, namespace string, points []Point) error

	// Query returns up to topK matches for the vector, most similar first.
	// All filter entries must match the point's metadata exactly.
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]Match, error)

	// Fetch returns full records for the given ids. Missing ids are
	// silently omitted from the result map.
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)

	// List returns all records in the namespace matching the filter.
	// A nil filter returns everything. Used by maintenance sweeps and
	// the metadata-filtered core-memory lookup.
	List(ctx context.Context, namespace string, filter map[string]string) ([]Record, error)

	// Delete removes points by id. Unknown ids are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Close releases backend resources.
	Close() error
}

var collectionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// collectionName maps a namespace to a backend-safe collection name.
// Both backends share the mapping so data stays addressable when the
// backend is switched.
func collectionName(namespace string) (string, error) {
	name := collectionNameSanitizer.ReplaceAllString(strings.TrimSpace(namespace), "-")
	name = strings.Trim(name, "-_")
	if name == "" {
		return "", ErrInvalidNamespace
	}
	if len(name) > 60 {
		name = name[:60]
	}
	return "mb_" + strings.ToLower(name), nil
}

// matchesFilter reports whether metadata satisfies every filter entry.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}
