// Package vector provides vector storage and similarity search over
// short-lived, per-request collections.
package vector

import "context"

// Document represents a chunk of page text with its embedding.
type Document struct {
	ID      string
	Content string
	Vector  []float32
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID      string
	Score   float32
	Content string
}

// Store provides vector storage and similarity search. Collections are
// cheap and short-lived; each request creates one and drops it when done.
type Store interface {
	// CreateCollection creates an empty collection for dim-sized vectors.
	// An existing collection with the same name is dropped first.
	CreateCollection(ctx context.Context, name string, dim int) error
	// DropCollection removes a collection. Dropping a collection that
	// does not exist is not an error.
	DropCollection(ctx context.Context, name string) error
	// Upsert inserts or updates documents in a collection.
	Upsert(ctx context.Context, collection string, docs []Document) error
	// Search finds the top-k most similar documents in a collection.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}
