// Package vectorindexer implements kato.VectorIndexer: per-tenant ANN
// collections over an HNSW graph (the teacher's pkg/index.HNSW, adapted),
// with a brute-force Flat fallback for collections too small to benefit
// from approximate search. Collection dimension is fixed on first insert
// (spec §4.2).
package vectorindexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kato-engine/kato"
	"github.com/kato-engine/kato/internal/encoding"
	"github.com/kato-engine/kato/pkg/index"
)

// Default HNSW construction parameters, matching the teacher's
// pkg/core.DefaultHNSWConfig values.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50

	// flatThreshold is the collection size below which the exact Flat index
	// is used instead of HNSW: HNSW's approximate search has meaningful
	// recall loss only once a graph has enough nodes to have real topology,
	// and small per-tenant collections are common early in a tenant's
	// lifetime.
	flatThreshold = 256

	// searchTimeout bounds a single Search call (spec §5, "per-request
	// deadline (default 30s)"). Kept internal here because the
	// in-process ANN search below never legitimately blocks; this guards
	// against a pathological caller-supplied context with no deadline of
	// its own combined with a future remote-backed implementation.
	searchTimeout = 30 * time.Second
)

// collection holds one tenant's vector index state. Dimension and distance
// metric are both fixed by the first inserted vector (spec §4.2).
type collection struct {
	mu        sync.RWMutex
	dimension int
	metric    kato.VectorSimilarityMetric
	hnsw      *index.HNSW
	flat      *index.FlatIndex
	vectors   map[kato.Symbol][]float32
}

// Indexer implements kato.VectorIndexer over in-process HNSW/Flat
// collections, one per tenant (node_id).
type Indexer struct {
	mu          sync.RWMutex
	collections map[string]*collection
	logger      kato.Logger
}

// New creates an empty Indexer. Collections are created lazily on first
// Upsert/Search for a given node_id.
func New(logger kato.Logger) *Indexer {
	if logger == nil {
		logger = kato.NopLogger()
	}
	return &Indexer{collections: make(map[string]*collection), logger: logger}
}

func (ix *Indexer) collectionFor(nodeID string, dimension int, metric kato.VectorSimilarityMetric) (*collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	c, ok := ix.collections[nodeID]
	if !ok {
		c = &collection{
			dimension: dimension,
			metric:    metric,
			vectors:   make(map[kato.Symbol][]float32),
		}
		distFn := index.DistanceFuncFor(string(metric))
		c.hnsw = index.NewHNSW(DefaultM, DefaultEfConstruction, distFn)
		c.flat = index.NewFlatIndex(dimension, distFn)
		ix.collections[nodeID] = c
		return c, nil
	}

	c.mu.RLock()
	dim := c.dimension
	c.mu.RUnlock()
	if dim != 0 && dimension != 0 && dim != dimension {
		return nil, fmt.Errorf("%w: collection vectors_%s fixed at dimension %d, got %d", kato.ErrDimensionMismatch, nodeID, dim, dimension)
	}
	return c, nil
}

// Upsert implements kato.VectorIndexer. It is idempotent: re-upserting the
// same vector bytes returns the same symbol without duplicating storage.
// metric selects the distance function used if this call creates nodeID's
// collection; it is a no-op against an already-existing collection.
func (ix *Indexer) Upsert(ctx context.Context, nodeID string, vector []float32, metric kato.VectorSimilarityMetric) (kato.Symbol, error) {
	if err := encoding.ValidateVector(vector); err != nil {
		return "", fmt.Errorf("%w: %v", kato.ErrInvalidInput, err)
	}

	symbol, err := kato.VectorSymbol(vector)
	if err != nil {
		return "", fmt.Errorf("%w: %v", kato.ErrInvalidInput, err)
	}

	c, err := ix.collectionFor(nodeID, len(vector), metric)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dimension == 0 {
		c.dimension = len(vector)
	} else if c.dimension != len(vector) {
		return "", fmt.Errorf("%w: collection vectors_%s fixed at dimension %d, got %d", kato.ErrDimensionMismatch, nodeID, c.dimension, len(vector))
	}

	if _, exists := c.vectors[symbol]; exists {
		return symbol, nil
	}

	cp := make([]float32, len(vector))
	copy(cp, vector)
	c.vectors[symbol] = cp

	if err := c.flat.Insert(symbol, cp); err != nil {
		return "", fmt.Errorf("%w: %v", kato.ErrStorageUnavailable, err)
	}
	if err := c.hnsw.Insert(symbol, cp); err != nil {
		// HNSW.Insert errors only on a duplicate ID, which vectors map
		// membership above already rules out; treat as storage failure.
		return "", fmt.Errorf("%w: %v", kato.ErrStorageUnavailable, err)
	}

	return symbol, nil
}

// Search implements kato.VectorIndexer. On a context deadline it degrades
// to zero neighbors with a VectorBackendDegraded warning rather than an
// error (spec §5).
func (ix *Indexer) Search(ctx context.Context, nodeID string, vector []float32, k int, metric kato.VectorSimilarityMetric) ([]kato.Symbol, *kato.Warning, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	if err := encoding.ValidateVector(vector); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kato.ErrInvalidInput, err)
	}

	deadline, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	ix.mu.RLock()
	c, ok := ix.collections[nodeID]
	ix.mu.RUnlock()
	if !ok {
		return []kato.Symbol{}, nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if deadline.Err() != nil {
		ix.logger.Warn("vector search deadline exceeded", "node_id", nodeID)
		return []kato.Symbol{}, &kato.Warning{Code: kato.WarnVectorBackendDegraded, Message: "vector search deadline exceeded"}, nil
	}
	if len(vector) != c.dimension {
		return nil, nil, fmt.Errorf("%w: query dimension %d, collection dimension %d", kato.ErrDimensionMismatch, len(vector), c.dimension)
	}

	var ids []string
	if metric != "" && metric != c.metric {
		// The collection's hnsw/flat indexes are built for the metric the
		// collection was created with (locked at first insert, like
		// dimension). A query asking for a different metric can't reuse
		// that graph, so it gets an exact scan with the requested metric's
		// distance function instead of silently reusing the wrong one.
		ids = exactSearch(c.vectors, vector, k, index.DistanceFuncFor(string(metric)))
	} else if c.hnsw.Size() < flatThreshold {
		ids, _ = c.flat.Search(vector, k)
	} else {
		ids, _ = c.hnsw.Search(vector, k, DefaultEfSearch)
	}

	out := make([]kato.Symbol, len(ids))
	copy(out, ids)
	return out, nil, nil
}

// exactSearch brute-force ranks vectors by distFn, used when a query's
// requested metric doesn't match the metric the collection's hnsw/flat
// indexes were built with.
func exactSearch(vectors map[kato.Symbol][]float32, query []float32, k int, distFn func(a, b []float32) float32) []string {
	scratch := index.NewFlatIndex(len(query), distFn)
	for symbol, v := range vectors {
		_ = scratch.Insert(symbol, v)
	}
	ids, _ := scratch.Search(query, k)
	return ids
}

// DeleteCollection implements kato.VectorIndexer.
func (ix *Indexer) DeleteCollection(ctx context.Context, nodeID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.collections, nodeID)
	return nil
}
