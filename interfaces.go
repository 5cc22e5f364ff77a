package kato

import "context"

// VectorIndexer converts continuous vectors into symbolic identifiers via
// approximate nearest-neighbor search over a per-tenant collection (spec
// §4.2). Implementations live in pkg/vectorindexer.
type VectorIndexer interface {
	// Upsert inserts vector into nodeID's collection under its deterministic
	// VectorSymbol if absent (idempotent), and returns that symbol. metric
	// selects the distance function a newly created collection is built
	// with (spec §4.2, §6); it has no effect on a collection that already
	// exists, since the distance function is fixed at creation the same way
	// dimension is.
	Upsert(ctx context.Context, nodeID string, vector []float32, metric VectorSimilarityMetric) (Symbol, error)

	// Search returns up to k symbols nearest to vector in nodeID's
	// collection, using metric. On timeout/unavailability it returns a
	// VectorBackendDegraded warning and an empty neighbor list rather than
	// an error (spec §5).
	Search(ctx context.Context, nodeID string, vector []float32, k int, metric VectorSimilarityMetric) ([]Symbol, *Warning, error)

	// DeleteCollection drops nodeID's vector collection entirely.
	DeleteCollection(ctx context.Context, nodeID string) error
}

// PatternStore is the content-addressable store of learned patterns (spec
// §4.3). Implementations live in pkg/patternstore.
type PatternStore interface {
	// Get returns the pattern named name, or ErrNotFound.
	Get(ctx context.Context, nodeID, name string) (*Pattern, error)

	// Learn canonicalizes events, computes the pattern name, and either
	// inserts a fresh pattern (frequency 1) or increments the frequency and
	// rolls emotives/metadata of an existing one. Returns the pattern name.
	Learn(ctx context.Context, nodeID string, events []Event, emotives map[string][]float64, metadata map[string]string, persistence int) (string, error)

	// CandidatesBySymbols returns the names of patterns whose event-symbol
	// set intersects symbols, pruned by a bloom filter and postings index.
	CandidatesBySymbols(ctx context.Context, nodeID string, symbols map[Symbol]struct{}) ([]string, error)

	// SymbolDocFrequency returns, for each requested symbol, the number of
	// distinct patterns in which it appears (used by ITFDF scoring).
	SymbolDocFrequency(ctx context.Context, nodeID string, symbols []Symbol) (map[Symbol]int, error)

	// PatternCount returns the total number of patterns stored for nodeID.
	PatternCount(ctx context.Context, nodeID string) (int, error)

	// DeleteTenant drops all pattern data for nodeID.
	DeleteTenant(ctx context.Context, nodeID string) error
}

// RecallEngine ranks patterns by similarity to the current STM (spec §4.4).
// The concrete implementation lives in pkg/recall; it depends only on
// PatternStore, so it is injected here as an interface to avoid a package
// cycle with the root types it returns.
type RecallEngine interface {
	Recall(ctx context.Context, store PatternStore, nodeID string, stm STM, cfg Config) ([]Candidate, error)
}

// PredictionEngine aligns candidate patterns against the current STM and
// computes segmented predictions (spec §4.5). Implementation in
// pkg/prediction.
type PredictionEngine interface {
	Predict(ctx context.Context, store PatternStore, nodeID string, stm STM, candidates []Candidate, cfg Config) ([]Prediction, []Warning, error)
}

// SessionStore is the durable per-session state store (spec §4.1).
// Implementations live in pkg/sessionstore.
type SessionStore interface {
	Create(ctx context.Context, nodeID string, cfg Config) (string, error)
	Load(ctx context.Context, sessionID string) (SessionState, error)
	Save(ctx context.Context, state SessionState) error
	Touch(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}
