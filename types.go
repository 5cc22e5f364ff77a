package kato

import (
	"sort"
	"time"
)

// Symbol is an opaque observation token. Plain symbols are arbitrary
// strings; vector symbols carry the "VCTR|" prefix followed by the lowercase
// hex SHA-1 of the vector's canonical float32 byte encoding (spec §6).
type Symbol = string

// VectorSymbolPrefix marks a Symbol derived from a continuous vector rather
// than an observed plain string.
const VectorSymbolPrefix = "VCTR|"

// PatternNamePrefix marks a Pattern's content-addressed name.
const PatternNamePrefix = "PTRN|"

// Event is an unordered set of symbols observed together. Canonicalize
// applies the "sort" config option, after which the event is considered
// canonical and reproducible.
type Event []Symbol

// Canonicalize returns a copy of e, lexicographically sorted when sort is
// true. An already-sorted event is idempotent under repeated calls.
func (e Event) Canonicalize(sort bool) Event {
	out := make(Event, len(e))
	copy(out, e)
	if sort {
		sortStrings(out)
	}
	return out
}

// Intersect returns the symbols present in both e and other.
func (e Event) Intersect(other Event) []Symbol {
	set := make(map[Symbol]struct{}, len(other))
	for _, s := range other {
		set[s] = struct{}{}
	}
	var out []Symbol
	for _, s := range e {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Difference returns the symbols in e that are not present in other.
func (e Event) Difference(other Event) []Symbol {
	set := make(map[Symbol]struct{}, len(other))
	for _, s := range other {
		set[s] = struct{}{}
	}
	var out []Symbol
	for _, s := range e {
		if _, ok := set[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func sortStrings(s []Symbol) {
	sort.Strings(s)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// STM is the ordered short-term memory of a session.
type STM []Event

// Symbols returns the union of all symbols across the STM's events.
func (s STM) Symbols() map[Symbol]struct{} {
	out := make(map[Symbol]struct{})
	for _, ev := range s {
		for _, sym := range ev {
			out[sym] = struct{}{}
		}
	}
	return out
}

// DistinctStrings counts distinct symbols across the STM.
func (s STM) DistinctStrings() int {
	return len(s.Symbols())
}

// Pattern is a learned canonical sequence of events, content-addressed by
// the SHA-1 hash of its canonical serialization (spec §3/§6).
type Pattern struct {
	Name      string
	Events    []Event
	Length    int
	Frequency int64
	Emotives  map[string][]float64
	Metadata  map[string]string
}

// StmMode controls STM behavior after auto-learn.
type StmMode string

const (
	StmModeClear   StmMode = "CLEAR"
	StmModeRolling StmMode = "ROLLING"
)

// SimilarityMetric selects the RecallEngine scoring function.
type SimilarityMetric string

const (
	SimilarityITFDF        SimilarityMetric = "itfdf"
	SimilarityJaccard      SimilarityMetric = "jaccard"
	SimilarityCosineSymbol SimilarityMetric = "cosine_symbol"
)

// VectorSimilarityMetric selects the ANN distance function.
type VectorSimilarityMetric string

const (
	VectorEuclidean VectorSimilarityMetric = "euclidean"
	VectorCosine    VectorSimilarityMetric = "cosine"
	VectorDot       VectorSimilarityMetric = "dot"
	VectorManhattan VectorSimilarityMetric = "manhattan"
)

// SessionState is the per-session container threaded through every
// Processor call (spec §3). The Processor never mutates a SessionState in
// place; every operation returns a new value.
type SessionState struct {
	SessionID           string
	NodeID              string
	STM                 STM
	AccumulatedEmotives map[string][]float64
	AccumulatedMetadata map[string]string
	Time                int64
	LastAccessedAt       time.Time
	Config              Config
}

// NewSessionState creates a fresh session container for nodeID with the
// given config. Callers assign SessionID (typically a UUID) themselves via
// SessionStore.Create.
func NewSessionState(sessionID, nodeID string, cfg Config) SessionState {
	return SessionState{
		SessionID:           sessionID,
		NodeID:              nodeID,
		STM:                 STM{},
		AccumulatedEmotives: map[string][]float64{},
		AccumulatedMetadata: map[string]string{},
		Config:              cfg,
		LastAccessedAt:       time.Now().UTC(),
	}
}

// Clone returns a deep-enough copy of s so that mutating the copy's STM,
// emotives, or metadata never aliases the original. This is what lets the
// Processor claim statelessness: every returned SessionState is this kind
// of independent copy.
func (s SessionState) Clone() SessionState {
	out := s
	out.STM = make(STM, len(s.STM))
	for i, ev := range s.STM {
		e := make(Event, len(ev))
		copy(e, ev)
		out.STM[i] = e
	}
	out.AccumulatedEmotives = make(map[string][]float64, len(s.AccumulatedEmotives))
	for k, v := range s.AccumulatedEmotives {
		cp := make([]float64, len(v))
		copy(cp, v)
		out.AccumulatedEmotives[k] = cp
	}
	out.AccumulatedMetadata = make(map[string]string, len(s.AccumulatedMetadata))
	for k, v := range s.AccumulatedMetadata {
		out.AccumulatedMetadata[k] = v
	}
	return out
}

// Input is a single observation fed to Processor.Observe.
type Input struct {
	Strings  []string
	Vectors  [][]float32
	Emotives map[string]float64
	Metadata map[string]string
}

// Prediction is one ranked, segmented explanation of the current STM in
// terms of a learned Pattern (spec §4.5).
type Prediction struct {
	Name          string
	Past          []Event
	Present       []Event
	Future        []Event
	Matches       []Symbol
	Missing       []Symbol
	Extras        []Symbol
	Similarity    float64
	Evidence      float64
	Confidence    float64
	Fragmentation int
	Potential     float64
	SNR           float64
	Frequency     int64
	EmotivesMean  map[string]float64
}

// Candidate is a recalled pattern name with its similarity score (spec §4.4).
type Candidate struct {
	Name      string
	Score     float64
	Frequency int64
}
