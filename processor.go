package kato

import (
	"context"
)

// Processor is the stateless facade of spec §4.6: every method is a pure
// function of (SessionState, Config, Input) -> (SessionState, Output). It
// holds no per-session mutable fields itself, only handles to the shared,
// tenant-scoped collaborators (VectorIndexer, PatternStore, RecallEngine,
// PredictionEngine). This is what guarantees session isolation under
// concurrent callers without any processor-level locking: two goroutines
// calling Observe with two different SessionState values never touch each
// other's data, because all state flows through the arguments and return
// values explicitly.
type Processor struct {
	Vectors    VectorIndexer
	Patterns   PatternStore
	Recall     RecallEngine
	Prediction PredictionEngine
}

// NewProcessor wires the four collaborators into a stateless Processor.
func NewProcessor(vectors VectorIndexer, patterns PatternStore, recall RecallEngine, prediction PredictionEngine) *Processor {
	return &Processor{Vectors: vectors, Patterns: patterns, Recall: recall, Prediction: prediction}
}

// Observe canonicalizes the input, resolves vectors to symbols, appends the
// composed event to STM, merges emotives/metadata, and — if configured —
// auto-learns and resets STM. Observations either succeed fully or fail
// atomically (spec §7): on error the returned state is the zero value and
// must be discarded, never partially applied.
func (p *Processor) Observe(ctx context.Context, state SessionState, cfg Config, in Input) (SessionState, []Warning, error) {
	cfg, warnings := cfg.Normalize()
	next := state.Clone()
	next.Config = cfg

	event := make(Event, 0, len(in.Strings)+len(in.Vectors))
	event = append(event, in.Strings...)

	for _, vec := range in.Vectors {
		newSymbol, err := VectorSymbol(vec)
		if err != nil {
			return SessionState{}, warnings, wrapError("observe", ErrInvalidInput)
		}

		seen := map[Symbol]struct{}{newSymbol: {}}
		event = append(event, newSymbol)

		if cfg.VectorRecallK > 0 && p.Vectors != nil {
			neighbors, warn, err := p.Vectors.Search(ctx, state.NodeID, vec, cfg.VectorRecallK, cfg.VectorSimilarityMetric)
			if err != nil {
				return SessionState{}, warnings, wrapError("observe", err)
			}
			if warn != nil {
				warnings = append(warnings, *warn)
			}
			for _, n := range neighbors {
				if _, dup := seen[n]; !dup {
					seen[n] = struct{}{}
					event = append(event, n)
				}
			}
		}

		if p.Vectors != nil {
			if _, err := p.Vectors.Upsert(ctx, state.NodeID, vec, cfg.VectorSimilarityMetric); err != nil {
				return SessionState{}, warnings, wrapError("observe", err)
			}
		}
	}

	event = event.Canonicalize(cfg.Sort)
	next.STM = append(next.STM, event)

	for name, val := range in.Emotives {
		next.AccumulatedEmotives[name] = append(next.AccumulatedEmotives[name], val)
	}
	for k, v := range in.Metadata {
		next.AccumulatedMetadata[k] = v
	}
	next.Time = state.Time + 1
	next.LastAccessedAt = nowUTC()

	if cfg.MaxPatternLength > 0 && len(next.STM) >= cfg.MaxPatternLength {
		_, learned, learnWarnings, err := p.learn(ctx, next, cfg)
		warnings = append(warnings, learnWarnings...)
		if err != nil {
			return SessionState{}, warnings, wrapError("observe", err)
		}
		next = learned
	}

	return next, warnings, nil
}

// Learn stores the current STM as a pattern (if it qualifies) and resets or
// rolls STM according to stm_mode. Returns the learned pattern's name, or
// nil if the STM had fewer than 2 events or fewer than 2 distinct symbols
// (spec §4.6, §8 "Single-event pattern").
func (p *Processor) Learn(ctx context.Context, state SessionState, cfg Config) (*string, SessionState, []Warning, error) {
	cfg, warnings := cfg.Normalize()
	next := state.Clone()
	next.Config = cfg

	name, next, learnWarnings, err := p.learn(ctx, next, cfg)
	warnings = append(warnings, learnWarnings...)
	if err != nil {
		return nil, state, warnings, wrapError("learn", err)
	}
	return name, next, warnings, nil
}

// learn implements the shared body of auto-learn (from Observe) and
// explicit Learn. Storage failures are surfaced as errors rather than
// swallowed (spec §7, "the processor never silently drops learned data").
func (p *Processor) learn(ctx context.Context, state SessionState, cfg Config) (*string, SessionState, []Warning, error) {
	var warnings []Warning
	next := state

	if len(next.STM) < 2 || next.STM.DistinctStrings() < 2 {
		return nil, next, warnings, nil
	}

	if p.Patterns == nil {
		return nil, next, warnings, nil
	}

	name, err := p.Patterns.Learn(ctx, next.NodeID, next.STM, next.AccumulatedEmotives, next.AccumulatedMetadata, cfg.Persistence)
	if err != nil {
		return nil, next, warnings, wrapError("pattern_store", err)
	}

	switch cfg.StmMode {
	case StmModeRolling:
		keep := cfg.MaxPatternLength - 1
		if keep < 0 {
			keep = 0
		}
		if keep < len(next.STM) {
			next.STM = append(STM{}, next.STM[len(next.STM)-keep:]...)
		}
	default: // StmModeClear
		next.STM = STM{}
		next.AccumulatedEmotives = map[string][]float64{}
		next.AccumulatedMetadata = map[string]string{}
	}

	return &name, next, warnings, nil
}

// Predict delegates to RecallEngine then PredictionEngine without mutating
// state. An empty STM, or an STM with fewer than 2 distinct symbols, yields
// an empty prediction list (spec §4.4 edge cases).
func (p *Processor) Predict(ctx context.Context, state SessionState, cfg Config) ([]Prediction, []Warning, error) {
	cfg, warnings := cfg.Normalize()

	if len(state.STM) == 0 || state.STM.DistinctStrings() < 2 {
		return []Prediction{}, warnings, nil
	}

	candidates, err := p.Recall.Recall(ctx, p.Patterns, state.NodeID, state.STM, cfg)
	if err != nil {
		return nil, warnings, wrapError("predict", err)
	}

	if !cfg.ProcessPredictions {
		return []Prediction{}, warnings, nil
	}

	predictions, predWarnings, err := p.Prediction.Predict(ctx, p.Patterns, state.NodeID, state.STM, candidates, cfg)
	warnings = append(warnings, predWarnings...)
	if err != nil {
		return nil, warnings, wrapError("predict", err)
	}
	return predictions, warnings, nil
}

// ClearSTM resets a session's short-term memory, accumulated emotives, and
// accumulated metadata without learning a pattern from it.
func (p *Processor) ClearSTM(state SessionState) SessionState {
	next := state.Clone()
	next.STM = STM{}
	next.AccumulatedEmotives = map[string][]float64{}
	next.AccumulatedMetadata = map[string]string{}
	return next
}

// ClearAll drops every learned pattern and the vector collection belonging
// to nodeID. Unlike ClearSTM this is a tenant-wide, destructive operation.
func (p *Processor) ClearAll(ctx context.Context, nodeID string) error {
	if p.Patterns != nil {
		if err := p.Patterns.DeleteTenant(ctx, nodeID); err != nil {
			return wrapError("clear_all", err)
		}
	}
	if p.Vectors != nil {
		if err := p.Vectors.DeleteCollection(ctx, nodeID); err != nil {
			return wrapError("clear_all", err)
		}
	}
	return nil
}
