// Package recall implements kato.RecallEngine: ranks a tenant's learned
// patterns by similarity to the current STM (spec §4.4). Candidate scoring
// fans out across goroutines the way the teacher's pkg/memory.Recall fans
// its four TEMPR channels out concurrently, joined with golang.org/x/sync/errgroup
// instead of the teacher's raw channels, and sorted with the same
// score-desc/tie-break-asc pattern as the teacher's rrfFuse.
package recall

import (
	"context"
	"math"
	"sort"

	"github.com/kato-engine/kato"
	"golang.org/x/sync/errgroup"
)

// Engine implements kato.RecallEngine.
type Engine struct{}

// New constructs an Engine. It is stateless and safe for concurrent use.
func New() *Engine {
	return &Engine{}
}

// scored pairs a candidate pattern with its computed score, carried through
// the concurrent scoring fan-out before the final deterministic sort.
type scored struct {
	name      string
	score     float64
	frequency int64
}

// Recall implements kato.RecallEngine.
func (e *Engine) Recall(ctx context.Context, store kato.PatternStore, nodeID string, stm kato.STM, cfg kato.Config) ([]kato.Candidate, error) {
	if len(stm) == 0 || stm.DistinctStrings() < 2 {
		return []kato.Candidate{}, nil
	}

	query := stm.Symbols()

	names, err := store.CandidatesBySymbols(ctx, nodeID, query)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []kato.Candidate{}, nil
	}

	// search_depth bounds candidate expansion breadth (spec §6): at most
	// search_depth * max_predictions candidates, taken in the name order
	// CandidatesBySymbols returns, are scored.
	maxCandidates := cfg.SearchDepth * cfg.MaxPredictions
	if maxCandidates > 0 && len(names) > maxCandidates {
		names = names[:maxCandidates]
	}

	patterns := make([]*kato.Pattern, 0, len(names))
	symbolUnion := make(map[kato.Symbol]struct{}, len(query))
	for s := range query {
		symbolUnion[s] = struct{}{}
	}
	for _, name := range names {
		p, err := store.Get(ctx, nodeID, name)
		if err != nil {
			continue
		}
		patterns = append(patterns, p)
		for _, ev := range p.Events {
			for _, s := range ev {
				symbolUnion[s] = struct{}{}
			}
		}
	}
	if len(patterns) == 0 {
		return []kato.Candidate{}, nil
	}

	var idf map[kato.Symbol]float64
	if cfg.SimilarityMetric == kato.SimilarityITFDF {
		allSymbols := make([]kato.Symbol, 0, len(symbolUnion))
		for s := range symbolUnion {
			allSymbols = append(allSymbols, s)
		}
		N, err := store.PatternCount(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		docFreq, err := store.SymbolDocFrequency(ctx, nodeID, allSymbols)
		if err != nil {
			return nil, err
		}
		idf = computeIDF(N, docFreq)
	}

	scoreFn := scoreFuncFor(cfg.SimilarityMetric, idf)

	results := make([]scored, len(patterns))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range patterns {
		i, p := i, p
		g.Go(func() error {
			patternSymbols := eventsSymbolSet(p.Events)
			results[i] = scored{
				name:      p.Name,
				score:     scoreFn(patternSymbols, query),
				frequency: p.Frequency,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.score >= cfg.RecallThreshold {
			filtered = append(filtered, r)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].score != filtered[j].score {
			return filtered[i].score > filtered[j].score
		}
		if filtered[i].frequency != filtered[j].frequency {
			return filtered[i].frequency > filtered[j].frequency
		}
		return filtered[i].name < filtered[j].name
	})

	if cfg.MaxPredictions > 0 && len(filtered) > cfg.MaxPredictions {
		filtered = filtered[:cfg.MaxPredictions]
	}

	out := make([]kato.Candidate, len(filtered))
	for i, r := range filtered {
		out[i] = kato.Candidate{Name: r.name, Score: r.score, Frequency: r.frequency}
	}
	return out, nil
}

// computeIDF computes idf(s) = log((N+1)/(freq(s)+1)) + 1 for every symbol in
// docFreq (spec §4.4).
func computeIDF(n int, docFreq map[kato.Symbol]int) map[kato.Symbol]float64 {
	idf := make(map[kato.Symbol]float64, len(docFreq))
	for s, freq := range docFreq {
		idf[s] = math.Log(float64(n+1)/float64(freq+1)) + 1
	}
	return idf
}

func eventsSymbolSet(events []kato.Event) map[kato.Symbol]struct{} {
	out := make(map[kato.Symbol]struct{})
	for _, ev := range events {
		for _, s := range ev {
			out[s] = struct{}{}
		}
	}
	return out
}

// scoreFuncFor resolves the similarity function for metric, defaulting to
// ITFDF for an unrecognized value (Config.Normalize should have already
// caught this, but scoring stays defensive).
func scoreFuncFor(metric kato.SimilarityMetric, idf map[kato.Symbol]float64) func(p, q map[kato.Symbol]struct{}) float64 {
	switch metric {
	case kato.SimilarityJaccard:
		return jaccardScore
	case kato.SimilarityCosineSymbol:
		return cosineSymbolScore
	default:
		return func(p, q map[kato.Symbol]struct{}) float64 {
			return itfdfScore(p, q, idf)
		}
	}
}

// itfdfScore computes sum(idf over intersection) / sum(idf over union), 0 if
// the denominator is 0 (spec §4.4 division guard).
func itfdfScore(p, q map[kato.Symbol]struct{}, idf map[kato.Symbol]float64) float64 {
	var numerator, denominator float64
	union := make(map[kato.Symbol]struct{}, len(p)+len(q))
	for s := range p {
		union[s] = struct{}{}
	}
	for s := range q {
		union[s] = struct{}{}
	}
	for s := range union {
		w := idf[s]
		denominator += w
		if _, inP := p[s]; inP {
			if _, inQ := q[s]; inQ {
				numerator += w
			}
		}
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// jaccardScore computes |P∩Q| / |P∪Q|, the unweighted analogue of ITFDF.
func jaccardScore(p, q map[kato.Symbol]struct{}) float64 {
	if len(p) == 0 && len(q) == 0 {
		return 0
	}
	intersection := 0
	for s := range p {
		if _, ok := q[s]; ok {
			intersection++
		}
	}
	union := len(p) + len(q) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// cosineSymbolScore treats P and Q as binary bag-of-symbols vectors over the
// symbol universe and computes their cosine similarity, which for binary
// vectors reduces to |P∩Q| / sqrt(|P|*|Q|).
func cosineSymbolScore(p, q map[kato.Symbol]struct{}) float64 {
	if len(p) == 0 || len(q) == 0 {
		return 0
	}
	intersection := 0
	for s := range p {
		if _, ok := q[s]; ok {
			intersection++
		}
	}
	denom := math.Sqrt(float64(len(p)) * float64(len(q)))
	if denom == 0 {
		return 0
	}
	return float64(intersection) / denom
}
