// Package prediction implements kato.PredictionEngine: aligns a candidate
// pattern's events against the current STM and derives a segmented
// Prediction with similarity/evidence/confidence/fragmentation/potential/snr
// metrics (spec §4.5). Candidate scoring fans out across goroutines the same
// way pkg/recall does, grounded on the teacher's pkg/memory concurrent
// channel pattern.
package prediction

import (
	"context"
	"math"
	"sort"

	"github.com/kato-engine/kato"
	"golang.org/x/sync/errgroup"
)

// Engine implements kato.PredictionEngine.
type Engine struct{}

// New constructs an Engine. It is stateless and safe for concurrent use.
func New() *Engine {
	return &Engine{}
}

// pair is one matched (pattern-index, stm-index) in an alignment.
type pair struct {
	i, j int
}

const infIndex = int(^uint(0) >> 1)

// alignment is the best weighted-longest-common-subsequence result for a
// suffix of (P, S): the number of matches, their total intersection weight,
// the earliest matched pattern/STM index, and the ordered list of matches.
type alignment struct {
	length  int
	weight  float64
	firstI  int
	firstJ  int
	matches []pair
}

// better reports whether a ranks strictly ahead of, or ties with, b under
// the spec §4.5 ordering: longest match count, then greatest intersection
// weight, then earliest first pattern-index, then earliest first STM-index.
// On a full tie a is preferred, which is what gives the DP below a
// deterministic choice between an available match and skipping it.
func better(a, b alignment) bool {
	if a.length != b.length {
		return a.length > b.length
	}
	if a.weight != b.weight {
		return a.weight > b.weight
	}
	if a.firstI != b.firstI {
		return a.firstI < b.firstI
	}
	return a.firstJ <= b.firstJ
}

// align computes the best alignment of pattern events P against STM events S
// per spec §4.5 step 1, via a bottom-up weighted-LCS dynamic program.
func align(p []kato.Event, s []kato.Event) alignment {
	m, n := len(p), len(s)
	empty := alignment{firstI: infIndex, firstJ: infIndex}

	table := make([][]alignment, m+1)
	for i := range table {
		table[i] = make([]alignment, n+1)
	}
	for i := 0; i <= m; i++ {
		table[i][n] = empty
	}
	for j := 0; j <= n; j++ {
		table[m][j] = empty
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			best := table[i+1][j]
			if better(table[i][j+1], best) {
				best = table[i][j+1]
			}

			if w := len(p[i].Intersect(s[j])); w > 0 {
				sub := table[i+1][j+1]
				matched := make([]pair, 0, sub.length+1)
				matched = append(matched, pair{i, j})
				matched = append(matched, sub.matches...)
				candidate := alignment{
					length:  sub.length + 1,
					weight:  sub.weight + float64(w),
					firstI:  i,
					firstJ:  j,
					matches: matched,
				}
				if better(candidate, best) {
					best = candidate
				}
			}

			table[i][j] = best
		}
	}

	return table[0][0]
}

// Predict implements kato.PredictionEngine.
func (e *Engine) Predict(ctx context.Context, store kato.PatternStore, nodeID string, stm kato.STM, candidates []kato.Candidate, cfg kato.Config) ([]kato.Prediction, []kato.Warning, error) {
	if len(candidates) == 0 {
		return []kato.Prediction{}, nil, nil
	}

	type result struct {
		pred kato.Prediction
		warn []kato.Warning
		ok   bool
	}

	results := make([]result, len(candidates))
	g, _ := errgroup.WithContext(ctx)
	for idx, cand := range candidates {
		idx, cand := idx, cand
		g.Go(func() error {
			pattern, err := store.Get(ctx, nodeID, cand.Name)
			if err != nil {
				return nil // candidate vanished between recall and predict; skip
			}
			pred, warnings, ok := buildPrediction(pattern, stm, cand)
			results[idx] = result{pred: pred, warn: warnings, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var warnings []kato.Warning
	predictions := make([]kato.Prediction, 0, len(candidates))
	for _, r := range results {
		warnings = append(warnings, r.warn...)
		if r.ok {
			predictions = append(predictions, r.pred)
		}
	}

	threshold := cfg.PredictionThresholdOrDefault()
	filtered := predictions[:0]
	for _, p := range predictions {
		if p.Potential >= threshold {
			filtered = append(filtered, p)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Potential != filtered[j].Potential {
			return filtered[i].Potential > filtered[j].Potential
		}
		if filtered[i].Confidence != filtered[j].Confidence {
			return filtered[i].Confidence > filtered[j].Confidence
		}
		if filtered[i].Frequency != filtered[j].Frequency {
			return filtered[i].Frequency > filtered[j].Frequency
		}
		return filtered[i].Name < filtered[j].Name
	})

	if cfg.MaxPredictions > 0 && len(filtered) > cfg.MaxPredictions {
		filtered = filtered[:cfg.MaxPredictions]
	}

	return filtered, warnings, nil
}

// buildPrediction computes the full alignment, segmentation, and metrics for
// one candidate pattern against stm. ok is false when the candidate must be
// discarded per spec §4.5 "Failure modes" (empty present, or frequency 0).
func buildPrediction(pattern *kato.Pattern, stm kato.STM, cand kato.Candidate) (kato.Prediction, []kato.Warning, bool) {
	var warnings []kato.Warning

	if cand.Frequency == 0 {
		warnings = append(warnings, kato.Warning{Code: kato.WarnDivisionGuard, Message: "pattern " + pattern.Name + " has frequency 0, discarded"})
		return kato.Prediction{}, warnings, false
	}

	align := align(pattern.Events, stm)
	if len(align.matches) == 0 {
		return kato.Prediction{}, warnings, false
	}

	loP, hiP := align.matches[0].i, align.matches[len(align.matches)-1].i
	loS, hiS := align.matches[0].j, align.matches[len(align.matches)-1].j

	past := append([]kato.Event{}, pattern.Events[:loP]...)
	present := append([]kato.Event{}, pattern.Events[loP:hiP+1]...)
	future := append([]kato.Event{}, pattern.Events[hiP+1:]...)

	matchedByP := make(map[int]int, len(align.matches))
	matchedByS := make(map[int]int, len(align.matches))
	for _, mp := range align.matches {
		matchedByP[mp.i] = mp.j
		matchedByS[mp.j] = mp.i
	}

	matches := orderedUnion(func(yield func(kato.Symbol)) {
		for _, mp := range align.matches {
			for _, sym := range pattern.Events[mp.i].Intersect(stm[mp.j]) {
				yield(sym)
			}
		}
	})

	missing := orderedUnion(func(yield func(kato.Symbol)) {
		for idx := loP; idx <= hiP; idx++ {
			if j, ok := matchedByP[idx]; ok {
				for _, sym := range pattern.Events[idx].Difference(stm[j]) {
					yield(sym)
				}
			} else {
				for _, sym := range pattern.Events[idx] {
					yield(sym)
				}
			}
		}
	})

	extras := orderedUnion(func(yield func(kato.Symbol)) {
		for idx := loS; idx <= hiS; idx++ {
			if i, ok := matchedByS[idx]; ok {
				for _, sym := range stm[idx].Difference(pattern.Events[i]) {
					yield(sym)
				}
			} else {
				for _, sym := range stm[idx] {
					yield(sym)
				}
			}
		}
	})

	var presentSymbolCount int
	for _, ev := range present {
		presentSymbolCount += len(ev)
	}

	var evidence float64
	if presentSymbolCount == 0 {
		warnings = append(warnings, kato.Warning{Code: kato.WarnDivisionGuard, Message: "empty present segment for pattern " + pattern.Name})
	} else {
		evidence = float64(len(matches)) / float64(presentSymbolCount)
	}

	frequencyWeight := 1 - 1/(1+math.Log(1+float64(cand.Frequency)))
	confidence := evidence * frequencyWeight

	fragmentation := countRuns(align.matches) - 1
	if fragmentation < 0 {
		fragmentation = 0
	}

	potential := 1 / (1 + float64(fragmentation)) * cand.Score * confidence

	snrDenominator := len(matches) + len(extras)
	if snrDenominator < 1 {
		snrDenominator = 1
	}
	snr := float64(len(matches)) / float64(snrDenominator)

	emotivesMean := make(map[string]float64, len(pattern.Emotives))
	for key, values := range pattern.Emotives {
		if len(values) == 0 {
			continue
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		emotivesMean[key] = sum / float64(len(values))
	}

	return kato.Prediction{
		Name:          pattern.Name,
		Past:          past,
		Present:       present,
		Future:        future,
		Matches:       matches,
		Missing:       missing,
		Extras:        extras,
		Similarity:    cand.Score,
		Evidence:      evidence,
		Confidence:    confidence,
		Fragmentation: fragmentation,
		Potential:     potential,
		SNR:           snr,
		Frequency:     cand.Frequency,
		EmotivesMean:  emotivesMean,
	}, warnings, true
}

// countRuns counts the maximal contiguous runs in matches, where consecutive
// pairs belong to the same run iff both the pattern and STM indices advance
// by exactly one (spec §4.5, "number of disjoint runs in M").
func countRuns(matches []pair) int {
	if len(matches) == 0 {
		return 0
	}
	runs := 1
	for t := 1; t < len(matches); t++ {
		prev, cur := matches[t-1], matches[t]
		if cur.i != prev.i+1 || cur.j != prev.j+1 {
			runs++
		}
	}
	return runs
}

// orderedUnion collects symbols yielded by walk into a slice, deduplicating
// while preserving first-seen order (spec §4.5, "ordered, union across
// pairs").
func orderedUnion(walk func(yield func(kato.Symbol))) []kato.Symbol {
	seen := make(map[kato.Symbol]struct{})
	var out []kato.Symbol
	walk(func(sym kato.Symbol) {
		if _, dup := seen[sym]; dup {
			return
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	})
	if out == nil {
		out = []kato.Symbol{}
	}
	return out
}
