package prediction_test

import (
	"context"
	"testing"

	"github.com/kato-engine/kato"
	"github.com/kato-engine/kato/pkg/patternstore"
	"github.com/kato-engine/kato/pkg/prediction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *patternstore.Store {
	t.Helper()
	s := patternstore.New(patternstore.Config{Path: ":memory:"})
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPredictExactMatchHasFullPresentNoMissingNoExtras(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()

	name, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"b"}, {"c"}}, nil, nil, 5)
	require.NoError(t, err)

	stm := kato.STM{{"a"}, {"b"}, {"c"}}
	cands := []kato.Candidate{{Name: name, Score: 1.0, Frequency: 1}}

	preds, warnings, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, preds, 1)

	p := preds[0]
	assert.Empty(t, p.Past)
	assert.Equal(t, []kato.Event{{"a"}, {"b"}, {"c"}}, p.Present)
	assert.Empty(t, p.Future)
	assert.Empty(t, p.Missing)
	assert.Empty(t, p.Extras)
	assert.ElementsMatch(t, []kato.Symbol{"a", "b", "c"}, p.Matches)
	assert.Equal(t, 0, p.Fragmentation)
	assert.InDelta(t, 1.0, p.Evidence, 1e-9)
}

func TestPredictPartialMatchProducesMissingAndFuture(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()
	cfg.RecallThreshold = 0

	name, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"b"}, {"c"}, {"d"}}, nil, nil, 5)
	require.NoError(t, err)

	// STM only observed "a" then "c": "b" is missing from present, "d" is
	// future, nothing extra.
	stm := kato.STM{{"a"}, {"c"}}
	cands := []kato.Candidate{{Name: name, Score: 0.5, Frequency: 1}}

	preds, _, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	p := preds[0]
	assert.Equal(t, []kato.Event{{"a"}, {"b"}, {"c"}}, p.Present)
	assert.Equal(t, []kato.Event{{"d"}}, p.Future)
	assert.Contains(t, p.Missing, kato.Symbol("b"))
	assert.Empty(t, p.Extras)
	assert.Equal(t, 1, p.Fragmentation, "gap between a and c within present counts as one fragmentation")
}

func TestPredictExtrasFromUnmatchedSTMEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()
	cfg.RecallThreshold = 0

	name, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"b"}}, nil, nil, 5)
	require.NoError(t, err)

	// STM observed an extra "z" event between a and b.
	stm := kato.STM{{"a"}, {"z"}, {"b"}}
	cands := []kato.Candidate{{Name: name, Score: 0.8, Frequency: 1}}

	preds, _, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Contains(t, preds[0].Extras, kato.Symbol("z"))
}

func TestPredictNoCompatibleEventsDiscardsCandidate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()
	cfg.RecallThreshold = 0

	name, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"b"}}, nil, nil, 5)
	require.NoError(t, err)

	stm := kato.STM{{"x"}, {"y"}}
	cands := []kato.Candidate{{Name: name, Score: 0, Frequency: 1}}

	preds, _, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestPredictEmotivesMeanAveragesRollingWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()
	cfg.RecallThreshold = 0

	events := []kato.Event{{"a"}, {"b"}}
	name, err := store.Learn(ctx, "tenant-a", events, map[string][]float64{"joy": {0.2}}, nil, 5)
	require.NoError(t, err)
	_, err = store.Learn(ctx, "tenant-a", events, map[string][]float64{"joy": {0.4}}, nil, 5)
	require.NoError(t, err)

	stm := kato.STM{{"a"}, {"b"}}
	cands := []kato.Candidate{{Name: name, Score: 1.0, Frequency: 2}}

	preds, _, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.InDelta(t, 0.3, preds[0].EmotivesMean["joy"], 1e-9)
}

func TestPredictSortsByPotentialDescending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()
	cfg.RecallThreshold = 0

	strongName, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"b"}}, nil, nil, 5)
	require.NoError(t, err)
	weakName, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"z"}}, nil, nil, 5)
	require.NoError(t, err)

	stm := kato.STM{{"a"}, {"b"}}
	cands := []kato.Candidate{
		{Name: weakName, Score: 0.2, Frequency: 1},
		{Name: strongName, Score: 0.9, Frequency: 1},
	}

	preds, _, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, strongName, preds[0].Name)
	assert.GreaterOrEqual(t, preds[0].Potential, preds[1].Potential)
}

func TestPredictThresholdFiltersLowPotential(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := prediction.New()
	cfg := kato.DefaultConfig()
	threshold := 0.99
	cfg.PredictionThreshold = &threshold

	name, err := store.Learn(ctx, "tenant-a", []kato.Event{{"a"}, {"z"}}, nil, nil, 5)
	require.NoError(t, err)

	stm := kato.STM{{"a"}, {"b"}}
	cands := []kato.Candidate{{Name: name, Score: 0.3, Frequency: 1}}

	preds, _, err := e.Predict(ctx, store, "tenant-a", stm, cands, cfg)
	require.NoError(t, err)
	assert.Empty(t, preds)
}
