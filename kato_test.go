package kato_test

import (
	"context"
	"sync"
	"testing"

	"github.com/kato-engine/kato"
	"github.com/kato-engine/kato/pkg/patternstore"
	"github.com/kato-engine/kato/pkg/prediction"
	"github.com/kato-engine/kato/pkg/recall"
	"github.com/kato-engine/kato/pkg/sessionstore"
	"github.com/kato-engine/kato/pkg/vectorindexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *kato.Engine {
	t.Helper()
	ctx := context.Background()

	patterns := patternstore.New(patternstore.Config{Path: ":memory:"})
	require.NoError(t, patterns.Init(ctx))
	t.Cleanup(func() { _ = patterns.Close() })

	sessions := sessionstore.New(sessionstore.Config{Path: ":memory:"})
	require.NoError(t, sessions.Init(ctx))
	t.Cleanup(func() { _ = sessions.Close() })

	vectors := vectorindexer.New(nil)
	proc := kato.NewProcessor(vectors, patterns, recall.New(), prediction.New())
	return kato.NewEngine(proc, sessions, nil)
}

func eventsOf(t *testing.T, state kato.SessionState) []kato.Event {
	t.Helper()
	return state.STM
}

// S1 — basic learn & predict.
func TestScenarioBasicLearnAndPredict(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	sessionID, err := eng.StartSession(ctx, "tenant-a", kato.DefaultConfig())
	require.NoError(t, err)

	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"c", "d"}})
	require.NoError(t, err)
	state, _, err := eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"e", "f"}})
	require.NoError(t, err)
	assert.Len(t, eventsOf(t, state), 3)

	name, state, _, err := eng.Learn(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, name)
	assert.Empty(t, state.STM, "CLEAR stm_mode resets STM after learn")

	_, err = eng.ClearSTM(ctx, sessionID)
	require.NoError(t, err)

	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"c", "d"}})
	require.NoError(t, err)

	predictions, _, err := eng.Predict(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, predictions, 1)

	p := predictions[0]
	assert.Empty(t, p.Past)
	assert.Equal(t, []kato.Event{{"a", "b"}, {"c", "d"}}, p.Present)
	assert.Equal(t, []kato.Event{{"e", "f"}}, p.Future)
	assert.Empty(t, p.Missing)
	assert.Empty(t, p.Extras)
	assert.ElementsMatch(t, []kato.Symbol{"a", "b", "c", "d"}, p.Matches)
}

// S2 — partial match with extras.
func TestScenarioPartialMatchWithExtras(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	sessionID := learnBaselinePattern(t, eng)

	_, _, err := eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"a", "b", "x"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"c", "d"}})
	require.NoError(t, err)

	predictions, _, err := eng.Predict(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, predictions, 1)

	p := predictions[0]
	assert.ElementsMatch(t, []kato.Symbol{"a", "b", "c", "d"}, p.Matches)
	assert.Equal(t, []kato.Symbol{"x"}, p.Extras)
	assert.Equal(t, []kato.Event{{"e", "f"}}, p.Future)
}

// S3 — missing symbols.
func TestScenarioMissingSymbols(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	sessionID := learnBaselinePattern(t, eng)

	_, _, err := eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"a"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"c", "d"}})
	require.NoError(t, err)

	predictions, _, err := eng.Predict(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, predictions, 1)

	p := predictions[0]
	assert.ElementsMatch(t, []kato.Symbol{"a", "c", "d"}, p.Matches)
	assert.Equal(t, []kato.Symbol{"b"}, p.Missing)
	assert.Equal(t, []kato.Event{{"e", "f"}}, p.Future)
}

// S4 — auto-learn with max_pattern_length=3, stm_mode=CLEAR.
func TestScenarioAutoLearnClearsSTM(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	cfg := kato.DefaultConfig()
	cfg.MaxPatternLength = 3
	cfg.StmMode = kato.StmModeClear

	sessionID, err := eng.StartSession(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"c", "d"}})
	require.NoError(t, err)
	state, _, err := eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"e", "f"}})
	require.NoError(t, err)

	assert.Empty(t, state.STM, "auto-learn clears STM once max_pattern_length is reached")

	name, err := eng.Processor.Patterns.CandidatesBySymbols(ctx, "tenant-a", map[kato.Symbol]struct{}{"a": {}})
	require.NoError(t, err)
	assert.NotEmpty(t, name, "the auto-learned pattern is discoverable by its symbols")
}

// S5 — vector symbolization.
func TestScenarioVectorSymbolizationIsDeterministic(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	cfg := kato.DefaultConfig()
	cfg.VectorRecallK = 0

	sessionID, err := eng.StartSession(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	state, _, err := eng.Observe(ctx, sessionID, kato.Input{Vectors: [][]float32{vec}})
	require.NoError(t, err)
	require.Len(t, state.STM, 1)
	require.Len(t, state.STM[0], 1)
	symbol := state.STM[0][0]
	assert.Regexp(t, `^VCTR\|[0-9a-f]{40}$`, symbol)

	sessionID2, err := eng.StartSession(ctx, "tenant-a", cfg)
	require.NoError(t, err)
	state2, _, err := eng.Observe(ctx, sessionID2, kato.Input{Vectors: [][]float32{vec}})
	require.NoError(t, err)
	assert.Equal(t, symbol, state2.STM[0][0], "the same vector always resolves to the same symbol")
}

// S6 — session isolation.
func TestScenarioConcurrentSessionsStayIsolated(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	sessionA, err := eng.StartSession(ctx, "tenant-a", kato.DefaultConfig())
	require.NoError(t, err)
	sessionB, err := eng.StartSession(ctx, "tenant-a", kato.DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, err := eng.Observe(ctx, sessionA, kato.Input{Strings: []string{"a1", "a2"}})
		assert.NoError(t, err)
		_, _, err = eng.Observe(ctx, sessionA, kato.Input{Strings: []string{"a3", "a4"}})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, _, err := eng.Observe(ctx, sessionB, kato.Input{Strings: []string{"b1", "b2"}})
		assert.NoError(t, err)
		_, _, err = eng.Observe(ctx, sessionB, kato.Input{Strings: []string{"b3", "b4"}})
		assert.NoError(t, err)
	}()
	wg.Wait()

	stateA, err := eng.Sessions.Load(ctx, sessionA)
	require.NoError(t, err)
	stateB, err := eng.Sessions.Load(ctx, sessionB)
	require.NoError(t, err)

	for _, ev := range stateA.STM {
		for _, sym := range ev {
			assert.NotContains(t, []string{"b1", "b2", "b3", "b4"}, sym)
		}
	}
	for _, ev := range stateB.STM {
		for _, sym := range ev {
			assert.NotContains(t, []string{"a1", "a2", "a3", "a4"}, sym)
		}
	}
	assert.Len(t, stateA.STM, 2)
	assert.Len(t, stateB.STM, 2)
}

func learnBaselinePattern(t *testing.T, eng *kato.Engine) string {
	t.Helper()
	ctx := context.Background()

	sessionID, err := eng.StartSession(ctx, "tenant-a", kato.DefaultConfig())
	require.NoError(t, err)

	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"a", "b"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"c", "d"}})
	require.NoError(t, err)
	_, _, err = eng.Observe(ctx, sessionID, kato.Input{Strings: []string{"e", "f"}})
	require.NoError(t, err)

	_, _, _, err = eng.Learn(ctx, sessionID)
	require.NoError(t, err)

	_, err = eng.ClearSTM(ctx, sessionID)
	require.NoError(t, err)

	return sessionID
}
