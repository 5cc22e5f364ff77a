package sessionstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/kato-engine/kato"
	"github.com/kato-engine/kato/pkg/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *sessionstore.Store {
	t.Helper()
	s := sessionstore.New(sessionstore.Config{Path: ":memory:", TTL: ttl})
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Hour)
	cfg := kato.DefaultConfig()

	sessionID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	state, err := s.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, state.SessionID)
	assert.Equal(t, "tenant-a", state.NodeID)
	assert.Empty(t, state.STM)
}

func TestSaveRoundTripsEmotivePrecisionAndSTMOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Hour)
	cfg := kato.DefaultConfig()

	sessionID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	state, err := s.Load(ctx, sessionID)
	require.NoError(t, err)

	state.STM = kato.STM{{"z", "a"}, {"m"}}
	state.AccumulatedEmotives = map[string][]float64{"joy": {0.123456789, 0.987654321}}
	require.NoError(t, s.Save(ctx, state))

	reloaded, err := s.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, kato.STM{{"z", "a"}, {"m"}}, reloaded.STM, "event ordering within STM preserved exactly")
	assert.Equal(t, []float64{0.123456789, 0.987654321}, reloaded.AccumulatedEmotives["joy"])
}

func TestLoadUnknownSessionReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Hour)

	_, err := s.Load(ctx, "nonexistent")
	require.ErrorIs(t, err, kato.ErrNotFound)
}

func TestLoadExpiredSessionReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, -time.Second) // already expired on creation
	cfg := kato.DefaultConfig()

	sessionID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	_, err = s.Load(ctx, sessionID)
	require.ErrorIs(t, err, kato.ErrNotFound)
}

func TestTouchRefreshesLastAccessedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Hour)
	cfg := kato.DefaultConfig()

	sessionID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	before, err := s.Load(ctx, sessionID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Touch(ctx, sessionID))

	after, err := s.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, after.LastAccessedAt.After(before.LastAccessedAt))
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Hour)
	cfg := kato.DefaultConfig()

	sessionID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, sessionID))
	require.NoError(t, s.Delete(ctx, sessionID), "deleting an already-deleted session is not an error")

	_, err = s.Load(ctx, sessionID)
	require.ErrorIs(t, err, kato.ErrNotFound)
}

func TestSweepRemovesOnlyExpiredSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 15*time.Millisecond)
	cfg := kato.DefaultConfig()

	expiredID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	liveID, err := s.Create(ctx, "tenant-a", cfg)
	require.NoError(t, err)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Load(ctx, expiredID)
	require.ErrorIs(t, err, kato.ErrNotFound)

	_, err = s.Load(ctx, liveID)
	require.NoError(t, err)
}

func TestSaveUnknownSessionReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Hour)

	state := kato.NewSessionState("nonexistent", "tenant-a", kato.DefaultConfig())
	err := s.Save(ctx, state)
	require.ErrorIs(t, err, kato.ErrNotFound)
}
