package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }
func okOp(context.Context) error      { return nil }

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	b := New(cfg)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "trip-test", Threshold: 3})

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), failingOp)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, b.State())
	}

	err := b.Execute(context.Background(), failingOp)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "reset-count-test", Threshold: 2})

	require.Error(t, b.Execute(context.Background(), failingOp))
	require.NoError(t, b.Execute(context.Background(), okOp))
	require.Error(t, b.Execute(context.Background(), failingOp))

	// The success in between means only one consecutive failure.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenRejectsWithoutFallback(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "open-test", Threshold: 1})

	require.Error(t, b.Execute(context.Background(), failingOp))
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "primary must not run while open")
}

func TestBreaker_OpenServesFallback(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "fallback-test", Threshold: 1})

	require.Error(t, b.Execute(context.Background(), failingOp))
	require.Equal(t, StateOpen, b.State())

	var cause error
	err := b.ExecuteWith(context.Background(), okOp, func(_ context.Context, c error) error {
		cause = c
		return nil
	})
	assert.NoError(t, err)
	assert.ErrorIs(t, cause, ErrOpen)
}

func TestBreaker_FailureHandsCauseToFallback(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "degrade-test", Threshold: 5})

	var cause error
	err := b.ExecuteWith(context.Background(), failingOp, func(_ context.Context, c error) error {
		cause = c
		return nil
	})
	assert.NoError(t, err)
	assert.ErrorIs(t, cause, errBoom)
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	b, now := newTestBreaker(t, Config{Name: "probe-test", Threshold: 1, Cooldown: 10 * time.Second})

	require.Error(t, b.Execute(context.Background(), failingOp))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(11 * time.Second)

	require.NoError(t, b.Execute(context.Background(), okOp))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, Config{Name: "reopen-test", Threshold: 1, Cooldown: 10 * time.Second})

	require.Error(t, b.Execute(context.Background(), failingOp))
	*now = now.Add(11 * time.Second)

	require.Error(t, b.Execute(context.Background(), failingOp))
	assert.Equal(t, StateOpen, b.State())

	// Re-opened: the cooldown starts over.
	err := b.Execute(context.Background(), okOp)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_CallTimeoutBoundsOp(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "timeout-test", Threshold: 5, CallTimeout: 10 * time.Millisecond})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreaker_ManualReset(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "manual-reset-test", Threshold: 1})

	require.Error(t, b.Execute(context.Background(), failingOp))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), okOp))
}

func TestBreaker_Snapshot(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "snapshot-test", Threshold: 2, Cooldown: time.Minute})

	require.Error(t, b.Execute(context.Background(), failingOp))

	s := b.Snapshot()
	assert.Equal(t, "snapshot-test", s.Name)
	assert.Equal(t, "closed", s.State)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 2, s.Threshold)
	assert.Nil(t, s.OpenedAt)

	require.Error(t, b.Execute(context.Background(), failingOp))
	s = b.Snapshot()
	assert.Equal(t, "open", s.State)
	assert.NotNil(t, s.OpenedAt)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	b := r.Register(Config{Name: "cache", Threshold: 1})
	require.NotNil(t, b)

	got, ok := r.Get("cache")
	require.True(t, ok)
	assert.Same(t, b, got)

	require.Error(t, b.Execute(context.Background(), failingOp))
	require.Equal(t, StateOpen, b.State())

	require.NoError(t, r.Reset("cache"))
	assert.Equal(t, StateClosed, b.State())

	assert.Error(t, r.Reset("unknown"))

	r.Register(Config{Name: "store"})
	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "cache", snaps[0].Name)
	assert.Equal(t, "store", snaps[1].Name)
}
