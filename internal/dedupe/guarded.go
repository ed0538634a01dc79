package dedupe

import (
	"context"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/breaker"
)

// GuardedStore routes marker operations through a circuit breaker. While the
// primary store is unavailable the in-process fallback keeps dedupe working
// within a single instance (reduced guarantees); cross-instance dedupe
// resumes once the breaker closes again.
type GuardedStore struct {
	primary  Store
	fallback *MemoryStore
	breaker  *breaker.Breaker
}

// NewGuardedStore wires primary behind a breaker registered under the
// dependency name "cache".
func NewGuardedStore(primary Store, registry *breaker.Registry, cfg breaker.Config) *GuardedStore {
	cfg.Name = "cache"
	return &GuardedStore{
		primary:  primary,
		fallback: NewMemoryStore(),
		breaker:  registry.Register(cfg),
	}
}

func (g *GuardedStore) Exists(ctx context.Context, key string) (bool, error) {
	var present bool
	err := g.breaker.ExecuteWith(ctx,
		func(ctx context.Context) error {
			var opErr error
			present, opErr = g.primary.Exists(ctx, key)
			return opErr
		},
		func(ctx context.Context, _ error) error {
			var fbErr error
			present, fbErr = g.fallback.Exists(ctx, key)
			return fbErr
		},
	)
	return present, err
}

func (g *GuardedStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	err := g.breaker.ExecuteWith(ctx,
		func(ctx context.Context) error {
			return g.primary.Mark(ctx, key, ttl)
		},
		func(ctx context.Context, _ error) error {
			return g.fallback.Mark(ctx, key, ttl)
		},
	)
	if err == nil {
		// Mirror into the fallback so an outage still sees recent markers.
		_ = g.fallback.Mark(ctx, key, ttl)
	}
	return err
}

func (g *GuardedStore) Clear(ctx context.Context, key string) error {
	_ = g.fallback.Clear(ctx, key)
	return g.breaker.ExecuteWith(ctx,
		func(ctx context.Context) error {
			return g.primary.Clear(ctx, key)
		},
		func(ctx context.Context, _ error) error {
			// The primary marker expires on its TTL; nothing else to do.
			return nil
		},
	)
}

// Close releases the in-process fallback.
func (g *GuardedStore) Close() {
	g.fallback.Close()
}
