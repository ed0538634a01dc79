package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/metrics"
	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/repository"
)

// Publisher publishes queue messages for swept entries. The JetStream client
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// SweepConfig tunes the pending sweep.
type SweepConfig struct {
	// Interval between sweep passes.
	Interval time.Duration

	// MinAge is how old a pending entry must be before it is considered
	// orphaned. Must exceed the receiver's worst-case persist-to-publish
	// window so in-flight entries are not double-published.
	MinAge time.Duration

	// BatchLimit caps entries requeued per pass.
	BatchLimit int
}

// Sweeper republishes pending log entries whose queue message never arrived,
// recovering from a receiver crash between persist and publish.
type Sweeper struct {
	logs      repository.LogStore
	publisher Publisher
	cfg       SweepConfig
	logger    *logging.Logger
}

// NewSweeper creates a sweeper with defaults filled in.
func NewSweeper(logs repository.LogStore, publisher Publisher, cfg SweepConfig, logger *logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 5 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{logs: logs, publisher: publisher, cfg: cfg, logger: logger}
}

// Start runs sweep passes on a ticker until ctx is canceled. Returns a stop
// function.
func (s *Sweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Sweep runs a single pass: list orphaned pending entries and republish
// their queue messages. Publishing the same entry twice is harmless because
// the worker's pipeline is idempotent.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.MinAge)
	entries, err := s.logs.ListPendingBefore(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "pending sweep list failed", logging.Error(err))
		return
	}

	requeued := 0
	for i := range entries {
		entry := &entries[i]
		msg := &model.QueueMessage{
			LogID:                 entry.LogID,
			EntityType:            entry.EntityType,
			EntityID:              entry.EntityID,
			Operation:             entry.Operation,
			SourceSystemTimestamp: entry.SourceSystemTimestamp,
			PayloadChecksum:       entry.PayloadChecksum,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.WarnContext(ctx, "sweep marshal failed", logging.LogID(entry.LogID), logging.Error(err))
			continue
		}
		if err := s.publisher.Publish(ctx, msg.Subject(), data); err != nil {
			s.logger.WarnContext(ctx, "sweep republish failed", logging.LogID(entry.LogID), logging.Error(err))
			continue
		}
		requeued++
	}

	if requeued > 0 {
		metrics.PendingSwept.Add(float64(requeued))
		s.logger.InfoContext(ctx, "orphaned pending entries requeued",
			logging.Service("worker"),
		)
	}
}
