// Package catchup is the reconciliation scheduler: a periodic
// job that enumerates the object store and replays any object with no
// corresponding ingested record, so a dropped push notification or a missed
// object-created event eventually self-heals.
package catchup

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayhook/relayhook/internal/ingest"
	"github.com/relayhook/relayhook/internal/objectstore"
	"github.com/relayhook/relayhook/internal/observability"
)

// ObjectLister enumerates object-store keys for the diff.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string, maxKeys int, sinceHours int) ([]objectstore.Object, error)
}

// Store is the subset of the persistence gateway the scheduler depends on.
type Store interface {
	ProcessedObjectKeys(ctx context.Context) (map[string]struct{}, error)
}

// Ingestor accepts replayed object-created records. ingest.Coordinator
// satisfies this directly.
type Ingestor interface {
	AcceptObjectCreatedEvent(ctx context.Context, records []ingest.ObjectRecord) error
}

// Config configures one Scheduler. Cron, when set, is a standard five-field
// cron expression used to derive Interval; an explicitly set Interval always
// takes precedence (this is how tests drive the loop at sub-second cadence
// without a cron expression that can't express that resolution).
type Config struct {
	Bucket        string
	Prefix        string
	MaxKeysPerRun int
	OnlyLastHours int
	Cron          string
	Interval      time.Duration
	Disabled      bool
}

// Scheduler runs the periodic reconciliation loop.
type Scheduler struct {
	objects  ObjectLister
	store    Store
	ingestor Ingestor
	logger   *slog.Logger
	metrics  *observability.Metrics
	cfg      Config
}

// New builds a Scheduler. metrics may be nil.
func New(objects ObjectLister, st Store, ingestor Ingestor, logger *slog.Logger, metrics *observability.Metrics, cfg Config) *Scheduler {
	if cfg.MaxKeysPerRun <= 0 {
		cfg.MaxKeysPerRun = 10
	}
	if cfg.MaxKeysPerRun > 100 {
		cfg.MaxKeysPerRun = 100
	}
	if cfg.OnlyLastHours <= 0 {
		cfg.OnlyLastHours = 24
	}
	if cfg.Interval <= 0 {
		cfg.Interval = intervalFromCron(cfg.Cron, logger)
	}
	return &Scheduler{objects: objects, store: st, ingestor: ingestor, logger: logger, metrics: metrics, cfg: cfg}
}

// Run drives the periodic loop until ctx is cancelled. The DISABLED
// kill-switch (cfg.Disabled) stops the scheduler without a redeploy: Run
// still honors ctx cancellation but skips every tick's work.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Disabled {
		s.logger.Info("catch-up scheduler disabled, not running")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.cfg.Disabled {
				continue
			}
			s.tick(ctx)
		}
	}
}

// tick runs one reconciliation pass: list, diff, replay. Individual replay
// failures are logged and do not stop the run.
func (s *Scheduler) tick(ctx context.Context) {
	objs, err := s.objects.ListObjects(ctx, s.cfg.Prefix, s.cfg.MaxKeysPerRun, s.cfg.OnlyLastHours)
	if err != nil {
		s.logger.Error("catch-up: listing objects", "error", err)
		s.recordRun("error", 0, 0)
		return
	}

	processed, err := s.store.ProcessedObjectKeys(ctx)
	if err != nil {
		s.logger.Error("catch-up: listing processed object keys", "error", err)
		s.recordRun("error", len(objs), 0)
		return
	}

	replayed := 0
	for _, obj := range objs {
		if _, ok := processed[obj.Key]; ok {
			continue
		}
		if err := s.ingestor.AcceptObjectCreatedEvent(ctx, []ingest.ObjectRecord{{Bucket: s.cfg.Bucket, Key: obj.Key}}); err != nil {
			s.logger.Error("catch-up: replaying object", "bucket", s.cfg.Bucket, "key", obj.Key, "error", err)
			continue
		}
		replayed++
	}

	s.logger.Info("catch-up run complete", "scanned", len(objs), "replayed", replayed)
	s.recordRun("ok", len(objs), replayed)
}

// intervalFromCron derives a run interval from a standard five-field cron
// expression by measuring the gap between its next two scheduled ticks.
// Falls back to 5 minutes if expr is empty or fails to parse.
func intervalFromCron(expr string, logger *slog.Logger) time.Duration {
	const fallback = 5 * time.Minute
	if expr == "" {
		return fallback
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid catch-up cron expression, falling back to default interval", "cron", expr, "error", err)
		}
		return fallback
	}
	now := time.Now()
	first := schedule.Next(now)
	second := schedule.Next(first)
	if interval := second.Sub(first); interval > 0 {
		return interval
	}
	return fallback
}

func (s *Scheduler) recordRun(outcome string, scanned, replayed int) {
	if s.metrics == nil {
		return
	}
	s.metrics.CatchupRunsTotal.WithLabelValues(outcome).Inc()
	s.metrics.CatchupScanned.Observe(float64(scanned))
	s.metrics.CatchupReplayedTotal.Add(float64(replayed))
}
