// Package sweeper prunes persisted documents once their slots are both
// finalized and older than the configured retention horizon. Data of slots
// still Processed or Confirmed is never touched: it may yet be needed for
// reconciliation. Forked slots are swept regardless of the horizon, as
// their data is invalid from the moment of the fork.
package sweeper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/solstream-io/mongosink/document"
	"github.com/solstream-io/mongosink/metrics"
	"github.com/solstream-io/mongosink/pool"
	"github.com/solstream-io/mongosink/slots"
)

// Config bounds retention.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// RetainSlots is the horizon, as a slot distance below the highest
	// rooted slot. Rooted slots further back than RetainSlots are
	// eligible for removal.
	RetainSlots uint64
}

// Validate returns an error if the Config is malformed.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("sweeper config: Interval must be positive")
	}
	return nil
}

// Sweeper periodically removes expired documents.
type Sweeper struct {
	cfg         Config
	pool        *pool.Pool
	tracker     *slots.Tracker
	collections []document.Collection
}

// New returns a Sweeper over |collections|.
func New(cfg Config, p *pool.Pool, tracker *slots.Tracker, collections []document.Collection) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sweeper{
		cfg:         cfg,
		pool:        p,
		tracker:     tracker,
		collections: collections,
	}, nil
}

// Serve runs sweeps each Interval until |ctx| is done. A failed sweep is
// logged and retried at the next interval; it is never fatal.
func (s *Sweeper) Serve(ctx context.Context) error {
	var ticker = time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				metrics.SweepFailuresTotal.Inc()
				log.WithField("err", err).Warn("retention sweep failed (will retry)")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep removes documents of every sweepable slot from each collection.
// Slot state is forgotten only after all collections are swept, so a
// partial failure re-sweeps on the next interval rather than leaking.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var maxRooted = s.tracker.MaxRooted()
	if maxRooted == 0 {
		return nil // Nothing has rooted yet.
	}
	var cutoff uint64
	if maxRooted > s.cfg.RetainSlots {
		cutoff = maxRooted - s.cfg.RetainSlots
	}
	var sweepable = s.tracker.Sweepable(cutoff)
	if len(sweepable) == 0 {
		return nil
	}

	var conn, err = s.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring connection for sweep")
	}
	var healthy = true
	defer func() { s.pool.Release(conn, healthy) }()

	var total int64
	for _, collection := range s.collections {
		var removed int64
		removed, err = conn.DeleteSlots(ctx, string(collection), sweepable)
		if err != nil {
			healthy = false
			return errors.Wrapf(err, "sweeping %s", collection)
		}
		metrics.SweepDeletedTotal.
			WithLabelValues(string(collection)).Add(float64(removed))
		total += removed
	}
	s.tracker.Forget(sweepable)

	log.WithFields(log.Fields{
		"slots":   len(sweepable),
		"removed": total,
		"cutoff":  cutoff,
	}).Info("retention sweep complete")

	return nil
}
