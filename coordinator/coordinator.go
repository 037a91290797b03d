// Package coordinator drains flushed batches and writes them to the store
// over pooled connections. Batches of a collection are written in intake
// order; distinct collections proceed concurrently up to a parallelism
// limit. Transient failures are retried with bounded exponential backoff,
// and exhausted or permanent failures are reported to an event sink and
// dropped rather than poisoning the pipeline.
package coordinator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/solstream-io/mongosink/buffer"
	"github.com/solstream-io/mongosink/document"
	"github.com/solstream-io/mongosink/metrics"
	"github.com/solstream-io/mongosink/pool"
	"github.com/solstream-io/mongosink/slots"
	"github.com/solstream-io/mongosink/store"
)

// Config bounds the write path.
type Config struct {
	// Parallelism is the maximum number of concurrent store writes.
	Parallelism int64
	// MaxAttempts bounds retries of a batch on transient failure.
	MaxAttempts int
}

// Validate returns an error if the Config is malformed.
func (c Config) Validate() error {
	if c.Parallelism <= 0 {
		return errors.New("coordinator config: Parallelism must be positive")
	} else if c.MaxAttempts <= 0 {
		return errors.New("coordinator config: MaxAttempts must be positive")
	}
	return nil
}

// Coordinator consumes batch intake queues and issues store writes.
type Coordinator struct {
	cfg     Config
	pool    *pool.Pool
	tracker *slots.Tracker
	sink    EventSink
	sem     *semaphore.Weighted
}

// New returns a Coordinator writing through |p|, tagging documents with
// levels from |tracker|, and reporting failures to |sink|.
func New(cfg Config, p *pool.Pool, tracker *slots.Tracker, sink EventSink) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = LogSink{}
	}
	return &Coordinator{
		cfg:     cfg,
		pool:    p,
		tracker: tracker,
		sink:    sink,
		sem:     semaphore.NewWeighted(cfg.Parallelism),
	}, nil
}

// Serve drains every Buffer of |set| until its intake closes, writing each
// batch as it arrives. One worker per collection preserves per-collection
// order; the shared semaphore bounds concurrent writes. Serve returns once
// all intakes have closed and drained.
func (c *Coordinator) Serve(ctx context.Context, set *buffer.Set) error {
	var g errgroup.Group

	for _, collection := range set.Collections() {
		var intake = set.Get(collection).Intake()
		g.Go(func() error {
			c.drain(ctx, intake)
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) drain(ctx context.Context, intake <-chan buffer.Batch) {
	for batch := range intake {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.fail(batch, err, true) // Shutdown grace expired.
			continue
		}
		c.writeBatch(ctx, batch)
		c.sem.Release(1)
	}
}

// writeBatch issues one store write for |batch|, retrying transient
// failures with backoff up to MaxAttempts.
func (c *Coordinator) writeBatch(ctx context.Context, batch buffer.Batch) {
	var mode = ModeOf(batch.Collection)
	var writes = make([]store.Write, len(batch.Docs))
	for i, d := range batch.Docs {
		// The persisted level reflects the slot's state now, not at
		// notification time: a slot often confirms between buffering
		// and write.
		d.Body.SetLevel(c.tracker.LevelOf(d.Slot))
		writes[i] = store.Write{ID: d.ID, Doc: d.Body}
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			c.fail(batch, errors.Wrap(ctx.Err(), "abandoned at shutdown"), true)
			return
		}
		var conn, err = c.pool.Acquire(ctx)
		if err == pool.ErrClosed {
			c.fail(batch, err, true)
			return
		} else if err != nil {
			if !c.retry(batch, attempt, err) {
				return
			}
			continue
		}

		var started = time.Now()
		err = conn.WriteBulk(ctx, string(batch.Collection), mode, writes)
		metrics.WriteDurationTotal.Add(time.Since(started).Seconds())

		if err == nil {
			c.pool.Release(conn, true)
			metrics.DocumentsWrittenTotal.
				WithLabelValues(string(batch.Collection)).
				Add(float64(len(batch.Docs)))
			return
		}
		// Any I/O error poisons the connection.
		c.pool.Release(conn, false)

		if store.IsPermanent(err) {
			c.fail(batch, err, false)
			return
		}
		if !c.retry(batch, attempt, err) {
			return
		}
	}
}

// retry logs and sleeps before the next attempt, or fails the batch if
// attempts are exhausted. It returns whether the caller should retry.
func (c *Coordinator) retry(batch buffer.Batch, attempt int, err error) bool {
	if attempt+1 >= c.cfg.MaxAttempts {
		c.fail(batch, errors.Wrapf(err, "after %d attempts", attempt+1), true)
		return false
	}
	metrics.WriteRetriesTotal.WithLabelValues(string(batch.Collection)).Inc()
	log.WithFields(log.Fields{
		"collection": batch.Collection,
		"docs":       len(batch.Docs),
		"attempt":    attempt,
		"err":        err,
	}).Warn("batch write failed (will retry)")

	time.Sleep(backoff(attempt))
	return true
}

// fail reports a dropped batch to the event sink.
func (c *Coordinator) fail(batch buffer.Batch, err error, retryable bool) {
	var class = metrics.Permanent
	if retryable {
		class = metrics.Transient
	}
	metrics.WriteFailuresTotal.
		WithLabelValues(string(batch.Collection), class).Inc()

	c.sink.Report(NewWriteFailure(batch, err, retryable))
}

// ModeOf maps a collection to its write semantics: current-state
// collections upsert by key, ledger collections insert once by identifier,
// and history collections append.
func ModeOf(collection document.Collection) store.Mode {
	switch collection {
	case document.Accounts, document.Slots:
		return store.Upsert
	case document.Transactions, document.Blocks:
		return store.InsertUnique
	default:
		// account_audit and the token secondary indexes.
		return store.Append
	}
}

func backoff(attempt int) time.Duration {
	switch attempt {
	case 0, 1:
		return time.Millisecond * 50
	case 2, 3:
		return time.Millisecond * 100
	case 4, 5:
		return time.Second
	default:
		return 5 * time.Second
	}
}
