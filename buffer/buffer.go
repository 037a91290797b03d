// Package buffer accumulates transformed documents into per-collection
// batches and hands full or aged batches to the write coordinator through a
// bounded intake queue. The append path is the host notification path: it
// never blocks on I/O or queue capacity. Under sustained overload the
// oldest queued batch is shed, with an explicit error count, rather than
// stalling the host.
package buffer

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/solstream-io/mongosink/document"
	"github.com/solstream-io/mongosink/metrics"
)

// Batch is an ordered run of documents destined for one collection.
// Ownership transfers to the consumer when the Batch is read from Intake.
type Batch struct {
	Collection document.Collection
	Docs       []document.Document
	// Bytes is the approximate payload size of the batch.
	Bytes int
	// StartedAt is when the first document was appended.
	StartedAt time.Time
}

// Config bounds batch accumulation.
type Config struct {
	// MaxCount is the item count at which a batch flushes, and the hard
	// cap on batch size under any condition.
	MaxCount int
	// MaxAge bounds the staleness of a non-empty batch: an age-based
	// flush fires even if MaxCount is never reached.
	MaxAge time.Duration
	// IntakeDepth is the capacity of each collection's intake queue.
	IntakeDepth int
}

// Validate returns an error if the Config is malformed.
func (c Config) Validate() error {
	if c.MaxCount <= 0 {
		return errConfig("MaxCount must be positive")
	} else if c.MaxAge <= 0 {
		return errConfig("MaxAge must be positive")
	} else if c.IntakeDepth <= 0 {
		return errConfig("IntakeDepth must be positive")
	}
	return nil
}

type errConfig string

func (e errConfig) Error() string { return "buffer config: " + string(e) }

// Buffer accumulates documents of a single collection.
type Buffer struct {
	collection document.Collection
	cfg        Config
	onShed     func(Batch)

	mu      sync.Mutex
	cur     Batch
	stopped bool
	intake  chan Batch
}

func newBuffer(collection document.Collection, cfg Config, onShed func(Batch)) *Buffer {
	return &Buffer{
		collection: collection,
		cfg:        cfg,
		onShed:     onShed,
		intake:     make(chan Batch, cfg.IntakeDepth),
	}
}

// Intake is the queue of flushed batches, consumed by the write
// coordinator. It closes after the Buffer is stopped and drained.
func (b *Buffer) Intake() <-chan Batch { return b.intake }

// Append adds a document to the current batch, flushing if the batch
// reaches its size threshold. Append never blocks.
func (b *Buffer) Append(doc document.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		metrics.RecordsDroppedTotal.
			WithLabelValues(string(b.collection), metrics.ReasonShed).Inc()
		return
	}
	if len(b.cur.Docs) == 0 {
		b.cur.Collection = b.collection
		b.cur.StartedAt = time.Now()
	}
	b.cur.Docs = append(b.cur.Docs, doc)
	b.cur.Bytes += doc.Size

	if len(b.cur.Docs) >= b.cfg.MaxCount {
		b.flushLocked("size")
	}
}

// flushLocked swaps out the current batch and enqueues it. If the intake
// queue is full, the oldest queued batch is shed to make room.
func (b *Buffer) flushLocked(cause string) {
	if len(b.cur.Docs) == 0 {
		return
	}
	var batch = b.cur
	b.cur = Batch{}

	metrics.BatchesFlushedTotal.WithLabelValues(string(b.collection), cause).Inc()
	log.WithFields(log.Fields{
		"collection": b.collection,
		"docs":       len(batch.Docs),
		"bytes":      humanize.IBytes(uint64(batch.Bytes)),
		"cause":      cause,
	}).Debug("flushing batch")

	for {
		select {
		case b.intake <- batch:
			return
		default:
			// Pass.
		}
		select {
		case old := <-b.intake:
			b.shed(old)
		default:
			// A concurrent consumer drained the queue; retry the send.
		}
	}
}

func (b *Buffer) shed(batch Batch) {
	metrics.BatchesShedTotal.WithLabelValues(string(b.collection)).Inc()
	log.WithFields(log.Fields{
		"collection": b.collection,
		"docs":       len(batch.Docs),
	}).Warn("write coordinator is not keeping up; shedding oldest batch")

	if b.onShed != nil {
		b.onShed(batch)
	}
}

// flushIfAged flushes the current batch if it is older than MaxAge.
func (b *Buffer) flushIfAged(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.cur.Docs) != 0 && now.Sub(b.cur.StartedAt) >= b.cfg.MaxAge {
		b.flushLocked("age")
	}
}

// flushNow flushes any current content immediately.
func (b *Buffer) flushNow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked("force")
}

// stop final-flushes the Buffer and closes its intake. Later Appends are
// dropped and counted.
func (b *Buffer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.flushLocked("drain")
	b.stopped = true
	close(b.intake)
}
