// Package sink assembles the full pipeline behind the host's notification
// interface: selector evaluation and document transformation run inline on
// the host's threads, while batching, pooled store writes, slot tracking,
// and retention run on the pipeline's own goroutines. Notification
// callbacks never block on store I/O.
package sink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/solstream-io/mongosink/buffer"
	"github.com/solstream-io/mongosink/coordinator"
	"github.com/solstream-io/mongosink/document"
	"github.com/solstream-io/mongosink/geyser"
	"github.com/solstream-io/mongosink/metrics"
	"github.com/solstream-io/mongosink/pool"
	"github.com/solstream-io/mongosink/selector"
	"github.com/solstream-io/mongosink/slots"
	"github.com/solstream-io/mongosink/store"
	"github.com/solstream-io/mongosink/sweeper"
)

// Args configure a Sink.
type Args struct {
	// Accounts selects account updates to persist. Required.
	Accounts *selector.AccountsSelector
	// Transactions selects transactions to persist. If nil, no
	// transactions are ever persisted.
	Transactions *selector.TransactionSelector
	// Dialer opens store connections.
	Dialer store.Dialer
	// Events consumes failure events. Defaults to a log sink.
	Events coordinator.EventSink

	Buffer      buffer.Config
	Pool        pool.Config
	Coordinator coordinator.Config
	Retention   sweeper.Config

	// StoreAccountHistoricalData appends each applied account version to
	// the account_audit collection.
	StoreAccountHistoricalData bool
	// IndexTokenOwner and IndexTokenMint maintain secondary indexes of
	// token accounts by owner and mint.
	IndexTokenOwner bool
	IndexTokenMint  bool

	// SlotCapacity bounds tracked slot states.
	SlotCapacity int
	// ShutdownGrace bounds how long in-flight writes may drain after
	// intake stops; writes still pending past it are abandoned and
	// reported.
	ShutdownGrace time.Duration
}

// Sink is the pipeline facade. Its On* methods implement the host's four
// notification callbacks.
type Sink struct {
	accounts *selector.AccountsSelector
	txns     *selector.TransactionSelector
	events   coordinator.EventSink

	buffers *buffer.Set
	tracker *slots.Tracker
	pool    *pool.Pool
	coord   *coordinator.Coordinator
	sweep   *sweeper.Sweeper

	audit    bool
	idxOwner bool
	idxMint  bool
	grace    time.Duration

	stopped atomic.Bool
}

// New assembles a Sink from Args.
func New(args Args) (*Sink, error) {
	if args.Accounts == nil {
		return nil, errors.New("an accounts selector is required")
	} else if args.Dialer == nil {
		return nil, errors.New("a store dialer is required")
	}
	if args.Events == nil {
		args.Events = coordinator.LogSink{}
	}
	if args.SlotCapacity <= 0 {
		args.SlotCapacity = 1 << 17
	}
	if args.ShutdownGrace <= 0 {
		args.ShutdownGrace = time.Second * 10
	}

	var s = &Sink{
		accounts: args.Accounts,
		txns:     args.Transactions,
		events:   args.Events,
		tracker:  slots.NewTracker(args.SlotCapacity),
		audit:    args.StoreAccountHistoricalData,
		idxOwner: args.IndexTokenOwner,
		idxMint:  args.IndexTokenMint,
		grace:    args.ShutdownGrace,
	}

	var collections = []document.Collection{
		document.Accounts, document.Transactions, document.Blocks, document.Slots,
	}
	if s.audit {
		collections = append(collections, document.AccountAudit)
	}
	if s.idxOwner {
		collections = append(collections, document.TokenOwnerIndex)
	}
	if s.idxMint {
		collections = append(collections, document.TokenMintIndex)
	}

	var err error
	if s.buffers, err = buffer.NewSet(args.Buffer, func(b buffer.Batch) {
		s.events.Report(coordinator.NewShed(b))
	}, collections...); err != nil {
		return nil, err
	}
	if s.pool, err = pool.New(args.Dialer, args.Pool); err != nil {
		return nil, err
	}
	if s.coord, err = coordinator.New(args.Coordinator, s.pool, s.tracker, s.events); err != nil {
		return nil, err
	}
	if s.sweep, err = sweeper.New(args.Retention, s.pool, s.tracker, collections); err != nil {
		return nil, err
	}
	return s, nil
}

// Tracker exposes slot state, for host status queries.
func (s *Sink) Tracker() *slots.Tracker { return s.tracker }

// OnAccountUpdate implements the account-update callback.
func (s *Sink) OnAccountUpdate(u *geyser.AccountUpdate) {
	if s.stopped.Load() {
		return
	}
	if !s.accounts.Select(u.Pubkey, u.Owner) {
		metrics.RecordsDroppedTotal.
			WithLabelValues("account", metrics.ReasonSelector).Inc()
		return
	}
	var doc, err = document.FromAccountUpdate(u)
	if err != nil {
		s.dropMalformed("account", err)
		return
	}
	metrics.RecordsSelectedTotal.WithLabelValues("account").Inc()

	s.buffers.Append(doc)
	if s.audit {
		s.buffers.Append(document.AuditOf(doc))
	}
	for _, d := range document.TokenIndexesOf(u, s.idxOwner, s.idxMint) {
		s.buffers.Append(d)
	}
}

// OnTransaction implements the transaction callback.
func (s *Sink) OnTransaction(u *geyser.TransactionUpdate) {
	if s.stopped.Load() {
		return
	}
	if !s.txns.Select(u.IsVote, u.AccountKeys) {
		metrics.RecordsDroppedTotal.
			WithLabelValues("transaction", metrics.ReasonSelector).Inc()
		return
	}
	var doc, err = document.FromTransactionUpdate(u)
	if err != nil {
		s.dropMalformed("transaction", err)
		return
	}
	metrics.RecordsSelectedTotal.WithLabelValues("transaction").Inc()
	s.buffers.Append(doc)
}

// OnBlockMeta implements the block-metadata callback. Blocks are always
// accepted; no selector applies.
func (s *Sink) OnBlockMeta(u *geyser.BlockMeta) {
	if s.stopped.Load() {
		return
	}
	var doc, err = document.FromBlockMeta(u)
	if err != nil {
		s.dropMalformed("block", err)
		return
	}
	metrics.RecordsSelectedTotal.WithLabelValues("block").Inc()
	s.buffers.Append(doc)
}

// OnSlotStatus implements the slot-status callback. The tracker is
// advanced first; the persisted document carries the tracker's resulting
// level, so a stale or regressed notification can never roll back the
// stored status.
func (s *Sink) OnSlotStatus(u *geyser.SlotStatusUpdate) {
	if s.stopped.Load() {
		return
	}
	s.tracker.Advance(u.Slot, u.Parent, u.Status)

	var settled = *u
	settled.Status = s.tracker.LevelOf(u.Slot)

	var doc, err = document.FromSlotStatus(&settled)
	if err != nil {
		s.dropMalformed("slot", err)
		return
	}
	metrics.RecordsSelectedTotal.WithLabelValues("slot").Inc()
	s.buffers.Append(doc)
}

// EndOfStartup signals that the host finished streaming its snapshot:
// accounts buffered during the startup phase are force-flushed so the
// store converges promptly on restored state.
func (s *Sink) EndOfStartup() {
	log.Info("host signaled end of startup; flushing account buffers")
	var flush = []document.Collection{document.Accounts}
	if s.audit {
		flush = append(flush, document.AccountAudit)
	}
	if s.idxOwner {
		flush = append(flush, document.TokenOwnerIndex)
	}
	if s.idxMint {
		flush = append(flush, document.TokenMintIndex)
	}
	s.buffers.FlushNow(flush...)
}

func (s *Sink) dropMalformed(kind string, err error) {
	metrics.RecordsDroppedTotal.WithLabelValues(kind, metrics.ReasonTransform).Inc()
	log.WithFields(log.Fields{"kind": kind, "err": err}).
		Debug("dropping malformed record")
}

// Run operates the pipeline until |ctx| is done, then shuts down in
// order: notification intake stops, buffers final-flush and close, and
// in-flight writes drain within the shutdown grace period. Writes still
// pending past the grace are abandoned, reported, and logged. Run returns
// an error only on a fatal condition, such as never establishing the
// pool's minimum connection count.
func (s *Sink) Run(ctx context.Context) error {
	// Store writes continue past |ctx| cancellation, for up to the grace
	// period, under their own context.
	var writeCtx, cancelWrites = context.WithCancel(context.Background())
	defer cancelWrites()

	var coordDone = make(chan struct{})

	var g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pool.Serve(writeCtx)
	})
	g.Go(func() error {
		return s.buffers.Serve(gctx)
	})
	g.Go(func() error {
		return s.sweep.Serve(gctx)
	})
	g.Go(func() error {
		defer close(coordDone)
		defer cancelWrites()
		return s.coord.Serve(writeCtx, s.buffers)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.stopped.Store(true)

		select {
		case <-coordDone:
		case <-time.After(s.grace):
			log.WithField("grace", s.grace).
				Warn("shutdown grace expired; abandoning in-flight writes")
			cancelWrites()
		}
		return nil
	})
	return g.Wait()
}
