package sink

import (
	"context"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/solstream-io/mongosink/buffer"
	"github.com/solstream-io/mongosink/coordinator"
	"github.com/solstream-io/mongosink/document"
	"github.com/solstream-io/mongosink/geyser"
	"github.com/solstream-io/mongosink/pool"
	"github.com/solstream-io/mongosink/selector"
	"github.com/solstream-io/mongosink/slots"
	"github.com/solstream-io/mongosink/store/storetest"
	"github.com/solstream-io/mongosink/sweeper"
)

var (
	pubkeyX = fill(32, 1)
	ownerY  = fill(32, 2)
	otherZ  = fill(32, 3)
	sigOne  = fill(64, 4)
)

func fill(n int, b byte) []byte {
	var out = make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

type harness struct {
	fake   *storetest.Store
	sink   *Sink
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, mutate func(*Args)) *harness {
	var h = &harness{fake: storetest.New(), done: make(chan error, 1)}

	var accts, err = selector.NewAccountsSelector(
		[]string{base58.Encode(pubkeyX)}, nil)
	require.NoError(t, err)

	var args = Args{
		Accounts: accts,
		Dialer:   h.fake.Dialer(),
		Buffer: buffer.Config{
			MaxCount: 2, MaxAge: time.Millisecond * 20, IntakeDepth: 8,
		},
		Pool: pool.Config{
			Min: 1, Max: 2,
			AcquireTimeout:     time.Millisecond * 100,
			PingInterval:       time.Minute,
			PingTimeout:        time.Second,
			MaxStartupAttempts: 3,
		},
		Coordinator: coordinator.Config{Parallelism: 4, MaxAttempts: 3},
		Retention:   sweeper.Config{Interval: time.Hour, RetainSlots: 2},

		StoreAccountHistoricalData: true,
		ShutdownGrace:              time.Second * 5,
	}
	if mutate != nil {
		mutate(&args)
	}
	h.sink, err = New(args)
	require.NoError(t, err)

	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	go func() { h.done <- h.sink.Run(ctx) }()
	return h
}

func (h *harness) stop(t *testing.T) {
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not shut down")
	}
}

func accountUpdate(pubkey []byte, slot uint64, writeVersion uint64) *geyser.AccountUpdate {
	return &geyser.AccountUpdate{
		Pubkey:       pubkey,
		Owner:        ownerY,
		Lamports:     1000,
		Data:         []byte("data"),
		WriteVersion: writeVersion,
		Slot:         slot,
		ReceivedAt:   time.Now(),
	}
}

func TestEndToEndAccountScenario(t *testing.T) {
	var h = start(t, nil)

	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Processed})
	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 1))
	h.sink.OnAccountUpdate(accountUpdate(otherZ, 100, 1)) // Not selected.
	h.stop(t)

	// One accounts upsert tagged slot=100, level=processed.
	var key = base58.Encode(pubkeyX)
	var doc, ok = h.fake.Get(string(document.Accounts), key)
	require.True(t, ok)

	var body = doc.Body.(*document.Account)
	require.Equal(t, int64(100), body.Slot)
	require.Equal(t, "processed", body.Level)

	// Exactly one audit insert, and nothing for the unselected account.
	require.Len(t, h.fake.Docs(string(document.AccountAudit)), 1)
	require.Equal(t, 1, h.fake.Count(string(document.Accounts)))
}

func TestRepeatedUpdatesConvergeWithAuditTrail(t *testing.T) {
	var h = start(t, nil)

	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 1))
	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 1)) // Replay.
	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 101, 2))
	h.stop(t)

	// Current state converges to one row at the latest version; each
	// application appended its own audit row.
	require.Equal(t, 1, h.fake.Count(string(document.Accounts)))

	var doc, _ = h.fake.Get(string(document.Accounts), base58.Encode(pubkeyX))
	require.Equal(t, int64(2), doc.Body.(*document.Account).WriteVersion)
	require.Len(t, h.fake.Docs(string(document.AccountAudit)), 3)
}

func TestTransactionsRequireASelector(t *testing.T) {
	var txn = &geyser.TransactionUpdate{
		Signature:    sigOne,
		Slot:         100,
		AccountKeys:  [][]byte{pubkeyX},
		PreBalances:  []uint64{5000},
		PostBalances: []uint64{4000},
		ReceivedAt:   time.Now(),
	}

	// Without a transaction selector nothing is stored.
	var h = start(t, nil)
	h.sink.OnTransaction(txn)
	h.stop(t)
	require.Zero(t, h.fake.Count(string(document.Transactions)))

	// With a mentions selector the same transaction is stored once,
	// even if notified twice.
	h = start(t, func(args *Args) {
		var sel, err = selector.NewTransactionSelector(
			[]string{base58.Encode(pubkeyX)})
		require.NoError(t, err)
		args.Transactions = sel
	})
	h.sink.OnTransaction(txn)
	h.sink.OnTransaction(txn)
	h.stop(t)

	require.Equal(t, 1, h.fake.Count(string(document.Transactions)))
}

func TestBlocksAndSlotsAlwaysAccepted(t *testing.T) {
	var h = start(t, nil)

	h.sink.OnBlockMeta(&geyser.BlockMeta{
		Slot: 100, Blockhash: "9mHk", ReceivedAt: time.Now(),
	})
	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Processed})
	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Confirmed})
	h.stop(t)

	require.Equal(t, 1, h.fake.Count(string(document.Blocks)))

	var doc, ok = h.fake.Get(string(document.Slots), "100")
	require.True(t, ok)
	require.Equal(t, "confirmed", doc.Body.(*document.Slot).Status)
}

func TestStaleSlotStatusCannotRegress(t *testing.T) {
	var h = start(t, nil)

	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Confirmed})
	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Processed})
	h.stop(t)

	// The late Processed notice upserts the settled (Confirmed) status.
	var doc, ok = h.fake.Get(string(document.Slots), "100")
	require.True(t, ok)
	require.Equal(t, "confirmed", doc.Body.(*document.Slot).Status)
	require.Equal(t, slots.Confirmed, h.sink.Tracker().LevelOf(100))
}

func TestRetentionSweepScenario(t *testing.T) {
	var h = start(t, nil)

	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 1))
	// Wait out the age flush so the documents are written before rooting.
	require.Eventually(t, func() bool {
		return h.fake.Count(string(document.Accounts)) == 1 &&
			len(h.fake.Docs(string(document.AccountAudit))) == 1
	}, time.Second, time.Millisecond)

	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Rooted})
	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 102, Status: slots.Processed})
	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 103, Status: slots.Rooted})

	// Horizon is two slots behind the highest root: 103-2=101.
	require.NoError(t, h.sink.sweep.Sweep(context.Background()))

	require.Zero(t, h.fake.Count(string(document.Accounts)))
	require.Zero(t, len(h.fake.Docs(string(document.AccountAudit))))

	h.stop(t)

	// The Processed slot 102's own status document survives the sweep.
	var _, ok = h.fake.Get(string(document.Slots), "102")
	require.True(t, ok)
}

func TestMalformedRecordsAreDroppedNotFatal(t *testing.T) {
	var h = start(t, func(args *Args) {
		var sel, err = selector.NewAccountsSelector([]string{selector.Wildcard}, nil)
		require.NoError(t, err)
		args.Accounts = sel
	})

	var bad = accountUpdate(pubkeyX[:16], 100, 1) // Truncated pubkey.
	h.sink.OnAccountUpdate(bad)
	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 2))
	h.stop(t)

	require.Equal(t, 1, h.fake.Count(string(document.Accounts)))
}

func TestShutdownDrainsBufferedDocuments(t *testing.T) {
	var h = start(t, func(args *Args) {
		// Large thresholds: nothing flushes until shutdown drain.
		args.Buffer = buffer.Config{
			MaxCount: 1000, MaxAge: time.Hour, IntakeDepth: 8,
		}
	})

	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 1))
	h.stop(t)

	// The buffered document was final-flushed and written during the
	// grace period.
	require.Equal(t, 1, h.fake.Count(string(document.Accounts)))
}

func TestCallbacksAfterShutdownAreIgnored(t *testing.T) {
	var h = start(t, nil)
	h.stop(t)

	h.sink.OnAccountUpdate(accountUpdate(pubkeyX, 100, 1))
	h.sink.OnSlotStatus(&geyser.SlotStatusUpdate{Slot: 100, Status: slots.Processed})
	require.Zero(t, h.fake.Count(string(document.Accounts)))
}
