package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solstream-io/mongosink/document"
	"github.com/solstream-io/mongosink/pool"
	"github.com/solstream-io/mongosink/slots"
	"github.com/solstream-io/mongosink/store"
	"github.com/solstream-io/mongosink/store/storetest"
)

func newTestPool(t *testing.T, fake *storetest.Store) *pool.Pool {
	var p, err = pool.New(fake.Dialer(), pool.Config{
		Min:                1,
		Max:                1,
		AcquireTimeout:     time.Millisecond * 50,
		PingInterval:       time.Minute,
		PingTimeout:        time.Second,
		MaxStartupAttempts: 3,
	})
	require.NoError(t, err)
	return p
}

func seedAccounts(t *testing.T, fake *storetest.Store, slotNums ...uint64) {
	var conn, err = fake.Dialer().Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close(context.Background())

	for _, n := range slotNums {
		var id = string(rune('a' + n%26))
		require.NoError(t, conn.WriteBulk(context.Background(),
			string(document.Accounts), store.Upsert, []store.Write{{
				ID:  id + "-" + time.Now().String(),
				Doc: &document.Account{Slot: int64(n)},
			}}))
	}
}

func TestSweepRemovesFinalizedBeyondHorizon(t *testing.T) {
	var fake = storetest.New()
	var tracker = slots.NewTracker(1024)
	var s, err = New(Config{Interval: time.Hour, RetainSlots: 2},
		newTestPool(t, fake), tracker, []document.Collection{document.Accounts})
	require.NoError(t, err)

	seedAccounts(t, fake, 100, 102, 103)

	// Slot 100 is rooted, 102 is merely processed, and the chain has
	// rooted through 103.
	tracker.Advance(100, nil, slots.Rooted)
	tracker.Advance(102, nil, slots.Processed)
	tracker.Advance(103, nil, slots.Rooted)

	require.NoError(t, s.Sweep(context.Background()))

	var remaining = fake.Docs(string(document.Accounts))
	var bySlot = map[uint64]int{}
	for _, doc := range remaining {
		bySlot[doc.Slot]++
	}
	// Horizon is 103-2=101: slot 100 is swept. Slot 102 is older than
	// the horizon allows but not finalized, so it survives. Slot 103 is
	// rooted but inside the horizon.
	require.Zero(t, bySlot[100])
	require.Equal(t, 1, bySlot[102])
	require.Equal(t, 1, bySlot[103])

	// Swept slots are forgotten.
	require.Equal(t, slots.Unknown, tracker.LevelOf(100))
	require.Equal(t, slots.Processed, tracker.LevelOf(102))
}

func TestSweepRemovesForkedRegardlessOfHorizon(t *testing.T) {
	var fake = storetest.New()
	var tracker = slots.NewTracker(1024)
	var s, err = New(Config{Interval: time.Hour, RetainSlots: 100},
		newTestPool(t, fake), tracker, []document.Collection{document.Accounts})
	require.NoError(t, err)

	seedAccounts(t, fake, 200, 201)

	tracker.Advance(200, nil, slots.Rooted) // Inside the horizon.
	tracker.Advance(201, nil, slots.Forked)

	require.NoError(t, s.Sweep(context.Background()))

	var bySlot = map[uint64]int{}
	for _, doc := range fake.Docs(string(document.Accounts)) {
		bySlot[doc.Slot]++
	}
	require.Equal(t, 1, bySlot[200])
	require.Zero(t, bySlot[201])
}

func TestSweepIsNoopBeforeAnyRoot(t *testing.T) {
	var fake = storetest.New()
	var tracker = slots.NewTracker(1024)
	var s, err = New(Config{Interval: time.Hour, RetainSlots: 2},
		newTestPool(t, fake), tracker, []document.Collection{document.Accounts})
	require.NoError(t, err)

	seedAccounts(t, fake, 10)
	tracker.Advance(10, nil, slots.Processed)

	require.NoError(t, s.Sweep(context.Background()))
	require.Len(t, fake.Docs(string(document.Accounts)), 1)
}

func TestSweepFailureIsRetriedNextTime(t *testing.T) {
	var fake = storetest.New()
	var tracker = slots.NewTracker(1024)
	var s, err = New(Config{Interval: time.Hour, RetainSlots: 0},
		newTestPool(t, fake), tracker, []document.Collection{document.Accounts})
	require.NoError(t, err)

	seedAccounts(t, fake, 100)
	tracker.Advance(100, nil, slots.Rooted)

	// First sweep cannot acquire a connection: the only one is leased.
	var held, errAcq = s.pool.Acquire(context.Background())
	require.NoError(t, errAcq)
	require.Error(t, s.Sweep(context.Background()))

	// Slot state is retained for the next interval.
	require.Equal(t, slots.Rooted, tracker.LevelOf(100))

	s.pool.Release(held, true)
	require.NoError(t, s.Sweep(context.Background()))
	require.Empty(t, fake.Docs(string(document.Accounts)))
	require.Equal(t, slots.Unknown, tracker.LevelOf(100))
}
