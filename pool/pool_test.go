package pool

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/solstream-io/mongosink/store/storetest"
)

func testConfig() Config {
	return Config{
		Min:                1,
		Max:                2,
		AcquireTimeout:     time.Millisecond * 50,
		PingInterval:       time.Millisecond * 20,
		PingTimeout:        time.Millisecond * 20,
		MaxStartupAttempts: 3,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	var cfg = testConfig()
	cfg.Min = 0
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Max = 0
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.AcquireTimeout = 0
	require.Error(t, cfg.Validate())
}

func TestAcquireDialsUpToMax(t *testing.T) {
	var fake = storetest.New()
	var p, err = New(fake.Dialer(), testConfig())
	require.NoError(t, err)

	var ctx = context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, fake.Live())

	// At Max with no idle connection, Acquire times out.
	var _, errEx = p.Acquire(ctx)
	require.Equal(t, ErrExhausted, errEx)

	// A release un-blocks the next acquire without a new dial.
	p.Release(c1, true)
	var dials = fake.Dials()

	c3, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, dials, fake.Dials())

	p.Release(c2, true)
	p.Release(c3, true)
}

func TestUnhealthyReleaseDiscardsAndReplaces(t *testing.T) {
	var fake = storetest.New()
	var p, err = New(fake.Dialer(), testConfig())
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	// Serve establishes Min connections.
	require.Eventually(t, func() bool { return fake.Live() >= 1 },
		time.Second, time.Millisecond)

	var conn, errAcq = p.Acquire(ctx)
	require.NoError(t, errAcq)

	p.Release(conn, false)

	// The connection was closed and a replacement restores Min.
	require.Eventually(t, func() bool { return fake.Live() >= 1 },
		time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, 0, fake.Live())
}

func TestValidationReplacesDeadIdleConns(t *testing.T) {
	var fake = storetest.New()
	var p, err = New(fake.Dialer(), testConfig())
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	var done = make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	require.Eventually(t, func() bool { return fake.Live() >= 1 },
		time.Second, time.Millisecond)
	var before = fake.Dials()

	// Fail pings; validation discards and re-dials.
	fake.SetPingErr(errors.New("broken pipe"))
	require.Eventually(t, func() bool { return fake.Dials() > before },
		time.Second, time.Millisecond)

	fake.SetPingErr(nil)
	cancel()
	require.NoError(t, <-done)
}

func TestStartupFailureIsFatal(t *testing.T) {
	var fake = storetest.New()
	var dialErr = errors.New("store unreachable")
	fake.FailDials(dialErr, dialErr, dialErr, dialErr)

	var p, err = New(fake.Dialer(), testConfig())
	require.NoError(t, err)

	var servErr = p.Serve(context.Background())
	require.Error(t, servErr)
	require.Equal(t, dialErr, errors.Cause(servErr))
}

func TestDialFailureAfterStartupIsRetried(t *testing.T) {
	var fake = storetest.New()
	var p, err = New(fake.Dialer(), testConfig())
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	require.Eventually(t, func() bool { return fake.Live() >= 1 },
		time.Second, time.Millisecond)

	// A post-startup outage is not fatal: the next dials fail but Serve
	// keeps retrying.
	fake.FailDials(errors.New("transient"), errors.New("transient"))

	var conn, errAcq = p.Acquire(ctx)
	require.NoError(t, errAcq)
	p.Release(conn, false)

	require.Eventually(t, func() bool { return fake.Live() >= 1 },
		time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestAcquireAfterCloseFails(t *testing.T) {
	var fake = storetest.New()
	var p, err = New(fake.Dialer(), testConfig())
	require.NoError(t, err)

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()
	cancel()
	require.NoError(t, <-done)

	var _, errAcq = p.Acquire(context.Background())
	require.Equal(t, ErrClosed, errAcq)
}
