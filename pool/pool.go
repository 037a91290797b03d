// Package pool maintains a bounded set of live store connections, leased
// one at a time to write-coordinator workers. The pool keeps between Min
// and Max connections: acquisitions beyond Max wait with a bounded timeout,
// unhealthy connections are discarded and replaced, and idle connections
// are periodically validated with a liveness ping.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/solstream-io/mongosink/metrics"
	"github.com/solstream-io/mongosink/store"
)

var (
	// ErrExhausted is returned by Acquire when every connection is leased
	// and none is released within the acquire timeout. It is retryable.
	ErrExhausted = errors.New("connection pool exhausted")
	// ErrClosed is returned by Acquire after the pool has shut down.
	ErrClosed = errors.New("connection pool closed")
)

// Config bounds the pool.
type Config struct {
	// Min connections held open; the pool replaces discarded connections
	// to stay at or above Min.
	Min int
	// Max connections which may be live at once.
	Max int
	// AcquireTimeout bounds how long Acquire waits when at Max.
	AcquireTimeout time.Duration
	// PingInterval between idle-connection validation passes.
	PingInterval time.Duration
	// PingTimeout bounds each validation ping.
	PingTimeout time.Duration
	// MaxStartupAttempts bounds dialing retries while the pool has never
	// held a single live connection. Exceeding it is fatal: a pipeline
	// which can never reach the store must fail loud, not buffer forever.
	MaxStartupAttempts int
}

// Validate returns an error if the Config is malformed.
func (c Config) Validate() error {
	if c.Min <= 0 || c.Max < c.Min {
		return errors.Errorf("invalid pool bounds min=%d max=%d", c.Min, c.Max)
	} else if c.AcquireTimeout <= 0 {
		return errors.New("AcquireTimeout must be positive")
	} else if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		return errors.New("PingInterval and PingTimeout must be positive")
	} else if c.MaxStartupAttempts <= 0 {
		return errors.New("MaxStartupAttempts must be positive")
	}
	return nil
}

// Pool is a bounded set of store connections.
type Pool struct {
	dialer store.Dialer
	cfg    Config

	mu     sync.Mutex
	total  int
	closed bool
	ever   bool // A connection was established at least once.

	idle chan store.Conn
	kick chan struct{} // Nudges Serve to replace discarded connections.
}

// New returns a Pool over |dialer|. Connections are established by Serve.
func New(dialer store.Dialer, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		dialer: dialer,
		cfg:    cfg,
		idle:   make(chan store.Conn, cfg.Max),
		kick:   make(chan struct{}, 1),
	}, nil
}

// Acquire leases a connection: an idle one if available, a newly dialed
// one if below Max, and otherwise it waits up to AcquireTimeout for a
// release before failing with ErrExhausted.
func (p *Pool) Acquire(ctx context.Context) (store.Conn, error) {
	select {
	case conn := <-p.idle:
		p.syncGauges()
		return conn, nil
	default:
		// Pass.
	}

	if p.isClosed() {
		return nil, ErrClosed
	}
	if p.reserve() {
		var conn, err = p.dialer.Dial(ctx)
		if err != nil {
			p.unreserve()
			return nil, errors.Wrap(err, "dialing store")
		}
		p.markConnected()
		p.syncGauges()
		return conn, nil
	}

	var timer = time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case conn := <-p.idle:
		p.syncGauges()
		return conn, nil
	case <-timer.C:
		metrics.PoolExhaustedTotal.Inc()
		return nil, ErrExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a leased connection. A healthy connection joins the idle
// set; an unhealthy one is closed, and Serve replaces it if the pool fell
// below Min.
func (p *Pool) Release(conn store.Conn, healthy bool) {
	if healthy {
		select {
		case p.idle <- conn:
			p.syncGauges()
			return
		default:
			// Cannot occur while accounting holds: capacity equals Max.
			// Close rather than leak if it somehow does.
		}
	}
	p.discard(conn)

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Serve establishes the minimum connection count, then maintains the pool
// until |ctx| is done: idle connections are validated each PingInterval
// and discarded ones are replaced. Serve returns an error only if the pool
// has never established a single connection within MaxStartupAttempts,
// which the caller should treat as fatal.
func (p *Pool) Serve(ctx context.Context) error {
	var ticker = time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	if err := p.ensureMin(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ticker.C:
			p.validateIdle(ctx)
			if err := p.ensureMin(ctx); err != nil {
				return err
			}
		case <-p.kick:
			if err := p.ensureMin(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			p.closeAll()
			return nil
		}
	}
}

// ensureMin dials until the pool holds Min connections. Dial failures are
// logged and retried with backoff; they are fatal only if the pool has
// never connected and MaxStartupAttempts is exhausted.
func (p *Pool) ensureMin(ctx context.Context) error {
	for attempt := 0; p.liveCount() < p.cfg.Min; {
		if ctx.Err() != nil {
			return nil // Shutting down; Serve observes ctx.Done.
		}
		if !p.reserve() {
			return nil // Raced to Max by Acquire.
		}
		var conn, err = p.dialer.Dial(ctx)
		if err == nil {
			p.markConnected()
			select {
			case p.idle <- conn:
			default:
				p.discard(conn)
			}
			p.syncGauges()
			attempt = 0
			continue
		}
		p.unreserve()
		attempt++

		if !p.everConnected() && attempt >= p.cfg.MaxStartupAttempts {
			return errors.Wrapf(err,
				"failed to establish a store connection in %d attempts", attempt)
		}
		log.WithFields(log.Fields{"err": err, "attempt": attempt}).
			Warn("failed to dial store (will retry)")

		select {
		case <-time.After(backoff(attempt - 1)):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// validateIdle pings each currently idle connection, discarding those
// which fail.
func (p *Pool) validateIdle(ctx context.Context) {
	var conns []store.Conn
	for {
		select {
		case conn := <-p.idle:
			conns = append(conns, conn)
			continue
		default:
		}
		break
	}
	for _, conn := range conns {
		var pingCtx, cancel = context.WithTimeout(ctx, p.cfg.PingTimeout)
		var err = conn.Ping(pingCtx)
		cancel()

		if err != nil {
			log.WithField("err", err).Warn("discarding unhealthy idle connection")
			p.discard(conn)
			continue
		}
		select {
		case p.idle <- conn:
		default:
			p.discard(conn)
		}
	}
	p.syncGauges()
}

func (p *Pool) closeAll() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			p.discard(conn)
		default:
			p.syncGauges()
			return
		}
	}
}

func (p *Pool) discard(conn store.Conn) {
	var ctx, cancel = context.WithTimeout(context.Background(), p.cfg.PingTimeout)
	defer cancel()

	if err := conn.Close(ctx); err != nil {
		log.WithField("err", err).Warn("failed to close store connection")
	}
	p.unreserve()
}

func (p *Pool) reserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.total >= p.cfg.Max {
		return false
	}
	p.total++
	return true
}

func (p *Pool) markConnected() {
	p.mu.Lock()
	p.ever = true
	p.mu.Unlock()
}

func (p *Pool) unreserve() {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.syncGauges()
}

func (p *Pool) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) everConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ever
}

func (p *Pool) syncGauges() {
	metrics.PoolConnsIdle.Set(float64(len(p.idle)))
	metrics.PoolConnsTotal.Set(float64(p.liveCount()))
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
