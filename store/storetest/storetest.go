// Package storetest provides an in-memory store fake with failure
// injection, used by pool, coordinator, sweeper, and end-to-end tests.
package storetest

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/solstream-io/mongosink/store"
)

// Stored is one document held by the fake.
type Stored struct {
	ID   string
	Slot uint64
	Body interface{}
}

// Call records one WriteBulk invocation.
type Call struct {
	Collection string
	Mode       store.Mode
	IDs        []string
}

// Store is an in-memory document store.
type Store struct {
	mu sync.Mutex

	keyed    map[string]map[string]*Stored // Collection => ID => doc.
	order    map[string][]*Stored          // Collection => docs in applied order.
	calls    []Call
	dials    int
	live     int
	pingErr  error
	dialErrs []error
	nextErrs []error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		keyed: make(map[string]map[string]*Stored),
		order: make(map[string][]*Stored),
	}
}

// Dialer returns a store.Dialer over the Store.
func (s *Store) Dialer() store.Dialer { return dialer{s} }

// FailDials queues |errs| to be returned by the next dial attempts.
func (s *Store) FailDials(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErrs = append(s.dialErrs, errs...)
}

// FailWrites queues |errs| to be returned by the next WriteBulk calls.
func (s *Store) FailWrites(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErrs = append(s.nextErrs, errs...)
}

// SetPingErr makes every Ping fail with |err| until cleared.
func (s *Store) SetPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Dials returns the number of dial attempts.
func (s *Store) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Live returns the number of open connections.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Calls returns all recorded WriteBulk invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Get returns the keyed document |id| of |collection|.
func (s *Store) Get(collection, id string) (*Stored, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc, ok = s.keyed[collection][id]
	return doc, ok
}

// Docs returns all documents of |collection| in applied order.
func (s *Store) Docs(collection string) []*Stored {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stored(nil), s.order[collection]...)
}

// Count returns the number of logical rows in |collection|: keyed
// documents count once regardless of how many times they were written.
func (s *Store) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keyed[collection]) != 0 {
		return len(s.keyed[collection])
	}
	return len(s.order[collection])
}

type dialer struct{ s *Store }

func (d dialer) Dial(ctx context.Context) (store.Conn, error) {
	var s = d.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials++
	if len(s.dialErrs) != 0 {
		var err = s.dialErrs[0]
		s.dialErrs = s.dialErrs[1:]
		return nil, err
	}
	s.live++
	return &Conn{s: s}, nil
}

// Conn is a fake store connection.
type Conn struct {
	s      *Store
	closed bool
}

// Ping implements store.Conn.
func (c *Conn) Ping(ctx context.Context) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if c.closed {
		return errors.New("ping of closed connection")
	}
	return c.s.pingErr
}

// WriteBulk implements store.Conn.
func (c *Conn) WriteBulk(ctx context.Context, collection string, mode store.Mode, writes []store.Write) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if c.closed {
		return errors.New("write on closed connection")
	}
	var ids = make([]string, len(writes))
	for i, w := range writes {
		ids[i] = w.ID
	}
	c.s.calls = append(c.s.calls, Call{Collection: collection, Mode: mode, IDs: ids})

	if len(c.s.nextErrs) != 0 {
		var err = c.s.nextErrs[0]
		c.s.nextErrs = c.s.nextErrs[1:]
		if err != nil {
			return err
		}
	}

	for _, w := range writes {
		var doc = &Stored{ID: w.ID, Slot: slotOf(w.Doc), Body: w.Doc}

		switch mode {
		case store.Upsert:
			if c.s.keyed[collection] == nil {
				c.s.keyed[collection] = make(map[string]*Stored)
			}
			if prior, ok := c.s.keyed[collection][w.ID]; ok {
				*prior = *doc // Converge in place; applied order is kept.
			} else {
				c.s.keyed[collection][w.ID] = doc
				c.s.order[collection] = append(c.s.order[collection], doc)
			}
		case store.InsertUnique:
			if c.s.keyed[collection] == nil {
				c.s.keyed[collection] = make(map[string]*Stored)
			}
			if _, ok := c.s.keyed[collection][w.ID]; ok {
				continue // Already present; skipped, not an error.
			}
			c.s.keyed[collection][w.ID] = doc
			c.s.order[collection] = append(c.s.order[collection], doc)
		case store.Append:
			c.s.order[collection] = append(c.s.order[collection], doc)
		}
	}
	return nil
}

// DeleteSlots implements store.Conn.
func (c *Conn) DeleteSlots(ctx context.Context, collection string, slotNums []uint64) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	var match = make(map[uint64]struct{}, len(slotNums))
	for _, n := range slotNums {
		match[n] = struct{}{}
	}
	var kept []*Stored
	var removed int64
	for _, doc := range c.s.order[collection] {
		if _, ok := match[doc.Slot]; ok {
			removed++
			delete(c.s.keyed[collection], doc.ID)
		} else {
			kept = append(kept, doc)
		}
	}
	c.s.order[collection] = kept
	return removed, nil
}

// Close implements store.Conn.
func (c *Conn) Close(ctx context.Context) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.s.live--
	}
	return nil
}

// slotOf reads the document body's Slot field, which every persisted body
// shape carries.
func slotOf(doc interface{}) uint64 {
	var v = reflect.ValueOf(doc)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0
	}
	var f = v.FieldByName("Slot")
	if !f.IsValid() {
		return 0
	}
	switch f.Kind() {
	case reflect.Int64:
		return uint64(f.Int())
	case reflect.Uint64:
		return f.Uint()
	default:
		return 0
	}
}
