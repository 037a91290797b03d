package buffer

import (
	"context"
	"time"

	"github.com/solstream-io/mongosink/document"
)

// Set owns one Buffer per destination collection.
type Set struct {
	cfg     Config
	order   []document.Collection
	buffers map[document.Collection]*Buffer
}

// NewSet returns a Set with a Buffer per collection. |onShed| is invoked
// with each batch dropped under overload, for failure reporting.
func NewSet(cfg Config, onShed func(Batch), collections ...document.Collection) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var s = &Set{
		cfg:     cfg,
		order:   collections,
		buffers: make(map[document.Collection]*Buffer, len(collections)),
	}
	for _, c := range collections {
		s.buffers[c] = newBuffer(c, cfg, onShed)
	}
	return s, nil
}

// Append routes a document to its collection's Buffer. It panics on a
// collection the Set was not built with, which is a wiring bug.
func (s *Set) Append(doc document.Document) {
	s.buffers[doc.Collection].Append(doc)
}

// Get returns the Buffer of |collection|, or nil.
func (s *Set) Get(collection document.Collection) *Buffer {
	return s.buffers[collection]
}

// Collections lists the Set's collections in construction order.
func (s *Set) Collections() []document.Collection { return s.order }

// FlushNow force-flushes the named collections, or every collection if
// none are named.
func (s *Set) FlushNow(collections ...document.Collection) {
	if len(collections) == 0 {
		collections = s.order
	}
	for _, c := range collections {
		if b := s.buffers[c]; b != nil {
			b.flushNow()
		}
	}
}

// Serve drives age-based flushes until |ctx| is done, then stops every
// Buffer: remaining content is final-flushed and intakes close, allowing
// the write coordinator to drain. Serve always returns nil.
func (s *Set) Serve(ctx context.Context) error {
	// Poll at a fraction of MaxAge so worst-case staleness stays near
	// MaxAge rather than 2*MaxAge.
	var tick = s.cfg.MaxAge / 4
	if tick < time.Millisecond*10 {
		tick = time.Millisecond * 10
	}
	var ticker = time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, c := range s.order {
				s.buffers[c].flushIfAged(now)
			}
		case <-ctx.Done():
			for _, c := range s.order {
				s.buffers[c].stop()
			}
			return nil
		}
	}
}
