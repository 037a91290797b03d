// Package store defines the driver-level surface of the document store:
// dialing connections, bulk writes, retention deletes, and the
// classification of store errors into transient and permanent failures.
// The mongostore sub-package adapts it over the MongoDB driver; tests use
// in-memory fakes.
package store

import (
	"context"
	"fmt"
)

// Mode selects the write semantics of a bulk operation.
type Mode int

const (
	// Upsert replaces the document with matching ID, inserting if absent.
	Upsert Mode = iota
	// InsertUnique inserts the document if its ID is absent; a document
	// which already exists is skipped, not an error.
	InsertUnique
	// Append inserts the document with a store-assigned identifier.
	Append
)

// Write is a single document write within a bulk operation.
type Write struct {
	// ID of the document; required for Upsert and InsertUnique,
	// empty for Append.
	ID string
	// Doc is the BSON-marshalable document body.
	Doc interface{}
}

// Conn is a live connection to the store. A Conn is owned by exactly one
// in-flight operation at a time; the connection pool enforces this.
type Conn interface {
	// Ping verifies liveness of the connection.
	Ping(ctx context.Context) error
	// WriteBulk applies |writes| to |collection| with |mode| semantics.
	// Upsert writes are applied in order; InsertUnique and Append writes
	// carry no intra-batch ordering requirement.
	WriteBulk(ctx context.Context, collection string, mode Mode, writes []Write) error
	// DeleteSlots removes all documents of |collection| tagged with any of
	// |slotNums|, returning the number removed.
	DeleteSlots(ctx context.Context, collection string, slotNums []uint64) (int64, error)
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Dialer opens new store connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// PermanentError marks a store failure which retrying cannot resolve,
// such as a document rejected by schema or constraint validation.
type PermanentError struct{ Cause error }

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent store error: %s", e.Cause)
}
func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanentf wraps |cause| as a PermanentError.
func Permanentf(cause error) error {
	if cause == nil {
		return nil
	}
	return &PermanentError{Cause: cause}
}

// IsPermanent returns whether |err| is a PermanentError. Any other non-nil
// store error is treated as transient and retried with backoff.
func IsPermanent(err error) bool {
	for err != nil {
		if _, ok := err.(*PermanentError); ok {
			return true
		}
		var u, ok = err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
