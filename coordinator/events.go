package coordinator

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/solstream-io/mongosink/buffer"
	"github.com/solstream-io/mongosink/document"
)

// EventKind classifies a failure event.
type EventKind string

const (
	// KindWriteFailed is a batch which could not be written and was
	// dropped, either permanently rejected or with retries exhausted.
	KindWriteFailed EventKind = "write-failed"
	// KindBatchShed is a batch dropped by the buffer under sustained
	// overload, before ever reaching the store.
	KindBatchShed EventKind = "batch-shed"
)

// Event is a structured failure record for operational monitoring. Events
// are the pipeline's promise that data is never lost silently: every
// dropped batch produces exactly one.
type Event struct {
	// ID uniquely identifies the event.
	ID string
	// Kind of the failure.
	Kind EventKind
	// Collection affected.
	Collection document.Collection
	// Identifiers of the affected documents. Append-only documents carry
	// no identifier and are reported by count alone.
	Identifiers []string
	// Count of affected documents.
	Count int
	// Retryable is false for failures which retrying cannot resolve.
	Retryable bool
	// Err describes the failure.
	Err string
}

// EventSink consumes failure events.
type EventSink interface {
	Report(Event)
}

// NewWriteFailure builds the Event of a dropped batch.
func NewWriteFailure(batch buffer.Batch, err error, retryable bool) Event {
	var ev = Event{
		ID:         uuid.NewString(),
		Kind:       KindWriteFailed,
		Collection: batch.Collection,
		Count:      len(batch.Docs),
		Retryable:  retryable,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	for _, d := range batch.Docs {
		if d.ID != "" {
			ev.Identifiers = append(ev.Identifiers, d.ID)
		}
	}
	return ev
}

// NewShed builds the Event of a batch shed by the buffer.
func NewShed(batch buffer.Batch) Event {
	var ev = NewWriteFailure(batch, nil, true)
	ev.Kind = KindBatchShed
	ev.Err = "shed under sustained overload"
	return ev
}

// LogSink reports events as structured log errors. It is the default sink.
type LogSink struct{}

// Report implements EventSink.
func (LogSink) Report(ev Event) {
	var ids = ev.Identifiers
	if len(ids) > 8 {
		ids = ids[:8]
	}
	log.WithFields(log.Fields{
		"id":          ev.ID,
		"kind":        ev.Kind,
		"collection":  ev.Collection,
		"count":       ev.Count,
		"identifiers": ids,
		"retryable":   ev.Retryable,
		"err":         ev.Err,
	}).Error("pipeline failure")
}
