// Package slots tracks the consistency level of each observed slot as it
// moves through the node's commitment lifecycle. Levels advance monotonically
// (Processed -> Confirmed -> Rooted), except that a non-rooted slot may be
// abandoned by a fork of the chain, which marks it Forked permanently.
package slots

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// Level is the consistency level of a slot.
type Level int8

const (
	// Unknown means the slot has never been observed, or its state has
	// since been evicted or swept.
	Unknown Level = iota
	// Processed means the slot was processed by the node.
	Processed
	// Confirmed means a super-majority of the cluster voted on the slot.
	Confirmed
	// Rooted means the slot is finalized and can never be rolled back.
	Rooted
	// Forked means the slot was abandoned by the cluster. Data tagged with
	// a Forked slot is invalid and eligible for removal.
	Forked
)

// String returns the lowercase level name, as persisted on documents.
func (l Level) String() string {
	switch l {
	case Processed:
		return "processed"
	case Confirmed:
		return "confirmed"
	case Rooted:
		return "rooted"
	case Forked:
		return "forked"
	default:
		return "unknown"
	}
}

// Terminal is true if no further transition from the Level is possible.
func (l Level) Terminal() bool { return l == Rooted || l == Forked }

type slotState struct {
	level  Level
	parent uint64
	// hasParent distinguishes a zero parent from an unreported one.
	hasParent bool
}

// Tracker records the Level of recently observed slots. It is safe for
// concurrent use: writes arrive only from slot-status notifications, while
// reads come from write-coordinator workers and the retention sweeper.
// Memory is bounded by an LRU of slot states; an evicted slot reads as
// Unknown, which is safe because consumers treat Unknown conservatively.
type Tracker struct {
	mu        sync.Mutex
	states    *lru.Cache // uint64 => *slotState
	maxRooted uint64
}

// NewTracker returns a Tracker retaining up to |capacity| slot states.
func NewTracker(capacity int) *Tracker {
	var states, err = lru.New(capacity)
	if err != nil {
		panic(err) // |capacity| must be positive.
	}
	return &Tracker{states: states}
}

// Advance applies a slot-status transition, returning true if the stored
// level changed. Transitions are forward-only: a level never regresses, a
// terminal level is never left, and Forked overrides any non-rooted state.
// The first observation of a slot is accepted at any level, as the host may
// report Confirmed or Rooted for slots which predate our attachment.
func (t *Tracker) Advance(slot uint64, parent *uint64, level Level) bool {
	if level == Unknown {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var st *slotState
	if v, ok := t.states.Get(slot); ok {
		st = v.(*slotState)
	} else {
		st = &slotState{}
		t.states.Add(slot, st)
	}
	if parent != nil {
		st.parent, st.hasParent = *parent, true
	}

	switch {
	case st.level.Terminal():
		// Rooted and Forked are final. A Forked notice for a Rooted slot
		// would contradict the cluster's own finality guarantee; log it.
		if level == Forked && st.level == Rooted {
			log.WithFields(log.Fields{"slot": slot}).
				Error("ignoring fork of a rooted slot")
		}
		return false
	case level == Forked:
		st.level = Forked
		return true
	case level > st.level:
		st.level = level
		if level == Rooted && slot > t.maxRooted {
			t.maxRooted = slot
		}
		return true
	default:
		return false // Backward transition; ignored.
	}
}

// LevelOf returns the tracked Level of |slot|, or Unknown.
func (t *Tracker) LevelOf(slot uint64) Level {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.states.Get(slot); ok {
		return v.(*slotState).level
	}
	return Unknown
}

// Parent returns the reported parent of |slot|, if known.
func (t *Tracker) Parent(slot uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.states.Get(slot); ok && v.(*slotState).hasParent {
		return v.(*slotState).parent, true
	}
	return 0, false
}

// MaxRooted returns the highest slot observed to reach Rooted,
// or zero if no slot has rooted yet.
func (t *Tracker) MaxRooted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxRooted
}

// Sweepable returns tracked slots whose documents may be removed: Rooted
// slots at or below |through|, plus Forked slots at any height (forked data
// is invalid regardless of the retention horizon).
func (t *Tracker) Sweepable(through uint64) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []uint64
	for _, k := range t.states.Keys() {
		var slot = k.(uint64)
		v, ok := t.states.Peek(k)
		if !ok {
			continue
		}
		switch v.(*slotState).level {
		case Forked:
			out = append(out, slot)
		case Rooted:
			if slot <= through {
				out = append(out, slot)
			}
		}
	}
	return out
}

// Forget drops tracking state for slots which have been swept.
func (t *Tracker) Forget(swept []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, slot := range swept {
		t.states.Remove(slot)
	}
}

// Len returns the number of tracked slots.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states.Len()
}
