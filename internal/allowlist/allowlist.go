// Package allowlist implements the commissioner allow-list / joiner gating
// subsystem: an owned, keyed collection of small state-machine entries
// driven by external joiner events, with a "zero non-terminal entries"
// condition gating whether the commissioner role stays active.
package allowlist

import (
	"sync"
	"time"

	"github.com/meshcore/tbr-agent/internal/apierr"
)

// State is one allow-list entry's lifecycle position.
type State string

const (
	StateNew           State = "new"
	StatePendingJoiner  State = "pending_joiner"
	StateJoinAttempted  State = "join_attempted"
	StateJoined         State = "joined"
	StateJoinFailed     State = "join_failed"
	StateExpired        State = "expired"
)

func (s State) Terminal() bool {
	return s == StateJoined || s == StateJoinFailed || s == StateExpired
}

// Entry is one allow-list row tracking a single joiner's progress through
// the commissioner lifecycle.
type Entry struct {
	EUI64     string
	ActionID  string
	TimeoutS  uint32
	PSKd      string
	State     State
	CreatedAt time.Time
}

// CommissionerControl is the narrow interface onto the Thread commissioner
// the allow-list drives; the commissioner implementation itself sits behind
// threadapi, out of scope for this package, which only needs to start/stop
// it and register joiners.
type CommissionerControl interface {
	StartCommissioner() error
	StopCommissioner() error
	AddJoiner(eui64, pskd string, timeoutS uint32) error
	RemoveJoiner(eui64 string) error
}

// List owns the ordered sequence of allow-list entries and the
// commissioner start/stop decision. Modeled as a mutex-guarded slice,
// acceptable given the small cardinality of per-network joiners.
type List struct {
	mu           sync.Mutex
	entries      []*Entry
	commissioner CommissionerControl
	active       bool
}

// New constructs an empty List bound to a commissioner control surface.
func New(commissioner CommissionerControl) *List {
	return &List{commissioner: commissioner}
}

// findNonTerminalLocked returns the entry for eui64, if any non-terminal
// entry exists.
func (l *List) findNonTerminalLocked(eui64 string) *Entry {
	for _, e := range l.entries {
		if e.EUI64 == eui64 && !e.State.Terminal() {
			return e
		}
	}
	return nil
}

// StopEarlierAndAdd handles an add-thread-device request whose eui64 already
// has a non-terminal entry: it first stops the earlier action referencing
// that entry, then issues a fresh commissioner AddJoiner. stoppedActionID is
// the action id to mark stopped by the caller (the actionqueue owns
// Action.Status, not this package), or empty if no earlier entry existed.
func (l *List) StopEarlierAndAdd(eui64, actionID, pskd string, timeoutS uint32) (stoppedActionID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if earlier := l.findNonTerminalLocked(eui64); earlier != nil {
		stoppedActionID = earlier.ActionID
		earlier.State = StateExpired
		_ = l.commissioner.RemoveJoiner(eui64)
	}

	if !l.active {
		if err := l.commissioner.StartCommissioner(); err != nil {
			return stoppedActionID, apierr.Transport("failed to start commissioner", err)
		}
		l.active = true
	}
	if err := l.commissioner.AddJoiner(eui64, pskd, timeoutS); err != nil {
		return stoppedActionID, apierr.Transport("failed to add joiner to commissioner allow-list", err)
	}

	l.entries = append(l.entries, &Entry{
		EUI64:     eui64,
		ActionID:  actionID,
		TimeoutS:  timeoutS,
		PSKd:      pskd,
		State:     StatePendingJoiner,
		CreatedAt: time.Now(),
	})
	return stoppedActionID, nil
}

// StateOf returns the current state of the entry for actionID.
func (l *List) StateOf(actionID string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ActionID == actionID {
			return e.State, true
		}
	}
	return "", false
}

// Remove erases the allow-list entry for actionID and stops the
// commissioner if no non-terminal entries remain.
func (l *List) Remove(actionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.ActionID == actionID {
			_ = l.commissioner.RemoveJoiner(e.EUI64)
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.stopIfIdleLocked()
}

func (l *List) stopIfIdleLocked() {
	for _, e := range l.entries {
		if !e.State.Terminal() {
			return
		}
	}
	if l.active {
		_ = l.commissioner.StopCommissioner()
		l.active = false
	}
}

// OnJoinerStart moves the matching entry from PendingJoiner to
// JoinAttempted.
func (l *List) OnJoinerStart(eui64 string) {
	l.transition(eui64, func(e *Entry) { e.State = StateJoinAttempted })
}

// OnJoinerFinalize moves the matching entry to Joined and stops the
// commissioner if that was the last non-terminal entry.
func (l *List) OnJoinerFinalize(eui64 string) {
	l.transition(eui64, func(e *Entry) { e.State = StateJoined })
	l.mu.Lock()
	l.stopIfIdleLocked()
	l.mu.Unlock()
}

// OnJoinerRemoved moves the matching entry to Expired if it was waiting on
// a joiner, or JoinFailed if a join attempt was in progress.
func (l *List) OnJoinerRemoved(eui64 string) {
	l.mu.Lock()
	for _, e := range l.entries {
		if e.EUI64 != eui64 {
			continue
		}
		switch e.State {
		case StatePendingJoiner:
			e.State = StateExpired
		case StateJoinAttempted:
			e.State = StateJoinFailed
		}
	}
	l.stopIfIdleLocked()
	l.mu.Unlock()
}

func (l *List) transition(eui64 string, apply func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.EUI64 == eui64 && !e.State.Terminal() {
			apply(e)
			return
		}
	}
}

// NonTerminal returns a snapshot of all non-terminal entries, for the
// allow-list read endpoint.
func (l *List) NonTerminal() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !e.State.Terminal() {
			out = append(out, *e)
		}
	}
	return out
}
