package engine

import (
	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// State is the sync state of one note within one engine session.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateSynced   State = "synced"
	StateConflict State = "conflict"
	StateError    State = "error"
)

// machine tracks the sync state of a session. It is not safe for concurrent
// use; the owning session serializes access.
type machine struct {
	state     State
	inflight  int
	resolving bool
	conflict  *core.ConflictError
	// failed holds the last failure of each tier until that tier succeeds.
	failed  map[core.Tier]error
	lastErr error
}

func newMachine() *machine {
	return &machine{state: StateIdle, failed: make(map[core.Tier]error)}
}

// begin records a new synchronizer attempt. It refuses while a conflict is
// open or being resolved.
func (m *machine) begin() bool {
	if m.state == StateConflict || m.resolving {
		return false
	}
	m.inflight++
	m.state = StateSyncing
	return true
}

// succeed ends an attempt on tier. pending reports whether edits remain
// unsynced.
func (m *machine) succeed(tier core.Tier, pending bool) {
	m.done()
	delete(m.failed, tier)
	m.settle(pending)
}

func (m *machine) fail(tier core.Tier, err error, pending bool) {
	m.done()
	m.failed[tier] = err
	m.lastErr = err
	m.settle(pending)
}

// abandon ends an attempt whose result was discarded.
func (m *machine) abandon(pending bool) {
	m.done()
	m.settle(pending)
}

func (m *machine) done() {
	if m.inflight > 0 {
		m.inflight--
	}
}

func (m *machine) settle(pending bool) {
	switch {
	case m.state == StateConflict:
	case m.inflight > 0:
		m.state = StateSyncing
	case len(m.failed) > 0:
		m.state = StateError
	case pending:
		m.state = StateIdle
	default:
		m.state = StateSynced
		m.lastErr = nil
	}
}

// diverge ends an attempt with a conflict. Only the first conflict is kept.
func (m *machine) diverge(ce *core.ConflictError) {
	m.done()
	m.open(ce)
}

// open records a conflict found outside a synchronizer attempt.
func (m *machine) open(ce *core.ConflictError) {
	if m.conflict == nil {
		m.conflict = ce
	}
	m.state = StateConflict
}

// edit records a new local edit.
func (m *machine) edit() {
	if m.state == StateSynced {
		m.state = StateIdle
	}
}

// adopted records remote content replacing the local note.
func (m *machine) adopted() {
	if m.state == StateConflict || m.inflight > 0 {
		return
	}
	clear(m.failed)
	m.lastErr = nil
	m.state = StateSynced
}

func (m *machine) beginResolution() (*core.ConflictError, error) {
	if m.resolving {
		return nil, core.E(core.KindInResolution, "engine.resolve", nil)
	}
	if m.state != StateConflict || m.conflict == nil {
		return nil, core.E(core.KindNoConflict, "engine.resolve", nil)
	}
	m.resolving = true
	return m.conflict, nil
}

// endResolution clears the guard. A failed resolution leaves the conflict open.
func (m *machine) endResolution(ok bool) {
	m.resolving = false
	if !ok {
		return
	}
	m.conflict = nil
	clear(m.failed)
	m.lastErr = nil
	m.inflight = 0
	m.state = StateSynced
}
