package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Event is one contract.event emission (§4.8). Args is the already-encoded
// JSON array/object produced by the deterministic codec (jsonvalue.go),
// matching whichever json_form the calling hardfork uses.
type Event struct {
	Seq       uint64 `json:"seq"`
	Contract  string `json:"contract"`
	Name      string `json:"name"`
	Args      string `json:"args"`
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"ts"`
}

// EventManager buffers events raised during a single engine invocation and
// flushes them to the ledger at ABI-call teardown. The buffer is also what
// the recovery state machine (recovery.go) truncates on pcall/xpcall
// rollback: contract.event calls made inside a failed protected call must
// not survive past close(seq, true).
type EventManager struct {
	mu     sync.Mutex
	ledger StateRW
	buffer []Event
	nextID uint64
}

// NewEventManager creates a fresh, empty event buffer for one engine
// invocation.
func NewEventManager(ledger StateRW) *EventManager {
	return &EventManager{ledger: ledger}
}

var (
	evtOnce sync.Once
	evtMgr  *EventManager
)

// InitEvents wires a process-wide event manager for components (CLI,
// tooling) that operate outside a single contract invocation.
func InitEvents(l StateRW) { evtOnce.Do(func() { evtMgr = NewEventManager(l) }) }

// Events returns the process-wide event manager, or nil if InitEvents was
// never called.
func Events() *EventManager { return evtMgr }

// Append buffers one event and returns its id. Nothing is written to the
// ledger until Flush; this is what makes rollback via Truncate cheap.
func (m *EventManager) Append(contract, name, argsJSON string, height uint64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	seq := m.nextID
	m.buffer = append(m.buffer, Event{
		Seq:       seq,
		Contract:  contract,
		Name:      name,
		Args:      argsJSON,
		Height:    height,
		Timestamp: time.Now().Unix(),
	})
	return m.eventID(contract, name, seq)
}

func (m *EventManager) eventID(contract, name string, seq uint64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", contract, name, seq)))
	return hex.EncodeToString(h[:])
}

// BufferLen reports the number of events currently buffered, used by
// recovery.go to snapshot a recovery point.
func (m *EventManager) BufferLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Truncate drops every buffered event past n, discarding events raised
// inside a protected call that is being rolled back (§4.6).
func (m *EventManager) Truncate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < len(m.buffer) {
		m.buffer = m.buffer[:n]
	}
}

// Flush persists every buffered event to the ledger and clears the
// buffer. Called once at ABI-call teardown (§4.9's "closed at ABI-call
// teardown" pattern applies equally to the event buffer).
func (m *EventManager) Flush() error {
	m.mu.Lock()
	pending := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	for _, ev := range pending {
		id := m.eventID(ev.Contract, ev.Name, ev.Seq)
		key := []byte(fmt.Sprintf("event:%s:%s", ev.Name, id))
		blob := []byte(ev.Args)
		if err := m.ledger.SetState(key, blob); err != nil {
			return err
		}
	}
	return nil
}

// List returns up to limit persisted events of the given name in storage
// order. Pass limit <= 0 to fetch all available entries.
func (m *EventManager) List(name string, limit int) ([]Event, error) {
	if m == nil || m.ledger == nil {
		return nil, fmt.Errorf("event manager not initialised")
	}
	it := m.ledger.PrefixIterator([]byte("event:" + name + ":"))
	var out []Event
	for it.Next() {
		out = append(out, Event{Name: name, Args: string(it.Value())})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}
