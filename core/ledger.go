package core

// ledger.go – the in-process reference implementation of StateRW. It backs
// the stateful-variable layer (§4.7) and the recovery-point state machine
// (§4.6); the SQL/DB bridge does not use it: every mutation is appended to
// an in-memory change log whose tail index *is* the KV half of a recovery
// point snapshot (§3, "Recovery point"). The node driver (an external
// collaborator per §6) would forward to a real storage backend in
// production; this type is what the CLI and tests run against directly,
// mirroring the teacher's single-process in-memory ledger idiom.

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// LedgerConfig configures the on-disk durability of a Ledger. Both paths are
// optional: an empty WALPath/SnapshotPath keeps the ledger purely in-memory
// (see NewInMemory).
type LedgerConfig struct {
	WALPath      string
	SnapshotPath string
}

// kvChange is one entry of the append-only change log. It records enough to
// undo a SetState/DeleteState: the key's value immediately before the
// mutation, or ExistedBefore=false if the key was absent.
type kvChange struct {
	Key           []byte
	ExistedBefore bool
	OldValue      []byte
}

// Ledger is the reference StateRW implementation: a prefixed byte-string KV
// store with an undo log.
type Ledger struct {
	mu        sync.RWMutex
	state     map[string][]byte
	changeLog []kvChange

	walFile      *os.File
	snapshotPath string
}

// NewLedger creates a Ledger, optionally opening a write-ahead log and
// restoring a prior snapshot.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	l := &Ledger{
		state:        make(map[string][]byte),
		snapshotPath: cfg.SnapshotPath,
	}

	if cfg.SnapshotPath != "" {
		if b, err := os.ReadFile(cfg.SnapshotPath); err == nil {
			if err := json.Unmarshal(b, &l.state); err != nil {
				return nil, fmt.Errorf("ledger: corrupt snapshot: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if cfg.WALPath != "" {
		f, err := os.OpenFile(cfg.WALPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("ledger: open wal: %w", err)
		}
		l.walFile = f
	}

	return l, nil
}

// NewInMemory returns a Ledger with no durability — used by tests and
// benchmarks that need no on-disk files.
func NewInMemory() *Ledger {
	l, _ := NewLedger(LedgerConfig{})
	return l
}

//---------------------------------------------------------------------
// StateRW
//---------------------------------------------------------------------

func (l *Ledger) GetState(key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.state[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (l *Ledger) HasState(key []byte) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.state[string(key)]
	return ok, nil
}

func (l *Ledger) SetState(key, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, existed := l.state[string(key)]
	l.changeLog = append(l.changeLog, kvChange{Key: append([]byte(nil), key...), ExistedBefore: existed, OldValue: old})
	l.state[string(key)] = append([]byte(nil), value...)
	l.writeWAL("set", key, value)
	return nil
}

func (l *Ledger) DeleteState(key []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, existed := l.state[string(key)]
	if !existed {
		return nil
	}
	l.changeLog = append(l.changeLog, kvChange{Key: append([]byte(nil), key...), ExistedBefore: true, OldValue: old})
	delete(l.state, string(key))
	l.writeWAL("del", key, nil)
	return nil
}

type memIter struct {
	keys [][]byte
	vals [][]byte
	idx  int
}

func (it *memIter) Next() bool {
	if it.idx >= len(it.keys) {
		return false
	}
	it.idx++
	return true
}
func (it *memIter) Key() []byte   { return it.keys[it.idx-1] }
func (it *memIter) Value() []byte { return it.vals[it.idx-1] }
func (it *memIter) Error() error  { return nil }

// PrefixIterator returns keys sharing prefix in lexicographic order, which
// the stateful-variable layer (imap/array iteration) and the access
// controller rely on for deterministic traversal.
func (l *Ledger) PrefixIterator(prefix []byte) StateIterator {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range l.state {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	it := &memIter{keys: make([][]byte, len(keys)), vals: make([][]byte, len(keys))}
	for i, k := range keys {
		it.keys[i] = []byte(k)
		v := l.state[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		it.vals[i] = cp
	}
	return it
}

// Snapshot runs fn with an implicit recovery point open: any mutation made
// during fn is undone if fn returns an error. This is the KV-only subset of
// §4.6's openRecovery/closeRecovery — the full state machine (event-buffer
// truncation, nesting; SQL bridge writes are not covered) lives in
// recovery.go and calls
// ChangeLogLen/RollbackTo directly instead of this convenience wrapper.
func (l *Ledger) Snapshot(fn func() error) error {
	idx := l.ChangeLogLen()
	if err := fn(); err != nil {
		l.RollbackTo(idx)
		return err
	}
	return nil
}

//---------------------------------------------------------------------
// Change-log / recovery-point support
//---------------------------------------------------------------------

// ChangeLogLen returns the current tail index of the change log. Recovery
// points snapshot this value at open() and pass it back to RollbackTo on a
// failed close().
func (l *Ledger) ChangeLogLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.changeLog)
}

// RollbackTo undoes every change recorded after idx, restoring prior values
// (or deleting keys that did not exist before the rolled-back span), then
// truncates the change log to idx.
func (l *Ledger) RollbackTo(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.changeLog) - 1; i >= idx; i-- {
		c := l.changeLog[i]
		if c.ExistedBefore {
			l.state[string(c.Key)] = c.OldValue
		} else {
			delete(l.state, string(c.Key))
		}
	}
	l.changeLog = l.changeLog[:idx]
}

// Compact discards change-log entries before idx. It is safe only once no
// open recovery point can still reference that span; recovery.go does not
// call it.
func (l *Ledger) Compact(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx <= 0 || idx > len(l.changeLog) {
		return
	}
	l.changeLog = append([]kvChange(nil), l.changeLog[idx:]...)
}

//---------------------------------------------------------------------
// Durability
//---------------------------------------------------------------------

type walRecord struct {
	Op    string `json:"op"`
	Key   []byte `json:"key"`
	Value []byte `json:"value,omitempty"`
}

func (l *Ledger) writeWAL(op string, key, value []byte) {
	if l.walFile == nil {
		return
	}
	b, err := json.Marshal(walRecord{Op: op, Key: key, Value: value})
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = l.walFile.Write(b)
}

// SaveSnapshot writes the full state map to SnapshotPath as JSON.
func (l *Ledger) SaveSnapshot() error {
	if l.snapshotPath == "" {
		return nil
	}
	l.mu.RLock()
	b, err := json.Marshal(l.state)
	l.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(l.snapshotPath, b, 0o644)
}

// StateRoot computes a deterministic digest of the full key/value set,
// independent of map iteration order, for diagnostics and test assertions.
func (l *Ledger) StateRoot() Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.state))
	for k := range l.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(l.state[k])
		h.Write([]byte{0})
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Close releases the write-ahead log handle, if any.
func (l *Ledger) Close() error {
	if l.walFile != nil {
		return l.walFile.Close()
	}
	return nil
}

//---------------------------------------------------------------------
// Global ledger accessor (used by vm_sandbox_management.go)
//---------------------------------------------------------------------

var (
	currentLedgerMu sync.RWMutex
	currentLedger   *Ledger
)

// SetCurrentLedger installs the process-wide ledger used by package-level
// helpers that do not carry an explicit *Ledger (sandbox bookkeeping).
func SetCurrentLedger(l *Ledger) {
	currentLedgerMu.Lock()
	defer currentLedgerMu.Unlock()
	currentLedger = l
}

// CurrentLedger returns the process-wide ledger installed via
// SetCurrentLedger, or nil if none has been set.
func CurrentLedger() *Ledger {
	currentLedgerMu.RLock()
	defer currentLedgerMu.RUnlock()
	return currentLedger
}
