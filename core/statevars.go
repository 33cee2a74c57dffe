package core

// statevars.go implements the stateful-variable layer (§4.7): four kinds of
// contract-declared variables — value, map, imap, array — layered over the
// ledger's flat, prefixed key/value space. Every accessor builds its
// storage key as <prefix><contract_id>_<user-path>, matching the KV key
// grammar in spec.md §6: user-path segments are "-"-joined, and map/imap/
// array compose nested segments the same way (state_module.go is what
// actually nests dimensions and walks dash-joined paths; this file only
// ever sees one already-composed path per call, exactly like
// state_module.c's STATE_VAR_KEY_PREFIX accessors operate on one already
// concatenated id-key string).

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	svPrefix         = "_sv_"
	svItemPrefix     = "_"
	svMetaLenPrefix  = "_sv_meta-len_"
	svMetaTypePrefix = "_sv_meta-type_"
	svMetaIMapPrefix = "sv_meta-imap_"
	svMetaIArrPrefix = "sv_meta-iarray_"
)

const (
	mapKeyString = "string"
	mapKeyInt    = "int"
)

var (
	ErrStateVarKeyTypeMismatch = errors.New("statevar: map key type fixed on first write")
	ErrStateVarFixedArray      = errors.New("statevar: cannot append to a fixed-size array")
	ErrStateVarIndexRange      = errors.New("statevar: index out of range")
	ErrStateVarNotFound        = errors.New("statevar: not found")
)

// StateVars is the per-contract view over the ledger's stateful-variable
// key space. One instance is created per invocation, scoped to the
// executing contract's id.
type StateVars struct {
	ledger     StateRW
	contractID string
}

// NewStateVars scopes a stateful-variable accessor to one contract id.
func NewStateVars(ledger StateRW, contractID string) *StateVars {
	return &StateVars{ledger: ledger, contractID: contractID}
}

func (s *StateVars) key(prefix, path string) []byte {
	return []byte(prefix + s.contractID + "_" + path)
}

//---------------------------------------------------------------------
// raw items — system.getItem/setItem (§4.8), a distinct prefix from the
// "value" stateful-variable kind below (spec.md §3's closed prefix set
// lists them separately).
//---------------------------------------------------------------------

func (s *StateVars) itemKey(path string) []byte { return s.key(svItemPrefix, path) }

// GetItem reads a raw system.getItem entry.
func (s *StateVars) GetItem(path string) ([]byte, bool, error) {
	key := s.itemKey(path)
	ok, err := s.ledger.HasState(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := s.ledger.GetState(key)
	return v, true, err
}

// SetItem writes a raw system.setItem entry.
func (s *StateVars) SetItem(path string, data []byte) error {
	return s.ledger.SetState(s.itemKey(path), data)
}

//---------------------------------------------------------------------
// value
//---------------------------------------------------------------------

// GetValue reads a scalar stateful variable.
func (s *StateVars) GetValue(path string) ([]byte, bool, error) {
	ok, err := s.ledger.HasState(s.key(svPrefix, path))
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := s.ledger.GetState(s.key(svPrefix, path))
	return v, true, err
}

// SetValue writes a scalar stateful variable.
func (s *StateVars) SetValue(path string, data []byte) error {
	return s.ledger.SetState(s.key(svPrefix, path), data)
}

//---------------------------------------------------------------------
// map — key type (string or int) is fixed by the first write to path
//---------------------------------------------------------------------

func (s *StateVars) checkOrSetMapKeyType(path, kind string) error {
	typeKey := s.key(svMetaTypePrefix, path)
	existing, err := s.ledger.GetState(typeKey)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.ledger.SetState(typeKey, []byte(kind))
	}
	if string(existing) != kind {
		return ErrStateVarKeyTypeMismatch
	}
	return nil
}

// CheckMapKeyType enforces path's persisted key type against kind without
// writing anything — used by read-only map/imap accesses, which must fail
// on a type mismatch before touching any state (state_map_check_index in
// state_module.c performs the same check on both get and set).
func (s *StateVars) CheckMapKeyType(path, kind string) error {
	existing, err := s.ledger.GetState(s.key(svMetaTypePrefix, path))
	if err != nil {
		return err
	}
	if existing != nil && string(existing) != kind {
		return ErrStateVarKeyTypeMismatch
	}
	return nil
}

// MapKeyKind returns path's persisted key type (mapKeyString or
// mapKeyInt), or "" if no write has fixed one yet.
func (s *StateVars) MapKeyKind(path string) (string, error) {
	existing, err := s.ledger.GetState(s.key(svMetaTypePrefix, path))
	if err != nil {
		return "", err
	}
	return string(existing), nil
}

// mapFieldKey composes path and field into the dash-joined leaf key
// spec.md §6 describes: map/imap compose segments by appending
// "-<key-or-slot>" to the already-dash-joined parent path.
func (s *StateVars) mapFieldKey(path, field string) []byte {
	return s.key(svPrefix, path+"-"+field)
}

// MapSet writes field (already the full dash-composed leaf segment) of a
// stateful map whose key type is keyKind (mapKeyString or mapKeyInt),
// fixing that type on the map's first-ever write.
func (s *StateVars) MapSet(path, field, keyKind string, data []byte) error {
	if err := s.checkOrSetMapKeyType(path, keyKind); err != nil {
		return err
	}
	return s.ledger.SetState(s.mapFieldKey(path, field), data)
}

// MapGet reads a field by its already-stringified key (caller must use
// the same string formatting MapSet's field argument used).
func (s *StateVars) MapGet(path, field string) ([]byte, bool, error) {
	key := s.mapFieldKey(path, field)
	ok, err := s.ledger.HasState(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := s.ledger.GetState(key)
	return v, true, err
}

// MapDelete removes a field from a stateful map. Deleting a field that
// was never set is not an error, matching state_module.c's
// delItemWithPrefix (a plain KV delete with no existence check).
func (s *StateVars) MapDelete(path, field string) error {
	return s.ledger.DeleteState(s.mapFieldKey(path, field))
}

//---------------------------------------------------------------------
// imap — insertion-ordered *keyed* map: a real map plus an iteration
// index. Meta record "<count>,<last>" at sv_meta-imap_<path> tracks the
// live key count and the next free slot; a per-slot record at
// sv_meta-iarray_<path>-<slot> remembers which user key landed in that
// slot so keys/pairs/length can walk slots [0,last) in insertion order,
// skipping slots whose value has since been deleted. Grounded on
// state_imap_set/state_imap_delete/state_imap_keys/state_imap_pairs in
// _examples/original_source/contract/state_module.c.
//---------------------------------------------------------------------

func (s *StateVars) imapMeta(path string) (count, last uint64, err error) {
	raw, err := s.ledger.GetState(s.key(svMetaIMapPrefix, path))
	if err != nil {
		return 0, 0, err
	}
	if raw == nil {
		return 0, 0, nil
	}
	parts := strings.SplitN(string(raw), ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("statevar: corrupt imap meta record %q", raw)
	}
	count, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	last, err = strconv.ParseUint(parts[1], 10, 64)
	return count, last, err
}

func (s *StateVars) setImapMeta(path string, count, last uint64) error {
	rec := fmt.Sprintf("%d,%d", count, last)
	return s.ledger.SetState(s.key(svMetaIMapPrefix, path), []byte(rec))
}

func (s *StateVars) imapSlotKey(path string, slot uint64) []byte {
	return s.key(svMetaIArrPrefix, path+"-"+strconv.FormatUint(slot, 10))
}

// imapSet writes key/data under metaPath, recording a new slot (and
// bumping metaPath's own count/last) only the first time this key is
// ever set — an overwrite of a live key is a pure value update with no
// structural change. state_imap_set also walks every ancestor
// dimension's meta record on first-insert; this implementation scopes
// bookkeeping to metaPath's own nesting level only (see IMapSet).
func (s *StateVars) imapSet(metaPath, key string, data []byte) error {
	valKey := s.mapFieldKey(metaPath, key)
	existed, err := s.ledger.HasState(valKey)
	if err != nil {
		return err
	}
	if err := s.ledger.SetState(valKey, data); err != nil {
		return err
	}
	if existed {
		return nil
	}
	count, last, err := s.imapMeta(metaPath)
	if err != nil {
		return err
	}
	if err := s.ledger.SetState(s.imapSlotKey(metaPath, last), []byte(key)); err != nil {
		return err
	}
	return s.setImapMeta(metaPath, count+1, last+1)
}

// IMapSet sets an imap entry. idPath scopes the key-type tag shared by
// every nesting level of this imap (mirroring state_imap_check_index,
// which always consults the top-level id); metaPath scopes the
// insertion-order bookkeeping (count/last/slot records) for this
// particular nesting level (mirroring state_imap_set's per-handle
// count/last, composed from id and the dash path walked to reach this
// level); field is the immediate leaf key within metaPath. For a
// non-nested imap, idPath == metaPath == the declared variable name.
func (s *StateVars) IMapSet(idPath, metaPath, field, keyKind string, data []byte) error {
	if err := s.checkOrSetMapKeyType(idPath, keyKind); err != nil {
		return err
	}
	return s.imapSet(metaPath, field, data)
}

// IMapGet reads an imap entry by its already-stringified key, scoped to
// metaPath exactly as IMapSet composes it.
func (s *StateVars) IMapGet(metaPath, field string) ([]byte, bool, error) {
	return s.MapGet(metaPath, field)
}

// IMapDelete removes field from the imap scoped at metaPath. A delete of
// an absent key, or on an imap with no live entries, is a no-op. When
// the live count reaches zero the meta record itself is removed —
// tombstoning the subtree, exactly as state_imap_delete does when a
// nesting level's count hits zero — so a later insert starts the
// slot/last bookkeeping fresh rather than growing it forever.
func (s *StateVars) IMapDelete(metaPath, field string) error {
	count, last, err := s.imapMeta(metaPath)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	valKey := s.mapFieldKey(metaPath, field)
	existed, err := s.ledger.HasState(valKey)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if err := s.ledger.DeleteState(valKey); err != nil {
		return err
	}
	if count-1 == 0 {
		return s.ledger.DeleteState(s.key(svMetaIMapPrefix, metaPath))
	}
	return s.setImapMeta(metaPath, count-1, last)
}

// IMapLen reports the number of live entries at metaPath (distinct keys
// whose value has not since been deleted), not the highest slot ever
// used.
func (s *StateVars) IMapLen(metaPath string) (uint64, error) {
	count, _, err := s.imapMeta(metaPath)
	return count, err
}

// IMapKeys returns the live keys at metaPath in insertion order: slots
// [0,last) are walked in order, and a slot is skipped when the key it
// recorded no longer has a live value (it was deleted after being
// inserted).
func (s *StateVars) IMapKeys(metaPath string) ([]string, error) {
	_, last, err := s.imapMeta(metaPath)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, last)
	for i := uint64(0); i < last; i++ {
		slotKey, err := s.ledger.GetState(s.imapSlotKey(metaPath, i))
		if err != nil {
			return nil, err
		}
		if slotKey == nil {
			continue
		}
		key := string(slotKey)
		live, err := s.ledger.HasState(s.mapFieldKey(metaPath, key))
		if err != nil {
			return nil, err
		}
		if !live {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// IMapPairs returns the live (key, value) pairs at metaPath in insertion
// order.
func (s *StateVars) IMapPairs(metaPath string) ([]string, [][]byte, error) {
	_, last, err := s.imapMeta(metaPath)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, last)
	vals := make([][]byte, 0, last)
	for i := uint64(0); i < last; i++ {
		slotKey, err := s.ledger.GetState(s.imapSlotKey(metaPath, i))
		if err != nil {
			return nil, nil, err
		}
		if slotKey == nil {
			continue
		}
		key := string(slotKey)
		v, ok, err := s.MapGet(metaPath, key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		keys = append(keys, key)
		vals = append(vals, v)
	}
	return keys, vals, nil
}

//---------------------------------------------------------------------
// array — fixed (dimensions given at declaration) or dynamic (no
// dimensions, grows via append). A fixed array's length is never
// persisted to the ledger: state_module.c's state_array_t keeps
// is_fixed/lens purely in the Lua userdata created by that one
// state.array(...) call, so every caller here that knows it is backing
// a fixed array must pass its declared length back in; declaredLen==0
// means "dynamic", whose length instead lives at _sv_meta-len_<path>.
//---------------------------------------------------------------------

func (s *StateVars) arrayLenKey(path string) []byte { return s.key(svMetaLenPrefix, path) }

func (s *StateVars) arrayLen(path string) (uint64, error) {
	raw, err := s.ledger.GetState(s.arrayLenKey(path))
	if err != nil || raw == nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

// ArrayLen reports the array's current length: declaredLen for a fixed
// array, or the persisted dynamic length otherwise. subPath is the
// dash-composed nesting prefix below path (empty at the top level); a
// dynamic array is never nested, so its persisted length is always keyed
// by path alone, matching state_array_load_len's use of arr->id.
func (s *StateVars) ArrayLen(path, subPath string, declaredLen uint64) (uint64, error) {
	if declaredLen > 0 {
		return declaredLen, nil
	}
	return s.arrayLen(path)
}

// ArrayGet reads the element at index (0-based) below subPath.
func (s *StateVars) ArrayGet(path, subPath string, index, declaredLen uint64) ([]byte, bool, error) {
	n, err := s.ArrayLen(path, subPath, declaredLen)
	if err != nil {
		return nil, false, err
	}
	if index >= n {
		return nil, false, ErrStateVarIndexRange
	}
	return s.MapGet(path, composeStatePath(subPath, strconv.FormatUint(index, 10)))
}

// ArraySet writes the element at index (0-based) below subPath, which
// must already be within the array's current length (fixed arrays:
// declaredLen; dynamic arrays: anything appended so far).
func (s *StateVars) ArraySet(path, subPath string, index, declaredLen uint64, data []byte) error {
	n, err := s.ArrayLen(path, subPath, declaredLen)
	if err != nil {
		return err
	}
	if index >= n {
		return ErrStateVarIndexRange
	}
	return s.ledger.SetState(s.mapFieldKey(path, composeStatePath(subPath, strconv.FormatUint(index, 10))), data)
}

// ArrayAppend grows a dynamic array by one element. Fixed arrays reject
// this with ErrStateVarFixedArray (declaredLen > 0 signals fixed).
// Dynamic arrays are never nested, so subPath is always empty here.
func (s *StateVars) ArrayAppend(path, subPath string, data []byte, declaredLen uint64) (uint64, error) {
	if declaredLen > 0 {
		return 0, ErrStateVarFixedArray
	}
	n, err := s.arrayLen(path)
	if err != nil {
		return 0, err
	}
	if err := s.ledger.SetState(s.mapFieldKey(path, strconv.FormatUint(n, 10)), data); err != nil {
		return 0, err
	}
	if err := s.ledger.SetState(s.arrayLenKey(path), []byte(strconv.FormatUint(n+1, 10))); err != nil {
		return 0, err
	}
	return n + 1, nil
}
