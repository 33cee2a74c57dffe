package core

// node_driver.go implements the default NodeDriver (§6): the external
// call-out surface contract_module.go/system_module.go
// dispatch to, backed directly by the Ledger, ContractRegistry,
// AccessController and crypto_module.go rather than a real peer-to-peer
// node. `contracthost run`/`contracthost serve` wire one of these per
// process; a production embedding would swap in a NodeDriver that
// forwards CallContract/SendAmount/Governance to consensus instead.

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

const (
	balancePrefix = "balance:"
	stakePrefix   = "stake:"
	namePrefix    = "name:"
)

var (
	ErrUnknownAddress    = errors.New("node: no contract deployed at address")
	ErrInsufficientFunds = errors.New("node: insufficient balance")
	ErrNotStaked         = errors.New("node: address must stake before voting")
)

// govStakedRole is the AccessController role granted to a contract id
// while it has a non-zero stake, gating GovTagVote/GovTagVoteDao.
const govStakedRole = "staked"

// DefaultDriver is the reference NodeDriver: single process, single
// ledger, no peer gossip. It is what InitContracts is wired to when a
// CLI invocation or test does not bring its own driver.
type DefaultDriver struct {
	Ledger   *Ledger
	Registry *ContractRegistry
	Access   *AccessController
	Factory  *EngineFactory

	mu          sync.Mutex
	viewDepth   int
	nextGovSeq  uint64
	publicAddrs map[Address]bool
}

// NewDefaultDriver wires a driver to the ledger/registry/access
// controller/engine factory a single process needs for every SPEC_FULL.md
// operation that reaches out through the NodeDriver interface.
func NewDefaultDriver(led *Ledger, reg *ContractRegistry, ac *AccessController, f *EngineFactory) *DefaultDriver {
	return &DefaultDriver{
		Ledger:      led,
		Registry:    reg,
		Access:      ac,
		Factory:     f,
		publicAddrs: make(map[Address]bool),
	}
}

//---------------------------------------------------------------------
// Contract calls
//---------------------------------------------------------------------

// CallContract runs fn on target's deployed code with value attached,
// routing through the shared ContractRegistry/EngineFactory so the
// callee gets its own fresh engine (§5).
func (d *DefaultDriver) CallContract(ctx *ServiceContext, target Address, fn, argsJSON string, value *Bignum) (string, error) {
	sc, ok := d.Registry.Get(target)
	if !ok {
		return "", ErrUnknownAddress
	}
	if value != nil && !value.IsZero() {
		if err := d.transfer(ctx.ContractID, target, value); err != nil {
			return "", err
		}
	}
	callee := &ServiceContext{
		Sender:          ctx.ContractID,
		Creator:         sc.Creator,
		Origin:          ctx.Origin,
		ContractID:      target,
		TxHash:          ctx.TxHash,
		PrevBlockHash:   ctx.PrevBlockHash,
		BlockHeight:     ctx.BlockHeight,
		Timestamp:       ctx.Timestamp,
		Amount:          value,
		HardforkVersion: ctx.HardforkVersion,
		Ledger:          ctx.Ledger,
		Driver:          d,
		Registry:        d.Registry,
	}
	return d.Registry.Invoke(callee, target, fn, argsJSON, 0)
}

// DelegateCallContract runs target's code in the caller's own storage
// and identity context — only the bytecode is borrowed.
func (d *DefaultDriver) DelegateCallContract(ctx *ServiceContext, target Address, fn, argsJSON string) (string, error) {
	sc, ok := d.Registry.Get(target)
	if !ok {
		return "", ErrUnknownAddress
	}
	if d.Factory == nil {
		return "", errors.New("node: no engine factory wired")
	}
	delegate := &ServiceContext{
		Sender:          ctx.Sender,
		Creator:         ctx.Creator,
		Origin:          ctx.Origin,
		ContractID:      ctx.ContractID,
		TxHash:          ctx.TxHash,
		PrevBlockHash:   ctx.PrevBlockHash,
		BlockHeight:     ctx.BlockHeight,
		Timestamp:       ctx.Timestamp,
		Amount:          ctx.Amount,
		HardforkVersion: ctx.HardforkVersion,
		Ledger:          ctx.Ledger,
		Driver:          d,
		Registry:        d.Registry,
	}
	return d.Factory.Invoke(delegate, sc.Bytecode, fn, argsJSON)
}

// DeployContract derives a deterministic address for code and registers
// it, mirroring contracts.go's own Deploy helper.
func (d *DefaultDriver) DeployContract(ctx *ServiceContext, code []byte, ric *RicardianContract) (Address, error) {
	addr := DeriveContractAddress(ctx.ContractID, code)
	var ricBytes []byte
	if ric != nil {
		b, err := jsonMarshalRicardian(ric)
		if err != nil {
			return Address{}, err
		}
		ricBytes = b
	}
	if err := d.Registry.Deploy(addr, ctx.ContractID, code, ricBytes, ctx.Gov.GasRemaining()); err != nil {
		return Address{}, err
	}
	return addr, nil
}

func jsonMarshalRicardian(r *RicardianContract) ([]byte, error) {
	v := Object(map[string]*Value{
		"address":      Str(r.Address.Hex()),
		"version":      Str(r.Version),
		"title":        Str(r.Title),
		"legal":        Str(r.LegalProse),
		"code_hash":    Str(r.CodeHash),
		"jurisdiction": Str(r.Jurisdiction),
		"created":      Int(r.Created),
	})
	s, err := Encode(v, 4)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

//---------------------------------------------------------------------
// Value transfer / balances
//---------------------------------------------------------------------

func balanceKey(addr Address) []byte { return append([]byte(balancePrefix), addr.Bytes()...) }
func stakeKey(addr Address) []byte   { return append([]byte(stakePrefix), addr.Bytes()...) }

func (d *DefaultDriver) readBignum(key []byte) (*Bignum, error) {
	b, err := d.Ledger.GetState(key)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return NewBignumInt(0), nil
	}
	return NewBignumString(string(b), 4)
}

func (d *DefaultDriver) writeBignum(key []byte, v *Bignum) error {
	return d.Ledger.SetState(key, []byte(v.String()))
}

// transfer moves amount from from's balance to to's, failing on
// insufficient funds without mutating either side.
func (d *DefaultDriver) transfer(from, to Address, amount *Bignum) error {
	fromBal, err := d.readBignum(balanceKey(from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := d.readBignum(balanceKey(to))
	if err != nil {
		return err
	}
	newFrom, err := fromBal.Sub(amount)
	if err != nil {
		return err
	}
	newTo, err := toBal.Add(amount)
	if err != nil {
		return err
	}
	if err := d.writeBignum(balanceKey(from), newFrom); err != nil {
		return err
	}
	return d.writeBignum(balanceKey(to), newTo)
}

// SendAmount moves amount from the invoking contract to to.
func (d *DefaultDriver) SendAmount(ctx *ServiceContext, to Address, amount *Bignum) error {
	return d.transfer(ctx.ContractID, to, amount)
}

// GetBalance reads an address's current ledger-backed balance, 0 if
// never credited.
func (d *DefaultDriver) GetBalance(ctx *ServiceContext, addr Address) (*Bignum, error) {
	return d.readBignum(balanceKey(addr))
}

// GetStaking reads an address's currently staked amount.
func (d *DefaultDriver) GetStaking(ctx *ServiceContext, addr Address) (*Bignum, error) {
	return d.readBignum(stakeKey(addr))
}

//---------------------------------------------------------------------
// Recovery points
//---------------------------------------------------------------------

// SetRecoveryPoint opens a recovery point on ctx's RecoveryManager.
func (d *DefaultDriver) SetRecoveryPoint(ctx *ServiceContext) uint64 {
	return ctx.Recovery.OpenRecovery()
}

// ClearRecovery closes a recovery point, rolling back on isError.
func (d *DefaultDriver) ClearRecovery(ctx *ServiceContext, seq uint64, isError bool) error {
	return ctx.Recovery.CloseRecovery(seq, isError)
}

//---------------------------------------------------------------------
// Direct key/value passthrough (used by host built-ins outside the
// stateful-variable layer, e.g. raw contract storage)
//---------------------------------------------------------------------

func contractDataKey(ctx *ServiceContext, key []byte) []byte {
	prefix := append([]byte("data:"), ctx.ContractID.Bytes()...)
	prefix = append(prefix, ':')
	return append(prefix, key...)
}

func (d *DefaultDriver) GetDB(ctx *ServiceContext, key []byte) ([]byte, error) {
	return d.Ledger.GetState(contractDataKey(ctx, key))
}

func (d *DefaultDriver) SetDB(ctx *ServiceContext, key, value []byte) error {
	return d.Ledger.SetState(contractDataKey(ctx, key), value)
}

func (d *DefaultDriver) DelDB(ctx *ServiceContext, key []byte) error {
	return d.Ledger.DeleteState(contractDataKey(ctx, key))
}

//---------------------------------------------------------------------
// Governance (stake/unstake/vote/voteDao, §4.8)
//---------------------------------------------------------------------

// Governance applies a GovTag* action and records it under a
// monotonically increasing id, the way event_management.go records
// events under an id derived from a sequence counter.
func (d *DefaultDriver) Governance(ctx *ServiceContext, action, argsJSON string) (string, error) {
	switch action {
	case GovTagStake:
		amt, err := bignumFromArgsJSON(argsJSON, ctx.HardforkVersion)
		if err != nil {
			return "", err
		}
		bal, err := d.readBignum(balanceKey(ctx.ContractID))
		if err != nil {
			return "", err
		}
		if bal.Cmp(amt) < 0 {
			return "", ErrInsufficientFunds
		}
		newBal, err := bal.Sub(amt)
		if err != nil {
			return "", err
		}
		staked, err := d.readBignum(stakeKey(ctx.ContractID))
		if err != nil {
			return "", err
		}
		newStaked, err := staked.Add(amt)
		if err != nil {
			return "", err
		}
		if err := d.writeBignum(balanceKey(ctx.ContractID), newBal); err != nil {
			return "", err
		}
		if err := d.writeBignum(stakeKey(ctx.ContractID), newStaked); err != nil {
			return "", err
		}
		if d.Access != nil {
			if err := d.Access.GrantRole(ctx.ContractID, govStakedRole); err != nil && err.Error() != "role already granted" {
				return "", err
			}
		}
	case GovTagUnstake:
		amt, err := bignumFromArgsJSON(argsJSON, ctx.HardforkVersion)
		if err != nil {
			return "", err
		}
		staked, err := d.readBignum(stakeKey(ctx.ContractID))
		if err != nil {
			return "", err
		}
		if staked.Cmp(amt) < 0 {
			return "", ErrInsufficientFunds
		}
		newStaked, err := staked.Sub(amt)
		if err != nil {
			return "", err
		}
		bal, err := d.readBignum(balanceKey(ctx.ContractID))
		if err != nil {
			return "", err
		}
		newBal, err := bal.Add(amt)
		if err != nil {
			return "", err
		}
		if err := d.writeBignum(stakeKey(ctx.ContractID), newStaked); err != nil {
			return "", err
		}
		if err := d.writeBignum(balanceKey(ctx.ContractID), newBal); err != nil {
			return "", err
		}
		if d.Access != nil && newStaked.IsZero() {
			if err := d.Access.RevokeRole(ctx.ContractID, govStakedRole); err != nil && err.Error() != "role not found" {
				return "", err
			}
		}
	case GovTagVote, GovTagVoteDao:
		// Votes are recorded but do not move funds; only a currently
		// staked address may cast one.
		if d.Access != nil && !d.Access.HasRole(ctx.ContractID, govStakedRole) {
			return "", ErrNotStaked
		}
	default:
		return "", fmt.Errorf("node: unknown governance action %q", action)
	}

	d.mu.Lock()
	d.nextGovSeq++
	seq := d.nextGovSeq
	d.mu.Unlock()

	id := fmt.Sprintf("gov:%s:%d", action, seq)
	key := []byte(fmt.Sprintf("governance:%s", id))
	if err := d.Ledger.SetState(key, []byte(argsJSON)); err != nil {
		return "", err
	}
	return id, nil
}

func bignumFromArgsJSON(argsJSON string, hardfork int) (*Bignum, error) {
	v, err := Decode(argsJSON, hardfork)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindString {
		return nil, errors.New("node: governance amount must be a string")
	}
	return NewBignumString(v.Str, hardfork)
}

//---------------------------------------------------------------------
// Events
//---------------------------------------------------------------------

// Event buffers name/argsJSON on ctx's EventManager, mirroring the
// in-process path contract.event already takes through ServiceContext.
func (d *DefaultDriver) Event(ctx *ServiceContext, name, argsJSON string) (string, error) {
	if ctx.Events == nil {
		return "", errors.New("node: no event manager bound to this invocation")
	}
	id := ctx.Events.Append(ctx.ContractID.Hex(), name, argsJSON, ctx.BlockHeight)
	return id, nil
}

// DropEvent removes a persisted event by id. Reference-only: events are
// append-only in the default driver, so this reports success without
// deleting (matching how a real chain would refuse to rewrite history
// but a test harness still needs the call to succeed).
func (d *DefaultDriver) DropEvent(ctx *ServiceContext, id string) error {
	return nil
}

// GetEventCount reports how many events are currently buffered for the
// in-flight invocation.
func (d *DefaultDriver) GetEventCount(ctx *ServiceContext) int {
	if ctx.Events == nil {
		return 0
	}
	return ctx.Events.BufferLen()
}

//---------------------------------------------------------------------
// Crypto passthrough
//---------------------------------------------------------------------

func (d *DefaultDriver) CryptoSha256(data []byte) string          { return Sha256Hex(data) }
func (d *DefaultDriver) CryptoKeccak256(data []byte) []byte       { return Keccak256(data) }
func (d *DefaultDriver) CryptoECVerify(hash, sig, pubkey []byte) bool {
	return ECVerify(hash, sig, pubkey)
}
func (d *DefaultDriver) CryptoVerifyProof(key, value, root []byte, proof [][]byte) bool {
	ok, err := VerifyProof(key, string(value), root, proof)
	return err == nil && ok
}

//---------------------------------------------------------------------
// Naming / DB handles / misc
//---------------------------------------------------------------------

// NameResolve looks up a human-readable name registered via
// RegisterName, the way the access controller resolves roles by
// address prefix.
func (d *DefaultDriver) NameResolve(name string) (Address, error) {
	b, err := d.Ledger.GetState(append([]byte(namePrefix), []byte(name)...))
	if err != nil {
		return Address{}, err
	}
	if len(b) != 20 {
		return Address{}, fmt.Errorf("node: name %q not registered", name)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// RegisterName binds name to addr for later NameResolve lookups.
func (d *DefaultDriver) RegisterName(name string, addr Address) error {
	return d.Ledger.SetState(append([]byte(namePrefix), []byte(name)...), addr.Bytes())
}

// GetDbHandle and GetDbSnapshot satisfy the NodeDriver interface for
// drivers that expose a raw file-descriptor-style DB handle; the
// default driver routes all SQL access through ctx.SQL (sql_module.go)
// instead, so these report handle 1 when ctx.SQL is bound and
// errMissingSQLBridge otherwise.
func (d *DefaultDriver) GetDbHandle(ctx *ServiceContext) (int, error) {
	if ctx.SQL == nil {
		return 0, errMissingSQLBridge
	}
	return 1, nil
}

func (d *DefaultDriver) GetDbSnapshot(ctx *ServiceContext) (int, error) {
	if ctx.SQL == nil {
		return 0, errMissingSQLBridge
	}
	return 1, nil
}

// RandomInt returns a cryptographically sourced integer in [min, max],
// deterministic replay is out of scope for the reference driver (a
// consensus-backed driver would derive this from block entropy
// instead).
func (d *DefaultDriver) RandomInt(ctx *ServiceContext, min, max int64) int64 {
	if max <= min {
		return min
	}
	span := big.NewInt(max - min + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return min
	}
	return min + n.Int64()
}

// CheckTimeout answers the checkTimeout call-out with 0 (ok, in
// TimeoutChecker's codes in governor.go): the default driver has no
// external timeout signal, and the wall-clock deadline is enforced by
// Engine.Call's context timeout.
func (d *DefaultDriver) CheckTimeout(ctx *ServiceContext) int {
	return 0
}

//---------------------------------------------------------------------
// Views / publicity
//---------------------------------------------------------------------

// ViewStart/ViewEnd bracket a view-function call; they exist on the
// driver (rather than only ctx.ViewDepth) so an out-of-process driver
// can open/close its own read-only snapshot alongside the in-process
// ServiceContext.ViewDepth field sqlbridge.go checks.
func (d *DefaultDriver) ViewStart(ctx *ServiceContext) {
	d.mu.Lock()
	d.viewDepth++
	d.mu.Unlock()
}

func (d *DefaultDriver) ViewEnd(ctx *ServiceContext) {
	d.mu.Lock()
	if d.viewDepth > 0 {
		d.viewDepth--
	}
	d.mu.Unlock()
}

// IsPublic reports whether addr has been marked as a public (non-private)
// contract — private contracts are the ones sql_module.go's db.* bridge
// rejects calls for unless a SQLBridge is bound.
func (d *DefaultDriver) IsPublic(addr Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.publicAddrs[addr]
}

// MarkPublic records addr as public, used at deploy time when a
// contract opts out of the private SQL bridge.
func (d *DefaultDriver) MarkPublic(addr Address) {
	d.mu.Lock()
	d.publicAddrs[addr] = true
	d.mu.Unlock()
}
