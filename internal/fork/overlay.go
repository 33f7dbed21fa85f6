package fork

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type markKind uint8

const (
	markAccount markKind = iota
	markSlot
	markLog
)

// mark records an overlay change the embedded StateDB does not journal for us.
type mark struct {
	kind markKind
	addr common.Address
	key  common.Hash
}

// overlay is the vm.StateDB handed to the EVM. It embeds an in-memory StateDB and
// fills it lazily from the remote source on the first read of an account or a slot.
// Load markers are journaled alongside StateDB snapshots so a reverted call that
// loaded data does not leave the overlay claiming it holds values it just dropped.
type overlay struct {
	*state.StateDB

	ctx   context.Context
	src   Source
	block *big.Int

	accounts  map[common.Address]bool
	slots     map[common.Address]map[common.Hash]bool
	local     map[common.Address]bool
	code      map[common.Address][]byte
	codeHash  map[common.Address]common.Hash
	logs      []*types.Log
	journal   []mark
	revisions map[int]int

	err error
}

func newOverlay(db *state.StateDB, src Source, block *big.Int) *overlay {
	return &overlay{
		StateDB:   db,
		ctx:       context.Background(),
		src:       src,
		block:     block,
		accounts:  make(map[common.Address]bool),
		slots:     make(map[common.Address]map[common.Hash]bool),
		local:     make(map[common.Address]bool),
		code:      make(map[common.Address][]byte),
		codeHash:  make(map[common.Address]common.Hash),
		revisions: make(map[int]int),
	}
}

// begin binds ctx to remote fetches until end is called.
func (o *overlay) begin(ctx context.Context) {
	o.ctx = ctx
	o.err = nil
}

// end unbinds the context and returns the first fetch error since begin.
func (o *overlay) end() error {
	err := o.err
	o.ctx = context.Background()
	o.err = nil
	return err
}

func (o *overlay) fail(op string, addr common.Address, err error) {
	if o.err == nil {
		o.err = &FetchError{Op: op, Account: addr, Err: err}
	}
}

func (o *overlay) loadAccount(addr common.Address) {
	if o.accounts[addr] || o.local[addr] || o.err != nil {
		return
	}

	balance, err := o.src.BalanceAt(o.ctx, addr, o.block)
	if err != nil {
		o.fail("balance", addr, err)
		return
	}
	nonce, err := o.src.NonceAt(o.ctx, addr, o.block)
	if err != nil {
		o.fail("nonce", addr, err)
		return
	}
	code, err := o.src.CodeAt(o.ctx, addr, o.block)
	if err != nil {
		o.fail("code", addr, err)
		return
	}

	o.accounts[addr] = true
	o.journal = append(o.journal, mark{kind: markAccount, addr: addr})

	if len(code) > 0 {
		o.code[addr] = code
	}
	if balance != nil && balance.Sign() > 0 {
		amount, overflow := uint256.FromBig(balance)
		if overflow {
			o.fail("balance", addr, errBalanceOverflow)
			return
		}
		o.StateDB.SetBalance(addr, amount, tracing.BalanceChangeUnspecified)
	}
	if nonce > 0 {
		o.StateDB.SetNonce(addr, nonce, tracing.NonceChangeUnspecified)
	}
}

func (o *overlay) loadSlot(addr common.Address, key common.Hash) {
	if o.slots[addr][key] || o.err != nil {
		return
	}
	if o.local[addr] {
		o.markSlot(addr, key)
		return
	}

	raw, err := o.src.StorageAt(o.ctx, addr, key, o.block)
	if err != nil {
		o.fail("storage", addr, err)
		return
	}

	o.markSlot(addr, key)
	if value := common.BytesToHash(raw); value != (common.Hash{}) {
		o.StateDB.SetState(addr, key, value)
	}
}

func (o *overlay) markSlot(addr common.Address, key common.Hash) {
	slots, ok := o.slots[addr]
	if !ok {
		slots = make(map[common.Hash]bool)
		o.slots[addr] = slots
	}
	slots[key] = true
	o.journal = append(o.journal, mark{kind: markSlot, addr: addr, key: key})
}

// install places runtime code at addr with no remote backing.
func (o *overlay) install(addr common.Address, code []byte) {
	o.local[addr] = true
	o.code[addr] = common.CopyBytes(code)
	delete(o.codeHash, addr)
	if o.StateDB.GetNonce(addr) == 0 {
		o.StateDB.SetNonce(addr, 1, tracing.NonceChangeUnspecified)
	}
}

func (o *overlay) GetState(addr common.Address, key common.Hash) common.Hash {
	o.loadSlot(addr, key)
	return o.StateDB.GetState(addr, key)
}

// The overlay is never committed, so the committed value of every slot is zero.
// SSTORE gas accounting is therefore approximate, which only affects gas usage.
func (o *overlay) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	o.loadSlot(addr, key)
	return common.Hash{}
}

func (o *overlay) GetStateAndCommittedState(addr common.Address, key common.Hash) (common.Hash, common.Hash) {
	return o.GetState(addr, key), common.Hash{}
}

func (o *overlay) GetBalance(addr common.Address) *uint256.Int {
	o.loadAccount(addr)
	return o.StateDB.GetBalance(addr)
}

func (o *overlay) GetNonce(addr common.Address) uint64 {
	o.loadAccount(addr)
	return o.StateDB.GetNonce(addr)
}

func (o *overlay) GetCode(addr common.Address) []byte {
	o.loadAccount(addr)
	if code := o.StateDB.GetCode(addr); len(code) > 0 {
		return code
	}
	return o.code[addr]
}

func (o *overlay) GetCodeSize(addr common.Address) int {
	o.loadAccount(addr)
	if size := o.StateDB.GetCodeSize(addr); size > 0 {
		return size
	}
	return len(o.code[addr])
}

func (o *overlay) GetCodeHash(addr common.Address) common.Hash {
	o.loadAccount(addr)
	if o.StateDB.GetCodeSize(addr) > 0 {
		return o.StateDB.GetCodeHash(addr)
	}
	code, ok := o.code[addr]
	if !ok || len(code) == 0 {
		return o.StateDB.GetCodeHash(addr)
	}
	hash, ok := o.codeHash[addr]
	if !ok {
		hash = crypto.Keccak256Hash(code)
		o.codeHash[addr] = hash
	}
	return hash
}

func (o *overlay) Exist(addr common.Address) bool {
	o.loadAccount(addr)
	return o.StateDB.Exist(addr) || len(o.code[addr]) > 0
}

func (o *overlay) Empty(addr common.Address) bool {
	o.loadAccount(addr)
	return o.StateDB.Empty(addr) && len(o.code[addr]) == 0
}

func (o *overlay) AddLog(log *types.Log) {
	o.logs = append(o.logs, log)
	o.journal = append(o.journal, mark{kind: markLog})
}

func (o *overlay) Snapshot() int {
	id := o.StateDB.Snapshot()
	o.revisions[id] = len(o.journal)
	return id
}

func (o *overlay) RevertToSnapshot(id int) {
	o.StateDB.RevertToSnapshot(id)

	n, ok := o.revisions[id]
	if !ok {
		return
	}
	for i := len(o.journal) - 1; i >= n; i-- {
		m := o.journal[i]
		switch m.kind {
		case markAccount:
			delete(o.accounts, m.addr)
		case markSlot:
			delete(o.slots[m.addr], m.key)
		case markLog:
			o.logs = o.logs[:len(o.logs)-1]
		}
	}
	o.journal = o.journal[:n]

	for rev := range o.revisions {
		if rev >= id {
			delete(o.revisions, rev)
		}
	}
}

// hasRevision reports whether id can still be reverted to.
func (o *overlay) hasRevision(id int) bool {
	_, ok := o.revisions[id]
	return ok
}
