// Package simnet is an in-memory settlement network: native balances,
// fungible-token ledgers with allowances, and receiver hooks.
//
// Every mutation runs inside a transaction. Transactions are serialized
// network-wide and nest through the context: a call made from a receiver hook
// joins the transaction that triggered the hook. State changes are journaled
// so any transaction, or any nested scope within one, can be reverted.
package simnet

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// Deployer is the account that deploys tokens.
var Deployer = common.BytesToAddress(crypto.Keccak256([]byte("askmi.simnet.deployer")))

// Hook runs after value arrives at an account. Returning an error rejects the
// transfer. The context carries the enclosing transaction, so the hook may
// call back into the network or into any service built on it.
//
// Calls made from a hook must use the hook's context. While any hook runs, a
// transaction started from a context without it fails with
// errors.CodeReentrantCall rather than waiting for the transaction the hook
// belongs to, which would never finish. This includes callers on other
// goroutines. Reads made with such a context may block until the hook returns.
type Hook func(ctx context.Context, from common.Address, amount *uint256.Int) error

// Token describes a deployed fungible token.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type tokenLedger struct {
	info       Token
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int
}

type txKey struct{}

// Network is safe for concurrent use.
type Network struct {
	txMu    sync.Mutex
	hooking atomic.Int32

	mu      sync.RWMutex
	native  map[common.Address]uint256.Int
	tokens  map[common.Address]*tokenLedger
	hooks   map[common.Address]Hook
	nonce   uint64
	journal []entry
	pending []func()
}

// entry is one journaled change. Internal entries run with mu held; external
// ones come from Journal and manage their own locking.
type entry struct {
	undo     func()
	external bool
}

// New returns an empty network.
func New() *Network {
	return &Network{
		native: make(map[common.Address]uint256.Int),
		tokens: make(map[common.Address]*tokenLedger),
		hooks:  make(map[common.Address]Hook),
	}
}

// Atomically runs fn in a transaction. If ctx already carries a transaction
// on this network, fn runs in a nested scope of it. An error from fn reverts
// every change made within the scope.
func (n *Network) Atomically(ctx context.Context, fn func(context.Context) error) error {
	if n.inTx(ctx) {
		id := n.Snapshot()
		if err := fn(ctx); err != nil {
			n.RevertToSnapshot(id)
			return err
		}
		return nil
	}

	committed, err := n.run(ctx, fn)
	for _, fn := range committed {
		fn()
	}
	return err
}

func (n *Network) run(ctx context.Context, fn func(context.Context) error) ([]func(), error) {
	if !n.txMu.TryLock() {
		if n.hooking.Load() > 0 {
			return nil, apperrors.New(apperrors.CodeReentrantCall, "transaction started inside a receiver hook without its context")
		}
		n.txMu.Lock()
	}
	defer n.txMu.Unlock()

	id := n.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			n.RevertToSnapshot(id)
			n.reset()
			panic(r)
		}
	}()
	err := fn(context.WithValue(ctx, txKey{}, n))
	if err != nil {
		n.RevertToSnapshot(id)
	}
	return n.reset(), err
}

// reset ends the outermost transaction and returns its commit callbacks.
func (n *Network) reset() []func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	committed := n.pending
	n.pending = nil
	n.journal = nil
	return committed
}

// Journal records undo in the current transaction. It runs if the enclosing
// scope reverts. Outside a transaction it is discarded.
func (n *Network) Journal(ctx context.Context, undo func()) {
	if !n.inTx(ctx) {
		return
	}
	n.mu.Lock()
	n.journal = append(n.journal, entry{undo: undo, external: true})
	n.mu.Unlock()
}

// OnCommit schedules fn to run once the outermost transaction commits. It is
// dropped if the enclosing scope reverts. Outside a transaction fn runs now.
func (n *Network) OnCommit(ctx context.Context, fn func()) {
	if !n.inTx(ctx) {
		fn()
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, fn)
	n.record(func() { n.pending = n.pending[:len(n.pending)-1] })
	n.mu.Unlock()
}

// Snapshot returns an identifier for the current journal position. It is only
// meaningful inside a transaction.
func (n *Network) Snapshot() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.journal)
}

// RevertToSnapshot undoes every journaled change made after id, newest first.
func (n *Network) RevertToSnapshot(id int) {
	n.mu.Lock()
	if id < 0 || id > len(n.journal) {
		n.mu.Unlock()
		return
	}
	entries := append([]entry(nil), n.journal[id:]...)
	n.journal = n.journal[:id]
	n.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].external {
			entries[i].undo()
			continue
		}
		n.mu.Lock()
		entries[i].undo()
		n.mu.Unlock()
	}
}

// SetHook installs the receiver hook for addr. A nil hook removes it.
func (n *Network) SetHook(addr common.Address, hook Hook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if hook == nil {
		delete(n.hooks, addr)
		return
	}
	n.hooks[addr] = hook
}

// Credit mints native currency to addr.
func (n *Network) Credit(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.addNative(to, amount)
	})
}

// TransferNative moves native currency and then runs the recipient's hook.
func (n *Network) TransferNative(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		if err := n.subNative(from, amount); err != nil {
			n.mu.Unlock()
			return err
		}
		if err := n.addNative(to, amount); err != nil {
			n.mu.Unlock()
			return err
		}
		hook := n.hooks[to]
		n.mu.Unlock()

		if hook == nil {
			return nil
		}
		n.hooking.Add(1)
		defer n.hooking.Add(-1)
		if err := hook(ctx, from, amount); err != nil {
			return apperrors.WrapWithMetadata(apperrors.CodeReceiverRejected, "receiver rejected transfer",
				map[string]string{"receiver": to.Hex()}, err)
		}
		return nil
	})
}

// DeployToken creates a token owned by Deployer.
func (n *Network) DeployToken(ctx context.Context, symbol string, decimals uint8) (Token, error) {
	var token Token
	err := n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		token = Token{
			Address:  crypto.CreateAddress(Deployer, n.nonce),
			Symbol:   symbol,
			Decimals: decimals,
		}
		n.nonce++
		n.tokens[token.Address] = &tokenLedger{
			info:       token,
			balances:   make(map[common.Address]uint256.Int),
			allowances: make(map[common.Address]map[common.Address]uint256.Int),
		}
		n.record(func() {
			n.nonce--
			delete(n.tokens, token.Address)
		})
		return nil
	})
	return token, err
}

// Mint credits token balance to addr.
func (n *Network) Mint(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	return n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		ledger, err := n.token(token)
		if err != nil {
			return err
		}
		return n.addToken(ledger, to, amount)
	})
}

// Approve sets how much spender may pull from owner's token balance.
func (n *Network) Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	return n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		ledger, err := n.token(token)
		if err != nil {
			return err
		}
		n.setAllowance(ledger, owner, spender, *amount)
		return nil
	})
}

// TransferToken moves token balance from one account to another.
func (n *Network) TransferToken(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	return n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		ledger, err := n.token(token)
		if err != nil {
			return err
		}
		return n.moveToken(ledger, from, to, amount)
	})
}

// TransferTokenFrom moves token balance on behalf of from, spending spender's
// allowance. A maximal allowance is never decremented.
func (n *Network) TransferTokenFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error {
	return n.Atomically(ctx, func(ctx context.Context) error {
		n.mu.Lock()
		defer n.mu.Unlock()
		ledger, err := n.token(token)
		if err != nil {
			return err
		}
		allowed := ledger.allowances[from][spender]
		if allowed.Lt(amount) {
			return apperrors.WithMetadata(apperrors.CodeInsufficientAllowance, "insufficient allowance",
				map[string]string{"owner": from.Hex(), "spender": spender.Hex(), "allowance": allowed.Dec(), "amount": amount.Dec()})
		}
		if err := n.moveToken(ledger, from, to, amount); err != nil {
			return err
		}
		if !allowed.Eq(&maxAmount) {
			var left uint256.Int
			left.Sub(&allowed, amount)
			n.setAllowance(ledger, from, spender, left)
		}
		return nil
	})
}

// Balance returns holder's balance of a.
func (n *Network) Balance(a asset.Asset, holder common.Address) (asset.Amount, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if a.IsNative() {
		return n.native[holder], nil
	}
	ledger, err := n.token(a.Token)
	if err != nil {
		return asset.Amount{}, err
	}
	return ledger.balances[holder], nil
}

// Allowance returns how much spender may pull from owner.
func (n *Network) Allowance(token, owner, spender common.Address) (asset.Amount, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ledger, err := n.token(token)
	if err != nil {
		return asset.Amount{}, err
	}
	return ledger.allowances[owner][spender], nil
}

// Token returns the deployed token at addr.
func (n *Network) Token(addr common.Address) (Token, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ledger, err := n.token(addr)
	if err != nil {
		return Token{}, err
	}
	return ledger.info, nil
}

// Tokens lists deployed tokens by address.
func (n *Network) Tokens() []Token {
	n.mu.RLock()
	out := make([]Token, 0, len(n.tokens))
	for _, ledger := range n.tokens {
		out = append(out, ledger.info)
	}
	n.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

var maxAmount = *new(uint256.Int).SetAllOne()

func (n *Network) inTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*Network)
	return ok && tx == n
}

// The helpers below expect n.mu to be held.

func (n *Network) record(undo func()) {
	n.journal = append(n.journal, entry{undo: undo})
}

func (n *Network) token(addr common.Address) (*tokenLedger, error) {
	ledger, ok := n.tokens[addr]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownToken, "token is not deployed",
			map[string]string{"token": addr.Hex()})
	}
	return ledger, nil
}

func (n *Network) setNative(addr common.Address, value uint256.Int) {
	previous, existed := n.native[addr]
	n.native[addr] = value
	n.record(func() {
		if existed {
			n.native[addr] = previous
			return
		}
		delete(n.native, addr)
	})
}

func (n *Network) addNative(addr common.Address, amount *uint256.Int) error {
	current := n.native[addr]
	var next uint256.Int
	if _, overflow := next.AddOverflow(&current, amount); overflow {
		return apperrors.New(apperrors.CodeAmountOverflow, "native balance overflow")
	}
	n.setNative(addr, next)
	return nil
}

func (n *Network) subNative(addr common.Address, amount *uint256.Int) error {
	current := n.native[addr]
	if current.Lt(amount) {
		return insufficientBalance(asset.Native(), addr, &current, amount)
	}
	var next uint256.Int
	next.Sub(&current, amount)
	n.setNative(addr, next)
	return nil
}

func (n *Network) setTokenBalance(ledger *tokenLedger, addr common.Address, value uint256.Int) {
	previous, existed := ledger.balances[addr]
	ledger.balances[addr] = value
	n.record(func() {
		if existed {
			ledger.balances[addr] = previous
			return
		}
		delete(ledger.balances, addr)
	})
}

func (n *Network) addToken(ledger *tokenLedger, addr common.Address, amount *uint256.Int) error {
	current := ledger.balances[addr]
	var next uint256.Int
	if _, overflow := next.AddOverflow(&current, amount); overflow {
		return apperrors.New(apperrors.CodeAmountOverflow, "token balance overflow")
	}
	n.setTokenBalance(ledger, addr, next)
	return nil
}

func (n *Network) moveToken(ledger *tokenLedger, from, to common.Address, amount *uint256.Int) error {
	current := ledger.balances[from]
	if current.Lt(amount) {
		return insufficientBalance(asset.Fungible(ledger.info.Address), from, &current, amount)
	}
	var next uint256.Int
	next.Sub(&current, amount)
	n.setTokenBalance(ledger, from, next)
	return n.addToken(ledger, to, amount)
}

func (n *Network) setAllowance(ledger *tokenLedger, owner, spender common.Address, value uint256.Int) {
	spenders, ok := ledger.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]uint256.Int)
		ledger.allowances[owner] = spenders
	}
	previous, existed := spenders[spender]
	spenders[spender] = value
	n.record(func() {
		if existed {
			spenders[spender] = previous
			return
		}
		delete(spenders, spender)
	})
}

func insufficientBalance(a asset.Asset, holder common.Address, balance, amount *uint256.Int) error {
	return apperrors.WithMetadata(apperrors.CodeInsufficientBalance, "insufficient balance",
		map[string]string{"asset": a.String(), "holder": holder.Hex(), "balance": balance.Dec(), "amount": amount.Dec()})
}
