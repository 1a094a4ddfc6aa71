package simnet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func balance(t *testing.T, n *Network, a asset.Asset, holder common.Address) uint64 {
	t.Helper()
	got, err := n.Balance(a, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return got.Uint64()
}

func isCode(err error, code apperrors.Code) bool {
	return errors.Is(err, apperrors.New(code, ""))
}

func TestNativeTransfer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(4)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, n, asset.Native(), alice); got != 6 {
		t.Fatalf("alice = %d, want 6", got)
	}
	if got := balance(t, n, asset.Native(), bob); got != 4 {
		t.Fatalf("bob = %d, want 4", got)
	}

	err := n.TransferNative(ctx, alice, bob, uint256.NewInt(7))
	if !isCode(err, apperrors.CodeInsufficientBalance) {
		t.Fatalf("overdraft error = %v", err)
	}
	if got := balance(t, n, asset.Native(), alice); got != 6 {
		t.Fatalf("alice after failed transfer = %d, want 6", got)
	}
}

func TestHookRejectionRevertsTransfer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	n.SetHook(bob, func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("no thanks")
	})

	err := n.TransferNative(ctx, alice, bob, uint256.NewInt(5))
	if !isCode(err, apperrors.CodeReceiverRejected) {
		t.Fatalf("error = %v, want receiver rejected", err)
	}
	if got := balance(t, n, asset.Native(), alice); got != 10 {
		t.Fatalf("alice = %d, want 10", got)
	}
	if got := balance(t, n, asset.Native(), bob); got != 0 {
		t.Fatalf("bob = %d, want 0", got)
	}

	n.SetHook(bob, nil)
	if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(5)); err != nil {
		t.Fatalf("transfer after clearing hook: %v", err)
	}
}

func TestHookCanReenterNetwork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	// bob forwards whatever arrives to carol from inside the hook.
	n.SetHook(bob, func(ctx context.Context, _ common.Address, amount *uint256.Int) error {
		return n.TransferNative(ctx, bob, carol, amount)
	})

	if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(3)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, n, asset.Native(), carol); got != 3 {
		t.Fatalf("carol = %d, want 3", got)
	}
	if got := balance(t, n, asset.Native(), bob); got != 0 {
		t.Fatalf("bob = %d, want 0", got)
	}
}

func TestHookWithoutItsContextFailsFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	var inner error
	n.SetHook(bob, func(context.Context, common.Address, *uint256.Int) error {
		inner = n.TransferNative(context.Background(), bob, carol, uint256.NewInt(1))
		return inner
	})

	done := make(chan error, 1)
	go func() { done <- n.TransferNative(ctx, alice, bob, uint256.NewInt(3)) }()
	select {
	case err := <-done:
		if !isCode(err, apperrors.CodeReceiverRejected) {
			t.Fatalf("outer error = %v, want receiver rejected", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not return")
	}
	if !isCode(inner, apperrors.CodeReentrantCall) {
		t.Fatalf("inner error = %v, want reentrant call", inner)
	}
	if got := balance(t, n, asset.Native(), alice); got != 10 {
		t.Fatalf("alice = %d, want 10", got)
	}

	n.SetHook(bob, nil)
	if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(3)); err != nil {
		t.Fatalf("transfer after hook removed: %v", err)
	}
}

func TestPanicRevertsTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	committed := false
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = n.Atomically(ctx, func(ctx context.Context) error {
			if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(4)); err != nil {
				return err
			}
			n.OnCommit(ctx, func() { committed = true })
			panic("settlement bug")
		})
	}()

	if committed {
		t.Fatal("commit callback ran after panic")
	}
	if got := balance(t, n, asset.Native(), alice); got != 10 {
		t.Fatalf("alice = %d, want 10", got)
	}
	if got := balance(t, n, asset.Native(), bob); got != 0 {
		t.Fatalf("bob = %d, want 0", got)
	}
	if id := n.Snapshot(); id != 0 {
		t.Fatalf("journal length after panic = %d, want 0", id)
	}
	if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(1)); err != nil {
		t.Fatalf("transfer after panic: %v", err)
	}
}

func TestAtomicallyRevertsEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	token, err := n.DeployToken(ctx, "DAI", 18)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	undone := false
	committed := false
	boom := errors.New("boom")
	err = n.Atomically(ctx, func(ctx context.Context) error {
		if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(10)); err != nil {
			return err
		}
		if err := n.Mint(ctx, token.Address, bob, uint256.NewInt(5)); err != nil {
			return err
		}
		n.Journal(ctx, func() { undone = true })
		n.OnCommit(ctx, func() { committed = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if got := balance(t, n, asset.Native(), alice); got != 10 {
		t.Fatalf("alice = %d, want 10", got)
	}
	if got := balance(t, n, asset.Fungible(token.Address), bob); got != 0 {
		t.Fatalf("bob tokens = %d, want 0", got)
	}
	if !undone {
		t.Fatal("expected journaled undo to run")
	}
	if committed {
		t.Fatal("expected commit callback to be dropped")
	}
}

func TestNestedScopeRevertKeepsOuterChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var order []string
	err := n.Atomically(ctx, func(ctx context.Context) error {
		if err := n.TransferNative(ctx, alice, bob, uint256.NewInt(2)); err != nil {
			return err
		}
		n.OnCommit(ctx, func() { order = append(order, "outer") })
		inner := n.Atomically(ctx, func(ctx context.Context) error {
			n.OnCommit(ctx, func() { order = append(order, "inner") })
			_ = n.TransferNative(ctx, alice, carol, uint256.NewInt(3))
			return errors.New("inner failure")
		})
		if inner == nil {
			t.Error("expected inner failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomically: %v", err)
	}
	if got := balance(t, n, asset.Native(), bob); got != 2 {
		t.Fatalf("bob = %d, want 2", got)
	}
	if got := balance(t, n, asset.Native(), carol); got != 0 {
		t.Fatalf("carol = %d, want 0", got)
	}
	if len(order) != 1 || order[0] != "outer" {
		t.Fatalf("commit callbacks = %v, want [outer]", order)
	}
}

func TestOnCommitOutsideTransactionRunsNow(t *testing.T) {
	t.Parallel()

	n := New()
	ran := false
	n.OnCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatal("expected immediate run")
	}
}

func TestTokenTransferFrom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	token, err := n.DeployToken(ctx, "DAI", 18)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if token.Address == (common.Address{}) {
		t.Fatal("expected token address")
	}
	if err := n.Mint(ctx, token.Address, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	err = n.TransferTokenFrom(ctx, token.Address, bob, alice, bob, uint256.NewInt(10))
	if !isCode(err, apperrors.CodeInsufficientAllowance) {
		t.Fatalf("error without allowance = %v", err)
	}

	if err := n.Approve(ctx, token.Address, alice, bob, uint256.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := n.TransferTokenFrom(ctx, token.Address, bob, alice, carol, uint256.NewInt(10)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := n.Allowance(token.Address, alice, bob)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Uint64() != 20 {
		t.Fatalf("allowance = %d, want 20", allowance.Uint64())
	}
	if got := balance(t, n, asset.Fungible(token.Address), carol); got != 10 {
		t.Fatalf("carol = %d, want 10", got)
	}

	if err := n.Approve(ctx, token.Address, alice, bob, uint256.NewInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err = n.TransferTokenFrom(ctx, token.Address, bob, alice, carol, uint256.NewInt(200))
	if !isCode(err, apperrors.CodeInsufficientBalance) {
		t.Fatalf("overdraft error = %v", err)
	}
	allowance, _ = n.Allowance(token.Address, alice, bob)
	if allowance.Uint64() != 500 {
		t.Fatalf("allowance after failed pull = %d, want 500", allowance.Uint64())
	}
}

func TestMaxAllowanceIsNotSpent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	token, _ := n.DeployToken(ctx, "DAI", 18)
	_ = n.Mint(ctx, token.Address, alice, uint256.NewInt(100))
	max := new(uint256.Int).SetAllOne()
	if err := n.Approve(ctx, token.Address, alice, bob, max); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := n.TransferTokenFrom(ctx, token.Address, bob, alice, bob, uint256.NewInt(50)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, _ := n.Allowance(token.Address, alice, bob)
	if !allowance.Eq(max) {
		t.Fatalf("allowance = %s, want max", allowance.Dec())
	}
}

func TestUnknownToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	missing := common.HexToAddress("0x1234")
	if err := n.Mint(ctx, missing, alice, uint256.NewInt(1)); !isCode(err, apperrors.CodeUnknownToken) {
		t.Fatalf("mint error = %v", err)
	}
	if _, err := n.Balance(asset.Fungible(missing), alice); !isCode(err, apperrors.CodeUnknownToken) {
		t.Fatalf("balance error = %v", err)
	}
	if _, err := n.Token(missing); err == nil {
		t.Fatal("expected token lookup error")
	}
}

func TestDeployTokenAddressesAreDistinct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	first, _ := n.DeployToken(ctx, "AAA", 6)
	second, _ := n.DeployToken(ctx, "BBB", 18)
	if first.Address == second.Address {
		t.Fatal("expected distinct token addresses")
	}
	if got := len(n.Tokens()); got != 2 {
		t.Fatalf("tokens = %d, want 2", got)
	}
}

func TestCreditOverflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, new(uint256.Int).SetAllOne()); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := n.Credit(ctx, alice, uint256.NewInt(1)); !isCode(err, apperrors.CodeAmountOverflow) {
		t.Fatalf("overflow error = %v", err)
	}
}

func TestConcurrentTransactionsSerialize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n := New()
	if err := n.Credit(ctx, alice, uint256.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = n.TransferNative(ctx, alice, bob, uint256.NewInt(1))
			_, _ = n.Balance(asset.Native(), bob)
		}()
	}
	wg.Wait()
	if got := balance(t, n, asset.Native(), bob); got != 50 {
		t.Fatalf("bob = %d, want 50", got)
	}
}
