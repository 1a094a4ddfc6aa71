// Package gateway is the only path by which escrowed value enters or leaves a
// ledger instance.
package gateway

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
)

// Network settles native and token transfers.
//
// Atomically must run fn so that an error reverts every transfer and journaled
// change made within it, and must nest when ctx already carries a
// transaction. Transfers may call back into services through ctx.
type Network interface {
	Atomically(ctx context.Context, fn func(context.Context) error) error
	Journal(ctx context.Context, undo func())
	OnCommit(ctx context.Context, fn func())
	TransferNative(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferToken(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	TransferTokenFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error
}

// Gateway moves value in and out of one escrow account.
type Gateway struct {
	net    Network
	escrow common.Address
}

// New returns a gateway for the escrow account.
func New(net Network, escrow common.Address) *Gateway {
	return &Gateway{net: net, escrow: escrow}
}

// Escrow returns the account holding escrowed value.
func (g *Gateway) Escrow() common.Address {
	return g.escrow
}

// Atomically runs fn as one all-or-nothing unit.
func (g *Gateway) Atomically(ctx context.Context, fn func(context.Context) error) error {
	return g.net.Atomically(ctx, fn)
}

// Journal registers undo for the enclosing unit.
func (g *Gateway) Journal(ctx context.Context, undo func()) {
	g.net.Journal(ctx, undo)
}

// OnCommit runs fn after the outermost unit commits.
func (g *Gateway) OnCommit(ctx context.Context, fn func()) {
	g.net.OnCommit(ctx, fn)
}

// Collect pulls amount of a from the payer into escrow. For the native
// currency the attached value must equal amount exactly; for tokens nothing
// may be attached and the amount is pulled through the payer's allowance.
func (g *Gateway) Collect(ctx context.Context, a asset.Asset, from common.Address, attached, amount *asset.Amount) error {
	if err := CheckAttached(a, attached, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if a.IsNative() {
		return g.net.TransferNative(ctx, from, g.escrow, amount)
	}
	return g.net.TransferTokenFrom(ctx, a.Token, g.escrow, from, g.escrow, amount)
}

// PayOut sends amount of a from escrow to to. A receiver rejection is a hard
// failure.
func (g *Gateway) PayOut(ctx context.Context, a asset.Asset, to common.Address, amount *asset.Amount) error {
	if amount.IsZero() {
		return nil
	}
	if a.IsNative() {
		return g.net.TransferNative(ctx, g.escrow, to, amount)
	}
	return g.net.TransferToken(ctx, a.Token, g.escrow, to, amount)
}

// PayOutSplit pays each part in order. The parts must sum exactly to amount.
func (g *Gateway) PayOutSplit(ctx context.Context, a asset.Asset, amount *asset.Amount, parts []fee.Part) error {
	var total uint256.Int
	for _, part := range parts {
		if _, overflow := total.AddOverflow(&total, &part.Amount); overflow {
			return apperrors.New(apperrors.CodeAmountOverflow, "split parts overflow")
		}
	}
	if !total.Eq(amount) {
		return apperrors.WithMetadata(apperrors.CodeSplitMismatch, "split parts do not sum to amount",
			map[string]string{"amount": amount.Dec(), "parts": total.Dec()})
	}
	return g.net.Atomically(ctx, func(ctx context.Context) error {
		for _, part := range parts {
			if err := g.PayOut(ctx, a, part.Recipient, &part.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

// CheckAttached validates attached native value against what a call expects.
func CheckAttached(a asset.Asset, attached, amount *asset.Amount) error {
	if attached == nil {
		attached = new(uint256.Int)
	}
	if !a.IsNative() {
		if !attached.IsZero() {
			return apperrors.WithMetadata(apperrors.CodeUnexpectedPayment, "native value attached to token payment",
				map[string]string{"attached": attached.Dec()})
		}
		return nil
	}
	if !attached.Eq(amount) {
		return apperrors.WithMetadata(apperrors.CodePaymentMismatch, "attached value does not match amount",
			map[string]string{"attached": attached.Dec(), "amount": amount.Dec()})
	}
	return nil
}
