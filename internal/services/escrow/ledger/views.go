package ledger

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/question"
)

// read runs fn under the read lock. Inside one of i's own operations the
// write lock is already held by the call path, so the lock is skipped.
func (i *Instance) read(ctx context.Context, fn func()) {
	if !i.entered(ctx) {
		i.mu.RLock()
		defer i.mu.RUnlock()
	}
	fn()
}

// Tiers returns the tier sequence for a.
func (i *Instance) Tiers(ctx context.Context, a asset.Asset) []asset.Amount {
	var out []asset.Amount
	i.read(ctx, func() { out = i.tiers.Tiers(a) })
	return out
}

// SupportedAssets returns the assets accepting new questions, in the order
// they first became supported.
func (i *Instance) SupportedAssets(ctx context.Context) []asset.Asset {
	var out []asset.Asset
	i.read(ctx, func() { out = i.tiers.SupportedAssets() })
	return out
}

// Questions returns questioner's sequence. Indices are only valid until the
// next removal for the same questioner.
func (i *Instance) Questions(ctx context.Context, questioner common.Address) []question.Question {
	var out []question.Question
	i.read(ctx, func() { out = i.book.Questions(questioner) })
	return out
}

// Question returns one question.
func (i *Instance) Question(ctx context.Context, questioner common.Address, index int) (question.Question, error) {
	var (
		out question.Question
		err error
	)
	i.read(ctx, func() { out, err = i.book.Get(questioner, index) })
	return out, err
}

// Questioners lists every identity that has asked, in first-ask order.
func (i *Instance) Questioners(ctx context.Context) []common.Address {
	var out []common.Address
	i.read(ctx, func() { out = i.book.Questioners() })
	return out
}

// Config returns a copy of the current configuration.
func (i *Instance) Config(ctx context.Context) Config {
	var out Config
	i.read(ctx, func() { out = i.config })
	return out
}

// Owner returns the identity allowed to answer and administer.
func (i *Instance) Owner(ctx context.Context) common.Address {
	return i.Config(ctx).Owner
}

// FeeRecipient returns the identity receiving withheld fees.
func (i *Instance) FeeRecipient(ctx context.Context) common.Address {
	return i.Config(ctx).FeeRecipient
}

// Fees returns the dev and removal fees in basis points.
func (i *Instance) Fees(ctx context.Context) (devFeeBps, removalFeeBps uint16) {
	cfg := i.Config(ctx)
	return cfg.DevFeeBps, cfg.RemovalFeeBps
}

// Tip returns the tip amount and the asset it is paid in.
func (i *Instance) Tip(ctx context.Context) (asset.Amount, asset.Asset) {
	cfg := i.Config(ctx)
	return cfg.TipAmount, cfg.TipAsset
}

// TipPolicy returns which question states accept tips.
func (i *Instance) TipPolicy(ctx context.Context) TipPolicy {
	return i.Config(ctx).TipPolicy
}

// Disabled reports whether new questions are rejected for module. The zero ID
// is the default module.
func (i *Instance) Disabled(ctx context.Context, module fee.ModuleID) bool {
	var out bool
	i.read(ctx, func() {
		if module == (fee.ModuleID{}) {
			module = i.config.DefaultModule
		}
		out = i.disabled[module]
	})
	return out
}

// TrustedModules lists the modules calls may route through.
func (i *Instance) TrustedModules(ctx context.Context) []fee.ModuleID {
	var out []fee.ModuleID
	i.read(ctx, func() {
		for id, trusted := range i.trusted {
			if trusted {
				out = append(out, id)
			}
		}
	})
	sort.Slice(out, func(a, b int) bool { return out[a].Cmp(out[b]) < 0 })
	return out
}

// Escrowed sums the tier amounts of open questions per asset. This is the
// balance the instance must hold for those questions.
func (i *Instance) Escrowed(ctx context.Context) map[asset.Asset]asset.Amount {
	out := make(map[asset.Asset]asset.Amount)
	i.read(ctx, func() {
		i.book.Each(func(_ int, q question.Question) bool {
			if q.Answered {
				return true
			}
			total := out[q.Asset]
			var next uint256.Int
			next.Add(&total, &q.TierAmount)
			out[q.Asset] = next
			return true
		})
	})
	return out
}
