// Package tier holds the per-asset tier table and the derived supported-assets
// index.
package tier

import (
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// Registry maps each asset to its ordered tier amounts.
//
// An asset is supported iff its tier sequence is non-empty. The supported
// index lists supported assets in the order they first became supported and is
// kept in sync by Update.
//
// Registry is not safe for concurrent use; the owning ledger instance
// serializes access.
type Registry struct {
	tiers     map[asset.Asset][]asset.Amount
	supported []asset.Asset
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tiers: make(map[asset.Asset][]asset.Amount)}
}

// Tiers returns a copy of the tier sequence for a. Unknown assets yield an
// empty sequence.
func (r *Registry) Tiers(a asset.Asset) []asset.Amount {
	current := r.tiers[a]
	out := make([]asset.Amount, len(current))
	copy(out, current)
	return out
}

// Supported reports whether a has a non-empty tier sequence.
func (r *Registry) Supported(a asset.Asset) bool {
	return len(r.tiers[a]) > 0
}

// SupportedAssets returns a copy of the supported-assets index.
func (r *Registry) SupportedAssets() []asset.Asset {
	out := make([]asset.Asset, len(r.supported))
	copy(out, r.supported)
	return out
}

// Update replaces the whole tier sequence for a and returns the previous one.
// Emptying a sequence drops a from the supported index; filling an empty one
// appends it. No ordering is imposed on amounts and duplicates are kept.
func (r *Registry) Update(a asset.Asset, next []asset.Amount) []asset.Amount {
	previous := r.tiers[a]
	wasSupported := len(previous) > 0

	if len(next) == 0 {
		delete(r.tiers, a)
	} else {
		stored := make([]asset.Amount, len(next))
		copy(stored, next)
		r.tiers[a] = stored
	}

	switch {
	case wasSupported && len(next) == 0:
		r.dropSupported(a)
	case !wasSupported && len(next) > 0:
		r.supported = append(r.supported, a)
	}
	return previous
}

func (r *Registry) dropSupported(a asset.Asset) {
	for i, candidate := range r.supported {
		if candidate != a {
			continue
		}
		r.supported = append(r.supported[:i], r.supported[i+1:]...)
		return
	}
}

// Clone returns an independent copy of r.
func (r *Registry) Clone() *Registry {
	out := &Registry{
		tiers:     make(map[asset.Asset][]asset.Amount, len(r.tiers)),
		supported: make([]asset.Asset, len(r.supported)),
	}
	for a, amounts := range r.tiers {
		stored := make([]asset.Amount, len(amounts))
		copy(stored, amounts)
		out.tiers[a] = stored
	}
	copy(out.supported, r.supported)
	return out
}
