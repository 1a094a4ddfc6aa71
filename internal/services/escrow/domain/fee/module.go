// Package fee implements the stateless logic modules that validate tiers and
// compute fee splits on behalf of ledger instances.
//
// Modules are addressed by ID and shared by many instances through a
// Directory, so fee policy can change by registering a new module without
// touching any instance's escrowed balances or question history.
package fee

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// MaxBps is the basis-point denominator: 10000 bps is the whole amount.
const MaxBps = 10000

// ModuleID addresses a logic module.
type ModuleID = common.Address

// Share asks for a basis-point portion of an amount.
type Share struct {
	Recipient common.Address
	Bps       uint16
}

// Part is a concrete amount owed to one recipient.
type Part struct {
	Recipient common.Address
	Amount    asset.Amount
}

// Module validates tier selections and computes fee arithmetic.
//
// Implementations must be stateless and must keep these contracts: Fee rounds
// down, and the parts returned by Split always sum exactly to the input amount.
type Module interface {
	ID() ModuleID
	ValidateTier(tiers []asset.Amount, index int) (asset.Amount, error)
	Fee(amount *asset.Amount, bps uint16) (asset.Amount, error)
	Split(amount *asset.Amount, shares []Share) ([]Part, error)
}

// NewModuleID derives a module ID from a human-readable name.
func NewModuleID(name string) ModuleID {
	return common.BytesToAddress(crypto.Keccak256([]byte(name)))
}

// StandardID is the ID of the Standard module.
var StandardID = NewModuleID("askmi.fee.standard.v1")

// Standard is the default module.
type Standard struct {
	id ModuleID
}

// NewStandard returns a Standard module registered under id. A zero id falls
// back to StandardID.
func NewStandard(id ModuleID) *Standard {
	if id == (ModuleID{}) {
		id = StandardID
	}
	return &Standard{id: id}
}

// ID returns the module address.
func (s *Standard) ID() ModuleID {
	return s.id
}

// ValidateTier returns tiers[index] or a validation error.
func (s *Standard) ValidateTier(tiers []asset.Amount, index int) (asset.Amount, error) {
	if len(tiers) == 0 {
		return asset.Amount{}, apperrors.New(apperrors.CodeUnsupportedAsset, "asset has no tiers")
	}
	if index < 0 || index >= len(tiers) {
		return asset.Amount{}, apperrors.WithMetadata(
			apperrors.CodeTierIndexOutOfRange,
			"tier index out of range",
			map[string]string{"index": strconv.Itoa(index), "tiers": strconv.Itoa(len(tiers))},
		)
	}
	return tiers[index], nil
}

// Fee returns floor(amount * bps / 10000).
func (s *Standard) Fee(amount *asset.Amount, bps uint16) (asset.Amount, error) {
	if err := ValidateBps(bps); err != nil {
		return asset.Amount{}, err
	}
	return mulBps(amount, bps), nil
}

// Split apportions amount across shares. Every share after the first receives
// floor(amount * bps / 10000); the first share receives the remainder, so the
// parts sum exactly to amount. The first share's Bps is ignored.
func (s *Standard) Split(amount *asset.Amount, shares []Share) ([]Part, error) {
	if len(shares) == 0 {
		return nil, apperrors.New(apperrors.CodeSplitMismatch, "split needs at least one share")
	}
	var total uint32
	for _, share := range shares[1:] {
		total += uint32(share.Bps)
	}
	if total > MaxBps {
		return nil, apperrors.New(apperrors.CodeInvalidFeeBps, fmt.Sprintf("split shares total %d bps", total))
	}

	parts := make([]Part, len(shares))
	remainder := *amount
	for i := len(shares) - 1; i >= 1; i-- {
		cut, err := s.Fee(amount, shares[i].Bps)
		if err != nil {
			return nil, err
		}
		parts[i] = Part{Recipient: shares[i].Recipient, Amount: cut}
		remainder.Sub(&remainder, &cut)
	}
	parts[0] = Part{Recipient: shares[0].Recipient, Amount: remainder}
	return parts, nil
}

// ValidateBps rejects basis points above MaxBps.
func ValidateBps(bps uint16) error {
	if bps > MaxBps {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidFeeBps,
			"fee exceeds 10000 bps",
			map[string]string{"bps": strconv.Itoa(int(bps))},
		)
	}
	return nil
}

func mulBps(amount *asset.Amount, bps uint16) asset.Amount {
	var out uint256.Int
	// The quotient never exceeds amount because bps <= MaxBps.
	out.MulDivOverflow(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(MaxBps))
	return out
}

var _ Module = (*Standard)(nil)
