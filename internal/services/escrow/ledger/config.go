package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
)

const (
	// DefaultDevFeeBps is the developer fee withheld when a question is answered.
	DefaultDevFeeBps uint16 = 200
	// DefaultRemovalFeeBps is the penalty withheld when a question is withdrawn.
	DefaultRemovalFeeBps uint16 = 100
)

// TipPolicy decides which questions accept tips.
type TipPolicy int

const (
	// TipOpenOnly accepts tips on open questions only.
	TipOpenOnly TipPolicy = iota
	// TipOpenOrAnswered also accepts tips after a question is answered.
	TipOpenOrAnswered
)

func (p TipPolicy) String() string {
	switch p {
	case TipOpenOnly:
		return "open"
	case TipOpenOrAnswered:
		return "open_or_answered"
	default:
		return "unknown"
	}
}

// ParseTipPolicy accepts the String forms.
func ParseTipPolicy(raw string) (TipPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "open":
		return TipOpenOnly, nil
	case "open_or_answered":
		return TipOpenOrAnswered, nil
	default:
		return TipOpenOnly, fmt.Errorf("unknown tip policy %q", raw)
	}
}

// Allows reports whether a question in the given answered state takes tips.
func (p TipPolicy) Allows(answered bool) bool {
	return !answered || p == TipOpenOrAnswered
}

// Config is the owner-controlled configuration of an instance.
type Config struct {
	Owner         common.Address
	FeeRecipient  common.Address
	DevFeeBps     uint16
	RemovalFeeBps uint16
	TipAsset      asset.Asset
	TipAmount     asset.Amount
	TipPolicy     TipPolicy
	// DefaultModule serves calls that do not name a module. It is always
	// trusted.
	DefaultModule fee.ModuleID
}

// DefaultConfig returns a config with the default fees and module. Owner and
// FeeRecipient must still be set.
func DefaultConfig() Config {
	return Config{
		DevFeeBps:     DefaultDevFeeBps,
		RemovalFeeBps: DefaultRemovalFeeBps,
		TipPolicy:     TipOpenOnly,
		DefaultModule: fee.StandardID,
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if c.Owner == (common.Address{}) {
		return apperrors.New(apperrors.CodeInvalidConfiguration, "owner is required")
	}
	if c.FeeRecipient == (common.Address{}) {
		return apperrors.New(apperrors.CodeInvalidConfiguration, "fee recipient is required")
	}
	if c.DefaultModule == (fee.ModuleID{}) {
		return apperrors.New(apperrors.CodeInvalidConfiguration, "default module is required")
	}
	if err := fee.ValidateBps(c.DevFeeBps); err != nil {
		return err
	}
	if err := fee.ValidateBps(c.RemovalFeeBps); err != nil {
		return err
	}
	if c.TipPolicy != TipOpenOnly && c.TipPolicy != TipOpenOrAnswered {
		return apperrors.New(apperrors.CodeInvalidConfiguration, "unknown tip policy")
	}
	return nil
}
