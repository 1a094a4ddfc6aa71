// Package question defines escrowed question records and the per-questioner
// sequences that hold them.
package question

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// AuxSize is the byte width of an auxiliary blob.
const AuxSize = 32

// Aux is an opaque fixed-size blob stored alongside a question. By convention
// it carries public-key material; it is never interpreted here.
type Aux [AuxSize]byte

// AuxFromBytes left-aligns b into an Aux. Inputs longer than AuxSize fail.
func AuxFromBytes(b []byte) (Aux, error) {
	var a Aux
	if len(b) > AuxSize {
		return a, fmt.Errorf("aux blob is %d bytes, max %d", len(b), AuxSize)
	}
	copy(a[:], b)
	return a, nil
}

// ParseAux decodes a 0x-prefixed hex blob.
func ParseAux(raw string) (Aux, error) {
	if raw == "" {
		return Aux{}, nil
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		return Aux{}, fmt.Errorf("decode aux: %w", err)
	}
	return AuxFromBytes(b)
}

// Hex returns the 0x-prefixed encoding.
func (a Aux) Hex() string {
	return hexutil.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Aux) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Aux) UnmarshalText(text []byte) error {
	parsed, err := ParseAux(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Status is the lifecycle state of a stored question. Removed questions are
// deleted, so they have no stored status.
type Status int

const (
	StatusOpen Status = iota
	StatusAnswered
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAnswered:
		return "answered"
	default:
		return "unknown"
	}
}

// Question is one escrowed request. TierAmount is the gross amount collected
// at ask time, copied from the tier table.
type Question struct {
	Questioner  common.Address
	Asset       asset.Asset
	ContentHash common.Hash
	AuxPart1    Aux
	AuxPart2    Aux
	TierAmount  asset.Amount
	Answered    bool
	TipCount    uint64
}

// Status reports whether q is open or answered.
func (q Question) Status() Status {
	if q.Answered {
		return StatusAnswered
	}
	return StatusOpen
}

// Matches reports whether the content reference and aux blobs equal the stored
// ones.
func (q Question) Matches(contentHash common.Hash, aux1, aux2 Aux) bool {
	return q.ContentHash == contentHash && q.AuxPart1 == aux1 && q.AuxPart2 == aux2
}
