// Package session authenticates API callers. A caller proves control of an
// account by signing a login message with the account key; the service
// answers with a short-lived Ed25519-signed JWT whose subject is the account
// address, and every later request presents that token.
package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
)

const (
	// DefaultTTL is the session lifetime when Config.TTL is zero.
	DefaultTTL = time.Hour
	// DefaultMaxSkew bounds how far a login timestamp may drift from now.
	DefaultMaxSkew = 5 * time.Minute
)

// Config defines how sessions are issued and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
	MaxSkew  time.Duration
	Now      func() time.Time
}

// Token is an issued session.
type Token struct {
	Value     string
	Account   common.Address
	ExpiresAt time.Time
}

// Manager issues and verifies session tokens. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	public ed25519.PublicKey
}

// NewManager validates cfg and fills its defaults.
func NewManager(cfg Config) (*Manager, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" {
		return nil, errors.New("session issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("session audience is required")
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("session key must be %d bytes", ed25519.PrivateKeySize)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg, public: cfg.Key.Public().(ed25519.PublicKey)}, nil
}

// ParseKey decodes a base64 Ed25519 seed or private key.
func ParseKey(raw string) (ed25519.PrivateKey, error) {
	decoded, err := decodeBase64(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}
	switch len(decoded) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	default:
		return nil, fmt.Errorf("session key must be a %d-byte seed or %d-byte key", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// LoginMessage is the text an account signs to open a session.
func LoginMessage(account common.Address, issuedAt time.Time) string {
	return fmt.Sprintf("askmi login\naccount: %s\nissued at: %s", account.Hex(), issuedAt.UTC().Format(time.RFC3339))
}

// Login checks that signature is account's personal_sign signature over
// LoginMessage(account, issuedAt) and issues a session for account.
func (m *Manager) Login(account common.Address, issuedAt time.Time, signature []byte) (Token, error) {
	now := m.cfg.Now().UTC()
	if drift := now.Sub(issuedAt); drift > m.cfg.MaxSkew || drift < -m.cfg.MaxSkew {
		return Token{}, apperrors.WithMetadata(apperrors.CodeUnauthenticated, "login timestamp is outside the accepted window",
			map[string]string{"issued_at": issuedAt.UTC().Format(time.RFC3339)})
	}
	signer, err := recoverSigner(LoginMessage(account, issuedAt), signature)
	if err != nil {
		return Token{}, err
	}
	if signer != account {
		return Token{}, apperrors.WithMetadata(apperrors.CodeUnauthenticated, "signature does not belong to account",
			map[string]string{"account": account.Hex()})
	}
	return m.Issue(account)
}

// Issue signs a session token for account.
func (m *Manager) Issue(account common.Address) (Token, error) {
	now := m.cfg.Now().UTC()
	exp := now.Add(m.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   account.Hex(),
		Audience:  jwt.ClaimStrings{m.cfg.Audience},
		ExpiresAt: jwt.NewNumericDate(exp),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.cfg.Key)
	if err != nil {
		return Token{}, fmt.Errorf("sign session: %w", err)
	}
	return Token{Value: value, Account: account, ExpiresAt: exp}, nil
}

// Verify checks a session token and returns the account it was issued to.
func (m *Manager) Verify(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, apperrors.New(apperrors.CodeUnauthenticated, "session token is required")
	}

	var parsed jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &parsed, func(*jwt.Token) (any, error) {
		return m.public, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return common.Address{}, mapJWTError(err)
	}

	if parsed.Issuer != m.cfg.Issuer {
		return common.Address{}, apperrors.WithMetadata(apperrors.CodeUnauthenticated, "session issuer mismatch",
			map[string]string{"field": "issuer"})
	}
	if !audienceContains(parsed.Audience, m.cfg.Audience) {
		return common.Address{}, apperrors.WithMetadata(apperrors.CodeUnauthenticated, "session audience mismatch",
			map[string]string{"field": "audience"})
	}
	if parsed.ExpiresAt == nil {
		return common.Address{}, apperrors.New(apperrors.CodeUnauthenticated, "session exp is required")
	}
	now := m.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.After(now) {
		return common.Address{}, apperrors.New(apperrors.CodeUnauthenticated, "session is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time) {
		return common.Address{}, apperrors.New(apperrors.CodeUnauthenticated, "session is not active yet")
	}
	if !common.IsHexAddress(parsed.Subject) {
		return common.Address{}, apperrors.WithMetadata(apperrors.CodeUnauthenticated, "session subject is not an account",
			map[string]string{"field": "sub"})
	}
	return common.HexToAddress(parsed.Subject), nil
}

// recoverSigner returns the account whose key produced signature over the
// EIP-191 text hash of message. Recovery ids 27 and 28 are accepted.
func recoverSigner(message string, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, apperrors.WithMetadata(apperrors.CodeUnauthenticated, "signature must be 65 bytes",
			map[string]string{"field": "signature"})
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, apperrors.Wrap(apperrors.CodeUnauthenticated, "signature is invalid", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeUnauthenticated, "session signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeUnauthenticated, "session alg is invalid")
	}
	return apperrors.New(apperrors.CodeUnauthenticated, "session token is invalid")
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
