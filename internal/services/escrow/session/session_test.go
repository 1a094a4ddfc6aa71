package session

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
)

var fixedNow = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func testKey(seed byte) ed25519.PrivateKey {
	raw := make([]byte, ed25519.SeedSize)
	for i := range raw {
		raw[i] = seed
	}
	return ed25519.NewKeyFromSeed(raw)
}

func newTestManager(t *testing.T, key ed25519.PrivateKey, now *time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Issuer:   "askmi",
		Audience: "askmi.escrow",
		Key:      key,
		Now:      func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func accountKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func personalSign(t *testing.T, key *ecdsa.PrivateKey, message string) []byte {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig
}

func isUnauthenticated(err error) bool {
	return errors.Is(err, apperrors.New(apperrors.CodeUnauthenticated, ""))
}

func TestNewManagerValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing issuer", cfg: Config{Audience: "a", Key: testKey(1)}},
		{name: "missing audience", cfg: Config{Issuer: "i", Key: testKey(1)}},
		{name: "short key", cfg: Config{Issuer: "i", Audience: "a", Key: ed25519.PrivateKey{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewManager(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoginIssuesVerifiableSession(t *testing.T) {
	t.Parallel()

	now := fixedNow
	m := newTestManager(t, testKey(1), &now)
	key, account := accountKey(t)

	issuedAt := now.Add(-time.Minute)
	token, err := m.Login(account, issuedAt, personalSign(t, key, LoginMessage(account, issuedAt)))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token.Account != account {
		t.Fatalf("token account = %s, want %s", token.Account.Hex(), account.Hex())
	}
	if !token.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("expires at = %v, want %v", token.ExpiresAt, now.Add(DefaultTTL))
	}

	got, err := m.Verify(token.Value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != account {
		t.Fatalf("verified account = %s, want %s", got.Hex(), account.Hex())
	}

	now = now.Add(DefaultTTL)
	if _, err := m.Verify(token.Value); !isUnauthenticated(err) {
		t.Fatalf("expired verify error = %v", err)
	}
}

func TestLoginRejections(t *testing.T) {
	t.Parallel()

	now := fixedNow
	m := newTestManager(t, testKey(1), &now)
	key, account := accountKey(t)
	otherKey, _ := accountKey(t)

	stale := now.Add(-DefaultMaxSkew - time.Second)
	future := now.Add(DefaultMaxSkew + time.Second)
	tests := []struct {
		name      string
		issuedAt  time.Time
		signature []byte
	}{
		{name: "signed by another key", issuedAt: now, signature: personalSign(t, otherKey, LoginMessage(account, now))},
		{name: "signed a different timestamp", issuedAt: now, signature: personalSign(t, key, LoginMessage(account, now.Add(-time.Second)))},
		{name: "stale timestamp", issuedAt: stale, signature: personalSign(t, key, LoginMessage(account, stale))},
		{name: "future timestamp", issuedAt: future, signature: personalSign(t, key, LoginMessage(account, future))},
		{name: "truncated signature", issuedAt: now, signature: personalSign(t, key, LoginMessage(account, now))[:64]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Login(account, tt.issuedAt, tt.signature); !isUnauthenticated(err) {
				t.Fatalf("error = %v, want unauthenticated", err)
			}
		})
	}
}

func TestVerifyRejectsForgedTokens(t *testing.T) {
	t.Parallel()

	now := fixedNow
	m := newTestManager(t, testKey(1), &now)
	_, account := accountKey(t)

	foreign := newTestManager(t, testKey(2), &now)
	foreignToken, err := foreign.Issue(account)
	if err != nil {
		t.Fatalf("issue foreign: %v", err)
	}

	otherAudience, err := NewManager(Config{Issuer: "askmi", Audience: "elsewhere", Key: testKey(1), Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	audienceToken, err := otherAudience.Issue(account)
	if err != nil {
		t.Fatalf("issue audience: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "askmi",
		Subject:   account.Hex(),
		Audience:  jwt.ClaimStrings{"askmi.escrow"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "other signing key", token: foreignToken.Value},
		{name: "other audience", token: audienceToken.Value},
		{name: "alg none", token: unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Verify(tt.token); !isUnauthenticated(err) {
				t.Fatalf("error = %v, want unauthenticated", err)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	t.Parallel()

	key := testKey(7)
	fromSeed, err := ParseKey(base64.StdEncoding.EncodeToString(key.Seed()))
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	if !fromSeed.Equal(key) {
		t.Fatal("seed did not produce the same key")
	}
	fromKey, err := ParseKey(base64.RawStdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if !fromKey.Equal(key) {
		t.Fatal("raw key did not round trip")
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected length error")
	}
	if _, err := ParseKey(""); err == nil {
		t.Fatal("expected empty key error")
	}
}
