package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/louisbranch/askmi/internal/platform/config"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/factory"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
	"github.com/louisbranch/askmi/internal/services/escrow/session"
)

// DefaultFactoryAddress is used when ASKMI_FACTORY_ADDRESS is unset.
var DefaultFactoryAddress = common.BytesToAddress(crypto.Keccak256([]byte("askmi.factory")))

// Config is the escrow runtime configuration, read from ASKMI_* variables.
// Human-unit amounts use NativeDecimals.
type Config struct {
	HTTPPort       int            `env:"HTTP_PORT" envDefault:"8095"`
	HealthPort     int            `env:"HEALTH_PORT" envDefault:"8096"`
	DBPath         string         `env:"JOURNAL_DB_PATH" envDefault:"data/escrow.db"`
	FactoryAddress common.Address `env:"FACTORY_ADDRESS"`

	// A bootstrap instance is created at startup when Owner is set.
	Owner          common.Address `env:"OWNER"`
	FeeRecipient   common.Address `env:"FEE_RECIPIENT"`
	InitialTiers   string         `env:"INITIAL_TIERS" envDefault:"0.1,1,10"`
	TipAmount      string         `env:"TIP_AMOUNT" envDefault:"0.01"`
	NativeDecimals int32          `env:"NATIVE_DECIMALS" envDefault:"18"`
	DevFeeBps      uint16         `env:"DEV_FEE_BPS" envDefault:"200"`
	RemovalFeeBps  uint16         `env:"REMOVAL_FEE_BPS" envDefault:"100"`
	TipPolicy      string         `env:"TIP_POLICY" envDefault:"open"`

	// Devnet enables the faucet, token and balance routes.
	Devnet      bool   `env:"DEVNET" envDefault:"true"`
	FaucetLimit string `env:"FAUCET_LIMIT" envDefault:"100"`

	// SessionSigningKey is a base64 Ed25519 seed or private key. When empty
	// a key is generated at startup and sessions end with the process.
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY"`
	SessionIssuer     string        `env:"SESSION_ISSUER" envDefault:"askmi"`
	SessionAudience   string        `env:"SESSION_AUDIENCE" envDefault:"askmi.escrow"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"1h"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) factoryAddress() common.Address {
	if c.FactoryAddress == (common.Address{}) {
		return DefaultFactoryAddress
	}
	return c.FactoryAddress
}

func (c Config) sessions() (*session.Manager, error) {
	var key ed25519.PrivateKey
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		log.Printf("ASKMI_SESSION_SIGNING_KEY is unset; using an ephemeral session key")
	} else {
		var err error
		if key, err = session.ParseKey(c.SessionSigningKey); err != nil {
			return nil, err
		}
	}
	return session.NewManager(session.Config{
		Issuer:   c.SessionIssuer,
		Audience: c.SessionAudience,
		Key:      key,
		TTL:      c.SessionTTL,
	})
}

func (c Config) tipPolicy() (ledger.TipPolicy, error) {
	return ledger.ParseTipPolicy(c.TipPolicy)
}

func (c Config) faucetLimit() (asset.Amount, error) {
	if strings.TrimSpace(c.FaucetLimit) == "" {
		return asset.Amount{}, nil
	}
	limit, err := asset.ParseUnits(c.FaucetLimit, c.NativeDecimals)
	if err != nil {
		return asset.Amount{}, fmt.Errorf("faucet limit: %w", err)
	}
	return limit, nil
}

// bootstrapParams returns the parameters of the startup instance, or false
// when no owner is configured.
func (c Config) bootstrapParams() (factory.Params, bool, error) {
	if c.Owner == (common.Address{}) {
		return factory.Params{}, false, nil
	}
	feeRecipient := c.FeeRecipient
	if feeRecipient == (common.Address{}) {
		feeRecipient = c.Owner
	}
	tiers, err := asset.ParseUnitsList(c.InitialTiers, c.NativeDecimals)
	if err != nil {
		return factory.Params{}, false, fmt.Errorf("initial tiers: %w", err)
	}
	tip, err := asset.ParseUnits(c.TipAmount, c.NativeDecimals)
	if err != nil {
		return factory.Params{}, false, fmt.Errorf("tip amount: %w", err)
	}
	return factory.Params{
		Owner:        c.Owner,
		FeeRecipient: feeRecipient,
		InitialAsset: asset.Native(),
		InitialTiers: tiers,
		TipAmount:    tip,
		DevFeeBps:    c.DevFeeBps,
	}, true, nil
}
