// Package config loads process configuration from ASKMI_ environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// EnvPrefix is prepended to every env tag parsed by ParseEnv.
const EnvPrefix = "ASKMI_"

// ParseEnv loads configuration from environment variables. Tags are relative
// to EnvPrefix, so `env:"HTTP_PORT"` reads ASKMI_HTTP_PORT. Fields of type
// common.Address accept 0x-prefixed hex and reject anything else.
func ParseEnv(target any) error {
	return ParseEnvWithPrefix(target, EnvPrefix)
}

// ParseEnvWithPrefix is ParseEnv with an explicit prefix.
func ParseEnvWithPrefix(target any, prefix string) error {
	opts := env.Options{
		Prefix: prefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(common.Address{}): parseAddress,
		},
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func parseAddress(raw string) (any, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return nil, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(value), nil
}
