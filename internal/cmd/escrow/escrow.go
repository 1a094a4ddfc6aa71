// Package escrow parses escrow service flags and launches the service.
package escrow

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/askmi/internal/platform/cmd"
	server "github.com/louisbranch/askmi/internal/services/escrow/app"
)

// ParseConfig parses environment and flags into the escrow runtime config.
func ParseConfig(fs *flag.FlagSet, args []string) (server.Config, error) {
	var cfg server.Config
	err := entrypoint.ParseConfigFromArgs(&cfg, fs, args, func(fs *flag.FlagSet, cfg *server.Config) {
		fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The escrow HTTP API port")
		fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The gRPC health port")
		fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the event journal database")
		fs.BoolVar(&cfg.Devnet, "devnet", cfg.Devnet, "Expose faucet and token routes")
	})
	if err != nil {
		return server.Config{}, err
	}
	return cfg, nil
}

// Run starts the escrow service.
func Run(ctx context.Context, cfg server.Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEscrow, func(ctx context.Context) error {
		return server.Run(ctx, cfg)
	})
}
