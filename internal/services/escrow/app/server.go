// Package server wires the escrow runtime: settlement network, factory,
// event journal, HTTP API and gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/askmi/internal/platform/grpc"
	"github.com/louisbranch/askmi/internal/platform/timeouts"
	httpapi "github.com/louisbranch/askmi/internal/services/escrow/api/http"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
	"github.com/louisbranch/askmi/internal/services/escrow/factory"
	"github.com/louisbranch/askmi/internal/services/escrow/journal"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
	"github.com/louisbranch/askmi/internal/services/escrow/simnet"
	escrowsqlite "github.com/louisbranch/askmi/internal/services/escrow/storage/sqlite"
)

// HealthService is the named service reported by the health endpoint.
const HealthService = "askmi.escrow.v1"

// Server hosts the escrow HTTP API, the gRPC health endpoint and the journal.
type Server struct {
	httpListener   net.Listener
	healthListener net.Listener
	httpServer     *http.Server
	grpcServer     *grpc.Server
	health         *health.Server
	store          *escrowsqlite.Store
	factory        *factory.Factory
	bootstrap      *ledger.Instance
}

// New creates a server listening on the configured ports.
func New(ctx context.Context, cfg Config) (*Server, error) {
	return NewWithAddrs(ctx, cfg, fmt.Sprintf(":%d", cfg.HTTPPort), fmt.Sprintf(":%d", cfg.HealthPort))
}

// NewWithAddrs creates a server for explicit HTTP and health addresses.
func NewWithAddrs(ctx context.Context, cfg Config, httpAddr, healthAddr string) (*Server, error) {
	policy, err := cfg.tipPolicy()
	if err != nil {
		return nil, err
	}
	faucetLimit, err := cfg.faucetLimit()
	if err != nil {
		return nil, err
	}
	sessions, err := cfg.sessions()
	if err != nil {
		return nil, err
	}

	store, err := openJournal(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := &Server{store: store}

	network := simnet.New()
	modules, err := fee.NewDirectory(fee.NewStandard(fee.ModuleID{}))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.factory, err = factory.New(cfg.factoryAddress(), network, modules,
		factory.WithEventSink(journal.NewSink(store)),
		factory.WithTipPolicy(policy),
		factory.WithRemovalFeeBps(cfg.RemovalFeeBps),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.instantiateBootstrap(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	apiCfg := httpapi.Config{Sessions: sessions, Journal: store, FaucetLimit: faucetLimit}
	if cfg.Devnet {
		apiCfg.Devnet = network
	}
	handler := httpapi.Chain(
		httpapi.New(s.factory, apiCfg),
		httpapi.RequestID(),
		httpapi.RecoverPanic(),
		httpapi.Timeout(timeouts.Request),
	)
	s.httpServer = &http.Server{Handler: handler, ReadHeaderTimeout: timeouts.ReadHeader}
	s.grpcServer, s.health = platformgrpc.NewHealthServer(HealthService)

	if s.httpListener, err = net.Listen("tcp", httpAddr); err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	if s.healthListener, err = net.Listen("tcp", healthAddr); err != nil {
		s.Close()
		return nil, fmt.Errorf("listen on %s: %w", healthAddr, err)
	}
	return s, nil
}

// Run creates and serves an escrow server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// HTTPAddr returns the API listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the gRPC health listener address.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Bootstrap returns the instance created at startup, if any.
func (s *Server) Bootstrap() *ledger.Instance {
	if s == nil {
		return nil
	}
	return s.bootstrap
}

// Serve runs both listeners until ctx ends or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("escrow API listening at %v", s.httpListener.Addr())
	log.Printf("escrow health listening at %v", s.healthListener.Addr())
	httpErr := make(chan error, 1)
	grpcErr := make(chan error, 1)
	go func() { httpErr <- s.httpServer.Serve(s.httpListener) }()
	go func() { grpcErr <- s.grpcServer.Serve(s.healthListener) }()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}
		s.grpcServer.GracefulStop()
		return errors.Join(serveResult("HTTP", <-httpErr), serveResult("gRPC", <-grpcErr))
	case err := <-httpErr:
		return serveResult("HTTP", err)
	case err := <-grpcErr:
		return serveResult("gRPC", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.healthListener != nil {
		_ = s.healthListener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close escrow journal: %v", err)
		}
		s.store = nil
	}
}

func (s *Server) instantiateBootstrap(ctx context.Context, cfg Config) error {
	params, ok, err := cfg.bootstrapParams()
	if err != nil || !ok {
		return err
	}
	instance, err := s.factory.Instantiate(ctx, params.Owner, params)
	if err != nil {
		return fmt.Errorf("bootstrap instance: %w", err)
	}
	s.bootstrap = instance
	log.Printf("bootstrap instance %s owned by %s", instance.Address().Hex(), params.Owner.Hex())
	return nil
}

func serveResult(name string, err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve %s: %w", name, err)
}

func openJournal(path string) (*escrowsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := escrowsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open escrow journal: %w", err)
	}
	return store, nil
}
