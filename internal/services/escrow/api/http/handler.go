// Package httpapi exposes ledger instances, the factory and devnet helpers as
// a JSON API. Amounts are base-10 strings of base units; errors are
// google.rpc.Status documents.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/platform/pagination"
	"github.com/louisbranch/askmi/internal/platform/requestctx"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
	"github.com/louisbranch/askmi/internal/services/escrow/factory"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
	"github.com/louisbranch/askmi/internal/services/escrow/session"
	"github.com/louisbranch/askmi/internal/services/escrow/simnet"
	"github.com/louisbranch/askmi/internal/services/escrow/storage"
)

const tracerName = "github.com/louisbranch/askmi/internal/services/escrow/api/http"

// Registry creates and resolves instances.
type Registry interface {
	Instantiate(ctx context.Context, caller common.Address, p factory.Params) (*ledger.Instance, error)
	Instance(address common.Address) (*ledger.Instance, error)
	Instances() []common.Address
	Modules() []fee.ModuleID
}

// Devnet is the settlement surface behind the devnet helper routes.
type Devnet interface {
	Credit(ctx context.Context, to common.Address, amount *uint256.Int) error
	DeployToken(ctx context.Context, symbol string, decimals uint8) (simnet.Token, error)
	Mint(ctx context.Context, token, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error
	Balance(a asset.Asset, holder common.Address) (asset.Amount, error)
	Token(address common.Address) (simnet.Token, error)
	Tokens() []simnet.Token
}

// Sessions authenticates callers.
type Sessions interface {
	Login(account common.Address, issuedAt time.Time, signature []byte) (session.Token, error)
	Verify(token string) (common.Address, error)
}

// Config holds the optional collaborators and limits of a Handler.
type Config struct {
	// Sessions enables the login route and bearer-token callers. Without
	// it every request is anonymous.
	Sessions Sessions
	// Devnet enables the faucet, token and balance routes when set.
	Devnet Devnet
	// Journal enables the event routes when set.
	Journal storage.EventStore
	// FaucetLimit caps a single faucet credit. Zero means no cap.
	FaucetLimit asset.Amount
	// EventPages bounds event listing page sizes.
	EventPages pagination.PageSizeConfig
}

// Handler serves the escrow API.
type Handler struct {
	registry Registry
	cfg      Config
	tracer   trace.Tracer
	mux      *http.ServeMux
}

type apiFunc func(w http.ResponseWriter, r *http.Request) error

// New builds the API routes.
func New(registry Registry, cfg Config) *Handler {
	if cfg.EventPages.Default <= 0 {
		cfg.EventPages = pagination.PageSizeConfig{Default: 50, Max: 200}
	}
	h := &Handler{
		registry: registry,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		mux:      http.NewServeMux(),
	}

	if cfg.Sessions != nil {
		h.handle("POST /v1/sessions", h.login)
	}
	h.handle("POST /v1/instances", h.createInstance)
	h.handle("GET /v1/instances", h.listInstances)
	h.handle("GET /v1/modules", h.listModules)
	h.handle("GET /v1/instances/{instance}", h.getInstance)
	h.handle("GET /v1/instances/{instance}/tiers/{asset}", h.getTiers)
	h.handle("GET /v1/instances/{instance}/assets", h.listAssets)
	h.handle("GET /v1/instances/{instance}/questioners", h.listQuestioners)
	h.handle("GET /v1/instances/{instance}/questions/{questioner}", h.listQuestions)
	h.handle("POST /v1/instances/{instance}/ask", h.ask)
	h.handle("POST /v1/instances/{instance}/respond", h.respond)
	h.handle("POST /v1/instances/{instance}/remove", h.remove)
	h.handle("POST /v1/instances/{instance}/tip", h.tip)
	h.handle("PUT /v1/instances/{instance}/tiers/{asset}", h.updateTiers)
	h.handle("PUT /v1/instances/{instance}/tip-config", h.updateTip)
	h.handle("PUT /v1/instances/{instance}/fees", h.updateFees)
	h.handle("POST /v1/instances/{instance}/toggle-disabled", h.toggleDisabled)
	h.handle("PUT /v1/instances/{instance}/modules/{module}", h.setModuleTrust)

	if cfg.Journal != nil {
		h.handle("GET /v1/instances/{instance}/events", h.listEvents)
		h.handle("GET /v1/instances/{instance}/events/{seq}", h.getEvent)
	}
	if cfg.Devnet != nil {
		h.handle("POST /v1/faucet", h.faucet)
		h.handle("POST /v1/tokens", h.deployToken)
		h.handle("GET /v1/tokens", h.listTokens)
		h.handle("POST /v1/tokens/{token}/mint", h.mint)
		h.handle("POST /v1/tokens/{token}/approve", h.approve)
		h.handle("GET /v1/accounts/{account}/balance", h.balance)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handle registers fn under pattern inside a server span named after the
// route. Returned errors are rendered with writeError.
func (h *Handler) handle(pattern string, fn apiFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, pattern,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.route", pattern),
				attribute.String("http.request.method", r.Method),
			),
		)
		defer span.End()

		ctx, err := h.identify(ctx, r)
		if err == nil {
			if caller, ok := requestctx.CallerFromContext(ctx); ok {
				span.SetAttributes(attribute.String("askmi.caller", caller.Hex()))
			}
			r = r.WithContext(ctx)
			err = fn(w, r)
		}
		if err != nil {
			code := apperrors.CodeOf(err)
			span.RecordError(err)
			span.SetAttributes(attribute.String("askmi.error.code", string(code)))
			span.SetStatus(otelcodes.Error, string(code))
			writeError(w, r, err)
		}
	})
}

// identify stores the account of a bearer session in ctx. Requests without
// an Authorization header stay anonymous.
func (h *Handler) identify(ctx context.Context, r *http.Request) (context.Context, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ctx, nil
	}
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ctx, apperrors.New(apperrors.CodeUnauthenticated, "authorization must be a bearer token")
	}
	if h.cfg.Sessions == nil {
		return ctx, apperrors.New(apperrors.CodeUnauthenticated, "sessions are not enabled")
	}
	caller, err := h.cfg.Sessions.Verify(token)
	if err != nil {
		return ctx, err
	}
	return requestctx.WithCaller(ctx, caller), nil
}

func (h *Handler) instance(r *http.Request) (*ledger.Instance, error) {
	address, err := parseAddress("instance", r.PathValue("instance"))
	if err != nil {
		return nil, err
	}
	return h.registry.Instance(address)
}
