package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"google.golang.org/protobuf/encoding/protojson"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/platform/requestctx"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/question"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as a google.rpc.Status. Errors outside the domain
// taxonomy are logged and reported as internal without their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			log.Printf("request %s %s request_id=%s: %v", r.Method, r.URL.Path, requestctx.RequestIDFromContext(r.Context()), err)
			appErr = apperrors.New(apperrors.CodeUnknown, "request canceled")
		default:
			log.Printf("request %s %s request_id=%s: %v", r.Method, r.URL.Path, requestctx.RequestIDFromContext(r.Context()), err)
			appErr = apperrors.New(apperrors.CodeUnknown, "internal error")
		}
	}
	body, marshalErr := protojson.Marshal(appErr.Status())
	if marshalErr != nil {
		log.Printf("marshal status: %v", marshalErr)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code.HTTPStatus())
	_, _ = w.Write(body)
}

func invalid(field, format string, args ...any) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidRequest, fmt.Sprintf(format, args...),
		map[string]string{"field": field})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("body", "request body is required")
		}
		return invalid("body", "decode request body: %v", err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	value := strings.TrimSpace(raw)
	if !common.IsHexAddress(value) {
		return common.Address{}, invalid(field, "%s must be a hex address", field)
	}
	return common.HexToAddress(value), nil
}

func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

func callerOf(r *http.Request) (common.Address, error) {
	caller, ok := requestctx.CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, apperrors.New(apperrors.CodeUnauthenticated, "a bearer session is required")
	}
	return caller, nil
}

func parseAsset(field, raw string) (asset.Asset, error) {
	a, err := asset.Parse(raw)
	if err != nil {
		return asset.Asset{}, invalid(field, "%v", err)
	}
	return a, nil
}

func parseAmount(field, raw string) (asset.Amount, error) {
	amount, err := asset.ParseAmount(raw)
	if err != nil {
		return asset.Amount{}, invalid(field, "%v", err)
	}
	return amount, nil
}

// parseValue reads the optional attached native value. Empty means none.
func parseValue(raw string) (*asset.Amount, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	amount, err := parseAmount("value", raw)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

func parseAmounts(field string, raws []string) ([]asset.Amount, error) {
	out := make([]asset.Amount, 0, len(raws))
	for i, raw := range raws {
		amount, err := parseAmount(fmt.Sprintf("%s[%d]", field, i), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, amount)
	}
	return out, nil
}

func parseHash(field, raw string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, invalid(field, "%s must be 32 hex-encoded bytes", field)
	}
	return common.BytesToHash(b), nil
}

func parseAux(field, raw string) (question.Aux, error) {
	aux, err := question.ParseAux(raw)
	if err != nil {
		return question.Aux{}, invalid(field, "%v", err)
	}
	return aux, nil
}

func amountStrings(amounts []asset.Amount) []string {
	out := make([]string, len(amounts))
	for i := range amounts {
		out[i] = amounts[i].Dec()
	}
	return out
}
