// Package filter translates AIP-160 journal filter expressions into SQL.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// EventDeclarations returns the identifiers accepted in event filters.
func EventDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("kind", filtering.TypeString),
		filtering.DeclareIdent("actor", filtering.TypeString),
		filtering.DeclareIdent("questioner", filtering.TypeString),
		filtering.DeclareIdent("asset", filtering.TypeString),
		filtering.DeclareIdent("recorded_at", filtering.TypeTimestamp),
	)
}

// SQLCondition is a WHERE clause fragment with positional parameters.
type SQLCondition struct {
	Clause string
	Params []any
}

type field struct {
	column    string
	normalize func(value any) (any, error)
}

// Stored values are canonical (checksummed addresses, asset.String, unix
// millis), so literals are normalized the same way before comparison.
var fields = map[string]field{
	"kind":        {column: "kind", normalize: normalizeString},
	"actor":       {column: "actor", normalize: normalizeAddress},
	"questioner":  {column: "questioner", normalize: normalizeAddress},
	"asset":       {column: "asset", normalize: normalizeAsset},
	"recorded_at": {column: "recorded_at", normalize: normalizeTime},
}

// ParseEventFilter parses filterStr and returns its SQL condition. An empty
// filter yields an empty condition.
func ParseEventFilter(filterStr string) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}
	decls, err := EventDeclarations()
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("parse filter: %w", err)
	}
	return translateExpr(parsed.CheckedExpr.GetExpr())
}

func translateExpr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}
	call, ok := e.ExprKind.(*expr.Expr_CallExpr)
	if !ok {
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", e.ExprKind)
	}
	return translateCall(call.CallExpr)
}

func translateCall(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case filtering.FunctionAnd:
		return translateJunction(call.Args, "AND")
	case filtering.FunctionOr:
		return translateJunction(call.Args, "OR")
	case filtering.FunctionEquals:
		return translateComparison(call.Args, "=")
	case filtering.FunctionNotEquals:
		return translateComparison(call.Args, "!=")
	case filtering.FunctionLessThan:
		return translateComparison(call.Args, "<")
	case filtering.FunctionLessEquals:
		return translateComparison(call.Args, "<=")
	case filtering.FunctionGreaterThan:
		return translateComparison(call.Args, ">")
	case filtering.FunctionGreaterEquals:
		return translateComparison(call.Args, ">=")
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateJunction(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) < 2 {
		return SQLCondition{}, fmt.Errorf("%s requires at least 2 arguments", op)
	}
	out, err := translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	for _, arg := range args[1:] {
		next, err := translateExpr(arg)
		if err != nil {
			return SQLCondition{}, err
		}
		params := make([]any, 0, len(out.Params)+len(next.Params))
		params = append(params, out.Params...)
		params = append(params, next.Params...)
		out = SQLCondition{
			Clause: fmt.Sprintf("(%s %s %s)", out.Clause, op, next.Clause),
			Params: params,
		}
	}
	return out, nil
}

func translateComparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	ident, ok := args[0].GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return SQLCondition{}, fmt.Errorf("expected identifier, got %T", args[0].GetExprKind())
	}
	name := ident.IdentExpr.GetName()
	f, ok := fields[name]
	if !ok {
		return SQLCondition{}, fmt.Errorf("unknown field: %s", name)
	}
	raw, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}
	value, err := f.normalize(raw)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("%s: %w", name, err)
	}
	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", f.column, op),
		Params: []any{value},
	}, nil
}

func extractValue(e *expr.Expr) (any, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		if s, ok := kind.ConstExpr.GetConstantKind().(*expr.Constant_StringValue); ok {
			return s.StringValue, nil
		}
		return nil, fmt.Errorf("unsupported constant type: %T", kind.ConstExpr.GetConstantKind())
	case *expr.Expr_CallExpr:
		if kind.CallExpr.GetFunction() == filtering.FunctionTimestamp && len(kind.CallExpr.GetArgs()) == 1 {
			return extractTimestamp(kind.CallExpr.GetArgs()[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.GetFunction())
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractTimestamp(e *expr.Expr) (time.Time, error) {
	c, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a constant string")
	}
	s, ok := c.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, s.StringValue)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", s.StringValue)
	}
	return t, nil
}

func normalizeString(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return s, nil
}

func normalizeAddress(value any) (any, error) {
	s, ok := value.(string)
	if !ok || !common.IsHexAddress(s) {
		return nil, fmt.Errorf("expected hex address, got %v", value)
	}
	return common.HexToAddress(s).Hex(), nil
}

func normalizeAsset(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected asset, got %T", value)
	}
	a, err := asset.Parse(s)
	if err != nil {
		return nil, err
	}
	return a.String(), nil
}

func normalizeTime(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("expected timestamp(...), got %T", value)
	}
	return t.UTC().UnixMilli(), nil
}
