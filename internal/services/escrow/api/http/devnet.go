package httpapi

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
)

// Native currency is displayed with 18 decimals.
const nativeDecimals = 18

type faucetRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type deployTokenRequest struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tokenView struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type balanceView struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
	Display string `json:"display"`
}

func (h *Handler) faucet(w http.ResponseWriter, r *http.Request) error {
	var req faucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	if limit := h.cfg.FaucetLimit; !limit.IsZero() && amount.Gt(&limit) {
		return apperrors.WithMetadata(apperrors.CodeInvalidRequest, "amount exceeds faucet limit",
			map[string]string{"field": "amount", "limit": limit.Dec()})
	}
	if err := h.cfg.Devnet.Credit(r.Context(), account, &amount); err != nil {
		return err
	}
	return h.writeBalance(w, asset.Native(), account)
}

func (h *Handler) deployToken(w http.ResponseWriter, r *http.Request) error {
	var req deployTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if req.Symbol == "" {
		return invalid("symbol", "symbol is required")
	}
	token, err := h.cfg.Devnet.DeployToken(r.Context(), req.Symbol, req.Decimals)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, tokenView{Address: token.Address.Hex(), Symbol: token.Symbol, Decimals: token.Decimals})
	return nil
}

func (h *Handler) listTokens(w http.ResponseWriter, _ *http.Request) error {
	tokens := h.cfg.Devnet.Tokens()
	out := make([]tokenView, len(tokens))
	for i, token := range tokens {
		out[i] = tokenView{Address: token.Address.Hex(), Symbol: token.Symbol, Decimals: token.Decimals}
	}
	writeJSON(w, http.StatusOK, map[string][]tokenView{"tokens": out})
	return nil
}

func (h *Handler) mint(w http.ResponseWriter, r *http.Request) error {
	token, err := parseAddress("token", r.PathValue("token"))
	if err != nil {
		return err
	}
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	if err := h.cfg.Devnet.Mint(r.Context(), token, to, &amount); err != nil {
		return err
	}
	return h.writeBalance(w, asset.Fungible(token), to)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) error {
	owner, err := callerOf(r)
	if err != nil {
		return err
	}
	token, err := parseAddress("token", r.PathValue("token"))
	if err != nil {
		return err
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	if err := h.cfg.Devnet.Approve(r.Context(), token, owner, spender, &amount); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) error {
	account, err := parseAddress("account", r.PathValue("account"))
	if err != nil {
		return err
	}
	a, err := parseAsset("asset", r.URL.Query().Get("asset"))
	if err != nil {
		return err
	}
	return h.writeBalance(w, a, account)
}

func (h *Handler) writeBalance(w http.ResponseWriter, a asset.Asset, account common.Address) error {
	balance, err := h.cfg.Devnet.Balance(a, account)
	if err != nil {
		return err
	}
	decimals := int32(nativeDecimals)
	if !a.IsNative() {
		token, err := h.cfg.Devnet.Token(a.Token)
		if err != nil {
			return err
		}
		decimals = int32(token.Decimals)
	}
	writeJSON(w, http.StatusOK, balanceView{
		Account: account.Hex(),
		Asset:   a.String(),
		Balance: balance.Dec(),
		Display: asset.FormatUnits(&balance, decimals),
	})
	return nil
}
