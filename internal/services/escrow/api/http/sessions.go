package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type loginRequest struct {
	Account   string `json:"account"`
	IssuedAt  string `json:"issued_at"`
	Signature string `json:"signature"`
}

type sessionView struct {
	Token     string `json:"token"`
	Account   string `json:"account"`
	ExpiresAt string `json:"expires_at"`
}

// login exchanges a personal_sign signature over session.LoginMessage for a
// bearer token.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return err
	}
	issuedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.IssuedAt))
	if err != nil {
		return invalid("issued_at", "issued_at must be an RFC 3339 timestamp")
	}
	signature, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil {
		return invalid("signature", "signature must be 0x-prefixed hex")
	}
	token, err := h.cfg.Sessions.Login(account, issuedAt, signature)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, sessionView{
		Token:     token.Value,
		Account:   token.Account.Hex(),
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return nil
}
