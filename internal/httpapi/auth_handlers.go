package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"certledger.org/internal/audit"
	"certledger.org/internal/auth"
	"certledger.org/internal/ledger"
)

type tokenRequest struct {
	Address string `json:"address"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken mints a bearer token for an address. It is a development
// aid and is only mounted when token issuance is allowed.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.allowTokenIssue {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, r, http.StatusBadRequest, "address is required")
		return
	}
	addr, err := ledger.ParseAddress(req.Address)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	token, expiresAt, err := auth.GenerateToken(addr, a.tokenTTL)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSecret) {
			writeError(w, r, http.StatusServiceUnavailable, "authentication not configured")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"address":    addr.String(),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Address:   addr.String(),
		ExpiresAt: expiresAt,
	})
}
