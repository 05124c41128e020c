package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"certledger.org/internal/audit"
	"certledger.org/internal/ledger"
)

type writerRequest struct {
	Address string `json:"address"`
}

type writerResponse struct {
	Address string `json:"address"`
	Trusted bool   `json:"trusted"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type listEventsResponse struct {
	Items     []ledger.Event `json:"items"`
	NextAfter uint64         `json:"next_after"`
	AsOf      time.Time      `json:"as_of"`
}

type listTransactionsResponse struct {
	Items     []audit.Entry `json:"items"`
	NextAfter int64         `json:"next_after"`
	AsOf      time.Time     `json:"as_of"`
}

func (a *API) handleWriters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.authorizeWriter(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleWriterResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/writers/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	addr, err := ledger.ParseAddress(raw)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getWriter(w, r, addr)
	case http.MethodDelete:
		a.revokeWriter(w, r, addr)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) getWriter(w http.ResponseWriter, r *http.Request, addr ledger.Address) {
	trusted, err := a.registry.IsTrusted(r.Context(), addr)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writerResponse{Address: addr.String(), Trusted: trusted})
}

func (a *API) authorizeWriter(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req writerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := ledger.ParseAddress(req.Address)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	evt, err := a.registry.Authorize(r.Context(), caller, addr)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ledger.writer.authorize", map[string]any{
		"address":  addr.String(),
		"sequence": evt.Sequence,
		"tx_ref":   evt.TxRef,
	})
	w.Header().Set("Location", "/v1/writers/"+addr.String())
	writeJSON(w, http.StatusCreated, evt)
}

func (a *API) revokeWriter(w http.ResponseWriter, r *http.Request, addr ledger.Address) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	evt, err := a.registry.Revoke(r.Context(), caller, addr)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ledger.writer.revoke", map[string]any{
		"address":  addr.String(),
		"sequence": evt.Sequence,
		"tx_ref":   evt.TxRef,
	})
	writeJSON(w, http.StatusOK, evt)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	after, err := parseAfter(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, next, err := a.registry.Events(r.Context(), after, limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Items: items, NextAfter: next, AsOf: time.Now().UTC()})
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "transaction log disabled")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	after, err := parseAfter(r.URL.Query().Get("after"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, next, err := a.audit.List(r.Context(), int64(after), limit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, NextAfter: next, AsOf: time.Now().UTC()})
}

// handleTransactionResource serves POST /v1/transactions/{tx_ref}/status.
// Only the ledger owner may change a mirrored entry's status.
func (a *API) handleTransactionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
	txRef, ok := strings.CutSuffix(path, "/status")
	if !ok || txRef == "" || strings.Contains(txRef, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "transaction log disabled")
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	owner, err := a.registry.Owner(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if caller != owner {
		handleLedgerError(w, r, ledger.ErrUnauthorized)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.audit.SetStatus(r.Context(), txRef, strings.TrimSpace(req.Status)); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "audit.transaction.status", map[string]any{
		"tx_ref": txRef,
		"status": req.Status,
	})
	writeJSON(w, http.StatusOK, map[string]any{"tx_ref": txRef, "status": strings.TrimSpace(req.Status)})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "transaction log disabled")
		return
	}
	stats, err := a.audit.Stats(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func parseAfter(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 63)
	if err != nil {
		return 0, errors.New("after must be a non-negative integer")
	}
	return v, nil
}
