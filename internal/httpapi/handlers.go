// Package httpapi exposes the certificate registry over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"certledger.org/internal/audit"
	"certledger.org/internal/certs"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
	"certledger.org/internal/stream"
)

const serviceName = "certd"

// ReadyProbe: проверка готовности зависимостей (БД, кэш, узел реестра).
type ReadyProbe struct {
	DB     *sql.DB
	Checks map[string]func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for name, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return errors.New(name + ": " + err.Error())
		}
	}
	return nil
}

// Options wires the API to the rest of the service.
type Options struct {
	Certs    *certs.Service
	Registry ledger.Registry
	Audit    audit.Store
	Stream   *stream.Stream
	Ready    ReadyProbe
	Version  string

	AllowTokenIssue bool
	TokenTTL        time.Duration

	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	Logger logrus.FieldLogger
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	certs      *certs.Service
	registry   ledger.Registry
	audit      audit.Store
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
	log        logrus.FieldLogger

	allowTokenIssue bool
	tokenTTL        time.Duration

	maxBody    int64
	ratePerSec float64
	rateBurst  int
	origins    []string
}

func New(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = obs.Logger()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	a := &API{
		mux:             http.NewServeMux(),
		certs:           opts.Certs,
		registry:        opts.Registry,
		audit:           opts.Audit,
		stream:          opts.Stream,
		readyProbe:      opts.Ready,
		version:         opts.Version,
		log:             opts.Logger,
		allowTokenIssue: opts.AllowTokenIssue,
		tokenTTL:        opts.TokenTTL,
		maxBody:         opts.MaxBodyBytes,
		ratePerSec:      opts.RateLimitRPS,
		rateBurst:       opts.RateLimitBurst,
		origins:         opts.CORSOrigins,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/certificates", a.handleCertificates)
	a.mux.HandleFunc("/v1/certificates/verify", a.handleVerify)
	a.mux.HandleFunc("/v1/certificates/", a.handleCertificateResource)

	a.mux.HandleFunc("/v1/writers", a.handleWriters)
	a.mux.HandleFunc("/v1/writers/", a.handleWriterResource)

	a.mux.HandleFunc("/v1/ledger/events", a.handleEvents)
	a.mux.HandleFunc("/v1/transactions", a.handleTransactions)
	a.mux.HandleFunc("/v1/transactions/", a.handleTransactionResource)
	a.mux.HandleFunc("/v1/stats", a.handleStats)

	a.mux.HandleFunc("/v1/events/stream", a.Stream)
	a.mux.HandleFunc("/v1/events/ws", a.StreamWS)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.registry != nil {
		if owner, err := a.registry.Owner(r.Context()); err == nil {
			info["owner"] = owner.String()
		}
	}
	if a.stream != nil {
		info["subscribers"] = a.stream.Subscribers()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	return decodeStrict(reader, dst)
}

func decodeStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleLedgerError maps the error taxonomy onto HTTP status codes.
func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch ledger.Classify(err) {
	case ledger.ErrValidation:
		writeError(w, r, http.StatusBadRequest, err.Error())
	case ledger.ErrAuthorization:
		writeError(w, r, http.StatusForbidden, err.Error())
	case ledger.ErrConflict:
		writeError(w, r, http.StatusConflict, err.Error())
	case ledger.ErrNotFound:
		writeError(w, r, http.StatusNotFound, err.Error())
	case ledger.ErrUnavailable:
		writeError(w, r, http.StatusServiceUnavailable, "backend unavailable")
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, r, http.StatusServiceUnavailable, "backend unavailable")
			return
		}
		obs.Logger().WithField("request_id", RequestIDFromContext(r.Context())).
			WithError(err).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
