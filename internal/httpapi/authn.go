package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"certledger.org/internal/auth"
	"certledger.org/internal/ledger"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoCaller = errors.New("missing bearer token")

// withAuth resolves a bearer token into the caller identity. Requests without
// a token pass through anonymously; handlers that mutate the ledger demand a caller.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			// Browsers cannot set headers on websocket upgrades.
			if tok := r.URL.Query().Get("access_token"); tok != "" && r.URL.Path == "/v1/events/ws" {
				header = bearer + tok
			}
		}
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				unauthorized(w, r, "invalid token")
			case errors.Is(err, auth.ErrMissingSecret):
				writeError(w, r, http.StatusServiceUnavailable, "authentication not configured")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		caller, err := claims.Caller()
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), caller)))
	})
}

// requireCaller returns the authenticated caller or answers 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, errNoCaller.Error())
		return ledger.Address{}, false
	}
	return caller, true
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="certledger"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoCaller
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoCaller
	}
	return token, nil
}
