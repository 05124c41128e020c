package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/certificates":             "/v1/certificates",
		"/v1/certificates/verify":      "/v1/certificates/verify",
		"/v1/certificates/0xabc":       "/v1/certificates/:hash",
		"/v1/certificates/0xabc/extra": "/v1/certificates/0xabc/extra",
		"/v1/writers/0x1111":           "/v1/writers/:address",
		"/v1/writers":                  "/v1/writers",
		"/v1/ledger/events?limit=10":   "/v1/ledger/events",
		"/v1/transactions":             "/v1/transactions",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsCanonicalRoute(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/certificates/:hash", "404"))
	for _, hash := range []string{"0xaa", "0xbb"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/certificates/"+hash, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/certificates/:hash", "404"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests counted, got %v", after-before)
	}
}

func TestSetLevel(t *testing.T) {
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if err := SetLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	_ = SetLevel("info")
}
