package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"certledger.org/internal/auth"
	"certledger.org/internal/certs"
	"certledger.org/internal/fingerprint"
)

func init() { color.NoColor = true }

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestHashCommand(t *testing.T) {
	path := writeTemp(t, "doc.pdf", "hello")
	var out, errOut bytes.Buffer
	if code := run([]string{"hash", path}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	h, _ := fingerprint.NewHasher(fingerprint.SHA256)
	want := h.Sum([]byte("hello")).String()
	if !strings.HasPrefix(out.String(), want) {
		t.Fatalf("got %q, want prefix %q", out.String(), want)
	}
}

func TestUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Fatalf("no args: exit %d", code)
	}
	if code := run([]string{"hash"}, &out, &errOut); code != 2 {
		t.Fatalf("missing file: exit %d", code)
	}
	if code := run([]string{"bogus"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command: exit %d", code)
	}
}

func TestTokenCommand(t *testing.T) {
	defer auth.ResetSecretForTests()
	var out, errOut bytes.Buffer
	code := run([]string{"token", "-secret", "0123456789abcdef0123", "0x1111111111111111111111111111111111111111"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	claims, err := auth.ParseAndValidate(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("token does not validate: %v", err)
	}
	if claims.Subject != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestVerifyCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/certificates/verify" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "file is required", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(certs.Verification{
			Valid:    true,
			Metadata: &certs.Metadata{RecipientName: "Ada Lovelace"},
		})
	}))
	defer srv.Close()

	path := writeTemp(t, "doc.pdf", "hello")
	var out, errOut bytes.Buffer
	if code := run([]string{"verify", "-server", srv.URL, path}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "VALID") || !strings.Contains(out.String(), "Ada Lovelace") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestIssueReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"caller is not authorized","request_id":"r-1"}`))
	}))
	defer srv.Close()

	path := writeTemp(t, "doc.pdf", "hello")
	md := writeTemp(t, "md.json", `{"recipient_name":"a","course_name":"b","institution":"c","issue_date":"d"}`)
	var out, errOut bytes.Buffer
	code := run([]string{"issue", "-server", srv.URL, "-token", "t", "-metadata", md, path}, &out, &errOut)
	if code != 1 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(errOut.String(), "caller is not authorized") || !strings.Contains(errOut.String(), "r-1") {
		t.Fatalf("unexpected stderr %q", errOut.String())
	}
}
