package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"certledger.org/internal/certs"
	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
)

const multipartMemory = 8 << 20

func (a *API) handleCertificates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueCertificate(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.verifyCertificate(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleCertificateResource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/certificates/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getCertificate(w, r, raw)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) issueCertificate(w http.ResponseWriter, r *http.Request) {
	if a.certs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "issuance disabled")
		return
	}
	writer, ok := requireCaller(w, r)
	if !ok {
		return
	}
	file, err := readUpload(r)
	if err != nil {
		writeError(w, r, uploadStatus(err), err.Error())
		return
	}
	raw := r.FormValue("metadata")
	if strings.TrimSpace(raw) == "" {
		writeError(w, r, http.StatusBadRequest, "metadata is required")
		return
	}
	var md certs.Metadata
	if err := decodeStrict(strings.NewReader(raw), &md); err != nil {
		writeError(w, r, http.StatusBadRequest, "metadata: "+err.Error())
		return
	}

	rcpt, err := a.certs.Issue(r.Context(), file, md, writer)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/certificates/"+rcpt.Hash.String())
	writeJSON(w, http.StatusCreated, rcpt)
}

func (a *API) verifyCertificate(w http.ResponseWriter, r *http.Request) {
	if a.certs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "verification disabled")
		return
	}
	file, err := readUpload(r)
	if err != nil {
		writeError(w, r, uploadStatus(err), err.Error())
		return
	}
	v, err := a.certs.Verify(r.Context(), file)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) getCertificate(w http.ResponseWriter, r *http.Request, raw string) {
	hash, err := parseHash(raw)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	rec, ok, err := a.registry.Lookup(r.Context(), hash)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

var errFileRequired = errors.New("file is required")

// readUpload returns the "file" part of a multipart request.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, multipart.ErrMessageTooLarge) || isMaxBytes(err) {
			return nil, err
		}
		return nil, fmt.Errorf("multipart form: %w", err)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, errFileRequired
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func uploadStatus(err error) int {
	if isMaxBytes(err) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func isMaxBytes(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func parseHash(raw string) (fingerprint.Fingerprint, error) {
	h, err := fingerprint.Parse(raw)
	if err != nil {
		return fingerprint.Fingerprint{}, fmt.Errorf("%w: %v", ledger.ErrInvalidHash, err)
	}
	if h.IsZero() {
		return fingerprint.Fingerprint{}, ledger.ErrInvalidHash
	}
	return h, nil
}
