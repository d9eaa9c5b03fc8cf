package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wipecert/internal/certificate"
	"wipecert/internal/reporting"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// HealthHandler handles GET /v1/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	n := s.chain.Len()
	chainLength.Set(float64(n))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"chain_length": n,
		"tip":          s.chain.Tip().String(),
	})
}

type certificateSummary struct {
	Position     int    `json:"position"`
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Device       string `json:"device"`
	Serial       string `json:"serial,omitempty"`
	ResultStatus string `json:"result_status"`
	Incomplete   bool   `json:"incomplete"`
	IssuedAt     string `json:"issued_at"`
	PayloadHash  string `json:"payload_hash"`
	PreviousHash string `json:"previous_hash"`
}

// ListHandler handles GET /v1/certificates?offset=N&limit=M
func (s *Server) ListHandler(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	certs := s.chain.Snapshot()
	total := len(certs)
	if offset > total {
		offset = total
	}
	if limit > total-offset {
		limit = total - offset
	}
	end := offset + limit

	items := make([]certificateSummary, 0, end-offset)
	for i := offset; i < end; i++ {
		c := certs[i]
		items = append(items, certificateSummary{
			Position:     i + 1,
			ID:           c.ID,
			SessionID:    c.SessionID,
			Device:       c.DeviceIdentity.Path,
			Serial:       c.DeviceIdentity.Serial,
			ResultStatus: c.ResultStatus,
			Incomplete:   c.Incomplete,
			IssuedAt:     c.IssuedAt.Format(time.RFC3339),
			PayloadHash:  c.PayloadHash.String(),
			PreviousHash: c.PreviousHash.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"offset":       offset,
		"certificates": items,
	})
}

// GetHandler handles GET /v1/certificates/{id}. ?format=text renders the
// certificate for people.
func (s *Server) GetHandler(w http.ResponseWriter, r *http.Request) {
	cert, pos, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") == "text" {
		text, err := reporting.RenderCertificate(cert)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(text)) //nolint:errcheck
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position":    pos,
		"certificate": cert,
	})
}

// VerifyCertificateHandler handles GET /v1/certificates/{id}/verify. The
// certificate is checked on its own; the result is marked unlinked.
func (s *Server) VerifyCertificateHandler(w http.ResponseWriter, r *http.Request) {
	cert, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, certificate.VerifySingle(cert, s.publicKey()))
}

// VerifyChainHandler handles GET /v1/chain/verify
func (s *Server) VerifyChainHandler(w http.ResponseWriter, r *http.Request) {
	certs := s.chain.Snapshot()
	chainLength.Set(float64(len(certs)))
	res := certificate.Verify(certs, s.publicKey())
	code := http.StatusOK
	if !res.Valid() {
		code = http.StatusConflict
	}
	writeJSON(w, code, res)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*certificate.Certificate, int, bool) {
	id := chi.URLParam(r, "id")
	cert, pos, err := s.chain.ByID(id)
	if err != nil {
		if errors.Is(err, certificate.ErrNotFound) {
			writeError(w, http.StatusNotFound, "certificate not found: "+id)
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, 0, false
	}
	return cert, pos, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + ": " + v)
	}
	return n, nil
}
