package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/bher20/telebill/internal/auth"
	"github.com/bher20/telebill/internal/billing"
	"github.com/bher20/telebill/internal/metrics"
	"github.com/bher20/telebill/internal/storage"
)

// callRecordRequest is the wire format of one call event.
type callRecordRequest struct {
	CallID      string `json:"call_id"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
}

func registerCallRoutes(mux *http.ServeMux, svc *billing.Service, authSvc *auth.Service) {
	mux.Handle("/api/v1/calls", withAuth(authSvc, "calls", "write", instrument("/api/v1/calls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req callRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.Timestamp == "" {
			writeError(w, http.StatusBadRequest, "Timestamp is required.")
			return
		}
		ts, err := parseTimestamp(req.Timestamp, svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timestamp format.")
			return
		}

		rec := storage.CallRecord{
			CallID:      req.CallID,
			Type:        req.Type,
			Timestamp:   ts,
			Source:      req.Source,
			Destination: req.Destination,
		}
		if err := svc.RecordCall(r.Context(), rec); err != nil {
			switch {
			case errors.Is(err, storage.ErrDuplicateRecord):
				writeError(w, http.StatusConflict, "A record with this call_id and type already exists.")
			case errors.Is(err, billing.ErrInvalidRecord):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				log.Printf("record call failed: %v", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		metrics.CallRecordsTotal.WithLabelValues(req.Type).Inc()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(rec)
	})))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
