package api

import (
	"encoding/json"
	"net/http"

	"github.com/bher20/telebill/internal/auth"
	"github.com/bher20/telebill/internal/notification"
	"github.com/bher20/telebill/internal/storage"
)

// allowed enforces (obj, act) for the request's token. With auth disabled
// everything is permitted.
func allowed(r *http.Request, authSvc *auth.Service, obj, act string) bool {
	if authSvc == nil {
		return true
	}
	token, ok := r.Context().Value(auth.TokenContextKey).(*storage.Token)
	if !ok {
		return false
	}
	ok, err := authSvc.Enforce(token.UserID, obj, act)
	return err == nil && ok
}

// withMiddleware applies the bearer-token middleware when auth is enabled.
func withMiddleware(authSvc *auth.Service, h http.HandlerFunc) http.Handler {
	if authSvc == nil {
		return h
	}
	return authSvc.Middleware(h)
}

func registerNotificationRoutes(mux *http.ServeMux, authSvc *auth.Service, notifSvc *notification.Service) {
	mux.Handle("/api/v1/settings/email", withMiddleware(authSvc, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if !allowed(r, authSvc, "settings", "read") {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			cfg, err := notifSvc.GetConfig(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if cfg == nil {
				cfg = &storage.EmailConfig{}
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(cfg)

		case http.MethodPut:
			if !allowed(r, authSvc, "settings", "write") {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			var req storage.EmailConfig
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			if err := notifSvc.SaveConfig(r.Context(), req); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			w.WriteHeader(http.StatusOK)

		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}))

	mux.Handle("/api/v1/settings/email/test", withMiddleware(authSvc, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !allowed(r, authSvc, "settings", "write") {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req struct {
			Config storage.EmailConfig `json:"config"`
			To     string              `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := notifSvc.TestConfig(r.Context(), req.Config, req.To); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
}
