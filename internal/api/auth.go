package api

import (
	"encoding/json"
	"net/http"

	"github.com/bher20/telebill/internal/auth"
	"github.com/bher20/telebill/internal/storage"
)

func registerAuthRoutes(mux *http.ServeMux, authSvc *auth.Service) {
	if authSvc == nil {
		return
	}

	mux.HandleFunc("/api/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "Username and password are required.")
			return
		}
		if req.Role == "" {
			req.Role = "viewer"
		}

		u, err := authSvc.Register(r.Context(), req.Username, req.Password, req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(u)
	})

	mux.HandleFunc("/api/v1/auth/tokens", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Username  string `json:"username"`
			Password  string `json:"password"`
			Name      string `json:"name"`
			ExpiresIn string `json:"expires_in"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		u, err := authSvc.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		expiresAt, err := auth.ParseExpirationDuration(req.ExpiresIn)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		tok, raw, err := authSvc.CreateToken(r.Context(), u.ID, req.Name, u.Role, expiresAt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(struct {
			Token *storage.Token `json:"token"`
			Value string         `json:"value"`
		}{Token: tok, Value: raw})
	})
}
