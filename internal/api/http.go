package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bher20/telebill/internal/api/swagger"
	"github.com/bher20/telebill/internal/auth"
	"github.com/bher20/telebill/internal/billing"
	"github.com/bher20/telebill/internal/config"
	"github.com/bher20/telebill/internal/metrics"
	migrate "github.com/bher20/telebill/internal/migrate"
	"github.com/bher20/telebill/internal/notification"
	"github.com/bher20/telebill/internal/storage"
	"github.com/bher20/telebill/internal/tariff"
	"github.com/bher20/telebill/internal/ui"
)

// NewMux constructs the HTTP mux, wiring in the billing service, auth,
// metrics, and health endpoints.
func NewMux(cfg config.Config) *http.ServeMux {
	ctx := context.Background()

	// Optional auto-migration: run `goose up` on startup when enabled.
	if cfg.AutoMigrate && cfg.DBDriver != "memory" {
		if err := migrate.Up(ctx, cfg.DBDriver, cfg.DBDSN); err != nil {
			log.Printf("auto-migration failed: %v", err)
		}
	}

	st, err := storage.Open(ctx, storage.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		log.Printf("storage.Open failed (driver=%s): %v; falling back to in-memory storage", cfg.DBDriver, err)
		st = storage.NewMemory()
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Printf("timezone %q unavailable, using local: %v", cfg.Timezone, err)
		loc = time.Local
	}
	rate, err := cfg.Rate()
	if err != nil {
		log.Printf("tariff plan %q unavailable, using default rate: %v", cfg.TariffPlan, err)
		rate = tariff.DefaultRate()
	}
	svc := billing.NewService(st, tariff.NewCalculator(rate, loc), loc)

	// Auth is opt-in; without it every endpoint is open.
	var authSvc *auth.Service
	if v := os.Getenv("TELEBILL_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil && enabled {
			authSvc, err = auth.NewService(st)
			if err != nil {
				log.Printf("auth init failed, continuing without auth: %v", err)
			}
		}
	}
	notifSvc := notification.NewService(st)

	mux := http.NewServeMux()

	// Metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Health / readiness / liveness.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			log.Printf("readyz: db ping failed: %v", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})

	// Billing API.
	registerCallRoutes(mux, svc, authSvc)
	registerBillRoutes(mux, svc, authSvc)
	registerAuthRoutes(mux, authSvc)
	registerNotificationRoutes(mux, authSvc, notifSvc)

	// API docs.
	mux.Handle("/docs/", http.StripPrefix("/docs", swagger.Handler()))

	// Web UI
	mux.Handle("/ui/", http.StripPrefix("/ui/", ui.Handler()))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/ui/", http.StatusFound)
	})

	return mux
}

// instrument records the request count, duration, and error metrics for one
// route.
func instrument(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.RequestsTotal.WithLabelValues(path).Inc()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)

		metrics.RequestDurationSeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
		if sw.status >= 400 {
			metrics.RequestErrorsTotal.WithLabelValues(path, strconv.Itoa(sw.status)).Inc()
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withAuth wraps a handler with the bearer-token middleware and a permission
// check when auth is enabled, and leaves it open otherwise.
func withAuth(authSvc *auth.Service, obj, act string, h http.HandlerFunc) http.Handler {
	if authSvc == nil {
		return h
	}
	return authSvc.Middleware(authSvc.RequirePermission(obj, act, h))
}

// parseTimestamp accepts RFC3339 timestamps and, for compatibility with
// sources that omit the offset, naive "2006-01-02T15:04:05" values which are
// interpreted in the service timezone.
func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", strings.TrimSpace(value), loc)
}
