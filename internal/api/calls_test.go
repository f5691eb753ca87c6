package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bher20/telebill/internal/config"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	return NewMux(config.Config{
		Port:       8000,
		Timezone:   "America/Sao_Paulo",
		DBDriver:   "memory",
		TariffPlan: "standard",
	})
}

func postJSON(t *testing.T, mux *http.ServeMux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestPostCallRecord(t *testing.T) {
	mux := newTestMux(t)

	rr := postJSON(t, mux, "/api/v1/calls", `{
		"call_id": "70",
		"type": "start",
		"timestamp": "2023-10-12T08:00:00",
		"source": "99988526423",
		"destination": "9933468278"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, mux, "/api/v1/calls", `{
		"call_id": "70",
		"type": "end",
		"timestamp": "2023-10-12T08:10:00"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for end record, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPostCallRecordDuplicate(t *testing.T) {
	mux := newTestMux(t)

	body := `{
		"call_id": "71",
		"type": "start",
		"timestamp": "2023-10-12T08:00:00",
		"source": "99988526423",
		"destination": "9933468278"
	}`
	if rr := postJSON(t, mux, "/api/v1/calls", body); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if rr := postJSON(t, mux, "/api/v1/calls", body); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPostCallRecordValidation(t *testing.T) {
	mux := newTestMux(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing timestamp", `{"call_id":"1","type":"start","source":"99988526423","destination":"9933468278"}`},
		{"bad timestamp", `{"call_id":"1","type":"start","timestamp":"yesterday","source":"99988526423","destination":"9933468278"}`},
		{"bad type", `{"call_id":"1","type":"hangup","timestamp":"2023-10-12T08:00:00"}`},
		{"bad source", `{"call_id":"1","type":"start","timestamp":"2023-10-12T08:00:00","source":"99","destination":"9933468278"}`},
		{"missing call id", `{"type":"start","timestamp":"2023-10-12T08:00:00","source":"99988526423","destination":"9933468278"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postJSON(t, mux, "/api/v1/calls", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPostCallRecordRFC3339Timestamp(t *testing.T) {
	mux := newTestMux(t)

	rr := postJSON(t, mux, "/api/v1/calls", `{
		"call_id": "72",
		"type": "start",
		"timestamp": "2023-10-12T11:00:00Z",
		"source": "99988526423",
		"destination": "9933468278"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for RFC3339 timestamp, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCallsMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
