package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func seedCall(t *testing.T, mux *http.ServeMux, callID, source, destination, start, end string) {
	t.Helper()
	rr := postJSON(t, mux, "/api/v1/calls", fmt.Sprintf(`{
		"call_id": %q, "type": "start", "timestamp": %q,
		"source": %q, "destination": %q
	}`, callID, start, source, destination))
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed start %s: got %d: %s", callID, rr.Code, rr.Body.String())
	}
	rr = postJSON(t, mux, "/api/v1/calls", fmt.Sprintf(`{
		"call_id": %q, "type": "end", "timestamp": %q
	}`, callID, end))
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed end %s: got %d: %s", callID, rr.Code, rr.Body.String())
	}
}

func getBill(t *testing.T, mux *http.ServeMux, query string) (*httptest.ResponseRecorder, billDTO) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills"+query, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var dto billDTO
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &dto); err != nil {
			t.Fatalf("decode bill: %v", err)
		}
	}
	return rr, dto
}

func TestGetBill(t *testing.T) {
	mux := newTestMux(t)

	seedCall(t, mux, "70", "99988526423", "9933468278",
		"2023-10-12T08:00:00", "2023-10-12T08:10:00")
	seedCall(t, mux, "71", "99988526423", "9933468278",
		"2023-10-12T23:00:00", "2023-10-12T23:10:00")

	rr, bill := getBill(t, mux, "?phone_number=99988526423&period=2023-10")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if bill.PhoneNumber != "99988526423" || bill.Period != "2023-10" {
		t.Fatalf("unexpected bill header: %+v", bill)
	}
	if len(bill.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(bill.Calls))
	}
	if bill.Calls[0].Price != "R$ 1.26" {
		t.Errorf("standard call price = %q, want %q", bill.Calls[0].Price, "R$ 1.26")
	}
	if bill.Calls[1].Price != "R$ 0.36" {
		t.Errorf("reduced call price = %q, want %q", bill.Calls[1].Price, "R$ 0.36")
	}
	if bill.Total != "R$ 1.62" {
		t.Errorf("total = %q, want %q", bill.Total, "R$ 1.62")
	}
	if bill.Calls[0].CallStartDate != "2023-10-12" || bill.Calls[0].CallStartTime != "08:00:00" {
		t.Errorf("unexpected start fields: %+v", bill.Calls[0])
	}
	if bill.Calls[0].Duration != "0h10m0s" {
		t.Errorf("duration = %q, want %q", bill.Calls[0].Duration, "0h10m0s")
	}
}

func TestGetBillExcludesOtherSubscribers(t *testing.T) {
	mux := newTestMux(t)

	seedCall(t, mux, "80", "99988526423", "9933468278",
		"2023-10-12T08:00:00", "2023-10-12T08:10:00")

	rr, bill := getBill(t, mux, "?phone_number=99911112222&period=2023-10")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(bill.Calls) != 0 {
		t.Fatalf("expected empty bill, got %d calls", len(bill.Calls))
	}
	if bill.Total != "R$ 0.00" {
		t.Errorf("total = %q, want %q", bill.Total, "R$ 0.00")
	}
}

func TestGetBillErrors(t *testing.T) {
	mux := newTestMux(t)

	rr, _ := getBill(t, mux, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing phone: expected 400, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] != "Phone number is required." {
		t.Errorf("error = %q, want %q", resp["error"], "Phone number is required.")
	}

	rr, _ = getBill(t, mux, "?phone_number=99988526423&period=10-2023")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad period: expected 400, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["error"] != "Invalid period format. Use YYYY-MM." {
		t.Errorf("error = %q, want %q", resp["error"], "Invalid period format. Use YYYY-MM.")
	}
}

func TestHealthEndpoints(t *testing.T) {
	mux := newTestMux(t)

	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}
