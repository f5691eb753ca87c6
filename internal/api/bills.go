package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/bher20/telebill/internal/auth"
	"github.com/bher20/telebill/internal/billing"
	"github.com/bher20/telebill/internal/metrics"
)

// billDTO is the wire format of a monthly bill. Prices are presented as
// "R$ <amount>" strings; the decimal values stay internal.
type billDTO struct {
	PhoneNumber string        `json:"phone_number"`
	Period      string        `json:"period"`
	Total       string        `json:"total_price"`
	Calls       []billCallDTO `json:"call_records"`
}

type billCallDTO struct {
	Destination   string `json:"destination"`
	CallStartDate string `json:"call_start_date"`
	CallStartTime string `json:"call_start_time"`
	Duration      string `json:"duration"`
	Price         string `json:"price"`
}

func toBillDTO(bill *billing.Bill) billDTO {
	dto := billDTO{
		PhoneNumber: bill.PhoneNumber,
		Period:      bill.Period,
		Total:       fmt.Sprintf("R$ %s", bill.Total.StringFixed(2)),
		Calls:       []billCallDTO{},
	}
	for _, c := range bill.Calls {
		dto.Calls = append(dto.Calls, billCallDTO{
			Destination:   c.Destination,
			CallStartDate: c.StartedAt.Format("2006-01-02"),
			CallStartTime: c.StartedAt.Format("15:04:05"),
			Duration:      c.Duration,
			Price:         fmt.Sprintf("R$ %s", c.Price.StringFixed(2)),
		})
	}
	return dto
}

func registerBillRoutes(mux *http.ServeMux, svc *billing.Service, authSvc *auth.Service) {
	mux.Handle("/api/v1/bills", withAuth(authSvc, "bills", "read", instrument("/api/v1/bills", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		phoneNumber := r.URL.Query().Get("phone_number")
		if phoneNumber == "" {
			writeError(w, http.StatusBadRequest, "Phone number is required.")
			return
		}
		period := r.URL.Query().Get("period")

		bill, err := svc.BuildBill(r.Context(), phoneNumber, period)
		if err != nil {
			switch {
			case errors.Is(err, billing.ErrInvalidPeriod):
				writeError(w, http.StatusBadRequest, "Invalid period format. Use YYYY-MM.")
			case errors.Is(err, billing.ErrInvalidRecord):
				writeError(w, http.StatusBadRequest, "Invalid phone number.")
			default:
				log.Printf("build bill %s %s failed: %v", phoneNumber, period, err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		metrics.BillsBuiltTotal.WithLabelValues("api").Inc()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toBillDTO(bill))
	})))
}
