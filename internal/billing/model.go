// Package billing assembles monthly phone bills from the stored call records,
// pricing each completed call through the tariff calculator.
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one priced call on a bill.
type LineItem struct {
	Destination string          `json:"destination"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    string          `json:"duration"`
	Price       decimal.Decimal `json:"price"`
}

// Bill is the monthly bill for one subscriber.
type Bill struct {
	PhoneNumber string          `json:"phone_number"`
	Period      string          `json:"period"`
	Total       decimal.Decimal `json:"total"`
	Calls       []LineItem      `json:"calls"`
}
