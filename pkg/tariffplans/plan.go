// Package tariffplans holds the named rate tables a deployment can bill
// against. Plans are registered at startup and resolved by key through the
// service configuration.
package tariffplans

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bher20/telebill/internal/tariff"
)

// Plan describes one tariff plan. Monetary fields are decimal strings and the
// window edges are "HH:MM" local clock times.
type Plan struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	ConnectionFee string `json:"connection_fee"`
	PerMinuteRate string `json:"per_minute_rate"`
	StandardStart string `json:"standard_start"`
	StandardEnd   string `json:"standard_end"`
}

// Rate converts the plan into a tariff.Rate.
func (p Plan) Rate() (tariff.Rate, error) {
	fee, err := decimal.NewFromString(p.ConnectionFee)
	if err != nil {
		return tariff.Rate{}, fmt.Errorf("plan %s: bad connection fee %q: %w", p.Key, p.ConnectionFee, err)
	}
	perMin, err := decimal.NewFromString(p.PerMinuteRate)
	if err != nil {
		return tariff.Rate{}, fmt.Errorf("plan %s: bad per-minute rate %q: %w", p.Key, p.PerMinuteRate, err)
	}
	start, err := parseClock(p.StandardStart)
	if err != nil {
		return tariff.Rate{}, fmt.Errorf("plan %s: %w", p.Key, err)
	}
	end, err := parseClock(p.StandardEnd)
	if err != nil {
		return tariff.Rate{}, fmt.Errorf("plan %s: %w", p.Key, err)
	}
	return tariff.Rate{
		ConnectionFee: fee,
		PerMinuteRate: perMin,
		StandardStart: start,
		StandardEnd:   end,
	}, nil
}

// parseClock converts "HH:MM" into seconds from midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return h*3600 + m*60, nil
}
