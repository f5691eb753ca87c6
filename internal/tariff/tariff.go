package tariff

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidInterval is returned by Price when a call ends at or before its
// start. Such an interval means the pairing layer produced broken data, so it
// is surfaced instead of being priced as a free call.
var ErrInvalidInterval = errors.New("tariff: call interval end must be after start")

// Rate is the tariff applied to a call.
type Rate struct {
	// ConnectionFee is charged once per call regardless of duration.
	ConnectionFee decimal.Decimal
	// PerMinuteRate is charged per whole completed minute inside the
	// standard window.
	PerMinuteRate decimal.Decimal
	// StandardStart and StandardEnd bound the standard (charged) window as
	// seconds from local midnight. Time outside [StandardStart, StandardEnd)
	// is on the reduced tariff: no charge beyond the connection fee.
	StandardStart int
	StandardEnd   int
}

// DefaultRate returns the reference tariff: 0.36 connection fee, 0.09 per
// standard minute, standard window 06:00-22:00.
func DefaultRate() Rate {
	return Rate{
		ConnectionFee: decimal.RequireFromString("0.36"),
		PerMinuteRate: decimal.RequireFromString("0.09"),
		StandardStart: 6 * 3600,
		StandardEnd:   22 * 3600,
	}
}

// Calculator prices call intervals under a fixed rate table. It holds no
// mutable state, so a single Calculator is safe for concurrent use.
type Calculator struct {
	rate Rate
	loc  *time.Location
}

// NewCalculator returns a Calculator that normalizes every instant to loc
// before comparing clock times. A nil loc falls back to time.Local.
func NewCalculator(rate Rate, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{rate: rate, loc: loc}
}

// Price computes the cost of the call [start, end): the connection fee plus
// the per-minute rate for every billable minute. The result carries two
// fraction digits, rounded half-up.
func (c *Calculator) Price(start, end time.Time) (decimal.Decimal, error) {
	start = start.In(c.loc)
	end = end.In(c.loc)
	if !end.After(start) {
		return decimal.Zero, ErrInvalidInterval
	}

	minutes := c.billableMinutes(start, end)
	price := c.rate.ConnectionFee.Add(c.rate.PerMinuteRate.Mul(decimal.NewFromInt(int64(minutes))))
	return price.Round(2), nil
}

// billableMinutes sweeps the interval in contiguous segments bounded by the
// standard-window edges. Each standard segment contributes its floor-truncated
// whole minutes; truncation happens per segment, not on the global elapsed
// time, so a call crossing a boundary truncates independently on each side.
// Reduced segments contribute nothing and just advance the cursor to the next
// standard-window start.
func (c *Calculator) billableMinutes(start, end time.Time) int {
	minutes := 0
	cur := start
	for cur.Before(end) {
		sod := secondsOfDay(cur)
		if sod >= c.rate.StandardStart && sod < c.rate.StandardEnd {
			segEnd := c.clockTime(cur, c.rate.StandardEnd)
			if segEnd.After(end) {
				segEnd = end
			}
			minutes += int(segEnd.Sub(cur) / time.Minute)
			cur = segEnd
			continue
		}

		var next time.Time
		if sod >= c.rate.StandardEnd {
			next = c.clockTime(cur.AddDate(0, 0, 1), c.rate.StandardStart)
		} else {
			next = c.clockTime(cur, c.rate.StandardStart)
		}
		if next.After(end) {
			next = end
		}
		cur = next
	}
	return minutes
}

// clockTime returns the instant on t's calendar day whose local clock reads
// the given seconds-of-day.
func (c *Calculator) clockTime(t time.Time, sod int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), sod/3600, (sod%3600)/60, sod%60, 0, c.loc)
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
