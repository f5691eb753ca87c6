package tariff

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("BRT", -3*3600)

func at(hour, min, sec int) time.Time {
	return time.Date(2023, 11, 18, hour, min, sec, 0, testLoc)
}

func TestPrice(t *testing.T) {
	calc := NewCalculator(DefaultRate(), testLoc)

	testCases := []struct {
		name  string
		start time.Time
		end   time.Time
		want  string
	}{
		{
			name:  "standard tariff",
			start: at(8, 0, 0),
			end:   at(8, 10, 0),
			want:  "1.26", // 0.36 + 10 * 0.09
		},
		{
			name:  "reduced tariff",
			start: at(23, 0, 0),
			end:   at(23, 10, 0),
			want:  "0.36",
		},
		{
			name:  "crossing into reduced tariff",
			start: at(21, 59, 0),
			end:   at(22, 1, 0),
			want:  "0.45", // only the pre-22:00 minute is billed
		},
		{
			name:  "entirely before 06:00",
			start: at(4, 0, 0),
			end:   at(5, 0, 0),
			want:  "0.36",
		},
		{
			name:  "after 22:00",
			start: at(22, 30, 0),
			end:   at(23, 30, 0),
			want:  "0.36",
		},
		{
			name:  "starting exactly at 22:00 is reduced",
			start: at(22, 0, 0),
			end:   at(22, 45, 0),
			want:  "0.36",
		},
		{
			name:  "crossing midnight stays reduced",
			start: at(23, 30, 0),
			end:   at(23, 30, 0).Add(time.Hour),
			want:  "0.36",
		},
		{
			name:  "fractional minutes truncated per segment",
			start: at(21, 59, 30),
			end:   at(22, 0, 30),
			want:  "0.36", // 30s before the boundary is not a whole minute
		},
		{
			name:  "long call over the reduced window",
			start: at(21, 57, 13),
			end:   at(22, 17, 53),
			want:  "0.54", // 2 whole minutes before 22:00
		},
		{
			name:  "overnight call billed on both days",
			start: at(21, 57, 13),
			end:   at(21, 57, 13).Add(8*time.Hour + 13*time.Minute + 37*time.Second), // 06:10:50 next day
			want:  "1.44", // 2 minutes on day one, 10 on day two
		},
		{
			name:  "spanning multiple days",
			start: at(20, 0, 0),
			end:   at(20, 0, 0).Add(12 * time.Hour), // 08:00 next day
			want:  "21.96", // 240 standard minutes
		},
		{
			name:  "instants normalized to the reference timezone",
			start: time.Date(2023, 11, 18, 11, 0, 0, 0, time.UTC), // 08:00 BRT
			end:   time.Date(2023, 11, 18, 11, 10, 0, 0, time.UTC),
			want:  "1.26",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			price, err := calc.Price(tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.want, price.StringFixed(2))
		})
	}
}

func TestPriceShortStandardCalls(t *testing.T) {
	// For calls inside a single day's standard window, the price is just
	// fee + rate * floor(elapsed minutes).
	calc := NewCalculator(DefaultRate(), testLoc)
	rate := DefaultRate()

	for secs := 1; secs <= 16*60; secs += 37 {
		start := at(10, 0, 0)
		end := start.Add(time.Duration(secs) * time.Second)

		price, err := calc.Price(start, end)
		require.NoError(t, err)

		want := rate.ConnectionFee.Add(rate.PerMinuteRate.Mul(decimal.NewFromInt(int64(secs / 60)))).Round(2)
		assert.True(t, price.Equal(want), "%ds: want %s got %s", secs, want, price)
	}
}

func TestPriceInvalidInterval(t *testing.T) {
	calc := NewCalculator(DefaultRate(), testLoc)

	testCases := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"zero duration", at(8, 0, 0), at(8, 0, 0)},
		{"inverted", at(8, 10, 0), at(8, 0, 0)},
		{"equal instants in different zones", at(8, 0, 0), at(8, 0, 0).In(time.UTC)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := calc.Price(tc.start, tc.end)
			assert.ErrorIs(t, err, ErrInvalidInterval)
		})
	}
}
