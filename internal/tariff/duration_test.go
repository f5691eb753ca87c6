package tariff

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0h0m0s"},
		{5 * time.Second, "0h0m5s"},
		{time.Minute, "0h1m0s"},
		{2*time.Hour + 30*time.Minute + 45*time.Second, "2h30m45s"},
		{26*time.Hour + 59*time.Second, "26h0m59s"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, FormatDuration(tc.d))
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	// The formatted components must always decompose back to the original
	// total seconds.
	for _, secs := range []int{0, 1, 59, 60, 61, 3599, 3600, 3661, 86399, 86400, 90061} {
		s := FormatDuration(time.Duration(secs) * time.Second)

		var h, m, sec int
		_, err := fmt.Sscanf(s, "%dh%dm%ds", &h, &m, &sec)
		require.NoError(t, err, "parse %q", s)
		assert.Equal(t, secs, h*3600+m*60+sec, "round trip %q", s)
	}
}
