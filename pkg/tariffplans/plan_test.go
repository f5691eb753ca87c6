package tariffplans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardPlanRate(t *testing.T) {
	p, ok := Get("standard")
	require.True(t, ok, "standard plan must be registered")

	rate, err := p.Rate()
	require.NoError(t, err)

	assert.Equal(t, "0.36", rate.ConnectionFee.StringFixed(2))
	assert.Equal(t, "0.09", rate.PerMinuteRate.StringFixed(2))
	assert.Equal(t, 6*3600, rate.StandardStart)
	assert.Equal(t, 22*3600, rate.StandardEnd)
}

func TestPlanRateRejectsBadValues(t *testing.T) {
	bad := []Plan{
		{Key: "x", ConnectionFee: "abc", PerMinuteRate: "0.09", StandardStart: "06:00", StandardEnd: "22:00"},
		{Key: "x", ConnectionFee: "0.36", PerMinuteRate: "", StandardStart: "06:00", StandardEnd: "22:00"},
		{Key: "x", ConnectionFee: "0.36", PerMinuteRate: "0.09", StandardStart: "6am", StandardEnd: "22:00"},
		{Key: "x", ConnectionFee: "0.36", PerMinuteRate: "0.09", StandardStart: "06:00", StandardEnd: "25:00"},
	}
	for _, p := range bad {
		_, err := p.Rate()
		assert.Error(t, err)
	}
}
