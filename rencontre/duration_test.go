package rencontre

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestParseEventDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"", fallbackEventDuration},
		{"   ", fallbackEventDuration},
		{"20", 20 * time.Minute},
		{"20m", 20 * time.Minute},
		{"20min", 20 * time.Minute},
		{"20 MIN", 20 * time.Minute},
		{"1h", time.Hour},
		{"1h30", 90 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{" 1 h 05 ", 65 * time.Minute},
		{"2H", 2 * time.Hour},
		{"0", minEventDuration},
		{"0h", minEventDuration},
		{"30s", fallbackEventDuration},
		{"vingt", fallbackEventDuration},
		{"-5", fallbackEventDuration},
		{"1.5h", fallbackEventDuration},
		{"24h", maxEventDuration},
		{"1440", maxEventDuration},
		{"25h", maxEventDuration},
		{"200000000", maxEventDuration},
		{"3000000h", maxEventDuration},
		{"1h99999999999999999999", maxEventDuration},
		{"99999999999999999999min", maxEventDuration},
	}
	for _, tt := range tests {
		t.Run(
			fmt.Sprintf("%q", tt.input), func(t *testing.T) {
				assert.Equal(t, tt.expected, parseEventDuration(tt.input))
			},
		)
	}
}

func TestFormatEventDuration(t *testing.T) {
	assert.Equal(t, "5m", formatEventDuration(5*time.Minute))
	assert.Equal(t, "59m", formatEventDuration(59*time.Minute+30*time.Second))
	assert.Equal(t, "1h05", formatEventDuration(65*time.Minute))
	assert.Equal(t, "2h00", formatEventDuration(2*time.Hour))
	assert.Equal(t, "24h00", formatEventDuration(maxEventDuration))
	assert.Equal(t, formatEventDuration(90*time.Minute), formatEventDuration(parseEventDuration("1h30")))
}
