package bases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennswest/ctr/internal/ctr/ctrerr"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1d", 24 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{"90m", 90 * time.Minute},
		{"30s", 30 * time.Second},
		{"2d3h4m5s", 2*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second},
		{"0h", 0},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseDurationErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "1", "1x", "1d1"} {
		_, err := ParseDuration(in)
		require.Error(t, err, in)
		assert.Equal(t, ctrerr.Validation, ctrerr.KindOf(err), in)
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0, time.Second, time.Hour, 24 * time.Hour, 36 * time.Hour + 5*time.Minute,
	} {
		s := FormatDuration(d)
		got, err := ParseDuration(s)
		require.NoError(t, err, s)
		assert.Equal(t, d, got, s)
	}
}
