package leave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange_Overlaps(t *testing.T) {
	base := DateRange{Start: "2025-01-10", End: "2025-01-12"}

	tests := []struct {
		name  string
		other DateRange
		want  bool
	}{
		{"identical", base, true},
		{"shares end", DateRange{"2025-01-12", "2025-01-15"}, true},
		{"shares start", DateRange{"2025-01-05", "2025-01-10"}, true},
		{"contains", DateRange{"2025-01-01", "2025-01-31"}, true},
		{"contained", DateRange{"2025-01-11", "2025-01-11"}, true},
		{"day after", DateRange{"2025-01-13", "2025-01-14"}, false},
		{"day before", DateRange{"2025-01-08", "2025-01-09"}, false},
		{"across year", DateRange{"2024-12-30", "2025-01-10"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base))
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), d)

	for _, s := range []string{"", "2024-2-29", "2024/02/29", "24-02-29", "2023-02-29", "2024-13-01", " 2024-02-01", "2024-02-01T00:00"} {
		_, err := ParseDate(s)
		assert.ErrorIs(t, err, ErrInvalidDateFormat, s)
	}
}

func TestInclusiveDays(t *testing.T) {
	day := func(s string) time.Time {
		d, err := ParseDate(s)
		require.NoError(t, err)
		return d
	}
	assert.Equal(t, 1, InclusiveDays(day("2025-01-01"), day("2025-01-01")))
	assert.Equal(t, 3, InclusiveDays(day("2025-01-01"), day("2025-01-03")))
	assert.Equal(t, 2, InclusiveDays(day("2024-02-28"), day("2024-02-29")))
	assert.Equal(t, 3, InclusiveDays(day("2024-12-31"), day("2025-01-02")))
}

func TestError_IsAndWith(t *testing.T) {
	err := ErrDurationMismatch.With(map[string]any{"Calculated": 4})
	assert.ErrorIs(t, err, ErrDurationMismatch)
	assert.NotErrorIs(t, err, ErrInvalidDuration)
	assert.Nil(t, ErrDurationMismatch.Params)
	assert.Equal(t, "duration does not match the date range (Calculated=4)", err.Error())
	assert.Equal(t, "validation", err.Kind.String())
}
