package anonymizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/inferloop/deident/pkg/models"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		value    models.Value
		dayFirst bool
		want     time.Time
		ok       bool
	}{
		{"iso", models.String("2024-02-03"), false, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), true},
		{"iso with time", models.String("2024-02-03 10:30:00"), false, time.Date(2024, 2, 3, 10, 30, 0, 0, time.UTC), true},
		{"us slashes", models.String("02/03/2024"), false, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), true},
		{"day first slashes", models.String("02/03/2024"), true, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), true},
		{"padded", models.String("  2024-02-03 "), false, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), true},
		{"undefined", models.Null(), false, time.Time{}, false},
		{"garbage", models.String("yesterday"), false, time.Time{}, false},
		{"impossible date", models.String("2024-02-30"), false, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDate(tt.value, tt.dayFirst)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWholeDaysFloors(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, wholeDays(start, start.Add(23*time.Hour)))
	assert.Equal(t, 1.0, wholeDays(start, start.Add(24*time.Hour)))
	assert.Equal(t, -1.0, wholeDays(start, start.Add(-1*time.Hour)))
}
