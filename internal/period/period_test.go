package period_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/period"
)

func TestKey(t *testing.T) {
	tests := map[string]struct {
		at   time.Time
		want string
	}{
		"monday starts the week": {
			at:   time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
			want: "2024-W10",
		},
		"sunday ends the week": {
			at:   time.Date(2024, time.March, 10, 23, 59, 59, 0, time.UTC),
			want: "2024-W10",
		},
		"early january belongs to previous iso year": {
			at:   time.Date(2021, time.January, 3, 12, 0, 0, 0, time.UTC),
			want: "2020-W53",
		},
		"late december belongs to next iso year": {
			at:   time.Date(2024, time.December, 30, 8, 0, 0, 0, time.UTC),
			want: "2025-W01",
		},
		"week numbers are zero padded": {
			at:   time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC),
			want: "2025-W02",
		},
		"non utc time is normalised": {
			// Monday 01:00 in UTC+2 is still Sunday in UTC.
			at:   time.Date(2024, time.March, 11, 1, 0, 0, 0, time.FixedZone("EET", 2*60*60)),
			want: "2024-W10",
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, period.Key(tt.at))
		})
	}
}

func TestKey_SameWeekAndNextWeek(t *testing.T) {
	start := time.Date(2023, time.December, 25, 0, 0, 0, 0, time.UTC) // Monday
	key := period.Key(start)

	for h := 0; h < 7*24; h++ {
		at := start.Add(time.Duration(h)*time.Hour + 30*time.Minute)
		require.Equal(t, key, period.Key(at), "hour %d", h)
		require.NotEqual(t, key, period.Key(at.AddDate(0, 0, 7)), "hour %d", h)
	}
}

func TestStart(t *testing.T) {
	tests := map[string]struct {
		key     string
		want    time.Time
		wantErr bool
	}{
		"regular week": {
			key:  "2024-W10",
			want: time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		},
		"first week starting in previous year": {
			key:  "2025-W01",
			want: time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC),
		},
		"week 53 of a long year": {
			key:  "2020-W53",
			want: time.Date(2020, time.December, 28, 0, 0, 0, 0, time.UTC),
		},
		"week 53 of a short year": {
			key:     "2023-W53",
			wantErr: true,
		},
		"garbage": {
			key:     "last-week",
			wantErr: true,
		},
		"week zero": {
			key:     "2024-W00",
			wantErr: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := period.Start(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.key, period.Key(got))
		})
	}
}

func TestBounds(t *testing.T) {
	start, end, err := period.Bounds("2024-W10")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))
	assert.Equal(t, "2024-W11", period.Key(end))
}
