// Package period derives the canonical identifiers of recurring time buckets.
// A key names an ISO 8601 week (Monday start, week 1 holds the year's first
// Thursday) and is always computed in UTC so that concurrent invocations in
// different zones agree on the bucket.
package period

import (
	"fmt"
	"time"

	"github.com/victornm/quizxp/internal/errors"
)

const week = 7 * 24 * time.Hour

// Key returns the ISO week key of t, formatted as YYYY-Wnn.
func Key(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// Current returns the key of the week containing now.
func Current() string {
	return Key(time.Now())
}

// Start returns Monday 00:00 UTC of the week named by key.
func Start(key string) (time.Time, error) {
	var y, w int
	if n, err := fmt.Sscanf(key, "%04d-W%02d", &y, &w); err != nil || n != 2 {
		return time.Time{}, invalid(key)
	}

	if w < 1 || w > 53 {
		return time.Time{}, invalid(key)
	}

	// January 4th always falls in week 1.
	jan4 := time.Date(y, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	start := jan4.AddDate(0, 0, -offset).Add(time.Duration(w-1) * week)

	// Week 53 only exists in long years.
	if Key(start) != key {
		return time.Time{}, invalid(key)
	}

	return start, nil
}

// Bounds returns the half-open interval [start, end) covered by key.
func Bounds(key string) (time.Time, time.Time, error) {
	start, err := Start(key)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	return start, start.Add(week), nil
}

func invalid(key string) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid period key: %q", key))
}
