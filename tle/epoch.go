package tle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	microsPerDay  = 86_400_000_000
	maxFracDigits = 8
)

// Epoch extracts the UTC epoch from line 1. Columns 19-20 hold a two-digit
// year (57-99 map to 19xx, 00-56 to 20xx) and columns 21-32 the day of year
// with a fractional part. Fraction digits past the eighth are dropped; the
// remaining eight convert to whole microseconds without rounding.
func Epoch(line1 string) (time.Time, error) {
	if len(line1) < 32 {
		return time.Time{}, fmt.Errorf("%w: line 1 too short for epoch", ErrMalformedPayload)
	}
	yy, err := strconv.Atoi(line1[18:20])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch year %q", ErrMalformedPayload, line1[18:20])
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}

	field := strings.TrimSpace(line1[20:32])
	whole, frac, _ := strings.Cut(field, ".")
	day, err := strconv.Atoi(whole)
	if err != nil || day < 1 || day > 366 {
		return time.Time{}, fmt.Errorf("%w: epoch day %q", ErrMalformedPayload, field)
	}

	var micros int64
	if frac != "" {
		if len(frac) > maxFracDigits {
			frac = frac[:maxFracDigits]
		}
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("%w: epoch fraction %q", ErrMalformedPayload, field)
		}
		scale := int64(1)
		for range len(frac) {
			scale *= 10
		}
		// microsPerDay is a multiple of 10^8, so this is exact.
		micros = n * (microsPerDay / scale)
	}

	base := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, day-1).Add(time.Duration(micros) * time.Microsecond), nil
}
