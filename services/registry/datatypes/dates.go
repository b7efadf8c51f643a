// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"
)

// DayFormat is the wire format for calendar dates on the HTTP surface.
const DayFormat = "2006-01-02"

// OpenEndedSentinel encodes "no end date" inside the vector index, whose
// filter predicates are pure numeric comparisons with no null semantics.
// Decoding must special-case exactly this value back to nil; no real
// effective date may legitimately equal it.
const OpenEndedSentinel = 99991231

// Day constructs a calendar date at UTC midnight. All effective dates in the
// registry are day-granular; normalizing to UTC midnight keeps interval
// comparisons free of timezone and sub-day noise.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateToDay normalizes an arbitrary timestamp to its UTC calendar day.
func TruncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a "YYYY-MM-DD" string into a UTC-midnight date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDay renders a date as "YYYY-MM-DD".
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// EncodeDate encodes a date as an integer YYYYMMDD for numeric range
// filtering in the vector index.
func EncodeDate(t time.Time) int {
	u := t.UTC()
	return u.Year()*10000 + int(u.Month())*100 + u.Day()
}

// EncodeEndDate encodes an optional end date. A nil end date (open-ended,
// currently in force) becomes OpenEndedSentinel so that range predicates
// treat the interval as extending to +infinity.
func EncodeEndDate(t *time.Time) int {
	if t == nil {
		return OpenEndedSentinel
	}
	return EncodeDate(*t)
}

// DecodeDate decodes an integer YYYYMMDD back into a UTC-midnight date.
// Returns an error for values that do not denote a real calendar day.
func DecodeDate(v int) (time.Time, error) {
	year := v / 10000
	month := (v / 100) % 100
	day := v % 100
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("invalid encoded date %d", v)
	}
	t := Day(year, time.Month(month), day)
	// time.Date normalizes out-of-range days (e.g. Feb 30); reject those.
	if EncodeDate(t) != v {
		return time.Time{}, fmt.Errorf("invalid encoded date %d", v)
	}
	return t, nil
}

// DecodeEndDate decodes an optional end date. Exactly OpenEndedSentinel
// decodes to nil; every other value must be a valid encoded day.
func DecodeEndDate(v int) (*time.Time, error) {
	if v == OpenEndedSentinel {
		return nil, nil
	}
	t, err := DecodeDate(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DaysSinceEpoch converts a date to whole days since 1970-01-01 UTC. The
// revision store uses this as the sort key of its per-source ordered index.
func DaysSinceEpoch(t time.Time) int {
	return int(TruncateToDay(t).Unix() / 86400)
}

// PrevDay returns the calendar day before t. Auto-supersession truncates the
// prior open-ended revision to end the day before its successor begins.
func PrevDay(t time.Time) time.Time {
	return TruncateToDay(t).AddDate(0, 0, -1)
}
