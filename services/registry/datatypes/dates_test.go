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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip verifies decode(encode(x)) == x across a
// spread of dates including month and year boundaries.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	dates := []time.Time{
		Day(1970, time.January, 1),
		Day(2020, time.July, 27),
		Day(2023, time.September, 5),
		Day(2024, time.February, 29), // leap day
		Day(2024, time.December, 11),
		Day(2024, time.December, 31),
		Day(2025, time.January, 1),
	}
	for _, d := range dates {
		encoded := EncodeDate(d)
		decoded, err := DecodeDate(encoded)
		require.NoError(t, err, "date %s", FormatDay(d))
		assert.True(t, decoded.Equal(d), "round trip of %s gave %s", FormatDay(d), FormatDay(decoded))
	}
}

func TestEncodeDateLayout(t *testing.T) {
	assert.Equal(t, 20241212, EncodeDate(Day(2024, time.December, 12)))
	assert.Equal(t, 20200101, EncodeDate(Day(2020, time.January, 1)))
}

// TestOpenEndedSentinelRoundTrip verifies the nil end date maps to the
// sentinel and back, and that the sentinel decodes to nil and nothing else.
func TestOpenEndedSentinelRoundTrip(t *testing.T) {
	assert.Equal(t, OpenEndedSentinel, EncodeEndDate(nil))

	decoded, err := DecodeEndDate(OpenEndedSentinel)
	require.NoError(t, err)
	assert.Nil(t, decoded)

	end := Day(2024, time.December, 11)
	assert.Equal(t, 20241211, EncodeEndDate(&end))

	back, err := DecodeEndDate(20241211)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.True(t, back.Equal(end))
}

func TestDecodeDateRejectsInvalid(t *testing.T) {
	for _, v := range []int{0, -1, 20231301, 20230230, 20230001, 99999999} {
		_, err := DecodeDate(v)
		assert.Error(t, err, "value %d", v)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-03-15")
	require.NoError(t, err)
	assert.True(t, d.Equal(Day(2024, time.March, 15)))

	_, err = ParseDay("15/03/2024")
	assert.Error(t, err)

	_, err = ParseDay("")
	assert.Error(t, err)
}

func TestPrevDay(t *testing.T) {
	assert.True(t, PrevDay(Day(2024, time.December, 12)).Equal(Day(2024, time.December, 11)))
	// Month and year boundaries.
	assert.True(t, PrevDay(Day(2024, time.March, 1)).Equal(Day(2024, time.February, 29)))
	assert.True(t, PrevDay(Day(2025, time.January, 1)).Equal(Day(2024, time.December, 31)))
}

func TestDaysSinceEpochOrdering(t *testing.T) {
	a := DaysSinceEpoch(Day(2021, time.July, 20))
	b := DaysSinceEpoch(Day(2023, time.September, 5))
	c := DaysSinceEpoch(Day(2024, time.December, 12))
	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Equal(t, 0, DaysSinceEpoch(Day(1970, time.January, 1)))
}

func TestTruncateToDayNormalizesZone(t *testing.T) {
	loc := time.FixedZone("BST", 3600)
	stamp := time.Date(2024, time.June, 3, 0, 30, 0, 0, loc) // 2024-06-02 23:30 UTC
	assert.True(t, TruncateToDay(stamp).Equal(Day(2024, time.June, 2)))
}
