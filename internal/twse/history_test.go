package twse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRocDate(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local)
	assert.Equal(t, "115/01/05", rocDate(day))
}

func TestRocToISO(t *testing.T) {
	assert.Equal(t, "2026-01-05", rocToISO("115/01/05"))
	assert.Equal(t, "2025-12-31", rocToISO(" 114/12/31 "))
	assert.Equal(t, "2026-03-07", rocToISO("115/3/7"), "single-digit fields are padded")
	assert.Equal(t, "", rocToISO("2026-01-05"))
	assert.Equal(t, "", rocToISO("not a date"))
	assert.Equal(t, "", rocToISO(""))
}

func TestParseMonthlyRows(t *testing.T) {
	// 0 ROC date, 1 traded shares, 3 open, 4 high, 5 low, 6 close.
	candles := parseMonthlyRows([][]interface{}{
		{"115/01/02", "32,118,000", "19,289,553,000", "598.00", "605.00", "596.00", "604.00", "+6.00", "25,470"},
		{"115/01/03", "28,004,000", "x", "604.00", "608.00", "602.00", "607.00", "+3.00", "21,001"},
		{"小計", "x", "x", "--", "--", "--", "--", "", ""}, // summary row dropped
	})
	require.Len(t, candles, 2)

	assert.Equal(t, "2026-01-02", candles[0].Date)
	assert.Equal(t, 598.0, candles[0].Open)
	assert.Equal(t, 605.0, candles[0].High)
	assert.Equal(t, 596.0, candles[0].Low)
	assert.Equal(t, 604.0, candles[0].Close)
	assert.Equal(t, int64(32118000), candles[0].Volume, "monthly volume stays in shares")
}

func TestMergeCandles_DeduplicatesSortsAndTails(t *testing.T) {
	january := []Candle{
		{Date: "2026-01-28", Close: 10},
		{Date: "2026-01-29", Close: 11},
		{Date: "2026-01-30", Close: 12},
	}
	february := []Candle{
		{Date: "2026-02-02", Close: 13},
		{Date: "2026-01-30", Close: 99}, // duplicate date, first wins
		{Date: "2026-02-03", Close: 14},
	}

	merged := MergeCandles([][]Candle{january, february}, 4)
	require.Len(t, merged, 4)

	// Ascending, deduplicated: every (date) unique.
	seen := map[string]bool{}
	for i, candle := range merged {
		assert.False(t, seen[candle.Date], "duplicate date %s", candle.Date)
		seen[candle.Date] = true
		if i > 0 {
			assert.Less(t, merged[i-1].Date, candle.Date)
		}
	}

	assert.Equal(t, "2026-01-29", merged[0].Date, "tail keeps the latest rows")
	assert.Equal(t, 12.0, merged[1].Close, "first occurrence of the duplicate date wins")
	assert.Equal(t, "2026-02-03", merged[3].Date)
}

func TestMergeCandles_ShortInput(t *testing.T) {
	merged := MergeCandles([][]Candle{{{Date: "2026-01-02", Close: 1}}}, 60)
	assert.Len(t, merged, 1)

	assert.Empty(t, MergeCandles(nil, 60))
}
