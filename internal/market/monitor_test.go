package market

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie1223/stock-screener/internal/twse"
)

type fakeHistory struct {
	byMarket map[string][]twse.Candle
}

func (f *fakeHistory) IndexCandles(market string, days int) []twse.Candle {
	return f.byMarket[market]
}

func series(closes []float64) []twse.Candle {
	out := make([]twse.Candle, len(closes))
	day := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = twse.Candle{Date: day.AddDate(0, 0, i).Format("2006-01-02"), Close: c}
	}
	return out
}

func rampUp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestMonitor_BullishIndex(t *testing.T) {
	src := &fakeHistory{byMarket: map[string][]twse.Candle{
		twse.MarketMain: series(rampUp(70, 100, 1)),
		twse.MarketOTC:  series(rampUp(70, 50, 0.5)),
	}}
	monitor := NewMonitor(src, zerolog.Nop())

	status := monitor.Check()
	require.NotNil(t, status.Main)
	require.NotNil(t, status.OTC)

	assert.True(t, status.Main.IsBullish)
	assert.Empty(t, status.Main.BrokenMA)
	assert.True(t, status.IsSafe)
	assert.Empty(t, status.Warnings)

	// Rising series: shorter MAs sit above longer ones, price above all.
	assert.Greater(t, status.Main.MAValues[5], status.Main.MAValues[60])
	for _, period := range []int{5, 10, 20, 60} {
		assert.True(t, status.Main.AboveMA[period])
	}
}

func TestMonitor_BrokenMAWarns(t *testing.T) {
	// A long rise capped by a sharp slide: price ends under the short MAs.
	closes := rampUp(65, 100, 1)
	closes = append(closes, 155, 148, 142, 136, 130)

	src := &fakeHistory{byMarket: map[string][]twse.Candle{
		twse.MarketMain: series(closes),
		twse.MarketOTC:  series(rampUp(70, 50, 0.5)),
	}}
	status := NewMonitor(src, zerolog.Nop()).Check()

	require.NotNil(t, status.Main)
	assert.NotEmpty(t, status.Main.BrokenMA)
	assert.False(t, status.IsSafe)
	require.NotEmpty(t, status.Warnings)
	assert.Contains(t, status.Warnings[0], "加權指數")
}

func TestMonitor_ShortHistoryIsNil(t *testing.T) {
	src := &fakeHistory{byMarket: map[string][]twse.Candle{
		twse.MarketMain: series(rampUp(20, 100, 1)),
	}}
	status := NewMonitor(src, zerolog.Nop()).Check()

	assert.Nil(t, status.Main)
	assert.Nil(t, status.OTC)
}
