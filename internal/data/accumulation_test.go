package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instDays(foreign ...int64) []InstDaily {
	days := make([]InstDaily, len(foreign))
	for i, net := range foreign {
		days[i] = InstDaily{Date: "2026-02-01", Foreign: net}
	}
	return days
}

func TestAnalyzeAccumulation_TooFewDays(t *testing.T) {
	_, ok := AnalyzeAccumulation(instDays(1, 2, 3))
	assert.False(t, ok)

	_, ok = AnalyzeAccumulation(nil)
	assert.False(t, ok)
}

func TestAnalyzeAccumulation_ConsecutiveRun(t *testing.T) {
	// Run broken six days ago, then five positive days.
	analysis, ok := AnalyzeAccumulation(instDays(100, -50, 120, 110, 100, 130, 120))
	require.True(t, ok)

	assert.Equal(t, 5, analysis.ForeignConsecutiveBuy)
	assert.Equal(t, 0, analysis.TrustConsecutiveBuy)
	assert.Equal(t, int64(120+110+100+130+120), analysis.Foreign5dSum)
	assert.Equal(t, int64(100-50+120+110+100+130+120), analysis.Foreign20dSum)
}

func TestAnalyzeAccumulation_QuietBuying(t *testing.T) {
	// Steady buying: five similar positive days after flat history.
	steady := instDays(0, 0, 0, 0, 0, 100, 110, 105, 95, 100)
	analysis, ok := AnalyzeAccumulation(steady)
	require.True(t, ok)

	assert.Equal(t, 5, analysis.ForeignConsecutiveBuy)
	assert.Less(t, analysis.ForeignStability, 2.0)
	assert.True(t, analysis.IsForeignQuietlyBuying)
	assert.True(t, analysis.IsQuietlyBuying)
	assert.Contains(t, analysis.BehaviorType, "外資悄悄佈局")
}

func TestAnalyzeAccumulation_ShortRunIsNotQuiet(t *testing.T) {
	analysis, ok := AnalyzeAccumulation(instDays(0, 0, 0, -10, 0, 0, 100, 110, 105, 100))
	require.True(t, ok)

	assert.Equal(t, 4, analysis.ForeignConsecutiveBuy)
	assert.False(t, analysis.IsForeignQuietlyBuying, "a four-day run is below the quiet threshold")
}

func TestAnalyzeAccumulation_ErraticBuyingIsNotQuiet(t *testing.T) {
	// Positive every day but wildly uneven: stability blows past the cap.
	analysis, ok := AnalyzeAccumulation(instDays(1, 1, 1, 1, 5000, 1, 1, 9000, 1, 1))
	require.True(t, ok)

	assert.GreaterOrEqual(t, analysis.ForeignConsecutiveBuy, 5)
	assert.GreaterOrEqual(t, analysis.ForeignStability, 2.0)
	assert.False(t, analysis.IsForeignQuietlyBuying)
}

func TestAnalyzeAccumulation_HeavyFlowLabels(t *testing.T) {
	heavy := instDays(1000, 1000, 1000, 1000, 1000, 1000)
	analysis, ok := AnalyzeAccumulation(heavy)
	require.True(t, ok)
	assert.Contains(t, analysis.BehaviorType, "外資大量買超")

	selling := instDays(-2000, -2000, -2000, -2000, -2000)
	analysis, ok = AnalyzeAccumulation(selling)
	require.True(t, ok)
	assert.Contains(t, analysis.BehaviorType, "外資大量賣超")
}

func TestAnalyzeAccumulation_TrustSide(t *testing.T) {
	days := make([]InstDaily, 8)
	for i := range days {
		days[i] = InstDaily{Foreign: -10, Trust: 50}
	}
	analysis, ok := AnalyzeAccumulation(days)
	require.True(t, ok)

	assert.Equal(t, 8, analysis.TrustConsecutiveBuy)
	assert.Equal(t, 0, analysis.ForeignConsecutiveBuy)
	assert.True(t, analysis.IsTrustQuietlyBuying)
	assert.Equal(t, int64(400), analysis.Trust20dSum)
}
