package config

import (
	"os"
	"time"
)

// Trading session bounds (exchange local time).
const (
	MarketOpenHour  = 9
	MarketCloseHour = 13
	MarketCloseMin  = 30

	// Tail-session screening window starts at 13:00.
	ScreeningStartHour = 13

	// Full session length in minutes (09:00-13:30), used by the
	// time-of-day volume-ratio adjustment.
	SessionMinutes = 270
)

// Params holds every screening threshold. Values are configuration, not
// code: stages read them and never hard-code their own.
type Params struct {
	// Market cap gate (unit: hundred-million TWD).
	MarketCapMin float64 `json:"market_cap_min"`
	MarketCapMax float64 `json:"market_cap_max"`

	// Monthly revenue gate.
	RevenueGrowthMin      float64 `json:"revenue_growth_min"`
	RevenueMonthsPositive int     `json:"revenue_months_positive"`

	// Trailing P/E gate.
	PERatioMax float64 `json:"pe_ratio_max"`

	// Higher-lows confirmation.
	HigherLowsLookback  int     `json:"higher_lows_lookback_days"`
	HigherLowsConfirms  int     `json:"higher_lows_confirms"`
	HigherLowsTolerance float64 `json:"higher_lows_tolerance_pct"`

	// Pullback detection.
	PullbackMinPct     float64 `json:"pullback_min_pct"`
	PullbackMaxPct     float64 `json:"pullback_max_pct"`
	PullbackLookback   int     `json:"pullback_high_lookback_days"`
	PullbackShortMA    []int   `json:"pullback_short_ma"`
	PullbackLongMA     []int   `json:"pullback_long_ma"`
	MASupportTolerance float64 `json:"ma_support_tolerance"`
	MASlopeLookback    int     `json:"ma_slope_lookback_days"`

	// Volume/price health classification.
	VPWindow          int     `json:"vp_window_days"`
	VPExhaustChange   float64 `json:"vp_exhaust_change_pct"`
	VPHealthyRatio    float64 `json:"vp_healthy_ratio"`
	VPTurnoverMinMult float64 `json:"vp_turnover_min_mult"`
	VPTurnoverMaxMult float64 `json:"vp_turnover_max_mult"`

	// Consecutive volume shrink.
	VolumeShrinkDays      int     `json:"volume_shrink_days"`
	VolumeShrinkThreshold float64 `json:"volume_shrink_threshold"`
	VolumeAvgDays         int     `json:"volume_avg_days"`

	// RSI oversold.
	RSIPeriod          int     `json:"rsi_period"`
	RSIOversold        float64 `json:"rsi_oversold"`
	RSIRequireUpturn   bool    `json:"rsi_require_upturn"`
	RSIRequireAboveMA5 bool    `json:"rsi_require_above_ma5"`

	// Turnover rate gate (percent of shares outstanding).
	TurnoverRateMin float64 `json:"turnover_rate_min"`
	TurnoverRateMax float64 `json:"turnover_rate_max"`

	// Major (>=1000-lot) holder gate.
	MajorHolderMinPct        float64 `json:"major_holder_min_pct"`
	MajorHolderIncreaseWeeks int     `json:"major_holder_increase_weeks"`

	// Institutional quiet-accumulation gate.
	AccumulationMinDays      int     `json:"accumulation_min_days"`
	AccumulationMaxStability float64 `json:"accumulation_max_stability"`

	// Right-side momentum chain.
	PriceChangeMin        float64 `json:"price_change_min"`
	PriceChangeMax        float64 `json:"price_change_max"`
	VolumeRatioMin        float64 `json:"volume_ratio_min"`
	IntradayHighThreshold float64 `json:"intraday_high_threshold"`
}

// Config is the process-wide configuration, initialized at entry and
// unchanged thereafter.
type Config struct {
	FinMindToken string `json:"-"`
	WebhookURL   string `json:"-"`
	OutputDir    string `json:"output_dir"`

	Params Params `json:"params"`
}

// DefaultParams returns the screening thresholds for the current strategy
// revision. Older parameter sets survive only as test fixtures.
func DefaultParams() Params {
	return Params{
		MarketCapMin: 50,
		MarketCapMax: 50000,

		RevenueGrowthMin:      0,
		RevenueMonthsPositive: 2,

		PERatioMax: 20,

		HigherLowsLookback:  60,
		HigherLowsConfirms:  2,
		HigherLowsTolerance: 1.0,

		PullbackMinPct:     5.0,
		PullbackMaxPct:     20.0,
		PullbackLookback:   20,
		PullbackShortMA:    []int{5, 10},
		PullbackLongMA:     []int{20, 60},
		MASupportTolerance: 0.02,
		MASlopeLookback:    5,

		VPWindow:          20,
		VPExhaustChange:   5.0,
		VPHealthyRatio:    1.5,
		VPTurnoverMinMult: 1.5,
		VPTurnoverMaxMult: 2.5,

		VolumeShrinkDays:      3,
		VolumeShrinkThreshold: 0.7,
		VolumeAvgDays:         20,

		RSIPeriod:          14,
		RSIOversold:        35,
		RSIRequireUpturn:   true,
		RSIRequireAboveMA5: false,

		TurnoverRateMin: 0.5,
		TurnoverRateMax: 20.0,

		MajorHolderMinPct:        30,
		MajorHolderIncreaseWeeks: 1,

		AccumulationMinDays:      3,
		AccumulationMaxStability: 2.0,

		PriceChangeMin:        3.0,
		PriceChangeMax:        10.0,
		VolumeRatioMin:        1.5,
		IntradayHighThreshold: 0.98,
	}
}

// Load builds the configuration from defaults plus the environment.
// Missing optional vars disable the feature they gate; they are never fatal.
func Load() *Config {
	cfg := &Config{
		FinMindToken: os.Getenv("FINMIND_API_TOKEN"),
		WebhookURL:   os.Getenv("DISCORD_WEBHOOK_URL"),
		OutputDir:    os.Getenv("SCREENER_OUTPUT_DIR"),
		Params:       DefaultParams(),
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "data/output"
	}
	return cfg
}

// InScreeningWindow reports whether t falls inside the tail-session
// screening window [13:00, 13:30].
func InScreeningWindow(t time.Time) bool {
	start := time.Date(t.Year(), t.Month(), t.Day(), ScreeningStartHour, 0, 0, 0, t.Location())
	end := time.Date(t.Year(), t.Month(), t.Day(), MarketCloseHour, MarketCloseMin, 0, 0, t.Location())
	return !t.Before(start) && !t.After(end)
}

// IsWeekday reports whether t is a trading weekday. Exchange holidays are
// not modeled; the post-close endpoints simply return no data on them.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
