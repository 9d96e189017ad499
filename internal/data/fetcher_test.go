package data

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie1223/stock-screener/internal/finmind"
	"github.com/charlie1223/stock-screener/internal/twse"
)

type fakeExchange struct {
	monthlyCalls int
	monthly      map[string][]twse.Candle // "YYYY-MM" -> candles
	industries   map[string]string
	benchmark    float64
	benchmarkOK  bool
}

func (f *fakeExchange) Snapshot() []twse.Quote { return nil }

func (f *fakeExchange) MonthlyCandles(id string, year int, month time.Month) []twse.Candle {
	f.monthlyCalls++
	key := time.Date(year, month, 1, 0, 0, 0, 0, time.Local).Format("2006-01")
	return f.monthly[key]
}

func (f *fakeExchange) IndustryMap() map[string]string           { return f.industries }
func (f *fakeExchange) SpotForeignFlow() (*twse.SpotFlow, error) { return nil, errors.New("none") }
func (f *fakeExchange) BenchmarkChange() (float64, bool)         { return f.benchmark, f.benchmarkOK }
func (f *fakeExchange) ForeignFuturesOI() (*twse.FuturesOI, error) {
	return nil, errors.New("none")
}

type fakePrimary struct {
	available  bool
	dailyCalls int
	daily      []twse.Candle
	dailyErr   error
	flows      []finmind.InstFlow
}

func (f *fakePrimary) Available() bool { return f.available }

func (f *fakePrimary) DailyCandles(id, start, end string) ([]twse.Candle, error) {
	f.dailyCalls++
	if f.dailyErr != nil {
		// A quota error also flips the provider off, as the real client does.
		if errors.Is(f.dailyErr, finmind.ErrQuotaExceeded) {
			f.available = false
		}
		return nil, f.dailyErr
	}
	return f.daily, nil
}

func (f *fakePrimary) MarketCaps(start, end string) (map[string]float64, error) {
	return nil, errors.New("none")
}
func (f *fakePrimary) SharesOutstanding(start, end string) (map[string]float64, error) {
	return nil, errors.New("none")
}
func (f *fakePrimary) InstitutionalBuySell(id, start, end string) ([]finmind.InstFlow, error) {
	return f.flows, nil
}
func (f *fakePrimary) MonthlyRevenues(id, start, end string) ([]finmind.MonthlyRevenue, error) {
	return nil, errors.New("none")
}
func (f *fakePrimary) QuarterlyEPS(id, start, end string) ([]float64, error) {
	return nil, errors.New("none")
}
func (f *fakePrimary) MajorHolderWeeks(id, start, end string) ([]finmind.HoldingWeek, error) {
	return nil, errors.New("none")
}
func (f *fakePrimary) ForeignFuturesOI(start, end string) (*finmind.FuturesOI, error) {
	return nil, errors.New("none")
}

func newTestFetcher(exchange *fakeExchange, primary *fakePrimary) *Fetcher {
	f := NewFetcher(exchange, primary, zerolog.Nop())
	f.pause = 0
	f.now = func() time.Time {
		return time.Date(2026, 2, 10, 13, 0, 0, 0, time.Local)
	}
	return f
}

func candleRun(dates ...string) []twse.Candle {
	candles := make([]twse.Candle, len(dates))
	for i, date := range dates {
		candles[i] = twse.Candle{Date: date, Close: float64(i) + 1}
	}
	return candles
}

func TestHistory_PrimaryFirstAndMemoized(t *testing.T) {
	primary := &fakePrimary{available: true, daily: candleRun("2026-02-05", "2026-02-06", "2026-02-09")}
	fetcher := newTestFetcher(&fakeExchange{}, primary)

	first := fetcher.History("2330", 2)
	require.Len(t, first, 2, "tailed to the requested days")
	assert.Equal(t, "2026-02-06", first[0].Date)

	second := fetcher.History("2330", 2)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, primary.dailyCalls, "second call served from cache")

	fetcher.History("2330", 5)
	assert.Equal(t, 2, primary.dailyCalls, "different window is a different cache key")
}

func TestHistory_FallbackWhenPrimaryLatched(t *testing.T) {
	exchange := &fakeExchange{monthly: map[string][]twse.Candle{
		"2026-02": candleRun("2026-02-02", "2026-02-03"),
		"2026-01": candleRun("2026-01-28", "2026-01-29"),
	}}
	primary := &fakePrimary{available: false}
	fetcher := newTestFetcher(exchange, primary)

	candles := fetcher.History("2330", 3)
	require.Len(t, candles, 3)
	assert.Equal(t, 0, primary.dailyCalls, "latched primary must not be consulted")
	// ceil(3/20)+1 = 2 monthly queries.
	assert.Equal(t, 2, exchange.monthlyCalls)
	assert.Equal(t, "2026-02-03", candles[len(candles)-1].Date, "ascending after merge")
}

func TestHistory_QuotaLatchSticksForTheRun(t *testing.T) {
	exchange := &fakeExchange{monthly: map[string][]twse.Candle{}}
	primary := &fakePrimary{available: true, dailyErr: finmind.ErrQuotaExceeded}
	fetcher := newTestFetcher(exchange, primary)

	fetcher.History("2330", 5)
	require.Equal(t, 1, primary.dailyCalls)
	assert.True(t, fetcher.UsingFallback())

	// Subsequent lookups go straight to the fallback.
	fetcher.History("2317", 5)
	assert.Equal(t, 1, primary.dailyCalls, "primary not consulted again after quota latch")
}

func TestIndustry_DefaultsUnclassified(t *testing.T) {
	exchange := &fakeExchange{industries: map[string]string{"2330": "半導體業"}}
	fetcher := newTestFetcher(exchange, &fakePrimary{available: true})

	assert.Equal(t, "半導體業", fetcher.Industry("2330"))
	assert.Equal(t, UnclassifiedIndustry, fetcher.Industry("9999"))
}

func TestPivotInstFlows(t *testing.T) {
	flows := []finmind.InstFlow{
		{Date: "2026-02-09", Name: "Foreign_Investor", Buy: 5_500_000, Sell: 1_500_000},
		{Date: "2026-02-09", Name: "Investment_Trust", Buy: 900_000, Sell: 100_000},
		{Date: "2026-02-09", Name: "Dealer_self", Buy: 100_000, Sell: 400_000},
		{Date: "2026-02-10", Name: "Foreign_Investor", Buy: 2_000_000, Sell: 3_000_000},
	}

	daily := pivotInstFlows(flows)
	require.Len(t, daily, 2)

	day1 := daily[0]
	assert.Equal(t, "2026-02-09", day1.Date)
	assert.Equal(t, int64(4000), day1.Foreign, "shares convert to lots")
	assert.Equal(t, int64(800), day1.Trust)
	assert.Equal(t, int64(-300), day1.Dealer)
	assert.Equal(t, int64(4500), day1.Total)

	assert.Equal(t, int64(-1000), daily[1].Foreign)
}

func TestClassifyParticipant(t *testing.T) {
	assert.Equal(t, "foreign", classifyParticipant("Foreign_Investor"))
	assert.Equal(t, "foreign", classifyParticipant("外資及陸資"))
	assert.Equal(t, "trust", classifyParticipant("Investment_Trust"))
	assert.Equal(t, "trust", classifyParticipant("投信"))
	assert.Equal(t, "dealer", classifyParticipant("Dealer_self"))
	assert.Equal(t, "dealer", classifyParticipant("Dealer_Hedging"))
	assert.Equal(t, "dealer", classifyParticipant("Foreign_Dealer_Self"))
	assert.Equal(t, "", classifyParticipant("Other"))
}

func TestInstitutionalSummary(t *testing.T) {
	primary := &fakePrimary{available: true, flows: []finmind.InstFlow{
		{Date: "2026-02-06", Name: "Foreign_Investor", Buy: 2_000_000, Sell: 1_000_000},
		{Date: "2026-02-09", Name: "Foreign_Investor", Buy: 3_000_000, Sell: 1_000_000},
		{Date: "2026-02-09", Name: "Investment_Trust", Buy: 500_000, Sell: 0},
	}}
	fetcher := newTestFetcher(&fakeExchange{}, primary)

	summary, ok := fetcher.InstitutionalSummary("2330", 5)
	require.True(t, ok)
	assert.Equal(t, int64(2000), summary.ForeignToday)
	assert.Equal(t, int64(3000), summary.ForeignSum)
	assert.Equal(t, int64(500), summary.TrustToday)
	assert.Equal(t, int64(500), summary.TrustSum)
	assert.Equal(t, int64(3500), summary.TotalSum)
}

func TestBenchmarkChange_CachedOnce(t *testing.T) {
	exchange := &fakeExchange{benchmark: 1.25, benchmarkOK: true}
	fetcher := newTestFetcher(exchange, &fakePrimary{available: true})

	change, ok := fetcher.BenchmarkChange()
	require.True(t, ok)
	assert.Equal(t, 1.25, change)

	exchange.benchmark = 99
	change, _ = fetcher.BenchmarkChange()
	assert.Equal(t, 1.25, change, "benchmark is read once per run")
}
