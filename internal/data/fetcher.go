// Package data is the unified data-access layer. A Fetcher owns the
// per-run caches and hides the primary/fallback provider arrangement:
// FinMind first, exchange endpoints when FinMind is latched off or comes
// back empty. All methods degrade to empty results; they never abort a
// pipeline run.
package data

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/charlie1223/stock-screener/internal/finmind"
	"github.com/charlie1223/stock-screener/internal/twse"
)

// UnclassifiedIndustry is the label for tickers missing from the registry.
const UnclassifiedIndustry = "未分類"

// Index proxy ETFs: a large cap-weighted tracker per venue.
const (
	mainIndexProxy = "0050"
	otcIndexProxy  = "006201"
)

// InstDaily is one day of pivoted institutional net buy for a ticker,
// in lots.
type InstDaily struct {
	Date    string
	Foreign int64
	Trust   int64
	Dealer  int64
	Total   int64
}

// InstSummary aggregates a short institutional window for display, in lots.
type InstSummary struct {
	ForeignToday int64
	ForeignSum   int64
	TrustToday   int64
	TrustSum     int64
	DealerToday  int64
	DealerSum    int64
	TotalToday   int64
	TotalSum     int64
}

// Revenue is one month of reported revenue.
type Revenue struct {
	Date    string
	Revenue float64
}

// HoldingWeek is one weekly >=1000-lot holder observation.
type HoldingWeek struct {
	Date     string
	MajorPct float64
}

// FuturesPosition is the foreign TX open-interest read, from whichever
// provider answered.
type FuturesPosition struct {
	Change int64
	Long   int64
	Short  int64
	Net    int64
	Date   string
}

// ExchangeClient is the exchange-endpoint surface the fetcher consumes.
// *twse.Client implements it.
type ExchangeClient interface {
	Snapshot() []twse.Quote
	MonthlyCandles(id string, year int, month time.Month) []twse.Candle
	IndustryMap() map[string]string
	SpotForeignFlow() (*twse.SpotFlow, error)
	BenchmarkChange() (float64, bool)
	ForeignFuturesOI() (*twse.FuturesOI, error)
}

// PrimaryClient is the primary-provider surface the fetcher consumes.
// *finmind.Client implements it. Available flips false once the provider
// latches off for the run.
type PrimaryClient interface {
	Available() bool
	DailyCandles(id, startDate, endDate string) ([]twse.Candle, error)
	MarketCaps(startDate, endDate string) (map[string]float64, error)
	SharesOutstanding(startDate, endDate string) (map[string]float64, error)
	InstitutionalBuySell(id, startDate, endDate string) ([]finmind.InstFlow, error)
	MonthlyRevenues(id, startDate, endDate string) ([]finmind.MonthlyRevenue, error)
	QuarterlyEPS(id, startDate, endDate string) ([]float64, error)
	MajorHolderWeeks(id, startDate, endDate string) ([]finmind.HoldingWeek, error)
	ForeignFuturesOI(startDate, endDate string) (*finmind.FuturesOI, error)
}

// Fetcher aggregates the two providers behind per-run caches. Cache maps
// are write-once-per-key under a single mutex, safe for the stage worker
// pools.
type Fetcher struct {
	exchange ExchangeClient
	primary  PrimaryClient
	log      zerolog.Logger
	now      func() time.Time
	pause    time.Duration // between monthly fallback queries

	mu             sync.Mutex
	historyCache   map[string][]twse.Candle
	industryCache  map[string]string
	marketCaps     map[string]float64
	marketCapsSet  bool
	shares         map[string]float64
	sharesSet      bool
	benchmark      float64
	benchmarkOK    bool
	benchmarkSet   bool
	instDailyCache map[string][]InstDaily
}

// NewFetcher wires the two provider clients into one facade.
func NewFetcher(exchange ExchangeClient, primary PrimaryClient, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		exchange:       exchange,
		primary:        primary,
		log:            log.With().Str("component", "fetcher").Logger(),
		now:            time.Now,
		pause:          300 * time.Millisecond,
		historyCache:   make(map[string][]twse.Candle),
		instDailyCache: make(map[string][]InstDaily),
	}
}

// Snapshot returns the full realtime universe for both venues.
func (f *Fetcher) Snapshot() []twse.Quote {
	return f.exchange.Snapshot()
}

// UsingFallback reports whether the primary provider has latched off.
func (f *Fetcher) UsingFallback() bool {
	return !f.primary.Available()
}

// Now exposes the fetcher clock so stages share one notion of "today".
func (f *Fetcher) Now() time.Time {
	return f.now()
}

func (f *Fetcher) dateRange(daysBack int) (string, string) {
	end := f.now()
	start := end.AddDate(0, 0, -daysBack)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// History returns the last `days` trading days of OHLCV for a ticker,
// ascending, memoized for the run. Primary provider first; the exchange
// monthly reports serve as fallback. Empty means no data, never an error.
func (f *Fetcher) History(id string, days int) []twse.Candle {
	key := fmt.Sprintf("%s_%d", id, days)

	f.mu.Lock()
	if cached, ok := f.historyCache[key]; ok {
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	var candles []twse.Candle
	if f.primary.Available() {
		start, end := f.dateRange(days * 2)
		fetched, err := f.primary.DailyCandles(id, start, end)
		if err == nil && len(fetched) > 0 {
			if len(fetched) > days {
				fetched = fetched[len(fetched)-days:]
			}
			candles = fetched
		}
	}

	if len(candles) == 0 {
		candles = f.historyFromExchange(id, days)
	}

	if len(candles) > 0 {
		f.mu.Lock()
		if _, ok := f.historyCache[key]; !ok {
			f.historyCache[key] = candles
		} else {
			candles = f.historyCache[key]
		}
		f.mu.Unlock()
	}
	return candles
}

// historyFromExchange stitches monthly reports together: ceil(days/20)+1
// months, deduplicated by date, ascending, tailed to `days`.
func (f *Fetcher) historyFromExchange(id string, days int) []twse.Candle {
	months := int(math.Ceil(float64(days)/20)) + 1

	var runs [][]twse.Candle
	for i := 0; i < months; i++ {
		target := f.now().AddDate(0, 0, -i*30)
		run := f.exchange.MonthlyCandles(id, target.Year(), target.Month())
		if len(run) > 0 {
			runs = append(runs, run)
		}
		time.Sleep(f.pause)
	}
	if len(runs) == 0 {
		return nil
	}
	return twse.MergeCandles(runs, days)
}

// IndexCandles returns history for a venue's index proxy ETF.
func (f *Fetcher) IndexCandles(market string, days int) []twse.Candle {
	proxy := mainIndexProxy
	if market == twse.MarketOTC {
		proxy = otcIndexProxy
	}
	return f.History(proxy, days)
}

// IndustryMap returns ticker id -> industry, cached for the run.
func (f *Fetcher) IndustryMap() map[string]string {
	f.mu.Lock()
	if f.industryCache != nil {
		cached := f.industryCache
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	industries := f.exchange.IndustryMap()

	f.mu.Lock()
	if f.industryCache == nil {
		f.industryCache = industries
	}
	cached := f.industryCache
	f.mu.Unlock()
	return cached
}

// Industry returns one ticker's industry label, UnclassifiedIndustry on miss.
func (f *Fetcher) Industry(id string) string {
	if industry, ok := f.IndustryMap()[id]; ok && industry != "" {
		return industry
	}
	return UnclassifiedIndustry
}

// MarketCaps returns the latest market-cap snapshot (hundred-millions),
// cached for the run. Empty map when the provider has nothing.
func (f *Fetcher) MarketCaps() map[string]float64 {
	f.mu.Lock()
	if f.marketCapsSet {
		cached := f.marketCaps
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	caps := map[string]float64{}
	start, end := f.dateRange(7)
	if fetched, err := f.primary.MarketCaps(start, end); err == nil {
		caps = fetched
	} else {
		f.log.Debug().Err(err).Msg("market caps unavailable")
	}

	f.mu.Lock()
	if !f.marketCapsSet {
		f.marketCaps = caps
		f.marketCapsSet = true
	}
	cached := f.marketCaps
	f.mu.Unlock()
	return cached
}

// SharesOutstanding returns issued shares per ticker, cached for the run.
func (f *Fetcher) SharesOutstanding() map[string]float64 {
	f.mu.Lock()
	if f.sharesSet {
		cached := f.shares
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	shares := map[string]float64{}
	start, end := f.dateRange(30)
	if fetched, err := f.primary.SharesOutstanding(start, end); err == nil {
		shares = fetched
	} else {
		f.log.Debug().Err(err).Msg("shares outstanding unavailable")
	}

	f.mu.Lock()
	if !f.sharesSet {
		f.shares = shares
		f.sharesSet = true
	}
	cached := f.shares
	f.mu.Unlock()
	return cached
}

// BenchmarkChange returns the weighted index's daily change percent,
// fetched once per run.
func (f *Fetcher) BenchmarkChange() (float64, bool) {
	f.mu.Lock()
	if f.benchmarkSet {
		change, ok := f.benchmark, f.benchmarkOK
		f.mu.Unlock()
		return change, ok
	}
	f.mu.Unlock()

	change, ok := f.exchange.BenchmarkChange()

	f.mu.Lock()
	if !f.benchmarkSet {
		f.benchmark = change
		f.benchmarkOK = ok
		f.benchmarkSet = true
	}
	change, ok = f.benchmark, f.benchmarkOK
	f.mu.Unlock()
	return change, ok
}

// MonthlyRevenues returns up to 14 months of revenue, ascending.
func (f *Fetcher) MonthlyRevenues(id string) []Revenue {
	start, end := f.dateRange(430)
	rows, err := f.primary.MonthlyRevenues(id, start, end)
	if err != nil {
		return nil
	}
	revs := make([]Revenue, 0, len(rows))
	for _, row := range rows {
		revs = append(revs, Revenue{Date: row.Date, Revenue: row.Revenue})
	}
	return revs
}

// QuarterlyEPS returns reported quarterly EPS values, ascending.
func (f *Fetcher) QuarterlyEPS(id string) []float64 {
	start, end := f.dateRange(400)
	eps, err := f.primary.QuarterlyEPS(id, start, end)
	if err != nil {
		return nil
	}
	return eps
}

// MajorHolderWeeks returns the weekly >=1000-lot holder percentages,
// ascending.
func (f *Fetcher) MajorHolderWeeks(id string) []HoldingWeek {
	start, end := f.dateRange(90)
	rows, err := f.primary.MajorHolderWeeks(id, start, end)
	if err != nil {
		return nil
	}
	weeks := make([]HoldingWeek, 0, len(rows))
	for _, row := range rows {
		weeks = append(weeks, HoldingWeek{Date: row.Date, MajorPct: row.MajorPct})
	}
	return weeks
}

// InstitutionalDaily pivots the per-participant flow rows into one net-buy
// record per day (lots), ascending, tailed to `days`. Memoized per
// (ticker, days) pair.
func (f *Fetcher) InstitutionalDaily(id string, days int) []InstDaily {
	key := fmt.Sprintf("%s_%d", id, days)

	f.mu.Lock()
	if cached, ok := f.instDailyCache[key]; ok {
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	start, end := f.dateRange(days * 2)
	flows, err := f.primary.InstitutionalBuySell(id, start, end)
	if err != nil || len(flows) == 0 {
		return nil
	}

	daily := pivotInstFlows(flows)
	if len(daily) > days {
		daily = daily[len(daily)-days:]
	}

	f.mu.Lock()
	if _, ok := f.instDailyCache[key]; !ok {
		f.instDailyCache[key] = daily
	} else {
		daily = f.instDailyCache[key]
	}
	f.mu.Unlock()
	return daily
}

// pivotInstFlows groups flow rows by date and participant, converting
// shares to lots by truncating division.
func pivotInstFlows(flows []finmind.InstFlow) []InstDaily {
	type acc struct{ foreign, trust, dealer float64 }
	byDate := make(map[string]*acc)
	var order []string

	for _, flow := range flows {
		a := byDate[flow.Date]
		if a == nil {
			a = &acc{}
			byDate[flow.Date] = a
			order = append(order, flow.Date)
		}
		net := flow.Buy - flow.Sell
		switch classifyParticipant(flow.Name) {
		case "foreign":
			a.foreign += net
		case "trust":
			a.trust += net
		case "dealer":
			a.dealer += net
		}
	}

	daily := make([]InstDaily, 0, len(order))
	for _, date := range order {
		a := byDate[date]
		rec := InstDaily{
			Date:    date,
			Foreign: int64(a.foreign) / 1000,
			Trust:   int64(a.trust) / 1000,
			Dealer:  int64(a.dealer) / 1000,
		}
		rec.Total = rec.Foreign + rec.Trust + rec.Dealer
		daily = append(daily, rec)
	}
	return daily
}

// classifyParticipant folds the dataset's participant labels (English and
// Chinese variants) into foreign / trust / dealer.
func classifyParticipant(name string) string {
	switch {
	case strings.Contains(name, "Foreign_Dealer"):
		return "dealer"
	case strings.Contains(name, "Foreign") || strings.Contains(name, "外資"):
		return "foreign"
	case strings.Contains(name, "Investment_Trust") || strings.Contains(name, "投信"):
		return "trust"
	case strings.Contains(name, "Dealer") || strings.Contains(name, "自營商"):
		return "dealer"
	default:
		return ""
	}
}

// InstitutionalSummary aggregates the latest day and the whole window per
// participant, for the report's reference columns.
func (f *Fetcher) InstitutionalSummary(id string, days int) (InstSummary, bool) {
	daily := f.InstitutionalDaily(id, days)
	if len(daily) == 0 {
		return InstSummary{}, false
	}

	var sum InstSummary
	latest := daily[len(daily)-1]
	sum.ForeignToday = latest.Foreign
	sum.TrustToday = latest.Trust
	sum.DealerToday = latest.Dealer
	sum.TotalToday = latest.Total
	for _, day := range daily {
		sum.ForeignSum += day.Foreign
		sum.TrustSum += day.Trust
		sum.DealerSum += day.Dealer
		sum.TotalSum += day.Total
	}
	return sum, true
}

// SpotForeignFlow reads the market-wide foreign spot net buy.
func (f *Fetcher) SpotForeignFlow() (*twse.SpotFlow, error) {
	return f.exchange.SpotForeignFlow()
}

// ForeignFuturesOI reads the foreign TX open-interest change: primary
// provider first, TAIFEX HTML tables as fallback.
func (f *Fetcher) ForeignFuturesOI() (*FuturesPosition, error) {
	if f.primary.Available() {
		start, end := f.dateRange(7)
		if oi, err := f.primary.ForeignFuturesOI(start, end); err == nil {
			return &FuturesPosition{
				Change: oi.Change,
				Long:   oi.Long,
				Short:  oi.Short,
				Net:    oi.Net,
				Date:   oi.Date,
			}, nil
		}
	}

	oi, err := f.exchange.ForeignFuturesOI()
	if err != nil {
		return nil, err
	}
	return &FuturesPosition{
		Change: oi.OIChange,
		Long:   oi.OILong,
		Short:  oi.OIShort,
		Net:    oi.OINet,
		Date:   oi.Date,
	}, nil
}
