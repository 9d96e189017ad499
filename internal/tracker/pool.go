// Package tracker holds the two standing scanners: the bullish-alignment
// pool and the institutional accumulation tracker. Both persist JSON
// history under the output directory; the files are touched only by their
// own scanner and only after a full recomputation.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/charlie1223/stock-screener/internal/twse"
)

const scanWorkers = 8

// PoolSource is the slice of the data layer the pool scanner needs.
type PoolSource interface {
	History(id string, days int) []twse.Candle
	IndustryMap() map[string]string
}

// PoolMember is one ticker currently in bullish alignment.
type PoolMember struct {
	ID              string  `json:"stock_id"`
	Name            string  `json:"stock_name"`
	Industry        string  `json:"industry"`
	Price           float64 `json:"price"`
	ChangePct       float64 `json:"change_pct"`
	MA5             float64 `json:"ma5"`
	MA10            float64 `json:"ma10"`
	MA20            float64 `json:"ma20"`
	MA60            float64 `json:"ma60"`
	ConsecutiveDays int     `json:"consecutive_days"`
}

// PoolDay is the persisted per-date pool snapshot.
type PoolDay struct {
	Date   string                `json:"date"`
	Stocks map[string]PoolMember `json:"stocks"`
}

// PoolHistoryEntry is the cumulative record for one ticker. Removed
// members keep their entry; only the removed date is stamped.
type PoolHistoryEntry struct {
	FirstDate       string `json:"first_date"`
	ConsecutiveDays int    `json:"consecutive_days"`
	LastDate        string `json:"last_date"`
	RemovedDate     string `json:"removed_date,omitempty"`
}

// PoolHistory is the long-lived history.json payload.
type PoolHistory struct {
	Stocks     map[string]*PoolHistoryEntry `json:"stocks"`
	LastUpdate string                       `json:"last_update"`
}

// PoolUpdate is the result of one daily diff.
type PoolUpdate struct {
	New       []string
	Removed   []string
	Continued []string
	Day       PoolDay
}

// PoolTracker scans for bullish-aligned tickers and tracks membership
// day over day.
type PoolTracker struct {
	source PoolSource
	dir    string
	log    zerolog.Logger
	now    func() time.Time
}

// NewPoolTracker stores its state under <outputDir>/bullish_pool.
func NewPoolTracker(source PoolSource, outputDir string, log zerolog.Logger) *PoolTracker {
	return &PoolTracker{
		source: source,
		dir:    filepath.Join(outputDir, "bullish_pool"),
		log:    log.With().Str("component", "bullish-pool").Logger(),
		now:    time.Now,
	}
}

// CheckBullish evaluates one ticker: price above every MA, the MAs in
// bullish order, and the MA60 higher than it was five days ago.
func (t *PoolTracker) CheckBullish(id string) (PoolMember, bool) {
	hist := t.source.History(id, 70)
	if len(hist) < 60 {
		return PoolMember{}, false
	}

	closeSeries := make([]float64, len(hist))
	for i, c := range hist {
		closeSeries[i] = c.Close
	}
	current := closeSeries[len(closeSeries)-1]

	mean := func(vals []float64) float64 {
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	}
	tail := func(n int) []float64 { return closeSeries[len(closeSeries)-n:] }

	ma5 := mean(tail(5))
	ma10 := mean(tail(10))
	ma20 := mean(tail(20))
	ma60 := mean(tail(60))

	aboveAll := current > ma5 && current > ma10 && current > ma20 && current > ma60
	aligned := ma5 > ma10 && ma10 > ma20 && ma20 > ma60

	trendingUp := true
	if len(closeSeries) >= 65 {
		ago := closeSeries[len(closeSeries)-65 : len(closeSeries)-5]
		trendingUp = ma60 > mean(ago)
	}

	if !(aboveAll && aligned && trendingUp) {
		return PoolMember{}, false
	}
	return PoolMember{
		ID:   id,
		MA5:  ma5,
		MA10: ma10,
		MA20: ma20,
		MA60: ma60,
	}, true
}

// Scan walks the quote universe and returns the members in bullish
// alignment, preserving snapshot order.
func (t *PoolTracker) Scan(quotes []twse.Quote) []PoolMember {
	t.log.Info().Int("universe", len(quotes)).Msg("scanning for bullish alignment")
	industries := t.source.IndustryMap()

	results := make(map[string]PoolMember, len(quotes))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(scanWorkers)
	for _, quote := range quotes {
		quote := quote
		g.Go(func() error {
			member, ok := t.CheckBullish(quote.ID)
			if !ok {
				return nil
			}
			member.Name = quote.Name
			member.Price = quote.Price
			member.ChangePct = quote.ChangePct
			member.Industry = industries[quote.ID]
			if member.Industry == "" {
				member.Industry = "未分類"
			}
			mu.Lock()
			results[quote.ID] = member
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	members := make([]PoolMember, 0, len(results))
	for _, quote := range quotes {
		if member, ok := results[quote.ID]; ok {
			members = append(members, member)
		}
	}
	t.log.Info().Int("count", len(members)).Msg("bullish pool scan complete")
	return members
}

// Update diffs today's membership against yesterday's pool file,
// maintains the cumulative history, and persists both.
func (t *PoolTracker) Update(members []PoolMember) (*PoolUpdate, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pool dir: %w", err)
	}

	today := t.now().Format("20060102")
	yesterday := t.now().AddDate(0, 0, -1).Format("20060102")

	prevPool := t.loadPool(yesterday)
	history := t.LoadHistory()

	todayIDs := make(map[string]bool, len(members))
	for _, member := range members {
		todayIDs[member.ID] = true
	}
	prevIDs := make(map[string]bool, len(prevPool.Stocks))
	for id := range prevPool.Stocks {
		prevIDs[id] = true
	}

	update := &PoolUpdate{}
	for id := range todayIDs {
		if prevIDs[id] {
			update.Continued = append(update.Continued, id)
		} else {
			update.New = append(update.New, id)
		}
	}
	for id := range prevIDs {
		if !todayIDs[id] {
			update.Removed = append(update.Removed, id)
		}
	}
	sort.Strings(update.New)
	sort.Strings(update.Removed)
	sort.Strings(update.Continued)

	for _, id := range update.New {
		history.Stocks[id] = &PoolHistoryEntry{FirstDate: today, ConsecutiveDays: 1, LastDate: today}
	}
	for _, id := range update.Continued {
		if entry, ok := history.Stocks[id]; ok {
			entry.ConsecutiveDays++
			entry.LastDate = today
			entry.RemovedDate = ""
		} else {
			history.Stocks[id] = &PoolHistoryEntry{FirstDate: today, ConsecutiveDays: 1, LastDate: today}
		}
	}
	for _, id := range update.Removed {
		if entry, ok := history.Stocks[id]; ok {
			entry.RemovedDate = today
		}
	}
	history.LastUpdate = today

	update.Day = PoolDay{Date: today, Stocks: make(map[string]PoolMember, len(members))}
	for _, member := range members {
		if entry, ok := history.Stocks[member.ID]; ok {
			member.ConsecutiveDays = entry.ConsecutiveDays
		} else {
			member.ConsecutiveDays = 1
		}
		update.Day.Stocks[member.ID] = member
	}

	if err := t.saveHistory(history); err != nil {
		return nil, err
	}
	if err := t.savePool(update.Day); err != nil {
		return nil, err
	}

	t.log.Info().
		Int("pool", len(update.Day.Stocks)).
		Int("new", len(update.New)).
		Int("removed", len(update.Removed)).
		Msg("bullish pool updated")
	return update, nil
}

func (t *PoolTracker) poolFile(date string) string {
	return filepath.Join(t.dir, fmt.Sprintf("pool_%s.json", date))
}

func (t *PoolTracker) historyFile() string {
	return filepath.Join(t.dir, "history.json")
}

func (t *PoolTracker) loadPool(date string) PoolDay {
	day := PoolDay{Stocks: map[string]PoolMember{}}
	raw, err := os.ReadFile(t.poolFile(date))
	if err != nil {
		return day
	}
	if err := json.Unmarshal(raw, &day); err != nil {
		t.log.Warn().Err(err).Str("date", date).Msg("corrupt pool file ignored")
		return PoolDay{Stocks: map[string]PoolMember{}}
	}
	if day.Stocks == nil {
		day.Stocks = map[string]PoolMember{}
	}
	return day
}

func (t *PoolTracker) savePool(day PoolDay) error {
	raw, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.poolFile(day.Date), raw, 0o644)
}

// LoadHistory reads the cumulative pool history, empty when absent.
func (t *PoolTracker) LoadHistory() PoolHistory {
	history := PoolHistory{Stocks: map[string]*PoolHistoryEntry{}}
	raw, err := os.ReadFile(t.historyFile())
	if err != nil {
		return history
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		t.log.Warn().Err(err).Msg("corrupt pool history ignored")
		return PoolHistory{Stocks: map[string]*PoolHistoryEntry{}}
	}
	if history.Stocks == nil {
		history.Stocks = map[string]*PoolHistoryEntry{}
	}
	return history
}

func (t *PoolTracker) saveHistory(history PoolHistory) error {
	raw, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.historyFile(), raw, 0o644)
}
