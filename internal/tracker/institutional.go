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

	"github.com/charlie1223/stock-screener/internal/data"
)

// instWindowDays is the institutional window every analysis runs over.
const instWindowDays = 20

// historyCap bounds the per-ticker daily records kept in history.json.
const historyCap = 30

// InstSource is the slice of the data layer the tracker needs.
type InstSource interface {
	InstitutionalDaily(id string, days int) []data.InstDaily
}

// TrackRecord is one ticker's accumulation analysis for the day.
type TrackRecord struct {
	StockID string
	data.AccumulationAnalysis
}

// InstDailyRecord is the persisted shape of one tracked day.
type InstDailyRecord struct {
	Date               string `json:"date"`
	ForeignConsecutive int    `json:"foreign_consecutive"`
	TrustConsecutive   int    `json:"trust_consecutive"`
	Foreign20dSum      int64  `json:"foreign_20d_sum"`
	Trust20dSum        int64  `json:"trust_20d_sum"`
	Behavior           string `json:"behavior"`
}

// InstHistoryEntry is the long-lived record per tracked ticker.
type InstHistoryEntry struct {
	FirstTracked string            `json:"first_tracked"`
	TrackingDays int               `json:"tracking_days"`
	LastUpdate   string            `json:"last_update"`
	History      []InstDailyRecord `json:"history"`
}

// InstHistory is the history.json payload.
type InstHistory struct {
	Stocks     map[string]*InstHistoryEntry `json:"stocks"`
	LastUpdate string                       `json:"last_update"`
}

// InstTracker detects quiet institutional accumulation across the universe
// and keeps a rolling per-ticker history.
type InstTracker struct {
	source InstSource
	dir    string
	log    zerolog.Logger
	now    func() time.Time
}

// NewInstTracker stores its state under <outputDir>/institutional_tracker.
func NewInstTracker(source InstSource, outputDir string, log zerolog.Logger) *InstTracker {
	return &InstTracker{
		source: source,
		dir:    filepath.Join(outputDir, "institutional_tracker"),
		log:    log.With().Str("component", "inst-tracker").Logger(),
		now:    time.Now,
	}
}

// Scan analyzes every ticker and returns the ones with a consecutive
// net-buy run of at least minConsecutive days by either participant,
// sorted by the longer run.
func (t *InstTracker) Scan(ids []string, minConsecutive int) []TrackRecord {
	t.log.Info().Int("universe", len(ids)).Msg("scanning institutional accumulation")

	results := make(map[string]TrackRecord, len(ids))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(scanWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			daily := t.source.InstitutionalDaily(id, instWindowDays)
			analysis, ok := data.AnalyzeAccumulation(daily)
			if !ok {
				return nil
			}
			if analysis.ForeignConsecutiveBuy < minConsecutive && analysis.TrustConsecutiveBuy < minConsecutive {
				return nil
			}
			mu.Lock()
			results[id] = TrackRecord{StockID: id, AccumulationAnalysis: analysis}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	records := make([]TrackRecord, 0, len(results))
	for _, id := range ids {
		if record, ok := results[id]; ok {
			records = append(records, record)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return maxRun(records[i]) > maxRun(records[j])
	})

	t.log.Info().Int("count", len(records)).Msg("institutional scan complete")
	return records
}

func maxRun(record TrackRecord) int {
	if record.ForeignConsecutiveBuy > record.TrustConsecutiveBuy {
		return record.ForeignConsecutiveBuy
	}
	return record.TrustConsecutiveBuy
}

// UpdateTracking appends today's records to the rolling history and
// persists it.
func (t *InstTracker) UpdateTracking(records []TrackRecord) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("create tracker dir: %w", err)
	}

	today := t.now().Format("20060102")
	history := t.LoadHistory()

	for _, record := range records {
		entry, ok := history.Stocks[record.StockID]
		if !ok {
			entry = &InstHistoryEntry{FirstTracked: today}
			history.Stocks[record.StockID] = entry
		}
		entry.TrackingDays++
		entry.LastUpdate = today
		entry.History = append(entry.History, InstDailyRecord{
			Date:               today,
			ForeignConsecutive: record.ForeignConsecutiveBuy,
			TrustConsecutive:   record.TrustConsecutiveBuy,
			Foreign20dSum:      record.Foreign20dSum,
			Trust20dSum:        record.Trust20dSum,
			Behavior:           record.BehaviorType,
		})
		if len(entry.History) > historyCap {
			entry.History = entry.History[len(entry.History)-historyCap:]
		}
	}
	history.LastUpdate = today

	return t.saveHistory(history)
}

func (t *InstTracker) historyFile() string {
	return filepath.Join(t.dir, "history.json")
}

// LoadHistory reads the tracker history, empty when absent.
func (t *InstTracker) LoadHistory() InstHistory {
	history := InstHistory{Stocks: map[string]*InstHistoryEntry{}}
	raw, err := os.ReadFile(t.historyFile())
	if err != nil {
		return history
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		t.log.Warn().Err(err).Msg("corrupt tracker history ignored")
		return InstHistory{Stocks: map[string]*InstHistoryEntry{}}
	}
	if history.Stocks == nil {
		history.Stocks = map[string]*InstHistoryEntry{}
	}
	return history
}

func (t *InstTracker) saveHistory(history InstHistory) error {
	raw, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.historyFile(), raw, 0o644)
}
