// Package market holds the run-level context reads: index moving-average
// status for both venues and the foreign spot/futures sentiment cross-read.
package market

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/charlie1223/stock-screener/internal/twse"
)

// HistorySource is the slice of the data layer the monitor needs.
type HistorySource interface {
	IndexCandles(market string, days int) []twse.Candle
}

// IndexStatus is one venue's index posture relative to its moving averages.
type IndexStatus struct {
	Market       string
	CurrentPrice float64
	MAValues     map[int]float64
	AboveMA      map[int]bool
	IsBullish    bool
	BrokenMA     []int
}

// Status is the combined market context reported before screening.
type Status struct {
	Main     *IndexStatus
	OTC      *IndexStatus
	Warnings []string
	IsSafe   bool
}

// Monitor summarizes index MA alignment through the venue proxy ETFs.
type Monitor struct {
	source  HistorySource
	periods []int
	log     zerolog.Logger
}

// NewMonitor builds a monitor over the standard MA set {5,10,20,60}.
func NewMonitor(source HistorySource, log zerolog.Logger) *Monitor {
	return &Monitor{
		source:  source,
		periods: []int{5, 10, 20, 60},
		log:     log.With().Str("component", "market-monitor").Logger(),
	}
}

// Check reads both venues and collects warnings for every broken MA and
// non-bullish alignment.
func (m *Monitor) Check() Status {
	m.log.Info().Msg("checking index MA status")

	status := Status{
		Main:   m.indexStatus(twse.MarketMain),
		OTC:    m.indexStatus(twse.MarketOTC),
		IsSafe: true,
	}

	appendWarnings := func(label string, idx *IndexStatus) {
		if idx == nil {
			return
		}
		if len(idx.BrokenMA) > 0 {
			labels := make([]string, len(idx.BrokenMA))
			for i, period := range idx.BrokenMA {
				labels[i] = fmt.Sprintf("MA%d", period)
			}
			status.Warnings = append(status.Warnings,
				fmt.Sprintf("%s跌破 %s 均線", label, strings.Join(labels, "/")))
			status.IsSafe = false
		}
		if !idx.IsBullish {
			status.Warnings = append(status.Warnings, fmt.Sprintf("%s均線非多頭排列", label))
		}
	}
	appendWarnings("加權指數", status.Main)
	appendWarnings("櫃買指數", status.OTC)

	return status
}

// indexStatus computes MA values and alignment for one venue. Returns nil
// when the proxy history is too short to cover the longest period.
func (m *Monitor) indexStatus(venue string) *IndexStatus {
	longest := m.periods[len(m.periods)-1]

	candles := m.source.IndexCandles(venue, longest+10)
	if len(candles) < longest {
		m.log.Warn().Str("market", venue).Int("candles", len(candles)).Msg("index history too short")
		return nil
	}

	closeSeries := make([]float64, len(candles))
	for i, c := range candles {
		closeSeries[i] = c.Close
	}
	current := closeSeries[len(closeSeries)-1]

	idx := &IndexStatus{
		Market:       venue,
		CurrentPrice: current,
		MAValues:     make(map[int]float64, len(m.periods)),
		AboveMA:      make(map[int]bool, len(m.periods)),
	}

	for _, period := range m.periods {
		var sum float64
		for _, v := range closeSeries[len(closeSeries)-period:] {
			sum += v
		}
		ma := sum / float64(period)
		idx.MAValues[period] = ma
		idx.AboveMA[period] = current >= ma
		if !idx.AboveMA[period] {
			idx.BrokenMA = append(idx.BrokenMA, period)
		}
	}
	sort.Ints(idx.BrokenMA)

	// Bullish alignment: every shorter MA strictly above the next longer.
	idx.IsBullish = true
	for i := 0; i < len(m.periods)-1; i++ {
		if idx.MAValues[m.periods[i]] <= idx.MAValues[m.periods[i+1]] {
			idx.IsBullish = false
			break
		}
	}

	return idx
}
