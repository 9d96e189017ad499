package screen

import (
	"fmt"
	"sort"
	"time"

	"github.com/charlie1223/stock-screener/internal/config"
)

// RightStages builds the momentum ("chase the move, keep the strongest")
// chain: market cap, daily change band, volume ratio, MA alignment, strength
// against the benchmark, and finally the close near the intraday high.
func RightStages(ds DataSource, p config.Params) []Stage {
	return []Stage{
		&MarketCapStage{stageMeta{1, fmt.Sprintf("市值 %.0f-%.0f億", p.MarketCapMin, p.MarketCapMax)}, ds, p},
		&PriceChangeStage{stageMeta{2, fmt.Sprintf("漲幅 %.0f%%-%.0f%%", p.PriceChangeMin, p.PriceChangeMax)}, p},
		&VolumeRatioStage{stageMeta{3, fmt.Sprintf("量比 > %.1f", p.VolumeRatioMin)}, ds, p},
		&MABullishStage{stageMeta{4, "均線多頭排列"}, ds},
		&RelativeStrengthStage{stageMeta{5, "強於大盤"}, ds},
		&IntradayHighStage{stageMeta{6, "尾盤創新高"}, p},
	}
}

// PriceChangeStage keeps tickers whose daily change sits inside the band.
type PriceChangeStage struct {
	stageMeta
	p config.Params
}

func (s *PriceChangeStage) Screen(batch Batch) Batch {
	out := make(Batch, 0, len(batch))
	for _, row := range batch {
		if row.ChangePct < s.p.PriceChangeMin || row.ChangePct > s.p.PriceChangeMax {
			continue
		}
		out = append(out, row.Clone())
	}
	return out
}

// VolumeRatioStage compares today's volume against the 5-day average,
// scaled by how much of the session has elapsed so a 10:00 snapshot is not
// punished for half-day volume.
type VolumeRatioStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

// timeElapsedFraction is the session fraction in [0.1, 1.0].
func timeElapsedFraction(now time.Time) float64 {
	hour, minute := now.Hour(), now.Minute()

	var elapsed float64
	switch {
	case hour < config.MarketOpenHour:
		elapsed = 0
	case hour > config.MarketCloseHour || (hour == config.MarketCloseHour && minute >= config.MarketCloseMin):
		elapsed = config.SessionMinutes
	default:
		elapsed = float64((hour-config.MarketOpenHour)*60 + minute)
	}

	fraction := elapsed / config.SessionMinutes
	if fraction < 0.1 {
		return 0.1
	}
	if fraction > 1.0 {
		return 1.0
	}
	return fraction
}

func (s *VolumeRatioStage) Screen(batch Batch) Batch {
	fraction := timeElapsedFraction(s.ds.Now())

	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, 5)
		if len(hist) == 0 {
			return dropRow()
		}
		avg, ok := tailMean(volumeLots(hist), len(hist))
		if !ok || avg <= 0 {
			return dropRow()
		}

		expected := avg * fraction
		ratio := float64(row.Volume) / expected
		if ratio <= s.p.VolumeRatioMin {
			return dropRow()
		}
		return keepWith(map[string]interface{}{"volume_ratio": ratio})
	})
}

// MABullishStage requires the full bullish alignment
// price > MA5 > MA10 > MA20 > MA60 plus a rising MA60.
type MABullishStage struct {
	stageMeta
	ds DataSource
}

func (s *MABullishStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, 80)
		if len(hist) < 60 {
			return dropRow()
		}
		closeSeries := closes(hist)

		ma5, ok5 := lastSMA(closeSeries, 5)
		ma10, ok10 := lastSMA(closeSeries, 10)
		ma20, ok20 := lastSMA(closeSeries, 20)
		ma60, ok60 := lastSMA(closeSeries, 60)
		if !ok5 || !ok10 || !ok20 || !ok60 {
			return dropRow()
		}

		aligned := row.Price > ma5 && ma5 > ma10 && ma10 > ma20 && ma20 > ma60
		if !aligned || !ma60SlopeUp(closeSeries) {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"ma_bullish": true,
			"ma5":        ma5,
			"ma10":       ma10,
			"ma20":       ma20,
			"ma60":       ma60,
		})
	})
}

// ma60SlopeUp compares the recent 5-day mean of the MA60 series against
// the mean of the stretch ten days earlier.
func ma60SlopeUp(closeSeries []float64) bool {
	series := smaSeries(closeSeries, 60)
	if len(series) < 15 {
		return false
	}
	recent, ok1 := tailMean(series, 5)
	before, ok2 := tailMean(series[:len(series)-10], 5)
	if !ok1 || !ok2 {
		return false
	}
	return recent > before
}

// RelativeStrengthStage keeps tickers outperforming the benchmark index;
// without a benchmark read it falls back to requiring a positive day.
type RelativeStrengthStage struct {
	stageMeta
	ds DataSource
}

func (s *RelativeStrengthStage) Screen(batch Batch) Batch {
	benchmark, ok := s.ds.BenchmarkChange()

	out := make(Batch, 0, len(batch))
	for _, row := range batch {
		if !ok || benchmark == 0 {
			if row.ChangePct <= 0 {
				continue
			}
			kept := row.Clone()
			kept.Set("relative_strength", row.ChangePct)
			out = append(out, kept)
			continue
		}

		if row.ChangePct <= benchmark {
			continue
		}
		abs := benchmark
		if abs < 0 {
			abs = -abs
		}
		kept := row.Clone()
		kept.Set("relative_strength", row.ChangePct/abs)
		out = append(out, kept)
	}
	return out
}

// IntradayHighStage keeps tickers closing the session at the top of their
// daily range and above the open.
type IntradayHighStage struct {
	stageMeta
	p config.Params
}

func (s *IntradayHighStage) Screen(batch Batch) Batch {
	out := make(Batch, 0, len(batch))
	for _, row := range batch {
		if row.Price < row.High*s.p.IntradayHighThreshold || row.Price <= row.Open {
			continue
		}
		kept := row.Clone()
		kept.Set("intraday_strong", true)
		out = append(out, kept)
	}
	return out
}

// RankByChange sorts the final momentum batch by change percent descending
// (stable, so equal movers keep snapshot order) and assigns rank 1..N.
func RankByChange(batch Batch) Batch {
	ranked := batch.Clone()
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ChangePct > ranked[j].ChangePct
	})
	for i := range ranked {
		ranked[i].Set("rank", i+1)
	}
	return ranked
}
