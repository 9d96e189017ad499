package screen

import (
	"fmt"

	"github.com/charlie1223/stock-screener/internal/config"
	"github.com/charlie1223/stock-screener/internal/data"
)

// stageMeta carries the step number and display name every stage reports.
type stageMeta struct {
	step int
	name string
}

func (m stageMeta) Step() int    { return m.step }
func (m stageMeta) Name() string { return m.name }

// LeftStages builds the accumulation ("buy before the move") chain:
// fundamentals first, then pullback technicals, then ownership flow.
func LeftStages(ds DataSource, p config.Params) []Stage {
	return []Stage{
		&MarketCapStage{stageMeta{1, fmt.Sprintf("市值 %.0f-%.0f億", p.MarketCapMin, p.MarketCapMax)}, ds, p},
		&RevenueGrowthStage{stageMeta{2, "營收成長"}, ds, p},
		&PERatioStage{stageMeta{3, fmt.Sprintf("本益比 <= %.0f", p.PERatioMax)}, ds, p},
		&HigherLowsStage{stageMeta{4, "底底高確認"}, ds, p},
		&PullbackStage{stageMeta{5, "回調守支撐"}, ds, p},
		&VolumePriceHealthStage{stageMeta{6, "量價健康"}, ds, p},
		&VolumeShrinkStage{stageMeta{7, "連續縮量"}, ds, p},
		&RSIOversoldStage{stageMeta{8, fmt.Sprintf("RSI超賣 <= %.0f", p.RSIOversold)}, ds, p},
		&TurnoverRateStage{stageMeta{9, fmt.Sprintf("換手率 %.1f%%-%.1f%%", p.TurnoverRateMin, p.TurnoverRateMax)}, ds, p},
		&MajorHolderStage{stageMeta{10, "大戶持股"}, ds, p},
		&QuietAccumulationStage{stageMeta{11, "法人吸籌"}, ds, p},
	}
}

// MarketCapStage keeps tickers whose capitalization sits inside the band.
// When the market-cap snapshot is entirely missing it degrades to a
// traded-value proxy and records market_cap as null.
type MarketCapStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *MarketCapStage) Screen(batch Batch) Batch {
	caps := s.ds.MarketCaps()

	out := make(Batch, 0, len(batch))
	if len(caps) > 0 {
		for _, row := range batch {
			cap, ok := caps[row.ID]
			if !ok || cap < s.p.MarketCapMin || cap > s.p.MarketCapMax {
				continue
			}
			kept := row.Clone()
			kept.Set("market_cap", cap)
			out = append(out, kept)
		}
		return out
	}

	// Traded-value proxy, in ten-thousands: lots * price * 1000 / 10000.
	minTradeValue := s.p.MarketCapMin * 0.1
	for _, row := range batch {
		tradeValue := float64(row.Volume) * row.Price * 0.1
		if tradeValue < minTradeValue {
			continue
		}
		kept := row.Clone()
		kept.Set("trade_value", tradeValue)
		kept.Set("market_cap", nil)
		out = append(out, kept)
	}
	return out
}

// RevenueGrowthStage requires positive year-over-year monthly revenue and
// a run of consecutive positive months. Tickers without revenue data pass
// through tagged rather than dropped.
type RevenueGrowthStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *RevenueGrowthStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		revs := s.ds.MonthlyRevenues(row.ID)
		if len(revs) < 13 {
			return keepWith(map[string]interface{}{"revenue_info": "資料不足"})
		}

		latestYoY, ok := revenueYoY(revs, len(revs)-1)
		if !ok {
			return keepWith(map[string]interface{}{"revenue_info": "資料不足"})
		}

		// Count consecutive YoY-positive months from the latest backward.
		run := 0
		for i := len(revs) - 1; i >= 12; i-- {
			yoy, ok := revenueYoY(revs, i)
			if !ok || yoy <= 0 {
				break
			}
			run++
		}

		if latestYoY < s.p.RevenueGrowthMin || run < s.p.RevenueMonthsPositive {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"revenue_growth": latestYoY,
			"revenue_info":   fmt.Sprintf("YoY%+.1f%% 連%d月正成長", latestYoY, run),
		})
	})
}

// revenueYoY compares revs[i] with the same month a year earlier.
func revenueYoY(revs []data.Revenue, i int) (float64, bool) {
	if i < 12 || i >= len(revs) {
		return 0, false
	}
	yearAgo := revs[i-12].Revenue
	if yearAgo <= 0 {
		return 0, false
	}
	return (revs[i].Revenue - yearAgo) / yearAgo * 100, true
}

// PERatioStage keeps profitable tickers trading at or under the P/E cap.
// EPS is the trailing four quarters summed.
type PERatioStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *PERatioStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		eps := s.ds.QuarterlyEPS(row.ID)
		if len(eps) == 0 {
			return keepWith(map[string]interface{}{"pe_info": "資料不足"})
		}

		quarters := eps
		if len(quarters) > 4 {
			quarters = quarters[len(quarters)-4:]
		}
		var trailing float64
		for _, q := range quarters {
			trailing += q
		}
		if trailing <= 0 {
			return dropRow()
		}

		pe := row.Price / trailing
		if pe <= 0 || pe > s.p.PERatioMax {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"eps":      trailing,
			"pe_ratio": pe,
			"pe_info":  fmt.Sprintf("EPS %.2f / PE %.1f", trailing, pe),
		})
	})
}

// HigherLowsStage requires a confirmed sequence of rising local lows
// inside the lookback window.
type HigherLowsStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *HigherLowsStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, s.p.HigherLowsLookback+10)
		if len(hist) < 20 {
			return dropRow()
		}

		lowSeries := lows(hist)
		if len(lowSeries) > s.p.HigherLowsLookback {
			lowSeries = lowSeries[len(lowSeries)-s.p.HigherLowsLookback:]
		}

		minima := localMinima(lowSeries)
		if len(minima) < 2 {
			return dropRow()
		}

		// Count the trailing run of rising lows, allowing the tolerance
		// as a fractional undercut.
		tolerance := 1 - s.p.HigherLowsTolerance/100
		confirms := 0
		for i := len(minima) - 1; i > 0; i-- {
			if lowSeries[minima[i]] > lowSeries[minima[i-1]]*tolerance {
				confirms++
			} else {
				break
			}
		}
		if confirms < s.p.HigherLowsConfirms {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"higher_lows_confirms": confirms,
			"higher_lows_info":     fmt.Sprintf("底底高確認%d次", confirms),
		})
	})
}

// PullbackStage detects the pullback posture: under a short MA, holding a
// rising long MA, with the drop from the rolling high inside the band.
type PullbackStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *PullbackStage) Screen(batch Batch) Batch {
	longest := maxPeriod(s.p.PullbackLongMA)

	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, longest+10)
		if len(hist) < longest {
			return dropRow()
		}
		closeSeries := closes(hist)

		// Below at least one short MA.
		belowShort := false
		for _, period := range s.p.PullbackShortMA {
			if ma, ok := lastSMA(closeSeries, period); ok && row.Price < ma {
				belowShort = true
				break
			}
		}
		if !belowShort {
			return dropRow()
		}

		// Above at least one long MA whose slope is positive; the
		// tolerance allows a shallow intraday break of the support.
		supportPeriod := 0
		supportDistance := 0.0
		for _, period := range s.p.PullbackLongMA {
			series := smaSeries(closeSeries, period)
			if series == nil || len(series) < s.p.MASlopeLookback+1 {
				continue
			}
			ma := series[len(series)-1]
			slopeUp := ma > series[len(series)-1-s.p.MASlopeLookback]
			if slopeUp && row.Price >= ma*(1-s.p.MASupportTolerance) {
				supportPeriod = period
				supportDistance = (row.Price - ma) / ma * 100
				break
			}
		}
		if supportPeriod == 0 {
			return dropRow()
		}

		// Drop from the rolling-window high.
		high, ok := tailMax(highs(hist), s.p.PullbackLookback)
		if !ok || high <= 0 {
			return dropRow()
		}
		pullbackPct := (high - row.Price) / high * 100
		if pullbackPct < s.p.PullbackMinPct || pullbackPct > s.p.PullbackMaxPct {
			return dropRow()
		}

		return keepWith(map[string]interface{}{
			"pullback_pct":     pullbackPct,
			"support_distance": supportDistance,
			"pullback_info":    fmt.Sprintf("回調%.1f%% 守MA%d", pullbackPct, supportPeriod),
		})
	})
}

func maxPeriod(periods []int) int {
	max := 0
	for _, p := range periods {
		if p > max {
			max = p
		}
	}
	return max
}

// VolumePriceHealthStage classifies today's bar and keeps only healthy and
// turnover volume. Exhaustion (window-max volume on a big up day) drops.
type VolumePriceHealthStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *VolumePriceHealthStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, s.p.VPWindow+5)
		if len(hist) < s.p.VPWindow {
			return dropRow()
		}

		vols := volumeLots(hist)
		windowMax, _ := tailMax(vols, s.p.VPWindow)
		avg, ok := tailMean(vols, s.p.VPWindow)
		if !ok || avg <= 0 {
			return dropRow()
		}

		todayVol := float64(row.Volume)
		volRatio := todayVol / avg

		windowHigh, _ := tailMax(closes(hist), s.p.VPWindow)

		status := "other"
		switch {
		case todayVol >= windowMax && row.ChangePct >= s.p.VPExhaustChange:
			status = "exhaustion"
		case row.Price >= windowHigh*0.97 && todayVol <= s.p.VPHealthyRatio*avg:
			status = "healthy"
		case volRatio >= s.p.VPTurnoverMinMult && volRatio <= s.p.VPTurnoverMaxMult:
			status = "turnover"
		}

		if status != "healthy" && status != "turnover" {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"vp_status":       status,
			"vp_volume_ratio": volRatio,
			"vp_info":         fmt.Sprintf("%s 量比%.2f", status, volRatio),
		})
	})
}

// VolumeShrinkStage keeps tickers whose volume has been drying up: either
// a run of non-expanding days (5% wobble allowed) or today's volume well
// under the average.
type VolumeShrinkStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *VolumeShrinkStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, s.p.VolumeAvgDays+5)
		if len(hist) < s.p.VolumeShrinkDays+1 {
			return dropRow()
		}

		vols := volumeLots(hist)

		// Consecutive non-expanding days from the latest backward.
		shrinkRun := 0
		for i := len(vols) - 1; i > 0; i-- {
			if vols[i] <= vols[i-1]*1.05 {
				shrinkRun++
			} else {
				break
			}
		}

		avg, ok := tailMean(vols, s.p.VolumeAvgDays)
		underAvg := ok && avg > 0 && float64(row.Volume) < s.p.VolumeShrinkThreshold*avg

		if shrinkRun < s.p.VolumeShrinkDays && !underAvg {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"volume_shrink_days": shrinkRun,
			"volume_shrink_info": fmt.Sprintf("連縮%d日", shrinkRun),
		})
	})
}

// RSIOversoldStage keeps oversold tickers, optionally demanding the RSI
// already turned up from yesterday.
type RSIOversoldStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *RSIOversoldStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		hist := s.ds.History(row.ID, s.p.RSIPeriod*3)
		closeSeries := closes(hist)

		rsi := rsiSeries(closeSeries, s.p.RSIPeriod)
		if len(rsi) < s.p.RSIPeriod+2 {
			return dropRow()
		}
		today := rsi[len(rsi)-1]
		yesterday := rsi[len(rsi)-2]

		if today > s.p.RSIOversold {
			return dropRow()
		}
		if s.p.RSIRequireUpturn && today <= yesterday {
			return dropRow()
		}
		if s.p.RSIRequireAboveMA5 {
			if ma5, ok := lastSMA(closeSeries, 5); !ok || row.Price <= ma5 {
				return dropRow()
			}
		}
		return keepWith(map[string]interface{}{
			"rsi":      today,
			"rsi_info": fmt.Sprintf("RSI %.1f (昨 %.1f)", today, yesterday),
		})
	})
}

// TurnoverRateStage gates on daily turnover as a percentage of shares
// outstanding, falling back to a relative-volume estimate when the share
// count is unknown.
type TurnoverRateStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *TurnoverRateStage) Screen(batch Batch) Batch {
	shares := s.ds.SharesOutstanding()

	return screenConcurrent(batch, func(row Row) rowVerdict {
		todayShares := float64(row.Volume) * 1000

		rate := 0.0
		known := false
		if issued, ok := shares[row.ID]; ok && issued > 0 {
			rate = todayShares / issued * 100
			known = true
		}
		if !known {
			hist := s.ds.History(row.ID, 20)
			if len(hist) == 0 {
				return dropRow()
			}
			avg, ok := tailMean(volumeShares(hist), 20)
			if !ok || avg <= 0 {
				return dropRow()
			}
			// Relative turnover assuming ~1% average daily turnover.
			rate = todayShares / avg * 1.0
			if rate > 20 {
				rate = 20
			}
		}

		if rate < s.p.TurnoverRateMin || rate > s.p.TurnoverRateMax {
			return dropRow()
		}
		return keepWith(map[string]interface{}{"turnover_rate": rate})
	})
}

// MajorHolderStage requires the >=1000-lot holder percentage to clear the
// floor and to have risen across the recent weekly observations.
type MajorHolderStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *MajorHolderStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		weeks := s.ds.MajorHolderWeeks(row.ID)
		if len(weeks) == 0 {
			return keepWith(map[string]interface{}{"holder_info": "資料不足"})
		}

		latest := weeks[len(weeks)-1].MajorPct
		if latest < s.p.MajorHolderMinPct {
			return dropRow()
		}

		// Strictly rising run from the latest week backward.
		rising := 0
		for i := len(weeks) - 1; i > 0; i-- {
			if weeks[i].MajorPct > weeks[i-1].MajorPct {
				rising++
			} else {
				break
			}
		}
		if rising < s.p.MajorHolderIncreaseWeeks {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"major_holder_pct": latest,
			"holder_info":      fmt.Sprintf("千張大戶%.1f%% 連增%d週", latest, rising),
		})
	})
}

// QuietAccumulationStage keeps tickers where either the foreign or the
// investment-trust flow shows steady consecutive net buying.
type QuietAccumulationStage struct {
	stageMeta
	ds DataSource
	p  config.Params
}

func (s *QuietAccumulationStage) Screen(batch Batch) Batch {
	return screenConcurrent(batch, func(row Row) rowVerdict {
		daily := s.ds.InstitutionalDaily(row.ID, 20)
		analysis, ok := data.AnalyzeAccumulation(daily)
		if !ok {
			return keepWith(map[string]interface{}{"accumulation_info": "資料不足"})
		}

		foreignOK := analysis.ForeignConsecutiveBuy >= s.p.AccumulationMinDays &&
			analysis.ForeignStability < s.p.AccumulationMaxStability &&
			analysis.Foreign20dSum > 0
		trustOK := analysis.TrustConsecutiveBuy >= s.p.AccumulationMinDays &&
			analysis.TrustStability < s.p.AccumulationMaxStability &&
			analysis.Trust20dSum > 0

		if !foreignOK && !trustOK {
			return dropRow()
		}
		return keepWith(map[string]interface{}{
			"accumulation_info":       analysis.BehaviorType,
			"foreign_consecutive_buy": analysis.ForeignConsecutiveBuy,
			"trust_consecutive_buy":   analysis.TrustConsecutiveBuy,
			"foreign_20d_sum":         analysis.Foreign20dSum,
			"trust_20d_sum":           analysis.Trust20dSum,
		})
	})
}
