package data

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// AccumulationAnalysis summarizes one ticker's institutional behavior over
// a 20-day window. Sums are in lots.
type AccumulationAnalysis struct {
	DataDays int

	ForeignConsecutiveBuy int
	TrustConsecutiveBuy   int

	Foreign5dSum  int64
	Foreign10dSum int64
	Foreign20dSum int64
	Trust5dSum    int64
	Trust10dSum   int64
	Trust20dSum   int64

	ForeignDailyAvg int64
	TrustDailyAvg   int64

	// stddev / (|mean|+1) over the 10-day tail; smaller is steadier.
	ForeignStability float64
	TrustStability   float64

	IsForeignQuietlyBuying bool
	IsTrustQuietlyBuying   bool
	IsQuietlyBuying        bool

	BehaviorType string
}

// Quiet-accumulation fixed thresholds: a buy run of at least five days,
// steady daily size, positive 20-day net.
const (
	quietMinRun       = 5
	quietMaxStability = 2.0
)

// AnalyzeAccumulation computes the accumulation profile from pivoted daily
// institutional records. Returns false when fewer than five days of data
// exist.
func AnalyzeAccumulation(daily []InstDaily) (AccumulationAnalysis, bool) {
	if len(daily) < 5 {
		return AccumulationAnalysis{}, false
	}

	foreign := make([]float64, len(daily))
	trust := make([]float64, len(daily))
	for i, day := range daily {
		foreign[i] = float64(day.Foreign)
		trust[i] = float64(day.Trust)
	}

	a := AccumulationAnalysis{DataDays: len(daily)}

	a.ForeignConsecutiveBuy = trailingPositiveRun(foreign)
	a.TrustConsecutiveBuy = trailingPositiveRun(trust)

	a.Foreign5dSum = tailSum(foreign, 5)
	a.Foreign10dSum = tailSum(foreign, 10)
	a.Foreign20dSum = tailSum(foreign, 20)
	a.Trust5dSum = tailSum(trust, 5)
	a.Trust10dSum = tailSum(trust, 10)
	a.Trust20dSum = tailSum(trust, 20)

	a.ForeignDailyAvg = tailSum(foreign, 10) / int64(minInt(10, len(foreign)))
	a.TrustDailyAvg = tailSum(trust, 10) / int64(minInt(10, len(trust)))

	a.ForeignStability = netStability(foreign, 10)
	a.TrustStability = netStability(trust, 10)

	a.IsForeignQuietlyBuying = a.ForeignConsecutiveBuy >= quietMinRun &&
		a.ForeignStability < quietMaxStability && a.Foreign20dSum > 0
	a.IsTrustQuietlyBuying = a.TrustConsecutiveBuy >= quietMinRun &&
		a.TrustStability < quietMaxStability && a.Trust20dSum > 0
	a.IsQuietlyBuying = a.IsForeignQuietlyBuying || a.IsTrustQuietlyBuying

	a.BehaviorType = describeBehavior(a)
	return a, true
}

func describeBehavior(a AccumulationAnalysis) string {
	var behaviors []string
	if a.IsForeignQuietlyBuying {
		behaviors = append(behaviors, fmt.Sprintf("外資悄悄佈局(%d天)", a.ForeignConsecutiveBuy))
	}
	if a.IsTrustQuietlyBuying {
		behaviors = append(behaviors, fmt.Sprintf("投信悄悄佈局(%d天)", a.TrustConsecutiveBuy))
	}

	if a.Foreign20dSum > 5000 {
		behaviors = append(behaviors, "外資大量買超")
	} else if a.Foreign20dSum < -5000 {
		behaviors = append(behaviors, "外資大量賣超")
	}
	if a.Trust20dSum > 2000 {
		behaviors = append(behaviors, "投信大量買超")
	} else if a.Trust20dSum < -2000 {
		behaviors = append(behaviors, "投信大量賣超")
	}

	if len(behaviors) == 0 {
		switch {
		case a.Foreign20dSum > 0 && a.Trust20dSum > 0:
			behaviors = append(behaviors, "法人小幅買超")
		case a.Foreign20dSum < 0 && a.Trust20dSum < 0:
			behaviors = append(behaviors, "法人小幅賣超")
		default:
			behaviors = append(behaviors, "法人態度分歧")
		}
	}
	return strings.Join(behaviors, ", ")
}

// trailingPositiveRun counts consecutive positive values from the latest
// entry backward.
func trailingPositiveRun(values []float64) int {
	run := 0
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] <= 0 {
			break
		}
		run++
	}
	return run
}

func tailSum(values []float64, n int) int64 {
	if n > len(values) {
		n = len(values)
	}
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return int64(sum)
}

// netStability is stddev / (|mean|+1) over the last n values.
func netStability(values []float64, n int) float64 {
	if len(values) < 2 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	tail := values[len(values)-n:]
	mean := stat.Mean(tail, nil)
	sd := stat.StdDev(tail, nil)
	if mean < 0 {
		mean = -mean
	}
	return sd / (mean + 1)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
