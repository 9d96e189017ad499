package screen

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/charlie1223/stock-screener/internal/twse"
)

// Series extraction from candle history. All helpers tolerate short or
// empty input and signal "not computable" instead of panicking.

func closes(candles []twse.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func lows(candles []twse.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func highs(candles []twse.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// volumeShares returns candle volumes as-is (the wire unit).
func volumeShares(candles []twse.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Volume)
	}
	return out
}

// volumeLots returns candle volumes converted from shares to lots.
func volumeLots(candles []twse.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Volume / 1000)
	}
	return out
}

// lastSMA is the current value of the simple moving average, or false when
// the series is too short.
func lastSMA(series []float64, period int) (float64, bool) {
	if len(series) < period || period <= 0 {
		return 0, false
	}
	sma := talib.Sma(series, period)
	return sma[len(sma)-1], true
}

// smaSeries returns the full SMA series (leading entries are zero until
// the window fills, talib convention).
func smaSeries(series []float64, period int) []float64 {
	if len(series) < period || period <= 0 {
		return nil
	}
	return talib.Sma(series, period)
}

// rsiSeries computes Wilder's RSI. The first `period` entries are zero.
func rsiSeries(series []float64, period int) []float64 {
	if len(series) <= period || period <= 0 {
		return nil
	}
	return talib.Rsi(series, period)
}

// tailMean averages the last n values; false when fewer exist.
func tailMean(series []float64, n int) (float64, bool) {
	if n <= 0 || len(series) < n {
		return 0, false
	}
	return stat.Mean(series[len(series)-n:], nil), true
}

func tailMax(series []float64, n int) (float64, bool) {
	if n <= 0 || len(series) == 0 {
		return 0, false
	}
	if n > len(series) {
		n = len(series)
	}
	max := series[len(series)-n]
	for _, v := range series[len(series)-n:] {
		if v > max {
			max = v
		}
	}
	return max, true
}

// localMinima returns the indices of 5-bar local minima: bars whose low is
// the smallest within two bars on either side.
func localMinima(series []float64) []int {
	var minima []int
	for i := 2; i < len(series)-2; i++ {
		isMin := true
		for j := i - 2; j <= i+2; j++ {
			if series[j] < series[i] {
				isMin = false
				break
			}
		}
		if isMin {
			minima = append(minima, i)
		}
	}
	return minima
}
