package twse

import (
	"net/url"
	"sort"
	"time"
)

// Candle is one day of OHLCV. Volume is in shares. Date is ISO.
type Candle struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

const (
	mainMonthlyURL = "https://www.twse.com.tw/exchangeReport/STOCK_DAY"
	otcMonthlyURL  = "https://www.tpex.org.tw/web/stock/aftertrading/daily_trading_info/st43_result.php"
)

// MonthlyCandles fetches one calendar month of daily candles for a ticker,
// trying the main board first and the OTC board when the main board has no
// record of the symbol.
func (c *Client) MonthlyCandles(id string, year int, month time.Month) []Candle {
	if candles := c.mainMonthly(id, year, month); len(candles) > 0 {
		return candles
	}
	return c.otcMonthly(id, year, month)
}

// mainMonthly reads the STOCK_DAY report.
// Row order: 0 ROC date, 1 traded shares, 3 open, 4 high, 5 low, 6 close.
func (c *Client) mainMonthly(id string, year int, month time.Month) []Candle {
	params := url.Values{
		"response": {"json"},
		"date":     {time.Date(year, month, 1, 0, 0, 0, 0, time.Local).Format("20060102")},
		"stockNo":  {id},
	}
	var resp tableResp
	if err := c.GetJSON(mainMonthlyURL, params, &resp); err != nil {
		c.log.Debug().Err(err).Str("id", id).Msg("main monthly history failed")
		return nil
	}
	return parseMonthlyRows(resp.Data)
}

// otcMonthly reads the TPEx per-stock daily report. Same row layout as the
// main board, dates in ROC years.
func (c *Client) otcMonthly(id string, year int, month time.Month) []Candle {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	params := url.Values{
		"l":     {"zh-tw"},
		"d":     {rocDate(first)},
		"stkno": {id},
	}
	var resp tableResp
	if err := c.GetJSON(otcMonthlyURL, params, &resp); err != nil {
		c.log.Debug().Err(err).Str("id", id).Msg("OTC monthly history failed")
		return nil
	}

	rows := resp.Data
	if len(rows) == 0 {
		rows = otcRows(&resp)
	}
	return parseMonthlyRows(rows)
}

func parseMonthlyRows(rows [][]interface{}) []Candle {
	var candles []Candle
	for _, row := range rows {
		date := rocToISO(cell(row, 0))
		if date == "" {
			continue
		}
		open, okO := parseNum(cell(row, 3))
		high, okH := parseNum(cell(row, 4))
		low, okL := parseNum(cell(row, 5))
		closePx, okC := parseNum(cell(row, 6))
		if !okO || !okH || !okL || !okC {
			continue
		}
		shares, _ := parseInt(cell(row, 1))

		candles = append(candles, Candle{
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: shares,
		})
	}
	return candles
}

// MergeCandles concatenates candle runs, deduplicates by date, sorts
// ascending, and keeps at most the last `days` rows.
func MergeCandles(runs [][]Candle, days int) []Candle {
	seen := make(map[string]bool)
	var merged []Candle
	for _, run := range runs {
		for _, candle := range run {
			if seen[candle.Date] {
				continue
			}
			seen[candle.Date] = true
			merged = append(merged, candle)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})

	if days > 0 && len(merged) > days {
		merged = merged[len(merged)-days:]
	}
	return merged
}
