package finmind

import (
	"sort"
	"strings"

	"github.com/charlie1223/stock-screener/internal/twse"
)

// Dataset names on the v4 endpoint.
const (
	datasetStockPrice      = "TaiwanStockPrice"
	datasetMarketValue     = "TaiwanStockMarketValue"
	datasetShareholding    = "TaiwanStockShareholding"
	datasetHoldingPer      = "TaiwanStockHoldingSharesPer"
	datasetInstitutional   = "TaiwanStockInstitutionalInvestorsBuySell"
	datasetMonthRevenue    = "TaiwanStockMonthRevenue"
	datasetFinancials      = "TaiwanStockFinancialStatements"
	datasetFuturesInvestor = "TaiwanFuturesInstitutionalInvestors"
)

// DailyCandles fetches daily OHLCV for one ticker. Dates are ISO already;
// volume is in shares.
func (c *Client) DailyCandles(id, startDate, endDate string) ([]twse.Candle, error) {
	rows, err := c.Query(datasetStockPrice, id, startDate, endDate)
	if err != nil {
		return nil, err
	}

	candles := make([]twse.Candle, 0, len(rows))
	for _, row := range rows {
		date := rowString(row, "date")
		if date == "" {
			continue
		}
		candles = append(candles, twse.Candle{
			Date:   date,
			Open:   rowFloat(row, "open"),
			High:   rowFloat(row, "max"),
			Low:    rowFloat(row, "min"),
			Close:  rowFloat(row, "close"),
			Volume: int64(rowFloat(row, "Trading_Volume")),
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Date < candles[j].Date })
	return candles, nil
}

// MarketCaps returns the latest market-cap snapshot for the whole market,
// in hundred-millions of TWD.
func (c *Client) MarketCaps(startDate, endDate string) (map[string]float64, error) {
	rows, err := c.Query(datasetMarketValue, "", startDate, endDate)
	if err != nil {
		return nil, err
	}

	latest := latestDate(rows)
	caps := make(map[string]float64)
	for _, row := range rows {
		if rowString(row, "date") != latest {
			continue
		}
		id := rowString(row, "stock_id")
		if id == "" {
			continue
		}
		caps[id] = rowFloat(row, "market_value") / 1e8
	}
	return caps, nil
}

// SharesOutstanding returns the latest issued-shares count per ticker.
func (c *Client) SharesOutstanding(startDate, endDate string) (map[string]float64, error) {
	rows, err := c.Query(datasetShareholding, "", startDate, endDate)
	if err != nil {
		return nil, err
	}

	latest := latestDate(rows)
	shares := make(map[string]float64)
	for _, row := range rows {
		if rowString(row, "date") != latest {
			continue
		}
		id := rowString(row, "stock_id")
		if id == "" {
			continue
		}
		shares[id] = rowFloat(row, "NumberOfSharesIssued")
	}
	return shares, nil
}

// InstFlow is one participant's buy/sell record for one day, in shares.
type InstFlow struct {
	Date string
	Name string
	Buy  float64
	Sell float64
}

// InstitutionalBuySell fetches the per-participant institutional flow rows
// for one ticker, ascending by date.
func (c *Client) InstitutionalBuySell(id, startDate, endDate string) ([]InstFlow, error) {
	rows, err := c.Query(datasetInstitutional, id, startDate, endDate)
	if err != nil {
		return nil, err
	}

	flows := make([]InstFlow, 0, len(rows))
	for _, row := range rows {
		date := rowString(row, "date")
		if date == "" {
			continue
		}
		flows = append(flows, InstFlow{
			Date: date,
			Name: rowString(row, "name"),
			Buy:  rowFloat(row, "buy"),
			Sell: rowFloat(row, "sell"),
		})
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].Date < flows[j].Date })
	return flows, nil
}

// MonthlyRevenue is one month's revenue record.
type MonthlyRevenue struct {
	Date    string
	Revenue float64
}

// MonthlyRevenues fetches monthly revenue for one ticker, ascending.
func (c *Client) MonthlyRevenues(id, startDate, endDate string) ([]MonthlyRevenue, error) {
	rows, err := c.Query(datasetMonthRevenue, id, startDate, endDate)
	if err != nil {
		return nil, err
	}

	revs := make([]MonthlyRevenue, 0, len(rows))
	for _, row := range rows {
		date := rowString(row, "date")
		if date == "" {
			continue
		}
		revs = append(revs, MonthlyRevenue{Date: date, Revenue: rowFloat(row, "revenue")})
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].Date < revs[j].Date })
	return revs, nil
}

// QuarterlyEPS fetches the EPS rows from the financial statements dataset,
// ascending by date.
func (c *Client) QuarterlyEPS(id, startDate, endDate string) ([]float64, error) {
	rows, err := c.Query(datasetFinancials, id, startDate, endDate)
	if err != nil {
		return nil, err
	}

	type epsRow struct {
		date  string
		value float64
	}
	var eps []epsRow
	for _, row := range rows {
		if rowString(row, "type") != "EPS" {
			continue
		}
		eps = append(eps, epsRow{date: rowString(row, "date"), value: rowFloat(row, "value")})
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].date < eps[j].date })

	values := make([]float64, 0, len(eps))
	for _, r := range eps {
		values = append(values, r.value)
	}
	return values, nil
}

// HoldingWeek is one weekly shareholding-distribution observation: the
// combined percentage held at the >=1000-lot levels.
type HoldingWeek struct {
	Date     string
	MajorPct float64
}

// majorLevels are the distribution buckets that correspond to holders of
// one thousand lots (one million shares) or more. The dataset has used
// both spellings of the top bucket.
var majorLevels = map[string]bool{
	"1,000,001-99999999":  true,
	"more than 1,000,001": true,
}

// MajorHolderWeeks fetches the weekly >=1000-lot holder percentage series
// for one ticker, ascending by date.
func (c *Client) MajorHolderWeeks(id, startDate, endDate string) ([]HoldingWeek, error) {
	rows, err := c.Query(datasetHoldingPer, id, startDate, endDate)
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]float64)
	for _, row := range rows {
		level := rowString(row, "HoldingSharesLevel")
		if !majorLevels[level] {
			continue
		}
		byDate[rowString(row, "date")] += rowFloat(row, "percent")
	}

	weeks := make([]HoldingWeek, 0, len(byDate))
	for date, pct := range byDate {
		if date == "" {
			continue
		}
		weeks = append(weeks, HoldingWeek{Date: date, MajorPct: pct})
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Date < weeks[j].Date })
	return weeks, nil
}

// FuturesOI is the foreign TX-futures open-interest position derived from
// the futures institutional dataset.
type FuturesOI struct {
	Change int64
	Long   int64
	Short  int64
	Net    int64
	Date   string
}

// ForeignFuturesOI computes the foreign TX open-interest net change from
// the two most recent trading days. With only one day of data the
// absolute net is reported instead.
func (c *Client) ForeignFuturesOI(startDate, endDate string) (*FuturesOI, error) {
	rows, err := c.Query(datasetFuturesInvestor, "", startDate, endDate)
	if err != nil {
		return nil, err
	}

	type daily struct{ long, short float64 }
	byDate := make(map[string]*daily)
	for _, row := range rows {
		if !strings.Contains(rowString(row, "institutional_investors"), "外資") &&
			!strings.Contains(rowString(row, "name"), "外資") {
			continue
		}
		if !strings.Contains(rowString(row, "futures_id"), "TX") &&
			!strings.Contains(rowString(row, "contract_id"), "TX") {
			continue
		}
		date := rowString(row, "date")
		if date == "" {
			continue
		}
		d := byDate[date]
		if d == nil {
			d = &daily{}
			byDate[date] = d
		}
		d.long += rowFloat(row, "open_interest_long")
		d.short += rowFloat(row, "open_interest_short")
	}

	if len(byDate) == 0 {
		return nil, ErrUnavailable
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	latest := byDate[dates[len(dates)-1]]
	latestNet := int64(latest.long - latest.short)

	oi := &FuturesOI{
		Long:  int64(latest.long),
		Short: int64(latest.short),
		Net:   latestNet,
		Date:  dates[len(dates)-1],
	}
	if len(dates) < 2 {
		oi.Change = latestNet
		return oi, nil
	}

	prev := byDate[dates[len(dates)-2]]
	oi.Change = latestNet - int64(prev.long-prev.short)
	return oi, nil
}

func latestDate(rows []map[string]interface{}) string {
	latest := ""
	for _, row := range rows {
		if d := rowString(row, "date"); d > latest {
			latest = d
		}
	}
	return latest
}
