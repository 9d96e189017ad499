package twse

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	spotSummaryURL  = "https://www.twse.com.tw/rwd/zh/fund/BFI82U"
	futuresPagesURL = "https://www.taifex.com.tw/cht/3/futContractsDate"
)

// SpotFlow is the market-wide foreign net buy on the spot market,
// in hundred-millions of TWD.
type SpotFlow struct {
	NetBillion  float64
	BuyBillion  float64
	SellBillion float64
	Date        string
}

// FuturesOI is the foreign TX-futures open-interest position read from the
// TAIFEX daily report.
type FuturesOI struct {
	OIChange int64 // latest net minus prior net; absolute net when only one day exists
	OILong   int64
	OIShort  int64
	OINet    int64
	Date     string
}

// SpotForeignFlow reads the daily institutional trading summary and
// returns the foreign-and-mainland row (explicitly not the
// foreign-proprietary row). Querying without a date returns the latest
// trading day.
func (c *Client) SpotForeignFlow() (*SpotFlow, error) {
	params := url.Values{"response": {"json"}}
	var resp tableResp
	if err := c.GetJSON(spotSummaryURL, params, &resp); err != nil {
		return nil, err
	}
	if resp.Stat != "OK" || len(resp.Data) == 0 {
		return nil, fmt.Errorf("spot summary unavailable (stat=%q)", resp.Stat)
	}

	date := time.Now().Format("2006-01-02")
	if len(resp.Date) == 8 {
		date = resp.Date[:4] + "-" + resp.Date[4:6] + "-" + resp.Date[6:8]
	}

	for _, row := range resp.Data {
		name := cell(row, 0)
		// "外資及陸資(不含外資自營商)" is the row we want; the row named
		// "外資自營商" must not match.
		if !strings.Contains(name, "外資及陸資") && name != "外資(不含外資自營商)" {
			continue
		}
		buy, okB := parseNum(cell(row, 1))
		sell, okS := parseNum(cell(row, 2))
		if !okB || !okS {
			continue
		}
		const billion = 1e8
		return &SpotFlow{
			NetBillion:  (buy - sell) / billion,
			BuyBillion:  buy / billion,
			SellBillion: sell / billion,
			Date:        date,
		}, nil
	}
	return nil, fmt.Errorf("foreign row not found in spot summary")
}

// BenchmarkChange returns the weighted index's daily percent change.
// Row layout of the index report: 0 name, 1 close, 2 sign, 3 points,
// 4 percent.
func (c *Client) BenchmarkChange() (float64, bool) {
	params := url.Values{
		"response": {"json"},
		"date":     {c.now().Format("20060102")},
		"type":     {"IND"},
	}
	var resp tableResp
	if err := c.GetJSON(mainPostCloseURL, params, &resp); err != nil {
		c.log.Debug().Err(err).Msg("benchmark index report failed")
		return 0, false
	}

	rows := resp.Data1
	if len(rows) == 0 && len(resp.Tables) > 0 {
		rows = resp.Tables[0].Data
	}
	for _, row := range rows {
		if !strings.Contains(cell(row, 0), "加權股價指數") {
			continue
		}
		pct, ok := parseNum(cell(row, 4))
		if !ok {
			return 0, false
		}
		if strings.Contains(cell(row, 2), "-") || strings.Contains(cell(row, 2), "green") {
			pct = -pct
		}
		return pct, true
	}
	return 0, false
}

// ForeignFuturesOI scrapes the TAIFEX per-contract institutional report
// for the two most recent trading days and computes the foreign TX
// open-interest net change. This is the fallback path behind the primary
// provider's futures dataset.
func (c *Client) ForeignFuturesOI() (*FuturesOI, error) {
	type record struct {
		date                string
		oiLong, oiShort, oiNet int64
	}
	var records []record

	// Walk back up to five calendar days to find two trading days.
	for daysAgo := 0; daysAgo < 5 && len(records) < 2; daysAgo++ {
		day := c.now().AddDate(0, 0, -daysAgo)
		params := url.Values{
			"queryType":   {"1"},
			"doQuery":     {"1"},
			"queryDate":   {day.Format("2006/01/02")},
			"commodityId": {"TXF"},
		}
		body, err := c.GetBytes(futuresPagesURL, params)
		if err != nil {
			continue
		}
		oiLong, oiShort, oiNet, ok := parseTaifexForeignRow(body)
		if !ok {
			continue
		}
		records = append(records, record{
			date:    day.Format("2006-01-02"),
			oiLong:  oiLong,
			oiShort: oiShort,
			oiNet:   oiNet,
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no TAIFEX foreign OI rows found")
	}

	latest := records[0]
	change := latest.oiNet
	if len(records) >= 2 {
		change = latest.oiNet - records[1].oiNet
	}
	return &FuturesOI{
		OIChange: change,
		OILong:   latest.oiLong,
		OIShort:  latest.oiShort,
		OINet:    latest.oiNet,
		Date:     latest.date,
	}, nil
}

// parseTaifexForeignRow locates the row whose product name is the
// Taiwan-index future and whose participant category contains "foreign",
// then reads the open-interest cells: 9 long lots, 11 short lots,
// 13 net lots.
func parseTaifexForeignRow(page []byte) (oiLong, oiShort, oiNet int64, ok bool) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return 0, 0, 0, false
	}

	var found bool
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := rowCells(n)
			if len(cells) >= 14 &&
				strings.Contains(cells[1], "臺股期貨") &&
				strings.Contains(cells[2], "外資") {
				longLots, okL := parseInt(cells[9])
				shortLots, okS := parseInt(cells[11])
				netLots, okN := parseInt(cells[13])
				if okL && okS && okN {
					oiLong, oiShort, oiNet = longLots, shortLots, netLots
					found = true
				}
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return oiLong, oiShort, oiNet, found
}
