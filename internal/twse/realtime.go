package twse

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Venue labels carried on every quote.
const (
	MarketMain = "TWSE"
	MarketOTC  = "TPEx"
)

// Quote is one ticker's snapshot for the current run. Volume is in lots;
// the wire speaks shares. ChangePct is always recomputed locally from
// price and previous close, never trusted from the response.
type Quote struct {
	ID        string
	Name      string
	Price     float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	Volume    int64
	ChangePct float64
	Market    string
}

const (
	mainPostCloseURL = "https://www.twse.com.tw/exchangeReport/MI_INDEX"
	mainListURL      = "https://www.twse.com.tw/rwd/zh/afterTrading/MI_INDEX"
	otcQuotesURL     = "https://www.tpex.org.tw/web/stock/aftertrading/otc_quotes_no1430/stk_wn1430_result.php"
	misQuoteURL      = "https://mis.twse.com.tw/stock/api/getStockInfo.jsp"

	misBatchSize = 50
)

// tableResp covers every shape the quote endpoints are known to answer
// with: the current "tables" layout plus the legacy data9/aaData arrays.
type tableResp struct {
	Stat   string `json:"stat"`
	Date   string `json:"date"`
	Tables []struct {
		Data [][]interface{} `json:"data"`
	} `json:"tables"`
	Data9  [][]interface{} `json:"data9"`
	AAData [][]interface{} `json:"aaData"`
	Data   [][]interface{} `json:"data"`
	Data1  [][]interface{} `json:"data1"`
}

type misResp struct {
	MsgArray []map[string]string `json:"msgArray"`
}

// Snapshot fetches the full daily snapshot for both venues. An empty
// result from one venue is tolerated; only a fully empty universe is a
// condition the orchestrator treats as fatal.
func (c *Client) Snapshot() []Quote {
	c.log.Info().Msg("fetching listed-market quotes")
	quotes := c.mainQuotes()

	time.Sleep(venuePause)

	c.log.Info().Msg("fetching OTC quotes")
	otc := c.otcQuotes()
	quotes = append(quotes, otc...)

	c.log.Info().Int("count", len(quotes)).Msg("quote snapshot complete")
	return quotes
}

func (c *Client) mainQuotes() []Quote {
	if q := c.mainIntraday(); len(q) > 0 {
		return q
	}
	return c.mainPostClose()
}

func (c *Client) otcQuotes() []Quote {
	if q := c.otcIntraday(); len(q) > 0 {
		return q
	}
	return c.otcPostClose()
}

// mainIntraday lists the main-board symbols, then resolves live quotes
// through the MIS API in batches of 50.
func (c *Client) mainIntraday() []Quote {
	params := url.Values{"response": {"json"}, "type": {"ALLBUT0999"}}
	var resp tableResp
	if err := c.GetJSON(mainListURL, params, &resp); err != nil {
		c.log.Debug().Err(err).Msg("main-board symbol list unavailable")
		return nil
	}

	var ids []string
	if len(resp.Tables) > 8 {
		for _, row := range resp.Tables[8].Data {
			if id := cell(row, 0); validID(id) {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return c.misBatches(ids, "tse", MarketMain)
}

// otcIntraday lists OTC symbols from the post-close page, then resolves
// live quotes through the MIS API.
func (c *Client) otcIntraday() []Quote {
	params := url.Values{"l": {"zh-tw"}, "d": {rocDate(c.now())}, "se": {"EW"}}
	var resp tableResp
	if err := c.GetJSON(otcQuotesURL, params, &resp); err != nil {
		c.log.Debug().Err(err).Msg("OTC symbol list unavailable")
		return nil
	}

	var ids []string
	for _, row := range otcRows(&resp) {
		if id := cell(row, 0); validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return c.misBatches(ids, "otc", MarketOTC)
}

func (c *Client) misBatches(ids []string, prefix, market string) []Quote {
	var quotes []Quote
	for i := 0; i < len(ids); i += misBatchSize {
		end := i + misBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chans := make([]string, 0, end-i)
		for _, id := range ids[i:end] {
			chans = append(chans, fmt.Sprintf("%s_%s.tw", prefix, id))
		}

		params := url.Values{"ex_ch": {strings.Join(chans, "|")}}
		var resp misResp
		if err := c.GetJSON(misQuoteURL, params, &resp); err != nil {
			c.log.Debug().Err(err).Msg("MIS batch failed")
			continue
		}
		for _, item := range resp.MsgArray {
			if q, ok := parseMISQuote(item, market); ok {
				quotes = append(quotes, q)
			}
		}

		time.Sleep(batchPause)
	}
	if len(quotes) > 0 {
		c.log.Info().Int("count", len(quotes)).Str("market", market).Msg("intraday quotes")
	}
	return quotes
}

// parseMISQuote normalizes one MIS record. A ticker with no trade yet
// falls back to best bid, then previous close.
func parseMISQuote(item map[string]string, market string) (Quote, bool) {
	id := item["c"]
	if !validID(id) {
		return Quote{}, false
	}

	priceStr := item["z"]
	if priceStr == "-" || priceStr == "" {
		bid := strings.SplitN(item["b"], "_", 2)[0]
		if bid != "" && bid != "-" {
			priceStr = bid
		} else {
			priceStr = item["y"]
		}
	}
	price, ok := parseNum(priceStr)
	if !ok || price <= 0 {
		return Quote{}, false
	}

	prevClose, _ := parseNum(item["y"])
	open, okOpen := parseNum(item["o"])
	if !okOpen || open <= 0 {
		open = price
	}
	high, okHigh := parseNum(item["h"])
	if !okHigh || high <= 0 {
		high = price
	}
	low, okLow := parseNum(item["l"])
	if !okLow || low <= 0 {
		low = price
	}
	volume, _ := parseInt(item["v"]) // MIS volume is already in lots

	return Quote{
		ID:        id,
		Name:      item["n"],
		Price:     price,
		Open:      open,
		High:      high,
		Low:       low,
		PrevClose: prevClose,
		Volume:    volume,
		ChangePct: changePct(price, prevClose),
		Market:    market,
	}, true
}

// mainPostClose reads the daily MI_INDEX report. Handles both the current
// tables[8] layout and the legacy data9 array.
//
// Column order: 0 id, 1 name, 2 traded shares, 5 open, 6 high, 7 low,
// 8 close, 9 sign token, 10 change.
func (c *Client) mainPostClose() []Quote {
	params := url.Values{
		"response": {"json"},
		"date":     {c.now().Format("20060102")},
		"type":     {"ALLBUT0999"},
	}
	var resp tableResp
	if err := c.GetJSON(mainPostCloseURL, params, &resp); err != nil {
		c.log.Error().Err(err).Msg("main-board post-close quotes failed")
		return nil
	}

	var rows [][]interface{}
	if len(resp.Tables) > 8 {
		rows = resp.Tables[8].Data
	} else if len(resp.Data9) > 0 {
		rows = resp.Data9
	}
	if len(rows) == 0 {
		c.log.Warn().Msg("main-board post-close report empty (non-trading day?)")
		return nil
	}
	return parseMainPostCloseRows(rows)
}

func parseMainPostCloseRows(rows [][]interface{}) []Quote {
	var quotes []Quote
	for _, row := range rows {
		id := cell(row, 0)
		if !validID(id) {
			continue
		}
		price, ok := parseNum(cell(row, 8))
		if !ok || price <= 0 {
			continue
		}

		change, _ := parseNum(cell(row, 10))
		// The sign token may be literal text or an HTML fragment with a
		// CSS color class; both encode direction.
		sign := cell(row, 9)
		if strings.Contains(sign, "-") || strings.Contains(sign, "green") {
			if change > 0 {
				change = -change
			}
		}
		prevClose := price - change

		open := numOr(cell(row, 5), price)
		high := numOr(cell(row, 6), price)
		low := numOr(cell(row, 7), price)
		shares, _ := parseInt(cell(row, 2))

		quotes = append(quotes, Quote{
			ID:        id,
			Name:      cell(row, 1),
			Price:     price,
			Open:      open,
			High:      high,
			Low:       low,
			PrevClose: prevClose,
			Volume:    shares / 1000,
			ChangePct: changePct(price, prevClose),
			Market:    MarketMain,
		})
	}
	return quotes
}

// otcPostClose reads the TPEx daily quote report.
//
// Column order: 0 id, 1 name, 2 close, 3 change, 4 open, 5 high, 6 low,
// 7 traded shares.
func (c *Client) otcPostClose() []Quote {
	params := url.Values{
		"l":  {"zh-tw"},
		"d":  {rocDate(c.now())},
		"se": {"EW"},
	}
	var resp tableResp
	if err := c.GetJSON(otcQuotesURL, params, &resp); err != nil {
		c.log.Error().Err(err).Msg("OTC post-close quotes failed")
		return nil
	}

	rows := otcRows(&resp)
	if len(rows) == 0 {
		c.log.Warn().Msg("OTC post-close report empty")
		return nil
	}
	return parseOTCPostCloseRows(rows)
}

func parseOTCPostCloseRows(rows [][]interface{}) []Quote {
	var quotes []Quote
	for _, row := range rows {
		id := cell(row, 0)
		if !validID(id) {
			continue
		}
		price, ok := parseNum(cell(row, 2))
		if !ok || price <= 0 {
			continue
		}
		change, _ := parseNum(cell(row, 3))
		prevClose := price - change

		open := numOr(cell(row, 4), price)
		high := numOr(cell(row, 5), price)
		low := numOr(cell(row, 6), price)
		shares, _ := parseInt(cell(row, 7))

		quotes = append(quotes, Quote{
			ID:        id,
			Name:      cell(row, 1),
			Price:     price,
			Open:      open,
			High:      high,
			Low:       low,
			PrevClose: prevClose,
			Volume:    shares / 1000,
			ChangePct: changePct(price, prevClose),
			Market:    MarketOTC,
		})
	}
	return quotes
}

// otcRows picks the data array out of whichever schema variant the TPEx
// endpoint answered with.
func otcRows(resp *tableResp) [][]interface{} {
	if len(resp.Tables) > 0 && len(resp.Tables[0].Data) > 0 {
		return resp.Tables[0].Data
	}
	return resp.AAData
}

// validID accepts ordinary issues only: exactly four decimal digits.
func validID(id string) bool {
	if len(id) != 4 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func changePct(price, prevClose float64) float64 {
	if prevClose <= 0 {
		return 0
	}
	return (price - prevClose) / prevClose * 100
}

// cell reads row[i] as a trimmed string; the wire mixes strings and
// numbers between schema revisions.
func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// parseNum parses a wire number: comma-separated, with "--"/"-"/"" as
// missing-value sentinels.
func parseNum(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "--" || s == "-" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseInt(s string) (int64, bool) {
	f, ok := parseNum(s)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func numOr(s string, fallback float64) float64 {
	if f, ok := parseNum(s); ok && f > 0 {
		return f
	}
	return fallback
}
