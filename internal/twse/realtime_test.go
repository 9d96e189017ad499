package twse

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	assert.True(t, validID("2330"))
	assert.True(t, validID("0050"))
	assert.False(t, validID("233"))
	assert.False(t, validID("23300"))
	assert.False(t, validID("23A0"))
	assert.False(t, validID("911616"))
	assert.False(t, validID(""))
}

func TestParseNum(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"600.00", 600, true},
		{"1,234.5", 1234.5, true},
		{" 42 ", 42, true},
		{"--", 0, false},
		{"-", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"-3.5", -3.5, true},
	}
	for _, tc := range cases {
		got, ok := parseNum(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestChangePct_Precision(t *testing.T) {
	// change_pct must match the exact local computation, not a rounded
	// wire value.
	got := changePct(40, 38)
	want := (40.0 - 38.0) / 38.0 * 100
	assert.Less(t, math.Abs(got-want), 1e-9)

	assert.Equal(t, 0.0, changePct(600, 600))
	assert.Equal(t, 0.0, changePct(10, 0), "no previous close means no change")
}

func TestCell_MixedTypes(t *testing.T) {
	var row []interface{}
	require.NoError(t, json.Unmarshal([]byte(`[" 2330 ", 600.5, 123, null]`), &row))

	assert.Equal(t, "2330", cell(row, 0))
	assert.Equal(t, "600.5", cell(row, 1))
	assert.Equal(t, "123", cell(row, 2))
	assert.Equal(t, "", cell(row, 10), "out of range reads as empty")
}

func TestParseMISQuote(t *testing.T) {
	item := map[string]string{
		"c": "2330", "n": "台積電",
		"z": "600", "o": "595", "h": "602", "l": "594",
		"y": "590", "v": "25000",
	}
	q, ok := parseMISQuote(item, MarketMain)
	require.True(t, ok)
	assert.Equal(t, "2330", q.ID)
	assert.Equal(t, 600.0, q.Price)
	assert.Equal(t, 590.0, q.PrevClose)
	assert.Equal(t, int64(25000), q.Volume)
	assert.Equal(t, MarketMain, q.Market)
	assert.InDelta(t, (600.0-590.0)/590.0*100, q.ChangePct, 1e-9)
}

func TestParseMISQuote_NoTradeFallsBackToBid(t *testing.T) {
	item := map[string]string{
		"c": "1101", "n": "台泥",
		"z": "-", "b": "40.5_40.4_40.3", "y": "40.0",
		"o": "-", "h": "-", "l": "-", "v": "0",
	}
	q, ok := parseMISQuote(item, MarketMain)
	require.True(t, ok)
	assert.Equal(t, 40.5, q.Price)
	// Missing OHL fields fall back to the traded price.
	assert.Equal(t, 40.5, q.Open)
	assert.Equal(t, 40.5, q.High)
	assert.Equal(t, 40.5, q.Low)
}

func TestParseMISQuote_RejectsBadRows(t *testing.T) {
	_, ok := parseMISQuote(map[string]string{"c": "ABCD", "z": "10"}, MarketMain)
	assert.False(t, ok, "non-numeric id")

	_, ok = parseMISQuote(map[string]string{"c": "1101", "z": "-", "b": "", "y": "0"}, MarketMain)
	assert.False(t, ok, "no usable price")
}

func TestOtcRows_SchemaVariants(t *testing.T) {
	var current tableResp
	require.NoError(t, json.Unmarshal([]byte(`{"tables":[{"data":[["1240","茂生農經","55.1","0.6","54.8","55.4","54.5","125000"]]}]}`), &current))
	assert.Len(t, otcRows(&current), 1)

	var legacy tableResp
	require.NoError(t, json.Unmarshal([]byte(`{"aaData":[["1240","茂生農經","55.1","0.6","54.8","55.4","54.5","125000"]]}`), &legacy))
	assert.Len(t, otcRows(&legacy), 1)
}

func TestParseMainPostCloseRows(t *testing.T) {
	// 0 id, 1 name, 2 shares, 5 open, 6 high, 7 low, 8 close,
	// 9 sign token, 10 change.
	row := func(id, sign, change string) []interface{} {
		return []interface{}{id, "台積電", "30,512,345", "7200", "18,307,000,000",
			"595.00", "602.00", "594.00", "600.00", sign, change}
	}

	quotes := parseMainPostCloseRows([][]interface{}{
		row("2330", "+", "5.00"),
		row("0050", "<p style=\"color:green\">-</p>", "1.00"),
		row("911616", "+", "1.00"), // six-digit id dropped
		{"2317", "鴻海", "1,000", "x", "x", "--", "--", "--", "--", "", ""}, // sentinel price dropped
	})
	require.Len(t, quotes, 2)

	up := quotes[0]
	assert.Equal(t, "2330", up.ID)
	assert.Equal(t, 600.0, up.Price)
	assert.Equal(t, 595.0, up.PrevClose)
	assert.Equal(t, int64(30512), up.Volume, "shares convert to lots by truncation")
	assert.Equal(t, MarketMain, up.Market)
	assert.InDelta(t, (600.0-595.0)/595.0*100, up.ChangePct, 1e-9)

	// CSS-class sign token flips the change negative.
	down := quotes[1]
	assert.Equal(t, 601.0, down.PrevClose)
	assert.Less(t, down.ChangePct, 0.0)
}

func TestParseOTCPostCloseRows(t *testing.T) {
	// 0 id, 1 name, 2 close, 3 change, 4 open, 5 high, 6 low, 7 shares.
	quotes := parseOTCPostCloseRows([][]interface{}{
		{"1240", "茂生農經", "55.10", "0.60", "54.80", "55.40", "54.50", "125,500"},
		{"5483", "中美晶", "--", "0", "0", "0", "0", "0"}, // no close, dropped
	})
	require.Len(t, quotes, 1)

	q := quotes[0]
	assert.Equal(t, "1240", q.ID)
	assert.Equal(t, 55.1, q.Price)
	assert.InDelta(t, 54.5, q.PrevClose, 1e-9)
	assert.Equal(t, int64(125), q.Volume)
	assert.Equal(t, MarketOTC, q.Market)
}
