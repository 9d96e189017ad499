package market

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/charlie1223/stock-screener/internal/data"
	"github.com/charlie1223/stock-screener/internal/twse"
)

type fakeFlows struct {
	spot    *twse.SpotFlow
	futures *data.FuturesPosition
}

func (f *fakeFlows) SpotForeignFlow() (*twse.SpotFlow, error) {
	if f.spot == nil {
		return nil, errors.New("spot unavailable")
	}
	return f.spot, nil
}

func (f *fakeFlows) ForeignFuturesOI() (*data.FuturesPosition, error) {
	if f.futures == nil {
		return nil, errors.New("futures unavailable")
	}
	return f.futures, nil
}

// The S5 classification table.
func TestClassify(t *testing.T) {
	assert.Equal(t, SentimentBullish, Classify(12.3, 4500))
	assert.Equal(t, SentimentBottom, Classify(-5.1, 2100))
	assert.Equal(t, SentimentHedge, Classify(8.0, -1200))
	assert.Equal(t, SentimentBearish, Classify(-20.0, -3000))
}

func TestAnalyze_BothSides(t *testing.T) {
	analyzer := NewAnalyzer(&fakeFlows{
		spot:    &twse.SpotFlow{NetBillion: 12.3, Date: "2026-02-10"},
		futures: &data.FuturesPosition{Change: 4500},
	}, zerolog.Nop())

	result := analyzer.Analyze()
	assert.Equal(t, SentimentBullish, result.Label)
	assert.Equal(t, "🟢", result.Icon)
	assert.Equal(t, 12.3, result.SpotNetBillion)
	assert.Equal(t, "買超", result.SpotDirection)
	assert.Equal(t, int64(4500), result.FuturesOIChange)
	assert.Equal(t, "多單增", result.FuturesDirection)
	assert.Equal(t, "2026-02-10", result.Date)
	assert.Contains(t, result.Detail, "12.3億")
	assert.Contains(t, result.Detail, "4500口")
}

func TestAnalyze_SpotOnlyIsUnknown(t *testing.T) {
	analyzer := NewAnalyzer(&fakeFlows{
		spot: &twse.SpotFlow{NetBillion: -5.1, Date: "2026-02-10"},
	}, zerolog.Nop())

	result := analyzer.Analyze()
	assert.Equal(t, SentimentUnknown, result.Label)
	assert.Equal(t, "賣超", result.SpotDirection)
	assert.Contains(t, result.Detail, "期貨資料不足")
}

func TestAnalyze_FuturesOnlyIsUnknown(t *testing.T) {
	analyzer := NewAnalyzer(&fakeFlows{
		futures: &data.FuturesPosition{Change: -2100},
	}, zerolog.Nop())

	result := analyzer.Analyze()
	assert.Equal(t, SentimentUnknown, result.Label)
	assert.Equal(t, "空單增", result.FuturesDirection)
	assert.Contains(t, result.Detail, "現貨資料不足")
}

func TestAnalyze_NothingAvailable(t *testing.T) {
	result := NewAnalyzer(&fakeFlows{}, zerolog.Nop()).Analyze()
	assert.Equal(t, SentimentUnknown, result.Label)
	assert.Equal(t, "無法取得資料", result.Detail)
}
