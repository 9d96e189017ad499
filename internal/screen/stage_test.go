package screen

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie1223/stock-screener/internal/data"
	"github.com/charlie1223/stock-screener/internal/twse"
)

// fakeSource is the shared DataSource stub for stage tests.
type fakeSource struct {
	hist        map[string][]twse.Candle
	caps        map[string]float64
	shares      map[string]float64
	revenues    map[string][]data.Revenue
	eps         map[string][]float64
	holders     map[string][]data.HoldingWeek
	inst        map[string][]data.InstDaily
	benchmark   float64
	benchmarkOK bool
	clock       time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		hist:     map[string][]twse.Candle{},
		caps:     map[string]float64{},
		shares:   map[string]float64{},
		revenues: map[string][]data.Revenue{},
		eps:      map[string][]float64{},
		holders:  map[string][]data.HoldingWeek{},
		inst:     map[string][]data.InstDaily{},
		clock:    time.Date(2026, 2, 10, 14, 0, 0, 0, time.Local),
	}
}

func (f *fakeSource) History(id string, days int) []twse.Candle {
	candles := f.hist[id]
	if days > 0 && len(candles) > days {
		return candles[len(candles)-days:]
	}
	return candles
}
func (f *fakeSource) MarketCaps() map[string]float64          { return f.caps }
func (f *fakeSource) SharesOutstanding() map[string]float64   { return f.shares }
func (f *fakeSource) MonthlyRevenues(id string) []data.Revenue { return f.revenues[id] }
func (f *fakeSource) QuarterlyEPS(id string) []float64        { return f.eps[id] }
func (f *fakeSource) MajorHolderWeeks(id string) []data.HoldingWeek {
	return f.holders[id]
}
func (f *fakeSource) InstitutionalDaily(id string, days int) []data.InstDaily {
	return f.inst[id]
}
func (f *fakeSource) BenchmarkChange() (float64, bool) { return f.benchmark, f.benchmarkOK }
func (f *fakeSource) Now() time.Time                   { return f.clock }

// candlesFromCloses builds a daily series from closes; highs ride slightly above,
// volume is constant in shares.
func candlesFromCloses(closes []float64, volumeShares int64) []twse.Candle {
	out := make([]twse.Candle, len(closes))
	day := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = twse.Candle{
			Date:   day.AddDate(0, 0, i).Format("2006-01-02"),
			Open:   c - 0.2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: volumeShares,
		}
	}
	return out
}

func riser(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func testRow(id string, price, prevClose float64, volume int64) Row {
	return Row{
		ID:        id,
		Name:      "股票" + id,
		Industry:  "半導體業",
		Market:    twse.MarketMain,
		Price:     price,
		Open:      price * 0.99,
		High:      price * 1.01,
		Low:       price * 0.985,
		PrevClose: prevClose,
		ChangePct: (price - prevClose) / prevClose * 100,
		Volume:    volume,
	}
}

// passThroughStage keeps everything and stamps one column.
type passThroughStage struct{ stageMeta }

func (s *passThroughStage) Screen(batch Batch) Batch {
	out := batch.Clone()
	for i := range out {
		out[i].Set(fmt.Sprintf("seen_%d", s.step), true)
	}
	return out
}

// dropHalfStage keeps the first half of the batch.
type dropHalfStage struct{ stageMeta }

func (s *dropHalfStage) Screen(batch Batch) Batch {
	return batch.Clone()[:len(batch)/2]
}

func TestRunner_StatsAndMonotoneElimination(t *testing.T) {
	batch := Batch{
		testRow("1101", 40, 38, 1200),
		testRow("2330", 600, 590, 25000),
		testRow("2454", 1000, 990, 3000),
		testRow("3008", 2200, 2150, 500),
	}

	runner := NewRunner([]Stage{
		&passThroughStage{stageMeta{1, "stamp"}},
		&dropHalfStage{stageMeta{2, "halve"}},
	}, zerolog.Nop())
	final := runner.Run(batch)

	require.Len(t, runner.Stats, 2)
	assert.Equal(t, StageStat{Step: 1, Name: "stamp", Input: 4, Output: 4}, runner.Stats[0])
	assert.Equal(t, StageStat{Step: 2, Name: "halve", Input: 4, Output: 2}, runner.Stats[1])
	assert.Equal(t, 0.5, runner.Stats[1].PassRate())

	// Every output row is one of the input rows, unchanged on core fields.
	for _, row := range final {
		assert.LessOrEqual(t, len(final), len(batch))
		found := false
		for _, in := range batch {
			if in.ID == row.ID {
				found = true
				assert.Equal(t, in.Price, row.Price)
				assert.Equal(t, in.ChangePct, row.ChangePct)
			}
		}
		assert.True(t, found)
	}
}

func TestRunner_SnapshotMatchesNextStageInput(t *testing.T) {
	batch := Batch{testRow("1101", 40, 38, 1200), testRow("2330", 600, 590, 25000)}

	runner := NewRunner([]Stage{
		&passThroughStage{stageMeta{1, "first"}},
		&passThroughStage{stageMeta{2, "second"}},
	}, zerolog.Nop())
	runner.Run(batch)

	require.Len(t, runner.Snapshots, 2)
	snap := runner.Snapshots[0].Batch
	require.Len(t, snap, 2)
	// The stage-2 output carries stage 1's column, and the stage-1
	// snapshot equals exactly what stage 2 received.
	_, hasStamp := snap[0].Get("seen_1")
	assert.True(t, hasStamp)
	_, hasSecond := snap[0].Get("seen_2")
	assert.False(t, hasSecond, "snapshot must predate the next stage")
}

func TestRunner_AbortsOnEmptyBatch(t *testing.T) {
	empty := &dropHalfStage{stageMeta{1, "empty"}} // halving a 1-row batch yields 0
	after := &passThroughStage{stageMeta{2, "after"}}

	runner := NewRunner([]Stage{empty, after}, zerolog.Nop())
	final := runner.Run(Batch{testRow("1101", 40, 38, 1200)})

	assert.Empty(t, final)
	require.Len(t, runner.Stats, 1, "the chain stops before the next stage")
}

func TestScreenConcurrent_PreservesOrderAndColumns(t *testing.T) {
	batch := Batch{}
	for i := 0; i < 50; i++ {
		row := testRow(fmt.Sprintf("%04d", 1000+i), 50, 49, 100)
		row.Set("prior", i)
		batch = append(batch, row)
	}

	out := screenConcurrent(batch, func(row Row) rowVerdict {
		if row.ID == "1007" {
			return dropRow()
		}
		return keepWith(map[string]interface{}{"mine": row.ID})
	})

	require.Len(t, out, 49)
	prev := ""
	for _, row := range out {
		assert.Greater(t, row.ID, prev, "batch order preserved under concurrency")
		prev = row.ID
		_, hasPrior := row.Get("prior")
		assert.True(t, hasPrior, "columns from earlier stages survive")
		assert.Equal(t, row.ID, row.GetString("mine"))
	}
}

func TestBatchClone_IsDeep(t *testing.T) {
	row := testRow("2330", 600, 590, 25000)
	row.Set("col", "original")
	batch := Batch{row}

	cloned := batch.Clone()
	cloned[0].Set("col", "changed")
	cloned[0].Price = 1

	assert.Equal(t, "original", batch[0].GetString("col"))
	assert.Equal(t, 600.0, batch[0].Price)
}

func TestFromQuotes(t *testing.T) {
	quotes := []twse.Quote{
		{ID: "2330", Name: "台積電", Price: 600, PrevClose: 590, ChangePct: 1.69, Volume: 25000, Market: twse.MarketMain},
		{ID: "4966", Name: "譜瑞-KY", Price: 700, PrevClose: 700, Market: twse.MarketOTC},
	}
	batch := FromQuotes(quotes, map[string]string{"2330": "半導體業"})

	require.Len(t, batch, 2)
	assert.Equal(t, "半導體業", batch[0].Industry)
	assert.Equal(t, data.UnclassifiedIndustry, batch[1].Industry)
}
