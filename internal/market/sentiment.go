package market

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/charlie1223/stock-screener/internal/data"
	"github.com/charlie1223/stock-screener/internal/twse"
)

// The four sentiment readings from crossing spot flow with futures OI,
// plus the degraded state when a side is missing.
const (
	SentimentBullish = "絕對看多" // spot buy + futures long build
	SentimentHedge   = "策略對沖" // spot buy + futures short build
	SentimentBearish = "絕對看空" // spot sell + futures short build
	SentimentBottom  = "底部佈局" // spot sell + futures long build
	SentimentUnknown = "資料不足"
)

var sentimentIcons = map[string]string{
	SentimentBullish: "🟢",
	SentimentHedge:   "🟡",
	SentimentBearish: "🔴",
	SentimentBottom:  "🔵",
	SentimentUnknown: "⚪",
}

// SentimentIcon returns the marker glyph for a sentiment label.
func SentimentIcon(sentiment string) string {
	if icon, ok := sentimentIcons[sentiment]; ok {
		return icon
	}
	return sentimentIcons[SentimentUnknown]
}

// FlowSource is the slice of the data layer the analyzer needs.
type FlowSource interface {
	SpotForeignFlow() (*twse.SpotFlow, error)
	ForeignFuturesOI() (*data.FuturesPosition, error)
}

// Sentiment is the foreign-flow cross-read for the day.
type Sentiment struct {
	Label            string
	Icon             string
	SpotNetBillion   float64
	SpotDirection    string
	FuturesOIChange  int64
	FuturesDirection string
	Detail           string
	Date             string
}

// Analyzer performs the spot × futures cross-read once per run.
type Analyzer struct {
	source FlowSource
	log    zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer builds the foreign-sentiment analyzer.
func NewAnalyzer(source FlowSource, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		source: source,
		log:    log.With().Str("component", "sentiment").Logger(),
		now:    time.Now,
	}
}

// Classify maps the two signs onto the four-way sentiment table.
func Classify(spotNetBillion float64, futuresOIChange int64) string {
	spotBuy := spotNetBillion > 0
	futuresLong := futuresOIChange > 0
	switch {
	case spotBuy && futuresLong:
		return SentimentBullish
	case spotBuy && !futuresLong:
		return SentimentHedge
	case !spotBuy && !futuresLong:
		return SentimentBearish
	default:
		return SentimentBottom
	}
}

// Analyze fetches both sides and classifies. With only one side available
// the result carries that side's numbers under the UNKNOWN label.
func (a *Analyzer) Analyze() Sentiment {
	a.log.Info().Msg("analyzing foreign spot/futures sentiment")

	result := Sentiment{
		Label:            SentimentUnknown,
		Icon:             SentimentIcon(SentimentUnknown),
		SpotDirection:    "N/A",
		FuturesDirection: "N/A",
		Detail:           "無法取得資料",
		Date:             a.now().Format("2006-01-02"),
	}

	spot, spotErr := a.source.SpotForeignFlow()
	futures, futErr := a.source.ForeignFuturesOI()
	if spotErr != nil {
		a.log.Debug().Err(spotErr).Msg("spot flow unavailable")
	}
	if futErr != nil {
		a.log.Debug().Err(futErr).Msg("futures OI unavailable")
	}

	if spot != nil {
		result.SpotNetBillion = spot.NetBillion
		result.SpotDirection = direction(spot.NetBillion > 0, "買超", "賣超")
		if spot.Date != "" {
			result.Date = spot.Date
		}
	}
	if futures != nil {
		result.FuturesOIChange = futures.Change
		result.FuturesDirection = direction(futures.Change > 0, "多單增", "空單增")
	}

	switch {
	case spot != nil && futures != nil:
		result.Label = Classify(spot.NetBillion, futures.Change)
		result.Icon = SentimentIcon(result.Label)
		result.Detail = fmt.Sprintf("現貨%s %.1f億 / 期貨%s %d口",
			result.SpotDirection, abs(spot.NetBillion),
			result.FuturesDirection, absInt(futures.Change))
	case spot != nil:
		result.Detail = fmt.Sprintf("現貨%s %.1f億 (期貨資料不足)",
			result.SpotDirection, abs(spot.NetBillion))
	case futures != nil:
		result.Detail = fmt.Sprintf("期貨%s %d口 (現貨資料不足)",
			result.FuturesDirection, absInt(futures.Change))
	default:
		a.log.Warn().Msg("no foreign spot or futures data available")
	}

	a.log.Info().Str("sentiment", result.Label).Str("detail", result.Detail).Msg("sentiment analyzed")
	return result
}

func direction(positive bool, pos, neg string) string {
	if positive {
		return pos
	}
	return neg
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
