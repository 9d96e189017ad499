package screen

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/charlie1223/stock-screener/internal/data"
	"github.com/charlie1223/stock-screener/internal/twse"
)

// DataSource is the slice of the data layer the stages consume.
// *data.Fetcher satisfies it; tests substitute fakes.
type DataSource interface {
	History(id string, days int) []twse.Candle
	MarketCaps() map[string]float64
	SharesOutstanding() map[string]float64
	MonthlyRevenues(id string) []data.Revenue
	QuarterlyEPS(id string) []float64
	MajorHolderWeeks(id string) []data.HoldingWeek
	InstitutionalDaily(id string, days int) []data.InstDaily
	BenchmarkChange() (float64, bool)
	Now() time.Time
}

// Stage is a single screening predicate: it reads a batch, optionally
// enriches rows, and returns the passing subset. Stages are stateless
// between runs; in-run caching lives in the DataSource.
type Stage interface {
	Step() int
	Name() string
	Screen(batch Batch) Batch
}

// StageStat records a stage's elimination counts.
type StageStat struct {
	Step   int
	Name   string
	Input  int
	Output int
}

// PassRate is output/input; zero when the stage saw no rows.
func (s StageStat) PassRate() float64 {
	if s.Input == 0 {
		return 0
	}
	return float64(s.Output) / float64(s.Input)
}

// Snapshot is the batch captured right after a stage ran; byte-for-byte
// the batch the next stage receives.
type Snapshot struct {
	Step  int
	Name  string
	Batch Batch
}

// Runner threads a batch through an ordered stage list, collecting stats
// and snapshots. An emptied batch ends the run early; that is recorded,
// not an error.
type Runner struct {
	stages []Stage
	log    zerolog.Logger

	Stats     []StageStat
	Snapshots []Snapshot
}

// NewRunner builds a runner over an ordered stage list.
func NewRunner(stages []Stage, log zerolog.Logger) *Runner {
	return &Runner{
		stages: stages,
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the chain and returns the final batch.
func (r *Runner) Run(batch Batch) Batch {
	r.Stats = r.Stats[:0]
	r.Snapshots = r.Snapshots[:0]

	for _, stage := range r.stages {
		if len(batch) == 0 {
			r.log.Warn().Int("step", stage.Step()).Msg("no candidates left before stage, aborting chain")
			break
		}

		input := len(batch)
		batch = stage.Screen(batch)

		stat := StageStat{Step: stage.Step(), Name: stage.Name(), Input: input, Output: len(batch)}
		r.Stats = append(r.Stats, stat)
		r.Snapshots = append(r.Snapshots, Snapshot{Step: stage.Step(), Name: stage.Name(), Batch: batch.Clone()})

		r.log.Info().
			Int("step", stage.Step()).
			Str("stage", stage.Name()).
			Int("in", input).
			Int("out", len(batch)).
			Msg("stage complete")
	}
	return batch
}

// rowVerdict is a concurrent evaluation result: whether the row passes,
// plus derived columns to attach either way.
type rowVerdict struct {
	keep bool
	cols map[string]interface{}
}

func keepWith(cols map[string]interface{}) rowVerdict {
	return rowVerdict{keep: true, cols: cols}
}

func dropRow() rowVerdict {
	return rowVerdict{}
}

// concurrency cap for per-ticker side queries inside a stage.
const stageWorkers = 8

// screenConcurrent evaluates every row with a bounded worker pool, then
// folds the verdicts back preserving batch order. The eval callback must
// not mutate the row; it returns derived columns instead.
func screenConcurrent(batch Batch, eval func(row Row) rowVerdict) Batch {
	verdicts := make(map[string]rowVerdict, len(batch))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(stageWorkers)
	for _, row := range batch {
		row := row
		g.Go(func() error {
			verdict := eval(row)
			mu.Lock()
			verdicts[row.ID] = verdict
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	out := make(Batch, 0, len(batch))
	for _, row := range batch {
		verdict := verdicts[row.ID]
		if !verdict.keep {
			continue
		}
		kept := row.Clone()
		for col, v := range verdict.cols {
			kept.Set(col, v)
		}
		out = append(out, kept)
	}
	return out
}
