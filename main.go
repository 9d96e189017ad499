// Command stock-screener runs the daily Taiwan equity screen: realtime
// snapshot of both venues, an ordered chain of quantitative filters, and
// report dispatch to terminal, CSV, and Discord. Two strategy chains are
// built in: "left" (pullback accumulation) and "right" (momentum chase).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/charlie1223/stock-screener/internal/config"
	"github.com/charlie1223/stock-screener/internal/data"
	"github.com/charlie1223/stock-screener/internal/finmind"
	"github.com/charlie1223/stock-screener/internal/logger"
	"github.com/charlie1223/stock-screener/internal/market"
	"github.com/charlie1223/stock-screener/internal/notify"
	"github.com/charlie1223/stock-screener/internal/output"
	"github.com/charlie1223/stock-screener/internal/screen"
	"github.com/charlie1223/stock-screener/internal/store"
	"github.com/charlie1223/stock-screener/internal/tracker"
	"github.com/charlie1223/stock-screener/internal/twse"
)

var strategyNames = map[string]string{
	"left":  "回調縮量吸籌策略",
	"right": "撒網抓強勢策略",
}

type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	fetcher  *data.Fetcher
	exporter *output.Exporter
	notifier *notify.Notifier
	ledger   *store.Store
}

func main() {
	force := flag.Bool("force", false, "bypass weekday and time-window checks")
	flag.BoolVar(force, "f", *force, "shorthand for --force")
	verbose := flag.Bool("v", false, "verbose logging")
	mode := flag.String("mode", "left", "strategy chain: left or right")
	pool := flag.Bool("pool", false, "additionally run the bullish-pool tracker")
	poolOnly := flag.Bool("pool-only", false, "only run the bullish-pool tracker")
	inst := flag.Bool("inst", false, "additionally run the institutional tracker")
	instOnly := flag.Bool("inst-only", false, "only run the institutional tracker")
	all := flag.Bool("all", false, "run screener plus both trackers")
	flag.Parse()

	if *mode != "left" && *mode != "right" {
		fmt.Fprintf(os.Stderr, "unknown mode %q (want left or right)\n", *mode)
		os.Exit(1)
	}

	// .env first so config.Load sees it; missing file is fine.
	godotenv.Load()

	level := "info"
	if *verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Pretty: true})

	// Exit 130 on interrupt; no state needs flushing (tracker JSON is only
	// written after a full recomputation).
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		log.Warn().Msg("interrupted")
		os.Exit(130)
	}()

	cfg := config.Load()

	exchange := twse.NewClient(log)
	primary := finmind.NewClient(cfg.FinMindToken, log)
	fetcher := data.NewFetcher(exchange, primary, log)

	ledger, err := store.Open(filepath.Join(cfg.OutputDir, "screener.db"), log)
	if err != nil {
		log.Warn().Err(err).Msg("run ledger unavailable, continuing without it")
		ledger = nil
	} else {
		defer ledger.Close()
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		fetcher:  fetcher,
		exporter: output.NewExporter(cfg.OutputDir, log),
		notifier: notify.NewNotifier(cfg.WebhookURL, log),
		ledger:   ledger,
	}

	fmt.Println("\n" + "============================================================")
	fmt.Printf("  台股選股程式 - %s\n", strategyNames[*mode])
	fmt.Println("============================================================")

	switch {
	case *poolOnly:
		a.runPoolScan(nil)
	case *instOnly:
		a.runInstScan(nil)
	default:
		scanPool := *pool || *all
		scanInst := *inst || *all
		if err := a.runScreener(*force, *mode, scanPool, scanInst); err != nil {
			log.Error().Err(err).Msg("screener run failed")
			a.notifier.SendError(err.Error())
			os.Exit(1)
		}
	}
}

// runScreener is the orchestrator: gate, context reads, pipeline,
// enrichment, and side-effect dispatch.
func (a *app) runScreener(force bool, mode string, scanPool, scanInst bool) error {
	now := time.Now()
	if !force {
		if !config.IsWeekday(now) {
			a.log.Warn().Msg("not a trading day (weekend); use --force to run anyway")
			return nil
		}
		if !config.InScreeningWindow(now) {
			a.log.Warn().
				Str("now", now.Format("15:04")).
				Msg("outside the tail-session screening window; use --force to run anyway")
			return nil
		}
	}

	started := time.Now()

	// Market context, once per run.
	sentiment := market.NewAnalyzer(a.fetcher, a.log).Analyze()
	status := market.NewMonitor(a.fetcher, a.log).Check()
	output.DisplayMarketStatus(status)
	output.DisplaySentiment(sentiment)

	// Universe snapshot.
	quotes := a.fetcher.Snapshot()
	if len(quotes) == 0 {
		return fmt.Errorf("no quotes from either venue")
	}
	batch := screen.FromQuotes(quotes, a.fetcher.IndustryMap())

	// Pipeline.
	var stages []screen.Stage
	if mode == "right" {
		stages = screen.RightStages(a.fetcher, a.cfg.Params)
	} else {
		stages = screen.LeftStages(a.fetcher, a.cfg.Params)
	}
	runner := screen.NewRunner(stages, a.log)
	result := runner.Run(batch)

	if mode == "right" {
		result = screen.RankByChange(result)
	}

	// Reference enrichment: 5-day institutional flows for the survivors.
	a.enrichInstitutional(result)

	if a.fetcher.UsingFallback() {
		fmt.Println("\n  ⚠️  主要資料源額度用盡，本次使用交易所備援資料")
	}

	// Dispatch.
	output.DisplayStageSummary(runner.Stats)
	output.DisplayResults(result, strategyNames[mode])
	if mode == "right" {
		output.DisplayRanking(result)
	}

	if dir, err := a.exporter.ExportSteps(runner.Snapshots, mode); err != nil {
		a.log.Warn().Err(err).Msg("step export failed")
	} else if dir != "" {
		fmt.Printf("\n逐步篩選結果已儲存至: %s\n", dir)
	}
	if path, err := a.exporter.Export(result, mode); err != nil {
		a.log.Warn().Err(err).Msg("final export failed")
	} else if path != "" {
		fmt.Printf("最終結果已儲存至: %s\n", path)
	}

	var runID int64
	if a.ledger != nil {
		runID, _ = a.ledger.RecordRun(mode, started, time.Since(started),
			len(quotes), len(result), a.fetcher.UsingFallback(), runner.Stats)
	}

	if a.notifier.Enabled {
		a.log.Info().Msg("sending webhook notifications")
		stepErr := a.notifier.SendStepSummary(runner.Stats)
		resultErr := a.notifier.SendScreeningResults(result, strategyNames[mode])
		if a.ledger != nil {
			a.ledger.RecordNotification(runID, "discord-steps", stepErr == nil, errDetail(stepErr))
			a.ledger.RecordNotification(runID, "discord-results", resultErr == nil, errDetail(resultErr))
		}
	}

	if scanPool {
		a.runPoolScan(quotes)
	}
	if scanInst {
		a.runInstScan(quotes)
	}
	return nil
}

// enrichInstitutional merges the 5-day institutional summary into the
// final batch as reference columns.
func (a *app) enrichInstitutional(batch screen.Batch) {
	if len(batch) == 0 {
		return
	}
	a.log.Info().Int("count", len(batch)).Msg("fetching institutional reference data")
	for i := range batch {
		summary, ok := a.fetcher.InstitutionalSummary(batch[i].ID, 5)
		if !ok {
			continue
		}
		batch[i].Set("foreign_today", summary.ForeignToday)
		batch[i].Set("foreign_sum", summary.ForeignSum)
		batch[i].Set("trust_today", summary.TrustToday)
		batch[i].Set("trust_sum", summary.TrustSum)
		batch[i].Set("dealer_today", summary.DealerToday)
		batch[i].Set("dealer_sum", summary.DealerSum)
		batch[i].Set("total_today", summary.TotalToday)
		batch[i].Set("total_sum", summary.TotalSum)
	}
}

// runPoolScan executes the bullish-pool tracker. quotes may be nil, in
// which case a fresh snapshot is taken.
func (a *app) runPoolScan(quotes []twse.Quote) {
	fmt.Println("\n  開始掃描多頭股池...")

	if quotes == nil {
		quotes = a.fetcher.Snapshot()
	}
	if len(quotes) == 0 {
		a.log.Warn().Msg("no universe for pool scan")
		return
	}

	poolTracker := tracker.NewPoolTracker(a.fetcher, a.cfg.OutputDir, a.log)
	members := poolTracker.Scan(quotes)

	update, err := poolTracker.Update(members)
	if err != nil {
		a.log.Error().Err(err).Msg("pool update failed")
		return
	}
	output.DisplayPoolReport(update)

	if path, err := a.exporter.ExportPool(members); err != nil {
		a.log.Warn().Err(err).Msg("pool export failed")
	} else if path != "" {
		fmt.Printf("\n多頭股池已儲存至: %s\n", path)
	}
}

// runInstScan executes the institutional accumulation tracker.
func (a *app) runInstScan(quotes []twse.Quote) {
	fmt.Println("\n  開始掃描法人佈局...")

	if quotes == nil {
		quotes = a.fetcher.Snapshot()
	}
	if len(quotes) == 0 {
		a.log.Warn().Msg("no universe for institutional scan")
		return
	}

	ids := make([]string, 0, len(quotes))
	names := make(map[string]string, len(quotes))
	for _, quote := range quotes {
		ids = append(ids, quote.ID)
		names[quote.ID] = quote.Name
	}

	instTracker := tracker.NewInstTracker(a.fetcher, a.cfg.OutputDir, a.log)
	records := instTracker.Scan(ids, a.cfg.Params.AccumulationMinDays)

	output.DisplayInstitutionalReport(records, names)

	if len(records) > 0 {
		if err := instTracker.UpdateTracking(records); err != nil {
			a.log.Error().Err(err).Msg("institutional tracking update failed")
		}
		if path, err := a.exporter.ExportInstitutional(records, names); err != nil {
			a.log.Warn().Err(err).Msg("institutional export failed")
		} else if path != "" {
			fmt.Printf("\n法人佈局追蹤已儲存至: %s\n", path)
		}
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
