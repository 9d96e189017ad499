// Package output renders run results: terminal tables and the dated CSV
// archive. CSVs carry a UTF-8 BOM so legacy spreadsheet tools render CJK
// columns correctly.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/charlie1223/stock-screener/internal/screen"
	"github.com/charlie1223/stock-screener/internal/tracker"
)

// retentionDays bounds the dated output directories kept on disk.
const retentionDays = 30

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// coreColumns lead every export, followed by whichever derived columns the
// batch accumulated, in this fixed order.
var coreColumns = []string{
	"stock_id", "stock_name", "industry", "price", "change_pct",
	"volume", "open", "high", "low", "prev_close", "market",
}

var derivedColumns = []string{
	"volume_ratio", "turnover_rate", "market_cap", "trade_value",
	"vp_status", "vp_info", "vp_volume_ratio",
	"pullback_info", "pullback_pct", "support_distance",
	"rsi", "rsi_info",
	"volume_shrink_days", "volume_shrink_info",
	"holder_info", "major_holder_pct",
	"accumulation_info", "foreign_consecutive_buy", "trust_consecutive_buy",
	"foreign_20d_sum", "trust_20d_sum",
	"higher_lows_info", "higher_lows_confirms",
	"revenue_growth", "revenue_info", "eps", "pe_ratio", "pe_info",
	"ma_bullish", "ma5", "ma10", "ma20", "ma60",
	"rank", "relative_strength", "intraday_strong",
	"foreign_today", "foreign_sum", "trust_today", "trust_sum",
	"dealer_today", "dealer_sum", "total_today", "total_sum",
}

// Exporter writes run artifacts under <outputDir>/YYYYMMDD/ and purges
// directories older than the retention window on construction.
type Exporter struct {
	outputDir string
	log       zerolog.Logger
	now       func() time.Time
}

// NewExporter builds an exporter and cleans up expired dated directories.
func NewExporter(outputDir string, log zerolog.Logger) *Exporter {
	e := &Exporter{
		outputDir: outputDir,
		log:       log.With().Str("component", "export").Logger(),
		now:       time.Now,
	}
	e.cleanupOld()
	return e
}

func (e *Exporter) dateDir() (string, error) {
	dir := filepath.Join(e.outputDir, e.now().Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// cleanupOld removes dated directories (YYYYMMDD) past the retention
// window. Anything that is not a dated directory is left alone.
func (e *Exporter) cleanupOld() {
	entries, err := os.ReadDir(e.outputDir)
	if err != nil {
		return
	}
	cutoff := e.now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != 8 {
			continue
		}
		date, err := time.ParseInLocation("20060102", entry.Name(), time.Local)
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(e.outputDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		e.log.Info().Int("dirs", removed).Int("retention_days", retentionDays).Msg("purged expired output")
	}
}

// Export writes the final batch as screener_{mode}_{HHMMSS}.csv and
// returns the path.
func (e *Exporter) Export(batch screen.Batch, mode string) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}
	dir, err := e.dateDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("screener_%s_%s.csv", mode, e.now().Format("150405")))
	if err := writeBatchCSV(path, batch); err != nil {
		return "", err
	}
	e.log.Info().Str("path", path).Int("rows", len(batch)).Msg("final results exported")
	return path, nil
}

// ExportSteps writes each stage snapshot into
// steps_{mode}_{HHMMSS}/step_NN_<name>.csv and returns the directory.
func (e *Exporter) ExportSteps(snapshots []screen.Snapshot, mode string) (string, error) {
	if len(snapshots) == 0 {
		return "", nil
	}
	dir, err := e.dateDir()
	if err != nil {
		return "", err
	}
	stepDir := filepath.Join(dir, fmt.Sprintf("steps_%s_%s", mode, e.now().Format("150405")))
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return "", err
	}

	written := 0
	for _, snap := range snapshots {
		if len(snap.Batch) == 0 {
			continue
		}
		name := safeFileName(snap.Name)
		path := filepath.Join(stepDir, fmt.Sprintf("step_%02d_%s.csv", snap.Step, name))
		if err := writeBatchCSV(path, snap.Batch); err != nil {
			return "", err
		}
		written++
	}
	e.log.Info().Str("dir", stepDir).Int("files", written).Msg("step snapshots exported")
	return stepDir, nil
}

// ExportPool writes the bullish-pool membership as bullish_pool.csv.
func (e *Exporter) ExportPool(members []tracker.PoolMember) (string, error) {
	if len(members) == 0 {
		return "", nil
	}
	dir, err := e.dateDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "bullish_pool.csv")

	header := []string{"stock_id", "stock_name", "industry", "price", "change_pct",
		"ma5", "ma10", "ma20", "ma60", "consecutive_days"}
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{
			m.ID, m.Name, m.Industry,
			formatFloat(m.Price), formatFloat(m.ChangePct),
			formatFloat(m.MA5), formatFloat(m.MA10), formatFloat(m.MA20), formatFloat(m.MA60),
			strconv.Itoa(m.ConsecutiveDays),
		})
	}
	if err := writeCSV(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

// ExportInstitutional writes the accumulation scan as
// institutional_tracking.csv, joining names from the quote batch.
func (e *Exporter) ExportInstitutional(records []tracker.TrackRecord, names map[string]string) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	dir, err := e.dateDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "institutional_tracking.csv")

	header := []string{"stock_id", "stock_name",
		"foreign_consecutive_buy", "trust_consecutive_buy",
		"foreign_5d_sum", "foreign_10d_sum", "foreign_20d_sum",
		"trust_5d_sum", "trust_10d_sum", "trust_20d_sum",
		"foreign_stability", "trust_stability",
		"is_quietly_buying", "behavior_type"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.StockID, names[r.StockID],
			strconv.Itoa(r.ForeignConsecutiveBuy), strconv.Itoa(r.TrustConsecutiveBuy),
			strconv.FormatInt(r.Foreign5dSum, 10), strconv.FormatInt(r.Foreign10dSum, 10), strconv.FormatInt(r.Foreign20dSum, 10),
			strconv.FormatInt(r.Trust5dSum, 10), strconv.FormatInt(r.Trust10dSum, 10), strconv.FormatInt(r.Trust20dSum, 10),
			formatFloat(r.ForeignStability), formatFloat(r.TrustStability),
			strconv.FormatBool(r.IsQuietlyBuying), r.BehaviorType,
		})
	}
	if err := writeCSV(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

// BatchColumns returns the export header for a batch: the core columns
// plus every known derived column present in at least one row.
func BatchColumns(batch screen.Batch) []string {
	present := map[string]bool{}
	for _, row := range batch {
		for col := range row.Extra {
			present[col] = true
		}
	}
	columns := append([]string{}, coreColumns...)
	for _, col := range derivedColumns {
		if present[col] {
			columns = append(columns, col)
		}
	}
	return columns
}

func writeBatchCSV(path string, batch screen.Batch) error {
	columns := BatchColumns(batch)

	rows := make([][]string, 0, len(batch))
	for _, row := range batch {
		record := make([]string, 0, len(columns))
		for _, col := range columns {
			record = append(record, columnValue(row, col))
		}
		rows = append(rows, record)
	}
	return writeCSV(path, columns, rows)
}

func columnValue(row screen.Row, col string) string {
	switch col {
	case "stock_id":
		return row.ID
	case "stock_name":
		return row.Name
	case "industry":
		return row.Industry
	case "market":
		return row.Market
	case "price":
		return formatFloat(row.Price)
	case "change_pct":
		return formatFloat(row.ChangePct)
	case "volume":
		return strconv.FormatInt(row.Volume, 10)
	case "open":
		return formatFloat(row.Open)
	case "high":
		return formatFloat(row.High)
	case "low":
		return formatFloat(row.Low)
	case "prev_close":
		return formatFloat(row.PrevClose)
	}

	v, ok := row.Get(col)
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return formatFloat(val)
	default:
		return fmt.Sprint(val)
	}
}

// formatFloat uses the shortest representation that round-trips.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func safeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', '<', '>', ':', '"', '|', '?', '*', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
