package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/charlie1223/stock-screener/internal/market"
	"github.com/charlie1223/stock-screener/internal/screen"
	"github.com/charlie1223/stock-screener/internal/tracker"
)

const lineWidth = 80

func rule(ch string) string {
	return strings.Repeat(ch, lineWidth)
}

// DisplayMarketStatus prints the index MA block and any warnings.
func DisplayMarketStatus(status market.Status) {
	fmt.Println("\n" + rule("="))
	fmt.Println("  大盤/OTC 均線狀態監控")
	fmt.Println(rule("="))

	printIndex := func(label string, idx *market.IndexStatus) {
		if idx == nil {
			fmt.Printf("\n【%s】 無資料\n", label)
			return
		}
		fmt.Printf("\n【%s】 現價: %.2f\n", label, idx.CurrentPrice)
		periods := make([]int, 0, len(idx.MAValues))
		for period := range idx.MAValues {
			periods = append(periods, period)
		}
		sort.Ints(periods)
		for _, period := range periods {
			mark := "✓"
			if !idx.AboveMA[period] {
				mark = "✗"
			}
			fmt.Printf("  MA%-3d: %10.2f [%s]\n", period, idx.MAValues[period], mark)
		}
		if idx.IsBullish {
			fmt.Println("  均線排列: 多頭排列 ✓")
		} else {
			fmt.Println("  均線排列: 非多頭排列 ✗")
		}
	}
	printIndex("加權指數", status.Main)
	printIndex("櫃買指數", status.OTC)

	if len(status.Warnings) > 0 {
		fmt.Println("\n" + rule("!"))
		for _, warning := range status.Warnings {
			fmt.Printf("  ⚠️  %s\n", warning)
		}
		fmt.Println(rule("!"))
	} else {
		fmt.Println("\n  ✅ 大盤均線狀態正常")
	}
	fmt.Println(rule("=") + "\n")
}

// DisplaySentiment prints the foreign-flow cross-read block.
func DisplaySentiment(sentiment market.Sentiment) {
	fmt.Println(rule("-"))
	fmt.Printf("  外資動向 [%s]: %s %s\n", sentiment.Date, sentiment.Icon, sentiment.Label)
	fmt.Printf("  %s\n", sentiment.Detail)
	fmt.Println(rule("-"))
}

// DisplayStageSummary prints the per-stage elimination table.
func DisplayStageSummary(stats []screen.StageStat) {
	if len(stats) == 0 {
		return
	}
	fmt.Println("\n" + rule("="))
	fmt.Println("  篩選結果摘要")
	fmt.Println(rule("="))
	for _, stat := range stats {
		fmt.Printf("  步驟%2d: %-18s | 輸入: %4d | 輸出: %4d | 通過率: %5.1f%%\n",
			stat.Step, stat.Name, stat.Input, stat.Output, stat.PassRate()*100)
	}
	first, last := stats[0], stats[len(stats)-1]
	if first.Input > 0 {
		fmt.Println("  " + strings.Repeat("-", lineWidth-4))
		fmt.Printf("  最終篩選結果: %d 檔 (總通過率: %.2f%%)\n",
			last.Output, float64(last.Output)/float64(first.Input)*100)
	}
	fmt.Println(rule("="))
}

// DisplayResults prints the final candidate table with institutional
// reference columns when present.
func DisplayResults(batch screen.Batch, strategyName string) {
	fmt.Println("\n" + rule("="))
	fmt.Printf("  %s - 選股結果\n", strategyName)
	fmt.Println(rule("="))

	if len(batch) == 0 {
		fmt.Println("\n  今日無符合條件的股票")
		fmt.Println(rule("="))
		return
	}

	// Industry grouping block.
	byIndustry := map[string][]string{}
	for _, row := range batch {
		byIndustry[row.Industry] = append(byIndustry[row.Industry], row.Name)
	}
	fmt.Println("\n  【產業族群分布】")
	industries := make([]string, 0, len(byIndustry))
	for industry := range byIndustry {
		industries = append(industries, industry)
	}
	sort.Slice(industries, func(i, j int) bool {
		return len(byIndustry[industries[i]]) > len(byIndustry[industries[j]])
	})
	for _, industry := range industries {
		names := byIndustry[industry]
		shown := names
		if len(shown) > 5 {
			shown = shown[:5]
		}
		suffix := ""
		if len(names) > 5 {
			suffix = fmt.Sprintf("... 等%d檔", len(names))
		}
		fmt.Printf("  %s: %s%s\n", industry, strings.Join(shown, ", "), suffix)
	}

	fmt.Printf("\n  %-6s %-10s %-10s %8s %8s %8s %8s\n",
		"代號", "名稱", "產業", "現價", "漲幅", "量比", "換手率")
	fmt.Println("  " + strings.Repeat("-", lineWidth-4))
	for _, row := range batch {
		volumeRatio := "-"
		if v, ok := row.GetFloat("volume_ratio"); ok {
			volumeRatio = fmt.Sprintf("%.2f", v)
		}
		turnover := "-"
		if v, ok := row.GetFloat("turnover_rate"); ok {
			turnover = fmt.Sprintf("%.2f%%", v)
		}
		fmt.Printf("  %-6s %-10s %-10s %8.2f %+7.2f%% %8s %8s\n",
			row.ID, clip(row.Name, 10), clip(row.Industry, 10),
			row.Price, row.ChangePct, volumeRatio, turnover)
	}
	fmt.Printf("\n  共篩選出 %d 檔股票符合條件\n", len(batch))
	fmt.Println(rule("="))

	displayInstitutionalColumns(batch)
}

func displayInstitutionalColumns(batch screen.Batch) {
	hasInst := false
	for _, row := range batch {
		if _, ok := row.Get("foreign_today"); ok {
			hasInst = true
			break
		}
	}
	if !hasInst {
		return
	}

	fmt.Println("\n" + rule("-"))
	fmt.Println("  【三大法人買賣超參考】 (單位: 張)")
	fmt.Println(rule("-"))
	fmt.Printf("  %-6s %-10s %10s %10s %10s %10s %10s\n",
		"代號", "名稱", "外資今日", "外資5日", "投信今日", "投信5日", "合計")
	for _, row := range batch {
		fmt.Printf("  %-6s %-10s %10s %10s %10s %10s %10s\n",
			row.ID, clip(row.Name, 10),
			signedLots(row, "foreign_today"), signedLots(row, "foreign_sum"),
			signedLots(row, "trust_today"), signedLots(row, "trust_sum"),
			signedLots(row, "total_sum"))
	}
	fmt.Println(rule("-"))
}

// DisplayRanking prints the right-side strength ranking.
func DisplayRanking(batch screen.Batch) {
	if len(batch) == 0 {
		return
	}
	fmt.Println("\n" + rule("="))
	fmt.Println("  漲幅排名 (留強砍弱參考)")
	fmt.Println(rule("="))
	for _, row := range batch {
		rank, _ := row.GetFloat("rank")
		fmt.Printf("  #%-3.0f %s %-10s 漲幅 %+.1f%%\n", rank, row.ID, clip(row.Name, 10), row.ChangePct)
	}
	fmt.Println(rule("="))
}

// DisplayPoolReport prints the daily pool diff and leaders.
func DisplayPoolReport(update *tracker.PoolUpdate) {
	fmt.Println("\n" + rule("="))
	fmt.Println("  【多頭股池報告】- 體質追蹤")
	fmt.Println(rule("="))
	fmt.Printf("\n  今日多頭股池: %d 檔\n", len(update.Day.Stocks))

	if len(update.New) > 0 {
		fmt.Printf("\n  🆕 新進多頭 (%d 檔):\n", len(update.New))
		for _, id := range headStrings(update.New, 10) {
			member := update.Day.Stocks[id]
			fmt.Printf("     %s %s [%s]\n", id, member.Name, member.Industry)
		}
	}
	if len(update.Removed) > 0 {
		fmt.Printf("\n  ⚠️  跌出多頭 (%d 檔):\n", len(update.Removed))
		for _, id := range headStrings(update.Removed, 10) {
			fmt.Printf("     %s\n", id)
		}
	}

	// Longest-standing members.
	type ranked struct {
		id   string
		days int
	}
	leaders := make([]ranked, 0, len(update.Day.Stocks))
	for id, member := range update.Day.Stocks {
		leaders = append(leaders, ranked{id, member.ConsecutiveDays})
	}
	sort.Slice(leaders, func(i, j int) bool {
		if leaders[i].days != leaders[j].days {
			return leaders[i].days > leaders[j].days
		}
		return leaders[i].id < leaders[j].id
	})
	if len(leaders) > 0 {
		fmt.Println("\n  🏆 連續多頭排行 (前10名):")
		for i, leader := range leaders {
			if i >= 10 {
				break
			}
			member := update.Day.Stocks[leader.id]
			fmt.Printf("     %s %-10s [%s] - 連續 %d 天\n",
				leader.id, clip(member.Name, 10), member.Industry, leader.days)
		}
	}
	fmt.Println("\n" + rule("="))
}

// DisplayInstitutionalReport prints the accumulation scan.
func DisplayInstitutionalReport(records []tracker.TrackRecord, names map[string]string) {
	fmt.Println("\n" + rule("="))
	fmt.Println("  【法人佈局追蹤報告】")
	fmt.Println(rule("="))

	if len(records) == 0 {
		fmt.Println("\n  今日無符合條件的法人佈局股票")
		fmt.Println(rule("="))
		return
	}

	fmt.Printf("\n  %-6s %-10s %8s %8s %12s %12s\n",
		"代號", "名稱", "外資連買", "投信連買", "外資20日", "投信20日")
	fmt.Println("  " + strings.Repeat("-", lineWidth-4))
	for i, record := range records {
		if i >= 15 {
			break
		}
		fmt.Printf("  %-6s %-10s %6d天 %6d天 %12s %12s\n",
			record.StockID, clip(names[record.StockID], 10),
			record.ForeignConsecutiveBuy, record.TrustConsecutiveBuy,
			signedComma(record.Foreign20dSum), signedComma(record.Trust20dSum))
	}
	fmt.Println("\n  說明: 「悄悄佈局」= 連續買超>=5天 + 買超量穩定 + 累計為正")
	fmt.Println(rule("="))
}

func signedComma(n int64) string {
	if n > 0 {
		return "+" + humanize.Comma(n)
	}
	return humanize.Comma(n)
}

func signedLots(row screen.Row, col string) string {
	v, ok := row.GetFloat(col)
	if !ok {
		return "-"
	}
	return signedComma(int64(v))
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func headStrings(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
