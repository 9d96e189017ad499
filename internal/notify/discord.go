// Package notify delivers run results to a Discord webhook. The notifier
// is constructed once from the environment and becomes a no-op when no
// webhook URL is configured.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/charlie1223/stock-screener/internal/screen"
)

const (
	// Discord hard limits.
	maxMessageLen = 2000
	maxFields     = 25

	colorGreen = 0x00FF00
	colorGray  = 0x808080
	colorBlue  = 0x3498DB
	colorRed   = 0xFF0000
)

// Field is one embed field.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is the card-style webhook payload.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Timestamp   string  `json:"timestamp"`
	Footer      footer  `json:"footer"`
	Fields      []Field `json:"fields,omitempty"`
}

type footer struct {
	Text string `json:"text"`
}

// Notifier posts to a Discord webhook. Enabled is false when the URL is
// unset; every send becomes a silent no-op then.
type Notifier struct {
	webhookURL string
	Enabled    bool
	http       *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// NewNotifier builds the notifier. An empty webhook URL disables it with a
// single warning.
func NewNotifier(webhookURL string, log zerolog.Logger) *Notifier {
	n := &Notifier{
		webhookURL: strings.TrimSpace(webhookURL),
		http:       &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "notify").Logger(),
		now:        time.Now,
	}
	n.Enabled = n.webhookURL != ""
	if !n.Enabled {
		n.log.Warn().Msg("webhook URL not set, notifications disabled")
	}
	return n
}

// SendMessage posts a plain-text message, truncated to the platform cap.
func (n *Notifier) SendMessage(content string) error {
	if !n.Enabled {
		return nil
	}
	if len(content) > maxMessageLen {
		content = content[:maxMessageLen-3] + "..."
	}
	return n.post(map[string]interface{}{"content": content})
}

// SendEmbed posts one embed card.
func (n *Notifier) SendEmbed(embed Embed) error {
	if !n.Enabled {
		return nil
	}
	if len(embed.Fields) > maxFields {
		embed.Fields = embed.Fields[:maxFields]
	}
	embed.Timestamp = n.now().UTC().Format(time.RFC3339)
	embed.Footer = footer{Text: "台股選股機器人"}
	return n.post(map[string]interface{}{"embeds": []Embed{embed}})
}

func (n *Notifier) post(payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := n.http.Post(n.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Webhooks answer 204 No Content on success.
	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	}
	return nil
}

// SendScreeningResults posts the final short-list.
func (n *Notifier) SendScreeningResults(batch screen.Batch, strategyName string) error {
	if !n.Enabled {
		return nil
	}

	title := fmt.Sprintf("📊 %s - 今日選股結果", strategyName)
	if len(batch) == 0 {
		return n.SendEmbed(Embed{
			Title:       title,
			Description: "今日無符合條件的股票",
			Color:       colorGray,
		})
	}

	var lines []string
	for i, row := range batch {
		if i >= 15 {
			break
		}
		sign := "➖"
		if row.ChangePct > 0 {
			sign = "🔺"
		} else if row.ChangePct < 0 {
			sign = "🔻"
		}
		lines = append(lines, fmt.Sprintf("%s **%s** %s | %.2f (%+.2f%%)",
			sign, row.ID, row.Name, row.Price, row.ChangePct))
	}

	fields := []Field{{
		Name:  fmt.Sprintf("📈 精選股票 (%d 檔)", len(batch)),
		Value: strings.Join(lines, "\n"),
	}}

	if industrySummary := summarizeIndustries(batch); industrySummary != "" {
		fields = append(fields, Field{Name: "🏭 產業分布", Value: industrySummary})
	}
	if len(batch) > 15 {
		fields = append(fields, Field{
			Name:  "📋 完整清單",
			Value: fmt.Sprintf("還有 %d 檔未顯示，請查看 CSV 檔案", len(batch)-15),
		})
	}

	return n.SendEmbed(Embed{
		Title:       title,
		Description: fmt.Sprintf("篩選時間: %s", n.now().Format("2006-01-02 15:04")),
		Color:       colorGreen,
		Fields:      fields,
	})
}

// SendStepSummary posts the per-stage elimination summary.
func (n *Notifier) SendStepSummary(stats []screen.StageStat) error {
	if !n.Enabled || len(stats) == 0 {
		return nil
	}

	var lines []string
	for _, stat := range stats {
		lines = append(lines, fmt.Sprintf("步驟%d: %s → **%d** 檔", stat.Step, stat.Name, stat.Output))
	}
	final := stats[len(stats)-1].Output

	return n.SendEmbed(Embed{
		Title:       "📊 逐步篩選摘要",
		Description: fmt.Sprintf("執行時間: %s", n.now().Format("2006-01-02 15:04")),
		Color:       colorBlue,
		Fields: []Field{
			{Name: "📋 篩選流程", Value: strings.Join(lines, "\n")},
			{Name: "🎯 最終結果", Value: fmt.Sprintf("共 **%d** 檔股票通過所有篩選條件", final)},
		},
	})
}

// SendError posts a failure alert.
func (n *Notifier) SendError(message string) error {
	if !n.Enabled {
		return nil
	}
	if len(message) > 1000 {
		message = message[:1000]
	}
	return n.SendEmbed(Embed{
		Title:       "⚠️ 選股程式錯誤",
		Description: fmt.Sprintf("```\n%s\n```", message),
		Color:       colorRed,
	})
}

func summarizeIndustries(batch screen.Batch) string {
	counts := map[string]int{}
	var order []string
	for _, row := range batch {
		if counts[row.Industry] == 0 {
			order = append(order, row.Industry)
		}
		counts[row.Industry]++
	}
	// Top five by count, stable on first appearance.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 5 {
		order = order[:5]
	}
	parts := make([]string, 0, len(order))
	for _, industry := range order {
		parts = append(parts, fmt.Sprintf("%s(%d)", industry, counts[industry]))
	}
	return strings.Join(parts, " | ")
}
