package twse

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

const registryURL = "https://isin.twse.com.tw/isin/C_public.jsp"

// The registry lists "1101　台泥" style code+name cells; the 4-digit code
// leads, separated by full-width (ideographic) whitespace.
var registryCodePattern = regexp.MustCompile(`^(\d{4})[\s\p{Zs}]`)

// IndustryMap scrapes the securities registry for both boards and returns
// ticker id -> industry label. The page is MS-950 encoded HTML; rows whose
// first cell does not start with a 4-digit code (headers, warrants, bonds)
// are skipped.
func (c *Client) IndustryMap() map[string]string {
	industries := make(map[string]string)

	// strMode 2 = listed, 4 = OTC.
	for _, mode := range []string{"2", "4"} {
		params := url.Values{"strMode": {mode}}
		body, err := c.GetBytes(registryURL, params)
		if err != nil {
			c.log.Warn().Err(err).Str("mode", mode).Msg("industry registry fetch failed")
			continue
		}

		decoded, err := decodeBig5(body)
		if err != nil {
			c.log.Warn().Err(err).Str("mode", mode).Msg("industry registry decode failed")
			continue
		}

		for id, industry := range parseRegistry(decoded) {
			industries[id] = industry
		}

		time.Sleep(300 * time.Millisecond)
	}

	c.log.Info().Int("count", len(industries)).Msg("industry classification loaded")
	return industries
}

func decodeBig5(raw []byte) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(raw), traditionalchinese.Big5.NewDecoder())
	var out bytes.Buffer
	if _, err := out.ReadFrom(reader); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// parseRegistry walks the registry's single big table: the code+name pair
// sits in the first cell, the industry label in the fifth.
func parseRegistry(page []byte) map[string]string {
	industries := make(map[string]string)

	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return industries
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			cells := rowCells(n)
			if len(cells) >= 5 {
				if m := registryCodePattern.FindStringSubmatch(cells[0]); m != nil && cells[4] != "" {
					industries[m[1]] = cells[4]
				}
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return industries
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for child := tr.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "td" {
			cells = append(cells, strings.TrimSpace(nodeText(child)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
