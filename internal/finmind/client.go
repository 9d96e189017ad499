// Package finmind is the primary data provider: the FinMind v4 REST API.
// One dataset endpoint serves every query; an API token is optional and
// only extends the free quota. When the quota runs out (HTTP-level status
// 402 in the payload) or the API fails repeatedly, the client latches
// unavailable for the rest of the run so callers fall back to the
// exchange endpoints.
package finmind

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	apiURL = "https://api.finmindtrade.com/api/v4/data"

	// Consecutive non-quota failures before the client latches off.
	maxConsecutiveFails = 3
)

// ErrUnavailable is returned once the client has latched into
// fallback-only mode.
var ErrUnavailable = errors.New("finmind: provider latched unavailable")

// ErrQuotaExceeded is returned on the call that observes the 402 payload.
var ErrQuotaExceeded = errors.New("finmind: API quota exceeded")

// Client queries the FinMind v4 data endpoint.
type Client struct {
	http  *http.Client
	token string
	log   zerolog.Logger

	mu        sync.Mutex
	latched   bool
	failCount int

	now func() time.Time
}

// NewClient creates a FinMind client. An empty token is allowed; the free
// tier simply has a smaller quota.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		http:  &http.Client{Timeout: 15 * time.Second},
		token: token,
		log:   log.With().Str("component", "finmind").Logger(),
		now:   time.Now,
	}
}

// Available reports whether the provider may still be consulted this run.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.latched
}

func (c *Client) latch(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latched {
		return
	}
	c.latched = true
	c.log.Warn().Str("reason", reason).Msg("primary provider latched off, using exchange fallback for the rest of the run")
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.failCount++
	count := c.failCount
	c.mu.Unlock()
	if count >= maxConsecutiveFails {
		c.latch(fmt.Sprintf("%d consecutive failures", count))
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.failCount = 0
	c.mu.Unlock()
}

type apiResponse struct {
	Status interface{}              `json:"status"`
	Msg    string                   `json:"msg"`
	Data   []map[string]interface{} `json:"data"`
}

// statusCode normalizes the status field, which the API emits as either a
// number or a string.
func statusCode(v interface{}) int {
	switch s := v.(type) {
	case float64:
		return int(s)
	case string:
		var n int
		fmt.Sscanf(s, "%d", &n)
		return n
	default:
		return 0
	}
}

// Query fetches one dataset slice. dataID may be empty for market-wide
// datasets. Returns ErrUnavailable without touching the network once the
// client has latched.
func (c *Client) Query(dataset, dataID, startDate, endDate string) ([]map[string]interface{}, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}

	params := url.Values{
		"dataset":    {dataset},
		"start_date": {startDate},
	}
	if dataID != "" {
		params.Set("data_id", dataID)
	}
	if endDate != "" {
		params.Set("end_date", endDate)
	}
	if c.token != "" {
		params.Set("token", c.token)
	}

	resp, err := c.http.Get(apiURL + "?" + params.Encode())
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("decode %s: %w", dataset, err)
	}

	switch statusCode(parsed.Status) {
	case 200:
		c.recordSuccess()
		return parsed.Data, nil
	case 402:
		c.latch("quota exceeded")
		return nil, ErrQuotaExceeded
	default:
		c.recordFailure()
		return nil, fmt.Errorf("%s: status %v: %s", dataset, parsed.Status, parsed.Msg)
	}
}

// Field helpers: dataset rows arrive as loosely typed JSON objects.

func rowString(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowFloat(row map[string]interface{}, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		fmt.Sscanf(v, "%f", &f)
		return f
	default:
		return 0
	}
}
