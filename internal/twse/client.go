// Package twse talks to the free exchange endpoints: TWSE and TPEx quote
// APIs, the MIS intraday API, the securities registry, and the TAIFEX
// futures pages. All calls degrade to empty results on failure; callers
// decide drop-vs-pass-through.
package twse

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxRetries    = 2
	retryBaseWait = 500 * time.Millisecond

	// Pause between 50-symbol intraday batches and between the two venues,
	// to stay under the free endpoints' informal rate limits.
	batchPause = 200 * time.Millisecond
	venuePause = 500 * time.Millisecond
)

// Client is a rate-limited HTTP client for the exchange endpoints.
// A small semaphore keeps concurrent per-ticker history fetches from
// hammering the free APIs.
type Client struct {
	http *http.Client
	sem  chan struct{}
	log  zerolog.Logger

	now func() time.Time // injectable clock for date-stamped endpoints
}

// NewClient creates an exchange client. The transport favors connection
// reuse: the monthly-history fallback can issue hundreds of small requests
// against the same two hosts.
func NewClient(log zerolog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     120 * time.Second,
	}
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second, Transport: transport},
		sem:  make(chan struct{}, 10),
		log:  log.With().Str("component", "twse").Logger(),
		now:  time.Now,
	}
}

// isRetryable reports whether an HTTP status is worth another attempt.
func isRetryable(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

// GetJSON fetches a URL and decodes the JSON body into dst.
// Retries transient errors with exponential backoff; the semaphore is
// released before sleeping so other requests can proceed.
func (c *Client) GetJSON(rawURL string, params url.Values, dst interface{}) error {
	body, err := c.get(rawURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// GetBytes fetches a URL and returns the raw body (HTML pages, MS-950 text).
func (c *Client) GetBytes(rawURL string, params url.Values) ([]byte, error) {
	return c.get(rawURL, params)
}

func (c *Client) get(rawURL string, params url.Values) ([]byte, error) {
	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseWait * time.Duration(1<<(attempt-1)))
		}

		c.sem <- struct{}{}

		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			<-c.sem
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (stock-screener)")
		req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

		resp, err := c.http.Do(req)
		if err != nil {
			<-c.sem
			lastErr = err
			c.log.Debug().Err(err).Int("attempt", attempt+1).Str("url", rawURL).Msg("request failed")
			continue
		}

		if resp.StatusCode == http.StatusOK {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			<-c.sem
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return body, nil
		}

		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		<-c.sem
		lastErr = fmt.Errorf("%s: HTTP %d", rawURL, resp.StatusCode)

		if !isRetryable(resp.StatusCode) {
			return nil, lastErr
		}
		c.log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("url", rawURL).Msg("retryable status")
	}

	return nil, lastErr
}
