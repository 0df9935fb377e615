// Package polygon provides a client for the Polygon.io grouped daily bars API.
package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoSnapshot indicates no trading session with data was found within the
// fallback window. Without a snapshot no change-based tags can be computed,
// so callers treat this as fatal to the whole refresh run.
var ErrNoSnapshot = errors.New("no market snapshot available within fallback window")

// maxDateFallback is how many calendar days the fetcher scans backwards
// looking for the most recent session with published data (weekends,
// holidays, provider lag).
const maxDateFallback = 7

// Bar is one end-of-day OHLCV record for a single ticker
type Bar struct {
	Ticker string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Client for the Polygon grouped-daily-bars endpoint
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
	// now is injected for tests; defaults to time.Now
	now func() time.Time
}

// NewClient creates a new Polygon client
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "polygon").Logger(),
		now:     time.Now,
	}
}

// groupedDailyResponse mirrors the wire format of /v2/aggs/grouped
type groupedDailyResponse struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []struct {
		Ticker string  `json:"T"`
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"results"`
}

// FetchMarketSnapshot returns the full-market end-of-day snapshot for the
// most recent date with data, scanning backwards from yesterday up to
// maxDateFallback days. Returns ErrNoSnapshot if every attempt fails or
// comes back empty.
func (c *Client) FetchMarketSnapshot(ctx context.Context) (map[string]Bar, error) {
	date := c.now().UTC().AddDate(0, 0, -1)

	for attempt := 0; attempt < maxDateFallback; attempt++ {
		dateStr := date.Format("2006-01-02")

		bars, err := c.fetchGroupedDaily(ctx, dateStr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn().Err(err).Str("date", dateStr).Msg("Grouped daily fetch failed, stepping back a day")
		} else if len(bars) == 0 {
			c.log.Debug().Str("date", dateStr).Msg("No bars published for date, stepping back a day")
		} else {
			c.log.Info().Str("date", dateStr).Int("tickers", len(bars)).Msg("Market snapshot fetched")
			return bars, nil
		}

		date = date.AddDate(0, 0, -1)
	}

	return nil, ErrNoSnapshot
}

// fetchGroupedDaily fetches one calendar date's grouped bars
func (c *Client) fetchGroupedDaily(ctx context.Context, date string) (map[string]Bar, error) {
	url := fmt.Sprintf("%s/v2/aggs/grouped/locale/us/market/stocks/%s?adjusted=true&apiKey=%s",
		c.baseURL, date, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result groupedDailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	bars := make(map[string]Bar, len(result.Results))
	for _, r := range result.Results {
		if r.Ticker == "" {
			continue
		}
		bars[r.Ticker] = Bar{
			Ticker: r.Ticker,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: int64(r.Volume),
		}
	}

	return bars, nil
}
