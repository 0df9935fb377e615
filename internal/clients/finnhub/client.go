// Package finnhub provides a client for the Finnhub fundamentals API.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds per-ticker fundamental metrics. Pointer fields are nil when
// the provider omitted the value; the reconciler never writes nil fields, so
// a previously stored value survives a sparse response.
type Metrics struct {
	MarketCap     *float64
	ROE           *float64
	PERatio       *float64
	Week52High    *float64
	Week52Low     *float64
	DividendYield *float64
}

// Client for the Finnhub stock metric endpoint
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Finnhub client
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 8 * time.Second},
		log:     log.With().Str("client", "finnhub").Logger(),
	}
}

// metricResponse mirrors the wire format of /api/v1/stock/metric.
// Finnhub reports market cap in millions and yields/ratios as percentages.
type metricResponse struct {
	Metric struct {
		MarketCapitalization *float64 `json:"marketCapitalization"`
		ROETTM               *float64 `json:"roeTTM"`
		PETTM                *float64 `json:"peTTM"`
		Week52High           *float64 `json:"52WeekHigh"`
		Week52Low            *float64 `json:"52WeekLow"`
		DividendYieldTTM     *float64 `json:"currentDividendYieldTTM"`
	} `json:"metric"`
}

// FetchFundamentals fetches fundamental metrics for one ticker.
// Rate limiting (429) is soft: the method logs and returns (nil, nil) so
// the ticker keeps its previous values this cycle. Transient failures
// (network errors, 5xx, malformed bodies) return an error so the caller
// can retry. The caller is responsible for pacing successive calls.
func (c *Client) FetchFundamentals(ctx context.Context, ticker string) (*Metrics, error) {
	url := fmt.Sprintf("%s/api/v1/stock/metric?symbol=%s&metric=all&token=%s", c.baseURL, ticker, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fundamentals request for %s failed: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.log.Warn().Str("ticker", ticker).Msg("Fundamentals provider rate limited, keeping previous values")
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fundamentals request for %s returned status %d", ticker, resp.StatusCode)
	}

	var result metricResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse fundamentals response for %s: %w", ticker, err)
	}

	m := &Metrics{
		ROE:           result.Metric.ROETTM,
		PERatio:       result.Metric.PETTM,
		Week52High:    result.Metric.Week52High,
		Week52Low:     result.Metric.Week52Low,
		DividendYield: result.Metric.DividendYieldTTM,
	}

	// Market cap arrives in millions of dollars
	if result.Metric.MarketCapitalization != nil {
		cap := *result.Metric.MarketCapitalization * 1e6
		m.MarketCap = &cap
	}

	return m, nil
}
