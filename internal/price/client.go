// internal/price/client.go

// Package price fetches USD token prices from the aggregator's price API.
// Prices are read fresh per tick and never cached: the monitor's valuation
// must reflect the latest observable market state.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the price API (Jupiter price v2 shape).
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a price client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("price"),
	}
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Price string `json:"price"`
	} `json:"data"`
}

// Prices returns the USD price for each requested mint. A mint missing from
// the response is an error: valuation with a silent zero would corrupt the
// rebalance decision.
func (c *Client) Prices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(mints, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("price api http %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out priceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]float64, len(mints))
	for _, mint := range mints {
		entry := out.Data[mint]
		if entry == nil {
			return nil, fmt.Errorf("no price for mint %s", mint)
		}
		p, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable price for mint %s: %w", mint, err)
		}
		prices[mint] = p
	}
	return prices, nil
}

// Price returns the USD price of a single mint.
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	prices, err := c.Prices(ctx, []string{mint})
	if err != nil {
		return 0, err
	}
	return prices[mint], nil
}
