// internal/swap/client.go
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the swap venue's HTTP API (quote + build-swap).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a venue client.
func NewClient(baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: 12 * time.Second},
	}
}

// HTTPError is a non-2xx venue response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("swap venue http %d", e.StatusCode)
	}
	return fmt.Sprintf("swap venue http %d: %s", e.StatusCode, b)
}

// Quote requests a conversion offer.
func (c *Client) Quote(ctx context.Context, params QuoteParams) (*QuoteResponse, error) {
	if strings.TrimSpace(params.InputMint) == "" {
		return nil, fmt.Errorf("inputMint is required")
	}
	if strings.TrimSpace(params.OutputMint) == "" {
		return nil, fmt.Errorf("outputMint is required")
	}
	if params.AmountRaw == 0 {
		return nil, fmt.Errorf("amount is required")
	}

	q := url.Values{}
	q.Set("inputMint", params.InputMint)
	q.Set("outputMint", params.OutputMint)
	q.Set("amount", fmt.Sprintf("%d", params.AmountRaw))
	q.Set("slippageBps", fmt.Sprintf("%d", params.SlippageBps))
	q.Set("swapMode", "ExactIn")

	body, err := c.do(ctx, http.MethodGet, "/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out QuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	return &out, nil
}

// BuildSwap requests a transaction skeleton for an accepted quote, asking the
// venue for dynamic compute-unit limiting, dynamic slippage and a capped
// priority fee.
func (c *Client) BuildSwap(ctx context.Context, quote *QuoteResponse, userPublicKey, priorityLevel string, maxPriorityFeeLamports uint64) (*BuiltSwap, error) {
	if quote == nil {
		return nil, fmt.Errorf("quote is required")
	}

	reqBody, err := json.Marshal(buildRequest{
		QuoteResponse:           quote,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
		DynamicSlippage:         true,
		PrioritizationFeeLamports: prioritizationFee{
			PriorityLevelWithMaxLamports: priorityLevelWithMax{
				MaxLamports:   maxPriorityFeeLamports,
				PriorityLevel: priorityLevel,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, "/swap", reqBody)
	if err != nil {
		return nil, err
	}

	var out BuiltSwap
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody []byte) ([]byte, error) {
	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	if reqBody != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: body}
	}

	// API-level errors can hide inside a 200 response.
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("swap venue api error: %s", apiErr.Error)
	}
	return body, nil
}
