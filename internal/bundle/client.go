// internal/bundle/client.go
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client speaks the block-engine relay's HTTP API: tip-floor feed plus the
// JSON-RPC bundle endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewRelayClient creates a relay client for the given block-engine URL.
func NewRelayClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("relay rpc error %d: %s", e.Code, e.Message)
}

// TipFloor fetches the current tip percentiles. The feed returns a one-entry
// array with the latest sample.
func (c *Client) TipFloor(ctx context.Context) (*TipFloor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/bundles/tip_floor", nil)
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
		return nil, fmt.Errorf("tip floor http %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var floors []TipFloor
	if err := json.Unmarshal(body, &floors); err != nil {
		return nil, fmt.Errorf("failed to decode tip floor: %w", err)
	}
	if len(floors) == 0 {
		return nil, fmt.Errorf("empty tip floor response")
	}
	return &floors[0], nil
}

// SendBundle submits base64-encoded signed transactions for same-slot
// landing and returns the relay's bundle identifier. Acceptance only means
// the bundle entered the relay's queue.
func (c *Client) SendBundle(ctx context.Context, encodedTxs []string) (string, error) {
	var bundleID string
	err := c.call(ctx, "sendBundle", []interface{}{
		encodedTxs,
		map[string]string{"encoding": "base64"},
	}, &bundleID)
	if err != nil {
		return "", err
	}
	return bundleID, nil
}

// BundleStatuses polls the relay's view of submitted bundles.
func (c *Client) BundleStatuses(ctx context.Context, bundleIDs []string) ([]Status, error) {
	var out struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value []Status `json:"value"`
	}
	if err := c.call(ctx, "getBundleStatuses", []interface{}{bundleIDs}, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/bundles", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("relay http %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode relay result: %w", err)
		}
	}
	return nil
}
