// internal/bundle/client_test.go
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTipFloorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/bundles/tip_floor", r.URL.Path)
		fmt.Fprint(w, `[{
			"time": "2025-03-01T12:00:00Z",
			"landed_tips_25th_percentile": 0.00001,
			"landed_tips_50th_percentile": 0.00002,
			"landed_tips_75th_percentile": 0.00005,
			"landed_tips_95th_percentile": 0.0002,
			"landed_tips_99th_percentile": 0.001,
			"ema_landed_tips_50th_percentile": 0.000021
		}]`)
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL)
	floor, err := c.TipFloor(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.00002, floor.P50)
	require.Equal(t, uint64(50_000), floor.TipLamports(TierHigh))
}

func TestTipFloor_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := NewRelayClient(srv.URL).TipFloor(context.Background())
	require.Error(t, err)
}

func TestSendBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/bundles", r.URL.Path)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sendBundle", req.Method)
		require.Len(t, req.Params, 2)

		txs, ok := req.Params[0].([]interface{})
		require.True(t, ok)
		require.Len(t, txs, 2)

		opts, ok := req.Params[1].(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "base64", opts["encoding"])

		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"bundle-id-123"}`)
	}))
	defer srv.Close()

	id, err := NewRelayClient(srv.URL).SendBundle(context.Background(), []string{"dHgx", "dHgy"})
	require.NoError(t, err)
	require.Equal(t, "bundle-id-123", id)
}

func TestSendBundle_RelayRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"bundle too large"}}`)
	}))
	defer srv.Close()

	_, err := NewRelayClient(srv.URL).SendBundle(context.Background(), []string{"dHgx"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bundle too large")
}

func TestBundleStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{
			"context":{"slot":280000000},
			"value":[{
				"bundle_id":"bundle-id-123",
				"transactions":["sig1","sig2"],
				"slot":279999999,
				"confirmation_status":"confirmed",
				"err":{"Ok":null}
			}]
		}}`)
	}))
	defer srv.Close()

	statuses, err := NewRelayClient(srv.URL).BundleStatuses(context.Background(), []string{"bundle-id-123"})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, "bundle-id-123", statuses[0].BundleID)
	require.Equal(t, uint64(279999999), statuses[0].Slot)
	require.Equal(t, "confirmed", statuses[0].ConfirmationStatus)
	require.Len(t, statuses[0].Transactions, 2)

	failed, _ := statusFailed(&statuses[0])
	require.False(t, failed)
}
