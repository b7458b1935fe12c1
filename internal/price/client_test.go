// internal/price/client_test.go
package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func TestPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Query().Get("ids"), solMint)
		fmt.Fprintf(w, `{"data":{%q:{"id":%q,"price":"148.25"},%q:{"id":%q,"price":"0.9998"}}}`,
			solMint, solMint, usdcMint, usdcMint)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	prices, err := c.Prices(context.Background(), []string{solMint, usdcMint})
	require.NoError(t, err)
	require.Equal(t, 148.25, prices[solMint])
	require.Equal(t, 0.9998, prices[usdcMint])
}

func TestPrices_MissingMintIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{%q:{"id":%q,"price":"148.25"}}}`, solMint, solMint)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	_, err := c.Prices(context.Background(), []string{solMint, usdcMint})
	require.Error(t, err)
	require.Contains(t, err.Error(), usdcMint)
}

func TestPrices_NullEntryIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{%q:null}}`, solMint)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	_, err := c.Prices(context.Background(), []string{solMint})
	require.Error(t, err)
}

func TestPrices_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	_, err := c.Prices(context.Background(), []string{solMint})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestPrices_EmptyRequest(t *testing.T) {
	c := NewClient("http://unused.invalid", zaptest.NewLogger(t))
	prices, err := c.Prices(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, prices)
}

func TestPrice_Single(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{%q:{"id":%q,"price":"148.25"}}}`, solMint, solMint)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t))
	p, err := c.Price(context.Background(), solMint)
	require.NoError(t, err)
	require.Equal(t, 148.25, p)
}
