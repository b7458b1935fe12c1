// internal/swap/pipeline_test.go
package swap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/dlmm-bot/internal/chain"
)

type fakeVenue struct {
	impacts    []string
	quoteErrs  []error
	quoteCalls int
	built      *BuiltSwap
	buildErr   error
	buildCalls int
}

func (v *fakeVenue) Quote(_ context.Context, params QuoteParams) (*QuoteResponse, error) {
	i := v.quoteCalls
	v.quoteCalls++
	if i < len(v.quoteErrs) && v.quoteErrs[i] != nil {
		return nil, v.quoteErrs[i]
	}
	impact := "0"
	if i < len(v.impacts) {
		impact = v.impacts[i]
	} else if len(v.impacts) > 0 {
		impact = v.impacts[len(v.impacts)-1]
	}
	return &QuoteResponse{
		InputMint:      params.InputMint,
		OutputMint:     params.OutputMint,
		InAmount:       "1000000",
		OutAmount:      "990000",
		PriceImpactPct: impact,
	}, nil
}

func (v *fakeVenue) BuildSwap(context.Context, *QuoteResponse, string, string, uint64) (*BuiltSwap, error) {
	v.buildCalls++
	return v.built, v.buildErr
}

type fakeGateway struct {
	blockhashes []chain.Blockhash
	hashCalls   int
	sent        []*solana.Transaction
	confirmErrs []error
	confirms    int
}

func (g *fakeGateway) LatestBlockhash(context.Context) (chain.Blockhash, error) {
	bh := g.blockhashes[g.hashCalls%len(g.blockhashes)]
	g.hashCalls++
	return bh, nil
}

func (g *fakeGateway) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	g.sent = append(g.sent, tx)
	var sig solana.Signature
	sig[0] = byte(len(g.sent))
	return sig, nil
}

func (g *fakeGateway) ConfirmTransaction(context.Context, solana.Signature, chain.Blockhash) error {
	i := g.confirms
	g.confirms++
	if i < len(g.confirmErrs) {
		return g.confirmErrs[i]
	}
	return nil
}

type testSigner struct {
	key solana.PrivateKey
}

func newTestSigner(t *testing.T) *testSigner {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &testSigner{key: key}
}

func (s *testSigner) Address() solana.PublicKey { return s.key.PublicKey() }

func (s *testSigner) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}

func hashFromByte(b byte) chain.Blockhash {
	var h solana.Hash
	h[0] = b
	return chain.Blockhash{Hash: h, LastValidBlockHeight: 100}
}

// builtSwapPayload serializes a minimal signed transaction the way the
// venue's /swap endpoint returns one.
func builtSwapPayload(t *testing.T, signer *testSigner) string {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1, signer.Address(), signer.Address()).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(signer.Address()),
	)
	require.NoError(t, err)
	require.NoError(t, signer.SignTransaction(tx))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func testConfig() Config {
	return Config{
		SlippageBps:        50,
		MaxImpactPct:       0.5,
		MaxAttempts:        3,
		RetryOnChainErrors: true,
		QuoteRetryDelay:    time.Millisecond,
		ExecuteRetryDelay:  time.Millisecond,
	}
}

func TestQuote_FirstAcceptableWins(t *testing.T) {
	venue := &fakeVenue{impacts: []string{"0.008", "0.003"}}
	p := NewPipeline(venue, &fakeGateway{}, testConfig(), zaptest.NewLogger(t), nil)

	quote, err := p.Quote(context.Background(), QuoteParams{
		InputMint:  "So11111111111111111111111111111111111111112",
		OutputMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountRaw:  1_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, "0.003", quote.PriceImpactPct)
	require.Equal(t, 2, venue.quoteCalls, "a rejected quote must trigger exactly one fresh request")
}

func TestQuote_AllOverBoundExhausts(t *testing.T) {
	venue := &fakeVenue{impacts: []string{"0.008"}}
	p := NewPipeline(venue, &fakeGateway{}, testConfig(), zaptest.NewLogger(t), nil)

	quote, err := p.Quote(context.Background(), QuoteParams{AmountRaw: 1})
	require.Nil(t, quote)
	require.ErrorIs(t, err, ErrQuoteUnavailable)
	require.Equal(t, 3, venue.quoteCalls)
}

func TestQuote_MissingImpactIsRejected(t *testing.T) {
	venue := &fakeVenue{impacts: []string{""}}
	p := NewPipeline(venue, &fakeGateway{}, testConfig(), zaptest.NewLogger(t), nil)

	quote, err := p.Quote(context.Background(), QuoteParams{AmountRaw: 1})
	require.Nil(t, quote)
	require.ErrorIs(t, err, ErrQuoteUnavailable)
	require.Equal(t, 3, venue.quoteCalls)
}

func TestQuote_HTTPErrorsRetried(t *testing.T) {
	venue := &fakeVenue{
		impacts:   []string{"0.001", "0.001", "0.001"},
		quoteErrs: []error{fmt.Errorf("venue: 502"), nil},
	}
	p := NewPipeline(venue, &fakeGateway{}, testConfig(), zaptest.NewLogger(t), nil)

	quote, err := p.Quote(context.Background(), QuoteParams{AmountRaw: 1})
	require.NoError(t, err)
	require.NotNil(t, quote)
	require.Equal(t, 2, venue.quoteCalls)
}

func TestBuild_MissingPayload(t *testing.T) {
	venue := &fakeVenue{built: &BuiltSwap{}}
	p := NewPipeline(venue, &fakeGateway{}, testConfig(), zaptest.NewLogger(t), nil)

	_, err := p.Build(context.Background(), &QuoteResponse{}, solana.PublicKey{})
	require.ErrorIs(t, err, ErrBuildFailed)
}

func TestBuild_VenueError(t *testing.T) {
	venue := &fakeVenue{buildErr: errors.New("route expired")}
	p := NewPipeline(venue, &fakeGateway{}, testConfig(), zaptest.NewLogger(t), nil)

	_, err := p.Build(context.Background(), &QuoteResponse{}, solana.PublicKey{})
	require.ErrorIs(t, err, ErrBuildFailed)
}

func TestExecute_RetriesWithFreshBlockhash(t *testing.T) {
	signer := newTestSigner(t)
	gateway := &fakeGateway{
		blockhashes: []chain.Blockhash{hashFromByte(1), hashFromByte(2)},
		confirmErrs: []error{chain.ErrBlockhashExpired, nil},
	}
	p := NewPipeline(&fakeVenue{}, gateway, testConfig(), zaptest.NewLogger(t), nil)

	sig, err := p.Execute(context.Background(), &BuiltSwap{
		SwapTransaction: builtSwapPayload(t, signer),
	}, signer)
	require.NoError(t, err)
	require.NotEqual(t, solana.Signature{}, sig)
	require.Len(t, gateway.sent, 2)
	first := gateway.sent[0].Message.RecentBlockhash
	second := gateway.sent[1].Message.RecentBlockhash
	require.NotEqual(t, first, second, "each attempt must use a strictly newer blockhash")
	require.Equal(t, hashFromByte(2).Hash, second)
}

func TestExecute_ExhaustionReturnsNoSignature(t *testing.T) {
	signer := newTestSigner(t)
	gateway := &fakeGateway{
		blockhashes: []chain.Blockhash{hashFromByte(1)},
		confirmErrs: []error{chain.ErrConfirmationTimeout, chain.ErrConfirmationTimeout, chain.ErrConfirmationTimeout},
	}
	p := NewPipeline(&fakeVenue{}, gateway, testConfig(), zaptest.NewLogger(t), nil)

	sig, err := p.Execute(context.Background(), &BuiltSwap{
		SwapTransaction: builtSwapPayload(t, signer),
	}, signer)
	require.ErrorIs(t, err, ErrExecutionExhausted)
	require.Equal(t, solana.Signature{}, sig, "an exhausted execute must not surface a signature")
	require.Len(t, gateway.sent, 3)
}

func TestExecute_OnChainFailureShortCircuits(t *testing.T) {
	signer := newTestSigner(t)
	gateway := &fakeGateway{
		blockhashes: []chain.Blockhash{hashFromByte(1)},
		confirmErrs: []error{fmt.Errorf("confirmed with error: %w", chain.ErrTransactionFailed)},
	}
	cfg := testConfig()
	cfg.RetryOnChainErrors = false
	p := NewPipeline(&fakeVenue{}, gateway, cfg, zaptest.NewLogger(t), nil)

	_, err := p.Execute(context.Background(), &BuiltSwap{
		SwapTransaction: builtSwapPayload(t, signer),
	}, signer)
	require.ErrorIs(t, err, ErrExecutionExhausted)
	require.Len(t, gateway.sent, 1, "deterministic on-chain failures must not burn the retry budget")
}

func TestSwap_EndToEnd(t *testing.T) {
	signer := newTestSigner(t)
	venue := &fakeVenue{impacts: []string{"0.001"}}
	venue.built = &BuiltSwap{SwapTransaction: builtSwapPayload(t, signer)}
	gateway := &fakeGateway{blockhashes: []chain.Blockhash{hashFromByte(7)}}
	p := NewPipeline(venue, gateway, testConfig(), zaptest.NewLogger(t), nil)

	sig, quote, err := p.Swap(context.Background(), QuoteParams{
		InputMint:  "So11111111111111111111111111111111111111112",
		OutputMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountRaw:  1_000_000,
	}, signer)
	require.NoError(t, err)
	require.NotEqual(t, solana.Signature{}, sig)
	require.NotNil(t, quote)
	require.Equal(t, 1, venue.buildCalls)
}

func TestImpactPct(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"0.008", 0.8},
		{"-0.003", 0.3},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := impactPct(&QuoteResponse{PriceImpactPct: tc.raw})
		require.NoError(t, err)
		require.InDelta(t, tc.want, got, 1e-9)
	}

	_, err := impactPct(&QuoteResponse{PriceImpactPct: "garbage"})
	require.Error(t, err)

	// A quote without the field must not pass the impact bound as zero.
	_, err = impactPct(&QuoteResponse{})
	require.Error(t, err)
}
