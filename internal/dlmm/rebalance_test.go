// internal/dlmm/rebalance_test.go
package dlmm

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/dlmm-bot/internal/bundle"
	"github.com/rovshanmuradov/dlmm-bot/internal/chain"
	"github.com/rovshanmuradov/dlmm-bot/internal/swap"
	"github.com/rovshanmuradov/dlmm-bot/internal/wallet"
)

type fakeTxGateway struct {
	blockhash  chain.Blockhash
	sent       []*solana.Transaction
	sendErr    error
	confirmErr error
}

func (g *fakeTxGateway) LatestBlockhash(ctx context.Context) (chain.Blockhash, error) {
	return g.blockhash, nil
}

func (g *fakeTxGateway) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	g.sent = append(g.sent, tx)
	if g.sendErr != nil {
		return solana.Signature{}, g.sendErr
	}
	return solana.Signature{1}, nil
}

func (g *fakeTxGateway) ConfirmTransaction(ctx context.Context, sig solana.Signature, blockhash chain.Blockhash) error {
	return g.confirmErr
}

type fakeBundler struct {
	gotTxs  []*solana.Transaction
	gotHash chain.Blockhash
	gotTier bundle.PriorityTier
	err     error
}

func (b *fakeBundler) Submit(ctx context.Context, txs []*solana.Transaction, blockhash chain.Blockhash, tier bundle.PriorityTier) (*bundle.Result, error) {
	b.gotTxs = txs
	b.gotHash = blockhash
	b.gotTier = tier
	if b.err != nil {
		return nil, b.err
	}
	return &bundle.Result{BundleID: "b-1", Slot: 1000, TxCount: len(txs) + 1, TipLamports: 10_000}, nil
}

type fakeSwapper struct {
	gotParams swap.QuoteParams
	calls     int
	err       error
}

func (s *fakeSwapper) Swap(ctx context.Context, params swap.QuoteParams, signer swap.Signer) (solana.Signature, *swap.QuoteResponse, error) {
	s.gotParams = params
	s.calls++
	if s.err != nil {
		return solana.Signature{}, nil, s.err
	}
	return solana.Signature{2}, &swap.QuoteResponse{InAmount: "1000", OutAmount: "990"}, nil
}

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.New(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)
	return w
}

func rebalancePool() *Pool {
	return &Pool{
		Address:    solana.NewWallet().PublicKey(),
		TokenXMint: solana.SolMint,
		TokenYMint: solana.NewWallet().PublicKey(),
		ActiveID:   150,
		BinStep:    20,
	}
}

func newTestRebalancer(t *testing.T, gateway *fakeTxGateway, bundler *fakeBundler, swapper Swapper) *Rebalancer {
	t.Helper()
	client := NewClient(nil, MainnetProgramID, zaptest.NewLogger(t))
	return NewRebalancer(client, testWallet(t), gateway, bundler, swapper, bundle.TierHigh, nil, zaptest.NewLogger(t))
}

func TestOpenPosition(t *testing.T) {
	gateway := &fakeTxGateway{blockhash: chain.Blockhash{Hash: solana.Hash{7}, LastValidBlockHeight: 500}}
	r := newTestRebalancer(t, gateway, nil, nil)
	pool := rebalancePool()

	pos, err := r.OpenPosition(context.Background(), pool, OpenParams{
		CentreBinID: pool.ActiveID,
		Width:       21,
		AmountX:     1_000_000,
		AmountY:     2_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, int32(140), pos.LowerBinID)
	require.Equal(t, int32(160), pos.UpperBinID)
	require.Equal(t, pool.Address, pos.Pool)

	require.Len(t, gateway.sent, 1)
	tx := gateway.sent[0]
	// initialize + add liquidity
	require.Len(t, tx.Message.Instructions, 2)
	require.Equal(t, solana.Hash{7}, tx.Message.RecentBlockhash)
	require.NotEmpty(t, tx.Signatures)
}

func TestOpenPosition_WidthOutOfRange(t *testing.T) {
	r := newTestRebalancer(t, &fakeTxGateway{}, nil, nil)
	pool := rebalancePool()

	_, err := r.OpenPosition(context.Background(), pool, OpenParams{CentreBinID: 0, Width: 0})
	require.Error(t, err)

	_, err = r.OpenPosition(context.Background(), pool, OpenParams{CentreBinID: 0, Width: 71})
	require.Error(t, err)
}

func TestRecenterPosition_AtomicPair(t *testing.T) {
	gateway := &fakeTxGateway{blockhash: chain.Blockhash{Hash: solana.Hash{9}, LastValidBlockHeight: 600}}
	bundler := &fakeBundler{}
	r := newTestRebalancer(t, gateway, bundler, nil)
	pool := rebalancePool()

	old := &Position{
		Address:    solana.NewWallet().PublicKey(),
		Pool:       pool.Address,
		LowerBinID: 80,
		UpperBinID: 120,
	}

	renewed, err := r.RecenterPosition(context.Background(), pool, old)
	require.NoError(t, err)

	require.Len(t, bundler.gotTxs, 2)
	closeTx, openTx := bundler.gotTxs[0], bundler.gotTxs[1]
	// claim fee + remove liquidity + close
	require.Len(t, closeTx.Message.Instructions, 3)
	require.Len(t, openTx.Message.Instructions, 2)
	require.Equal(t, closeTx.Message.RecentBlockhash, openTx.Message.RecentBlockhash)
	require.Equal(t, solana.Hash{9}, bundler.gotHash.Hash)
	require.Equal(t, bundle.TierHigh, bundler.gotTier)

	require.Equal(t, old.Width(), renewed.Width())
	require.Equal(t, int32(130), renewed.LowerBinID)
	require.Equal(t, int32(170), renewed.UpperBinID)
	require.NotEqual(t, old.Address, renewed.Address)
}

func TestRecenterPosition_SkewedInventorySwapsFirst(t *testing.T) {
	gateway := &fakeTxGateway{blockhash: chain.Blockhash{Hash: solana.Hash{9}, LastValidBlockHeight: 600}}
	bundler := &fakeBundler{}
	swapper := &fakeSwapper{}
	r := newTestRebalancer(t, gateway, bundler, swapper)
	pool := rebalancePool()

	// Everything withdrawn comes out as token X.
	old := &Position{
		Address:    solana.NewWallet().PublicKey(),
		Pool:       pool.Address,
		LowerBinID: 80,
		UpperBinID: 120,
		Bins:       []BinAmounts{{BinID: 100, AmountX: 1_000_000}},
	}

	_, err := r.RecenterPosition(context.Background(), pool, old)
	require.NoError(t, err)

	require.Equal(t, 1, swapper.calls)
	require.Equal(t, pool.TokenXMint.String(), swapper.gotParams.InputMint)
	require.Equal(t, pool.TokenYMint.String(), swapper.gotParams.OutputMint)
	// Half the X side goes toward Y for an even split.
	require.InDelta(t, 500_000, float64(swapper.gotParams.AmountRaw), 2)
	require.Len(t, bundler.gotTxs, 2)
}

func TestRecenterPosition_BalancedInventorySkipsSwap(t *testing.T) {
	gateway := &fakeTxGateway{blockhash: chain.Blockhash{Hash: solana.Hash{9}, LastValidBlockHeight: 600}}
	bundler := &fakeBundler{}
	swapper := &fakeSwapper{}
	r := newTestRebalancer(t, gateway, bundler, swapper)
	pool := rebalancePool()

	// Roughly even value on both sides at the active bin price.
	old := &Position{
		Address:    solana.NewWallet().PublicKey(),
		Pool:       pool.Address,
		LowerBinID: 80,
		UpperBinID: 120,
		Bins:       []BinAmounts{{BinID: 100, AmountX: 1_000_000, AmountY: 1_350_000}},
	}

	_, err := r.RecenterPosition(context.Background(), pool, old)
	require.NoError(t, err)
	require.Zero(t, swapper.calls)
	require.Len(t, bundler.gotTxs, 2)
}

func TestRecenterPosition_SwapFailureStillRecenters(t *testing.T) {
	gateway := &fakeTxGateway{blockhash: chain.Blockhash{Hash: solana.Hash{9}, LastValidBlockHeight: 600}}
	bundler := &fakeBundler{}
	swapper := &fakeSwapper{err: errors.New("venue down")}
	r := newTestRebalancer(t, gateway, bundler, swapper)
	pool := rebalancePool()

	old := &Position{
		Address:    solana.NewWallet().PublicKey(),
		Pool:       pool.Address,
		LowerBinID: 80,
		UpperBinID: 120,
		Bins:       []BinAmounts{{BinID: 100, AmountX: 1_000_000}},
	}

	renewed, err := r.RecenterPosition(context.Background(), pool, old)
	require.NoError(t, err)
	require.Equal(t, 1, swapper.calls)
	require.NotNil(t, renewed)
}

func TestRecenterPosition_BundleFailure(t *testing.T) {
	gateway := &fakeTxGateway{blockhash: chain.Blockhash{Hash: solana.Hash{9}}}
	bundler := &fakeBundler{err: bundle.ErrBundleRejected}
	r := newTestRebalancer(t, gateway, bundler, nil)
	pool := rebalancePool()

	old := &Position{Address: solana.NewWallet().PublicKey(), Pool: pool.Address, LowerBinID: 80, UpperBinID: 120}
	_, err := r.RecenterPosition(context.Background(), pool, old)
	require.ErrorIs(t, err, bundle.ErrBundleRejected)
}

func TestRebalanceInventory_NoSwapperIsNoOp(t *testing.T) {
	r := newTestRebalancer(t, &fakeTxGateway{}, nil, nil)
	sig, err := r.RebalanceInventory(context.Background(), rebalancePool(), true, 1000)
	require.NoError(t, err)
	require.True(t, sig.IsZero())
}

func TestRebalanceInventory_Direction(t *testing.T) {
	swapper := &fakeSwapper{}
	r := newTestRebalancer(t, &fakeTxGateway{}, nil, swapper)
	pool := rebalancePool()

	_, err := r.RebalanceInventory(context.Background(), pool, true, 1000)
	require.NoError(t, err)
	require.Equal(t, pool.TokenXMint.String(), swapper.gotParams.InputMint)
	require.Equal(t, pool.TokenYMint.String(), swapper.gotParams.OutputMint)

	_, err = r.RebalanceInventory(context.Background(), pool, false, 1000)
	require.NoError(t, err)
	require.Equal(t, pool.TokenYMint.String(), swapper.gotParams.InputMint)
	require.Equal(t, pool.TokenXMint.String(), swapper.gotParams.OutputMint)
}

func TestRebalanceInventory_SwapError(t *testing.T) {
	swapper := &fakeSwapper{err: errors.New("venue down")}
	r := newTestRebalancer(t, &fakeTxGateway{}, nil, swapper)

	_, err := r.RebalanceInventory(context.Background(), rebalancePool(), true, 1000)
	require.Error(t, err)
}
