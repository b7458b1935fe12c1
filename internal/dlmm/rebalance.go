// internal/dlmm/rebalance.go
package dlmm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/dlmm-bot/internal/bundle"
	"github.com/rovshanmuradov/dlmm-bot/internal/chain"
	"github.com/rovshanmuradov/dlmm-bot/internal/events"
	"github.com/rovshanmuradov/dlmm-bot/internal/logger"
	"github.com/rovshanmuradov/dlmm-bot/internal/swap"
	"github.com/rovshanmuradov/dlmm-bot/internal/wallet"
)

// TxGateway is the chain surface the rebalancer needs for single
// transactions and shared blockhashes.
type TxGateway interface {
	LatestBlockhash(ctx context.Context) (chain.Blockhash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, signature solana.Signature, blockhash chain.Blockhash) error
}

// Bundler lands a transaction set atomically in one slot.
type Bundler interface {
	Submit(ctx context.Context, txs []*solana.Transaction, blockhash chain.Blockhash, tier bundle.PriorityTier) (*bundle.Result, error)
}

// Swapper converts inventory between the pool's tokens.
type Swapper interface {
	Swap(ctx context.Context, params swap.QuoteParams, signer swap.Signer) (solana.Signature, *swap.QuoteResponse, error)
}

// Rebalancer opens and recenters positions for one wallet. Recentering is
// atomic: the close of the old position and the open of the new one share a
// blockhash and land in the same slot or not at all.
type Rebalancer struct {
	client  *Client
	wallet  *wallet.Wallet
	gateway TxGateway
	bundler Bundler
	swapper Swapper
	tier    bundle.PriorityTier
	bus     *events.Bus
	logger  *zap.Logger
}

// NewRebalancer creates a rebalancer. swapper may be nil; inventory then
// goes back into the new position at whatever skew the close produced.
// bus may be nil; outcome events are then dropped.
func NewRebalancer(
	client *Client,
	w *wallet.Wallet,
	gateway TxGateway,
	bundler Bundler,
	swapper Swapper,
	tier bundle.PriorityTier,
	bus *events.Bus,
	logger *zap.Logger,
) *Rebalancer {
	return &Rebalancer{
		client:  client,
		wallet:  w,
		gateway: gateway,
		bundler: bundler,
		swapper: swapper,
		tier:    tier,
		bus:     bus,
		logger:  logger.Named("rebalancer"),
	}
}

func (r *Rebalancer) publish(event events.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(event); err != nil {
		r.logger.Debug("Event dropped", zap.String("type", string(event.Type())), zap.Error(err))
	}
}

// OpenParams describe a fresh position.
type OpenParams struct {
	CentreBinID int32
	Width       int32
	AmountX     uint64
	AmountY     uint64
}

// OpenPosition creates a new position centered on the given bin and funds
// it with the given amounts, as one ordinary transaction.
func (r *Rebalancer) OpenPosition(ctx context.Context, pool *Pool, params OpenParams) (*Position, error) {
	if params.Width <= 0 || params.Width > maxBinsPerPosition {
		return nil, fmt.Errorf("position width %d out of range [1, %d]", params.Width, maxBinsPerPosition)
	}
	log := logger.WithOperation(r.logger, "open_position")

	positionKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate position keypair: %w", err)
	}

	lower := params.CentreBinID - params.Width/2
	upper := lower + params.Width - 1

	blockhash, err := r.gateway.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := r.buildOpenTx(pool, positionKey.PublicKey(), lower, params.Width, params.AmountX, params.AmountY, blockhash)
	if err != nil {
		return nil, err
	}
	if err := r.wallet.SignWith(tx, positionKey); err != nil {
		return nil, fmt.Errorf("failed to sign open transaction: %w", err)
	}

	sig, err := r.gateway.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to submit open transaction: %w", err)
	}
	if err := r.gateway.ConfirmTransaction(ctx, sig, blockhash); err != nil {
		return nil, fmt.Errorf("open transaction %s did not confirm: %w", sig, err)
	}

	log.Info("Position opened",
		zap.String("position", positionKey.PublicKey().String()),
		zap.Int32("lower_bin", lower),
		zap.Int32("upper_bin", upper),
		zap.String("signature", sig.String()))

	return &Position{
		Address:    positionKey.PublicKey(),
		Pool:       pool.Address,
		Owner:      r.wallet.PublicKey,
		LowerBinID: lower,
		UpperBinID: upper,
	}, nil
}

// RecenterPosition closes the drifted position and opens a same-width
// replacement centered on the active bin. Both transactions are built
// against one fresh blockhash and landed as an atomic bundle, so a failed
// recenter leaves the old position intact.
func (r *Rebalancer) RecenterPosition(ctx context.Context, pool *Pool, pos *Position) (*Position, error) {
	width := pos.Width()
	newLower := pool.ActiveID - width/2
	newUpper := newLower + width - 1
	log := logger.WithOperation(r.logger, "recenter")
	amountX, amountY := pos.TotalAmounts()
	amountX += pos.FeeXPending
	amountY += pos.FeeYPending
	amountX, amountY = r.balanceInventory(ctx, log, pool, amountX, amountY)

	positionKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate position keypair: %w", err)
	}

	blockhash, err := r.gateway.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shared blockhash: %w", err)
	}

	closeTx, err := r.buildCloseTx(pool, pos, blockhash)
	if err != nil {
		return nil, err
	}
	if err := r.wallet.SignTransaction(closeTx); err != nil {
		return nil, fmt.Errorf("failed to sign close transaction: %w", err)
	}

	openTx, err := r.buildOpenTx(pool, positionKey.PublicKey(), newLower, width, amountX, amountY, blockhash)
	if err != nil {
		return nil, err
	}
	if err := r.wallet.SignWith(openTx, positionKey); err != nil {
		return nil, fmt.Errorf("failed to sign open transaction: %w", err)
	}

	log.Info("Submitting recenter bundle",
		zap.String("old_position", pos.Address.String()),
		zap.String("new_position", positionKey.PublicKey().String()),
		zap.Int32("active_bin", pool.ActiveID),
		zap.Int32("new_lower", newLower),
		zap.Int32("new_upper", newUpper))

	result, err := r.bundler.Submit(ctx, []*solana.Transaction{closeTx, openTx}, blockhash, r.tier)
	if err != nil {
		r.publish(&events.BundleFailedEvent{
			BaseEvent: events.NewBase(events.BundleFailed),
			Reason:    err.Error(),
		})
		return nil, fmt.Errorf("recenter bundle failed: %w", err)
	}
	r.publish(&events.BundleLandedEvent{
		BaseEvent:   events.NewBase(events.BundleLanded),
		BundleID:    result.BundleID,
		Slot:        result.Slot,
		TxCount:     result.TxCount,
		TipLamports: result.TipLamports,
	})

	log.Info("Recenter bundle landed",
		zap.String("bundle_id", result.BundleID),
		zap.Uint64("slot", result.Slot),
		zap.Float64("tip_sol", result.TipSOL))

	return &Position{
		Address:    positionKey.PublicKey(),
		Pool:       pool.Address,
		Owner:      r.wallet.PublicKey,
		LowerBinID: newLower,
		UpperBinID: newUpper,
	}, nil
}

// inventorySkewBound is the value share past which one side of withdrawn
// inventory triggers a corrective swap before the replacement position is
// funded. The spot-balanced strategy wants an even split.
const inventorySkewBound = 2.0 / 3.0

// balanceInventory swaps the over-weighted side toward an even split when
// the withdrawn inventory is skewed past inventorySkewBound, and returns
// the adjusted funding amounts. Best effort: a failed swap leaves the
// amounts alone and the open proceeds at the produced skew.
func (r *Rebalancer) balanceInventory(ctx context.Context, log *zap.Logger, pool *Pool, amountX, amountY uint64) (uint64, uint64) {
	if r.swapper == nil {
		return amountX, amountY
	}

	// Value both sides in token Y terms at the active bin price.
	price := BinPrice(pool.ActiveID, pool.BinStep)
	valueX := float64(amountX) * price
	valueY := float64(amountY)
	total := valueX + valueY
	if total == 0 {
		return amountX, amountY
	}

	var sellX bool
	var sellAmount uint64
	switch {
	case valueX/total > inventorySkewBound:
		sellX = true
		sellAmount = uint64((valueX - total/2) / price)
	case valueY/total > inventorySkewBound:
		sellAmount = uint64(valueY - total/2)
	default:
		return amountX, amountY
	}
	if sellAmount == 0 {
		return amountX, amountY
	}

	log.Info("Inventory skewed, swapping toward even split",
		zap.Bool("sell_x", sellX),
		zap.Uint64("sell_amount", sellAmount),
		zap.Float64("x_share", valueX/total))
	if _, err := r.RebalanceInventory(ctx, pool, sellX, sellAmount); err != nil {
		log.Warn("Inventory swap failed, opening at current skew", zap.Error(err))
		return amountX, amountY
	}

	if sellX {
		amountX -= sellAmount
		amountY += uint64(float64(sellAmount) * price)
	} else {
		amountY -= sellAmount
		amountX += uint64(float64(sellAmount) / price)
	}
	return amountX, amountY
}

// RebalanceInventory swaps the over-weighted side toward a 50/50 split
// before opening a new position. No-op without a configured swapper.
func (r *Rebalancer) RebalanceInventory(ctx context.Context, pool *Pool, sellX bool, amount uint64) (solana.Signature, error) {
	if r.swapper == nil || amount == 0 {
		return solana.Signature{}, nil
	}
	params := swap.QuoteParams{
		InputMint:  pool.TokenXMint.String(),
		OutputMint: pool.TokenYMint.String(),
		AmountRaw:  amount,
	}
	if !sellX {
		params.InputMint, params.OutputMint = params.OutputMint, params.InputMint
	}
	sig, quote, err := r.swapper.Swap(ctx, params, r.wallet)
	if err != nil {
		stage := "execute"
		if errors.Is(err, swap.ErrQuoteUnavailable) {
			stage = "quote"
		} else if errors.Is(err, swap.ErrBuildFailed) {
			stage = "build"
		}
		r.publish(&events.SwapFailedEvent{
			BaseEvent:  events.NewBase(events.SwapFailed),
			InputMint:  params.InputMint,
			OutputMint: params.OutputMint,
			Stage:      stage,
			Error:      err,
		})
		return solana.Signature{}, fmt.Errorf("inventory swap failed: %w", err)
	}
	inAmount, _ := strconv.ParseUint(quote.InAmount, 10, 64)
	outAmount, _ := strconv.ParseUint(quote.OutAmount, 10, 64)
	r.publish(&events.SwapExecutedEvent{
		BaseEvent:  events.NewBase(events.SwapExecuted),
		Signature:  sig.String(),
		InputMint:  params.InputMint,
		OutputMint: params.OutputMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
	})
	return sig, nil
}

func (r *Rebalancer) accounts(pool *Pool, position solana.PublicKey, lowerBinID, upperBinID int32) (instructionAccounts, error) {
	userTokenX, err := r.wallet.GetATA(pool.TokenXMint)
	if err != nil {
		return instructionAccounts{}, fmt.Errorf("failed to derive token X account: %w", err)
	}
	userTokenY, err := r.wallet.GetATA(pool.TokenYMint)
	if err != nil {
		return instructionAccounts{}, fmt.Errorf("failed to derive token Y account: %w", err)
	}
	lower, upper, err := positionBinArrays(r.client.ProgramID(), pool.Address, lowerBinID, upperBinID)
	if err != nil {
		return instructionAccounts{}, err
	}
	eventAuthority, err := eventAuthorityPDA(r.client.ProgramID())
	if err != nil {
		return instructionAccounts{}, fmt.Errorf("failed to derive event authority: %w", err)
	}
	return instructionAccounts{
		Pool:           pool,
		Position:       position,
		Owner:          r.wallet.PublicKey,
		UserTokenX:     userTokenX,
		UserTokenY:     userTokenY,
		BinArrayLower:  lower,
		BinArrayUpper:  upper,
		EventAuthority: eventAuthority,
		ProgramID:      r.client.ProgramID(),
	}, nil
}

func (r *Rebalancer) buildOpenTx(
	pool *Pool,
	position solana.PublicKey,
	lowerBinID, width int32,
	amountX, amountY uint64,
	blockhash chain.Blockhash,
) (*solana.Transaction, error) {
	upperBinID := lowerBinID + width - 1
	acc, err := r.accounts(pool, position, lowerBinID, upperBinID)
	if err != nil {
		return nil, err
	}

	initIx := buildInitializePositionInstruction(acc, lowerBinID, width)
	addIx, err := buildAddLiquidityInstruction(acc, liquidityStrategyParams{
		AmountX:              amountX,
		AmountY:              amountY,
		ActiveID:             pool.ActiveID,
		MaxActiveBinSlippage: 3,
		Strategy: strategyParameters{
			MinBinID:     lowerBinID,
			MaxBinID:     upperBinID,
			StrategyType: strategySpotBalanced,
		},
	})
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{initIx, addIx},
		blockhash.Hash,
		solana.TransactionPayer(r.wallet.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build open transaction: %w", err)
	}
	return tx, nil
}

func (r *Rebalancer) buildCloseTx(pool *Pool, pos *Position, blockhash chain.Blockhash) (*solana.Transaction, error) {
	acc, err := r.accounts(pool, pos.Address, pos.LowerBinID, pos.UpperBinID)
	if err != nil {
		return nil, err
	}

	claimIx := buildClaimFeeInstruction(acc)
	removeIx := buildRemoveLiquidityInstruction(acc, pos.LowerBinID, pos.UpperBinID, fullWithdrawBps)
	closeIx := buildClosePositionInstruction(acc, r.wallet.PublicKey)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{claimIx, removeIx, closeIx},
		blockhash.Hash,
		solana.TransactionPayer(r.wallet.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build close transaction: %w", err)
	}
	return tx, nil
}
