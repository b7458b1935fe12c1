// internal/swap/pipeline.go

// Package swap converts one token into another at a bounded price impact:
// quote, build, execute, each stage retried within its own budget. All
// failures are reported as error values the monitor can treat as
// "try again next tick"; nothing here is fatal to the control loop.
package swap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/dlmm-bot/internal/chain"
	"github.com/rovshanmuradov/dlmm-bot/internal/metrics"
	"github.com/rovshanmuradov/dlmm-bot/internal/retry"
)

var (
	// ErrQuoteUnavailable means no quote within the impact bound was found
	// in the attempt budget. Recoverable; try again later.
	ErrQuoteUnavailable = errors.New("no acceptable quote")
	// ErrBuildFailed means the venue could not produce a transaction for an
	// accepted quote.
	ErrBuildFailed = errors.New("swap build failed")
	// ErrExecutionExhausted means every submit/confirm cycle failed. The
	// caller must assume no fill happened.
	ErrExecutionExhausted = errors.New("swap execution exhausted")
)

// Venue is the quoting/building side of the swap API.
type Venue interface {
	Quote(ctx context.Context, params QuoteParams) (*QuoteResponse, error)
	BuildSwap(ctx context.Context, quote *QuoteResponse, userPublicKey, priorityLevel string, maxPriorityFeeLamports uint64) (*BuiltSwap, error)
}

// Gateway is the slice of the chain client the execute stage needs.
type Gateway interface {
	LatestBlockhash(ctx context.Context) (chain.Blockhash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, signature solana.Signature, blockhash chain.Blockhash) error
}

// Signer signs transactions for one address.
type Signer interface {
	Address() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// Config bounds each stage of the pipeline.
type Config struct {
	SlippageBps            uint16
	MaxImpactPct           float64
	MaxAttempts            uint
	PriorityLevel          string
	MaxPriorityFeeLamports uint64
	// RetryOnChainErrors keeps deterministic on-chain failures inside the
	// shared retry budget. Turning it off makes an executed-but-errored
	// transaction exhaust the stage immediately.
	RetryOnChainErrors bool
	QuoteRetryDelay    time.Duration
	ExecuteRetryDelay  time.Duration
}

// Pipeline drives quote → build → execute end to end.
type Pipeline struct {
	venue   Venue
	gateway Gateway
	config  Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewPipeline creates a swap pipeline.
func NewPipeline(venue Venue, gateway Gateway, cfg Config, logger *zap.Logger, mc *metrics.Collector) *Pipeline {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.QuoteRetryDelay <= 0 {
		cfg.QuoteRetryDelay = 500 * time.Millisecond
	}
	if cfg.ExecuteRetryDelay <= 0 {
		cfg.ExecuteRetryDelay = 500 * time.Millisecond
	}
	return &Pipeline{
		venue:   venue,
		gateway: gateway,
		config:  cfg,
		logger:  logger.Named("swap"),
		metrics: mc,
	}
}

// Quote fetches conversion offers until one lands under the impact bound.
// The first acceptable quote wins; price impact is volatile tick-to-tick, so
// an over-bound quote is discarded and a fresh one requested after a short
// fixed delay.
func (p *Pipeline) Quote(ctx context.Context, params QuoteParams) (*QuoteResponse, error) {
	if params.SlippageBps == 0 {
		params.SlippageBps = p.config.SlippageBps
	}

	quote, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: p.config.MaxAttempts,
		Delay:       p.config.QuoteRetryDelay,
		Notify: func(err error, _ time.Duration) {
			p.logger.Debug("Quote attempt failed, retrying", zap.Error(err))
		},
	}, func() (*QuoteResponse, error) {
		q, err := p.venue.Quote(ctx, params)
		if err != nil {
			return nil, err
		}
		impact, err := impactPct(q)
		if err != nil {
			return nil, err
		}
		if impact >= p.config.MaxImpactPct {
			return nil, fmt.Errorf("price impact %.4f%% exceeds bound %.4f%%", impact, p.config.MaxImpactPct)
		}
		return q, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Quote attempts exhausted",
			zap.String("input", params.InputMint),
			zap.String("output", params.OutputMint),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	return quote, nil
}

// Build turns an accepted quote into an unsigned transaction skeleton.
func (p *Pipeline) Build(ctx context.Context, quote *QuoteResponse, user solana.PublicKey) (*BuiltSwap, error) {
	built, err := p.venue.BuildSwap(ctx, quote, user.String(), p.config.PriorityLevel, p.config.MaxPriorityFeeLamports)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	if built.SwapTransaction == "" {
		return nil, fmt.Errorf("%w: venue omitted transaction payload", ErrBuildFailed)
	}
	return built, nil
}

// Execute signs and lands a built swap. Every attempt fetches a fresh
// blockhash, overwrites the payload's stale one, signs, submits and confirms
// against that same blockhash: build and execute are temporally separated
// and a stale blockhash can never confirm. An exhausted budget returns a
// zero signature with ErrExecutionExhausted; callers must treat the absence
// of a signature as no fill.
func (p *Pipeline) Execute(ctx context.Context, built *BuiltSwap, signer Signer) (solana.Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(built.SwapTransaction)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: undecodable transaction payload: %v", ErrBuildFailed, err)
	}

	sig, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: p.config.MaxAttempts,
		Delay:       p.config.ExecuteRetryDelay,
		Exponential: true,
		Retryable: func(err error) bool {
			if !p.config.RetryOnChainErrors && errors.Is(err, chain.ErrTransactionFailed) {
				return false
			}
			return true
		},
		Notify: func(err error, _ time.Duration) {
			if errors.Is(err, chain.ErrTransactionFailed) {
				p.logger.Warn("Swap executed but failed on chain, rebuilding attempt", zap.Error(err))
			} else {
				p.logger.Debug("Swap attempt failed, rebuilding with fresh blockhash", zap.Error(err))
			}
		},
	}, func() (solana.Signature, error) {
		return p.executeOnce(ctx, raw, signer)
	})
	if err != nil {
		if ctx.Err() != nil {
			return solana.Signature{}, ctx.Err()
		}
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrExecutionExhausted, err)
	}
	return sig, nil
}

func (p *Pipeline) executeOnce(ctx context.Context, rawTx []byte, signer Signer) (solana.Signature, error) {
	if p.metrics != nil {
		p.metrics.RecordSwapAttempt()
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to deserialize transaction: %w", err)
	}

	blockhash, err := p.gateway.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to fetch blockhash: %w", err)
	}
	tx.Message.RecentBlockhash = blockhash.Hash

	if err := signer.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := p.gateway.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("submission failed: %w", err)
	}

	confirmStart := time.Now()
	if err := p.gateway.ConfirmTransaction(ctx, sig, blockhash); err != nil {
		return solana.Signature{}, fmt.Errorf("confirmation failed for %s: %w", sig, err)
	}
	if p.metrics != nil {
		p.metrics.RecordConfirmation(time.Since(confirmStart))
	}
	return sig, nil
}

// Swap runs the whole pipeline for one conversion.
func (p *Pipeline) Swap(ctx context.Context, params QuoteParams, signer Signer) (solana.Signature, *QuoteResponse, error) {
	start := time.Now()

	quote, err := p.Quote(ctx, params)
	if err != nil {
		return solana.Signature{}, nil, err
	}

	built, err := p.Build(ctx, quote, signer.Address())
	if err != nil {
		return solana.Signature{}, nil, err
	}

	sig, err := p.Execute(ctx, built, signer)
	if err != nil {
		return solana.Signature{}, quote, err
	}

	if p.metrics != nil {
		p.metrics.RecordSwapSuccess(time.Since(start))
	}
	p.logger.Info("Swap confirmed",
		zap.String("signature", sig.String()),
		zap.String("input", params.InputMint),
		zap.String("output", params.OutputMint),
		zap.Duration("elapsed", time.Since(start)))
	return sig, quote, nil
}

// impactPct converts the quote's fractional price impact to percent. The
// field is the quote stage's only safety bound, so its absence is an error,
// never zero impact.
func impactPct(q *QuoteResponse) (float64, error) {
	if q.PriceImpactPct == "" {
		return 0, fmt.Errorf("quote missing price impact")
	}
	frac, err := strconv.ParseFloat(q.PriceImpactPct, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price impact %q: %w", q.PriceImpactPct, err)
	}
	return math.Abs(frac) * 100, nil
}
