// internal/bundle/protocol.go

// Package bundle lands a set of transactions atomically in one slot through
// a block-engine relay, paying a market-derived tip. Success is only ever
// reported when the relay confirms every bundled transaction landed
// together; relay acceptance alone means the bundle entered a queue.
package bundle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/dlmm-bot/internal/chain"
	"github.com/rovshanmuradov/dlmm-bot/internal/metrics"
	"github.com/rovshanmuradov/dlmm-bot/internal/retry"
)

var (
	// ErrBundleRejected reports a bundle the relay refused or that landed
	// only partially. No transaction in it may be assumed landed.
	ErrBundleRejected = errors.New("bundle rejected")
	// ErrBundleTimeout reports that the landing window elapsed without a
	// terminal relay status.
	ErrBundleTimeout = errors.New("bundle confirmation timeout")
)

// tipAccounts are the relay's published tip destinations; one is picked per
// attempt.
var tipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// Relay is the block-engine API surface the protocol needs.
type Relay interface {
	TipFloor(ctx context.Context) (*TipFloor, error)
	SendBundle(ctx context.Context, encodedTxs []string) (string, error)
	BundleStatuses(ctx context.Context, bundleIDs []string) ([]Status, error)
}

// Gateway is the slice of the chain client the protocol needs.
type Gateway interface {
	BlockHeight(ctx context.Context) (uint64, error)
	LatestBlockhash(ctx context.Context) (chain.Blockhash, error)
	GetParsedTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error)
}

// Signer signs the tip transaction.
type Signer interface {
	Address() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// Config bounds the protocol.
type Config struct {
	DefaultTipLamports uint64
	MaxRetries         uint
	Timeout            time.Duration
	PollInterval       time.Duration
}

// Protocol submits bundles and confirms their landing.
type Protocol struct {
	relay   Relay
	gateway Gateway
	signer  Signer
	config  Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewProtocol creates a bundle submission protocol.
func NewProtocol(relay Relay, gateway Gateway, signer Signer, cfg Config, logger *zap.Logger, mc *metrics.Collector) *Protocol {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Protocol{
		relay:   relay,
		gateway: gateway,
		signer:  signer,
		config:  cfg,
		logger:  logger.Named("bundle"),
		metrics: mc,
	}
}

// DiscoverTip resolves the tip for a priority tier from the live tip floor.
// The fetch is best-effort and stateless: when the feed is unavailable the
// configured default applies, and one failed fetch never taints another
// attempt's fallback.
func (p *Protocol) DiscoverTip(ctx context.Context, tier PriorityTier) uint64 {
	floor, err := p.relay.TipFloor(ctx)
	if err != nil {
		p.logger.Warn("Tip floor unavailable, using default tip",
			zap.Uint64("default_lamports", p.config.DefaultTipLamports),
			zap.Error(err))
		return p.config.DefaultTipLamports
	}

	tip := floor.TipLamports(tier)
	if tip == 0 {
		return p.config.DefaultTipLamports
	}
	return tip
}

// Submit lands the given transactions (already built and signed against the
// shared blockhash) plus a tip transaction as one atomic bundle. Each
// internal retry re-checks blockhash validity and rebuilds the tip
// transaction against a fresh blockhash when the shared one has expired.
func (p *Protocol) Submit(ctx context.Context, txs []*solana.Transaction, blockhash chain.Blockhash, tier PriorityTier) (*Result, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrBundleRejected)
	}

	tipLamports := p.DiscoverTip(ctx, tier)

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	attempt := 0
	result, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: p.config.MaxRetries,
		Delay:       p.config.PollInterval,
		Exponential: true,
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrBundleRejected)
		},
		Notify: func(err error, _ time.Duration) {
			p.logger.Warn("Bundle attempt failed, retrying", zap.Error(err))
		},
	}, func() (*Result, error) {
		attempt++
		return p.attempt(ctx, txs, blockhash, tipLamports, attempt)
	})
	if err != nil {
		reason := "rejected"
		if ctx.Err() != nil && !errors.Is(err, ErrBundleRejected) {
			reason = "timeout"
			err = fmt.Errorf("%w: %v", ErrBundleTimeout, err)
		}
		if p.metrics != nil {
			p.metrics.RecordBundleFailed(reason)
		}
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordBundleLanded(result.TipLamports)
	}
	p.logger.Info("Bundle landed",
		zap.String("bundle_id", result.BundleID),
		zap.Uint64("slot", result.Slot),
		zap.Int("tx_count", result.TxCount),
		zap.Uint64("tip_lamports", result.TipLamports))
	return result, nil
}

func (p *Protocol) attempt(ctx context.Context, txs []*solana.Transaction, blockhash chain.Blockhash, tipLamports uint64, attempt int) (*Result, error) {
	tipHash := blockhash
	if height, err := p.gateway.BlockHeight(ctx); err == nil && height > blockhash.LastValidBlockHeight {
		fresh, err := p.gateway.LatestBlockhash(ctx)
		if err != nil {
			return nil, fmt.Errorf("shared blockhash expired and refresh failed: %w", err)
		}
		p.logger.Warn("Shared blockhash expired, rebuilding tip transaction",
			zap.Uint64("expired_height", blockhash.LastValidBlockHeight))
		tipHash = fresh
	}

	tipTx, err := p.buildTipTx(tipHash, tipLamports, attempt)
	if err != nil {
		return nil, err
	}

	encoded := make([]string, 0, len(txs)+1)
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize bundle transaction: %w", err)
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(raw))
	}
	rawTip, err := tipTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tip transaction: %w", err)
	}
	encoded = append(encoded, base64.StdEncoding.EncodeToString(rawTip))

	bundleID, err := p.relay.SendBundle(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("bundle submission failed: %w", err)
	}
	p.logger.Debug("Bundle accepted by relay, awaiting landing",
		zap.String("bundle_id", bundleID),
		zap.Int("tx_count", len(encoded)))

	return p.awaitLanding(ctx, bundleID, len(encoded), tipLamports)
}

func (p *Protocol) buildTipTx(blockhash chain.Blockhash, tipLamports uint64, attempt int) (*solana.Transaction, error) {
	tipAccount := tipAccounts[attempt%len(tipAccounts)]
	instr := system.NewTransferInstruction(tipLamports, p.signer.Address(), tipAccount).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instr},
		blockhash.Hash,
		solana.TransactionPayer(p.signer.Address()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tip transaction: %w", err)
	}
	if err := p.signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign tip transaction: %w", err)
	}
	return tx, nil
}

func (p *Protocol) awaitLanding(ctx context.Context, bundleID string, txCount int, tipLamports uint64) (*Result, error) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			statuses, err := p.relay.BundleStatuses(ctx, []string{bundleID})
			if err != nil {
				p.logger.Warn("Bundle status poll failed", zap.Error(err))
				continue
			}

			var status *Status
			for i := range statuses {
				if statuses[i].BundleID == bundleID {
					status = &statuses[i]
					break
				}
			}
			if status == nil {
				continue
			}

			if failed, reason := statusFailed(status); failed {
				return nil, fmt.Errorf("%w: %s", ErrBundleRejected, reason)
			}

			switch status.ConfirmationStatus {
			case "confirmed", "finalized":
				// All-or-nothing: a landed bundle must report every
				// transaction. Anything less is partial landing.
				if len(status.Transactions) != txCount {
					return nil, fmt.Errorf("%w: partial landing, %d of %d transactions confirmed",
						ErrBundleRejected, len(status.Transactions), txCount)
				}
				signatures := make([]solana.Signature, 0, txCount)
				for _, s := range status.Transactions {
					sig, err := solana.SignatureFromBase58(s)
					if err != nil {
						return nil, fmt.Errorf("%w: relay returned invalid signature %q", ErrBundleRejected, s)
					}
					signatures = append(signatures, sig)
				}
				return &Result{
					BundleID:    bundleID,
					Slot:        status.Slot,
					Signatures:  signatures,
					TxCount:     txCount,
					TipLamports: tipLamports,
					TipSOL:      float64(tipLamports) / lamportsPerSol,
				}, nil
			}
		}
	}
}

// statusFailed interprets the relay's err field; {"Ok":null} means success.
func statusFailed(status *Status) (bool, string) {
	if status.Err == nil {
		return false, ""
	}
	if m, ok := status.Err.(map[string]interface{}); ok {
		if v, exists := m["Ok"]; exists && v == nil {
			return false, ""
		}
	}
	return true, fmt.Sprintf("relay reported error: %v", status.Err)
}

// VerifyLanded independently checks each signature against the ledger,
// outside the protocol's own success criterion. A signature the ledger does
// not know is reported as not landed.
func (p *Protocol) VerifyLanded(ctx context.Context, signatures []solana.Signature) ([]VerifiedTransaction, error) {
	verified := make([]VerifiedTransaction, 0, len(signatures))
	for _, sig := range signatures {
		result, err := p.gateway.GetParsedTransaction(ctx, sig)
		if err != nil {
			return verified, fmt.Errorf("verification lookup failed for %s: %w", sig, err)
		}
		if result == nil {
			verified = append(verified, VerifiedTransaction{Signature: sig})
			continue
		}
		v := VerifiedTransaction{Signature: sig, Slot: result.Slot, Success: true}
		if result.Meta != nil && result.Meta.Err != nil {
			v.Success = false
		}
		verified = append(verified, v)
	}
	return verified, nil
}
