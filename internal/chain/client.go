// internal/chain/client.go

// Package chain is the thin, retried accessor over the Solana RPC shared by
// every component. It owns no policy beyond read retries: transaction resend
// decisions belong to the swap pipeline and bundle protocol.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/dlmm-bot/internal/retry"
)

var (
	// ErrBlockhashExpired reports that the chain moved past the blockhash's
	// last valid height before the transaction confirmed. The transaction
	// must be rebuilt against a fresh blockhash, never resubmitted as-is.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
	// ErrTransactionFailed reports that the ledger executed the transaction
	// and it errored.
	ErrTransactionFailed = errors.New("transaction failed on chain")
	// ErrConfirmationTimeout reports that confirmation polling gave up.
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")
)

// Blockhash pairs a recent blockhash with the height it stays valid for.
// A signature is only meaningful against the blockhash it was built with.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Client adapts the solana-go RPC client for the keeper.
type Client struct {
	rpc           *rpc.Client
	logger        *zap.Logger
	skipPreflight bool
	readPolicy    retry.Policy
}

// Option customizes the client.
type Option func(*Client)

// WithSkipPreflight disables preflight simulation on submission.
func WithSkipPreflight(skip bool) Option {
	return func(c *Client) { c.skipPreflight = skip }
}

// WithReadRetries overrides the retry budget for read calls.
func WithReadRetries(attempts uint) Option {
	return func(c *Client) { c.readPolicy.MaxAttempts = attempts }
}

// NewClient creates a gateway for the given RPC endpoint.
func NewClient(rpcURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:    rpc.New(rpcURL),
		logger: logger.Named("chain"),
		readPolicy: retry.Policy{
			MaxAttempts: 3,
			Delay:       200 * time.Millisecond,
			Exponential: true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestBlockhash fetches a fresh blockhash and its expiry height.
func (c *Client) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	result, err := retry.Do(ctx, c.readPolicy, func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	})
	if err != nil {
		c.logger.Error("LatestBlockhash error", zap.Error(err))
		return Blockhash{}, err
	}
	return Blockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	result, err := retry.Do(ctx, c.readPolicy, func() (*rpc.GetBalanceResult, error) {
		return c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	})
	if err != nil {
		c.logger.Error("Balance error", zap.Error(err))
		return 0, err
	}
	return result.Value, nil
}

// BlockHeight returns the current block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := retry.Do(ctx, c.readPolicy, func() (uint64, error) {
		return c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	})
	if err != nil {
		c.logger.Error("BlockHeight error", zap.Error(err))
		return 0, err
	}
	return height, nil
}

// SendTransaction submits a signed transaction. Submission is deliberately
// not retried here; callers own the rebuild-and-resubmit policy.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// ConfirmTransaction waits for the signature to reach confirmed commitment.
// The wait is height-bounded: once the chain passes the blockhash's last
// valid height the transaction can never confirm and ErrBlockhashExpired is
// returned, telling the caller to rebuild rather than wait longer.
func (c *Client) ConfirmTransaction(ctx context.Context, signature solana.Signature, blockhash Blockhash) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w for %s", ErrConfirmationTimeout, signature)
			}
			return ctx.Err()
		case <-ticker.C:
			statuses, err := c.rpc.GetSignatureStatuses(ctx, false, signature)
			if err != nil {
				c.logger.Warn("Error getting signature statuses", zap.Error(err))
				continue
			}
			if statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
				status := statuses.Value[0]
				if status.Err != nil {
					return fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
					status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}

			height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if err != nil {
				c.logger.Warn("Error getting block height", zap.Error(err))
				continue
			}
			if height > blockhash.LastValidBlockHeight {
				return ErrBlockhashExpired
			}
		}
	}
}

// GetParsedTransaction looks a landed transaction up for verification. An
// unknown signature returns a nil result, not an error.
func (c *Client) GetParsedTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	result, err := retry.Do(ctx, c.readPolicy, func() (*rpc.GetTransactionResult, error) {
		out, err := c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return out, err
	})
	if err != nil {
		c.logger.Debug("GetParsedTransaction error",
			zap.String("signature", signature.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// GetAccountInfo fetches a raw account. A missing account is not an error;
// it returns a nil result so callers can treat absence as state.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	result, err := retry.Do(ctx, c.readPolicy, func() (*rpc.GetAccountInfoResult, error) {
		out, err := c.rpc.GetAccountInfo(ctx, pubkey)
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return out, err
	})
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// GetProgramAccountsWithOpts lists program accounts with filters.
func (c *Client) GetProgramAccountsWithOpts(
	ctx context.Context,
	programID solana.PublicKey,
	opts *rpc.GetProgramAccountsOpts,
) (rpc.GetProgramAccountsResult, error) {
	accounts, err := retry.Do(ctx, c.readPolicy, func() (rpc.GetProgramAccountsResult, error) {
		return c.rpc.GetProgramAccountsWithOpts(ctx, programID, opts)
	})
	if err != nil {
		c.logger.Debug("GetProgramAccountsWithOpts error",
			zap.String("program_id", programID.String()),
			zap.Error(err))
		return nil, err
	}
	return accounts, nil
}
