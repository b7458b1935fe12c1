// internal/dlmm/client.go

// Package dlmm reads and mutates positions of a bin-based concentrated
// liquidity pool. The pool's bin accounting stays on chain; this package
// decodes only what the keeper needs to value and recenter one position.
package dlmm

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ErrPositionNotFound reports a position account that no longer exists on
// chain. The monitor treats this as fatal for the session.
var ErrPositionNotFound = errors.New("position account not found")

// ErrPoolNotFound reports a missing or undecodable pool account.
var ErrPoolNotFound = errors.New("pool account not found")

// Gateway is the slice of the chain client this package needs for reads.
type Gateway interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// Client reads pool, bin array and position accounts of one DLMM program.
type Client struct {
	gateway   Gateway
	programID solana.PublicKey
	logger    *zap.Logger
}

// NewClient creates a DLMM read client for the given program.
func NewClient(gateway Gateway, programID solana.PublicKey, logger *zap.Logger) *Client {
	return &Client{
		gateway:   gateway,
		programID: programID,
		logger:    logger.Named("dlmm"),
	}
}

// ProgramID returns the DLMM program this client is bound to.
func (c *Client) ProgramID() solana.PublicKey { return c.programID }

// RefreshPool fetches and decodes the lb_pair account.
func (c *Client) RefreshPool(ctx context.Context, address solana.PublicKey) (*Pool, error) {
	result, err := c.gateway.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool %s: %w", address, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, address)
	}

	acct, err := decodeLbPair(result.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPoolNotFound, address, err)
	}

	return &Pool{
		Address:    address,
		TokenXMint: acct.TokenXMint,
		TokenYMint: acct.TokenYMint,
		ReserveX:   acct.ReserveX,
		ReserveY:   acct.ReserveY,
		ActiveID:   acct.ActiveID,
		BinStep:    acct.BinStep,
	}, nil
}

// ActiveBin returns the pool's current trading bin with its derived price.
func (c *Client) ActiveBin(pool *Pool) ActiveBin {
	return ActiveBin{
		ID:    pool.ActiveID,
		Price: BinPrice(pool.ActiveID, pool.BinStep),
	}
}

// Refresh fetches one position account and resolves its per-bin inventory
// against the pool's bin arrays.
func (c *Client) Refresh(ctx context.Context, pool *Pool, address solana.PublicKey) (*Position, error) {
	result, err := c.gateway.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch position %s: %w", address, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, address)
	}

	acct, err := decodePosition(result.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPositionNotFound, address, err)
	}

	pos := &Position{
		Address:    address,
		Pool:       acct.LbPair,
		Owner:      acct.Owner,
		LowerBinID: acct.LowerBinID,
		UpperBinID: acct.UpperBinID,
	}
	for _, fi := range acct.FeeInfos {
		pos.FeeXPending += fi.FeeXPending
		pos.FeeYPending += fi.FeeYPending
	}

	if err := c.resolveBinAmounts(ctx, pool, pos, acct); err != nil {
		return nil, err
	}
	return pos, nil
}

// UserPositions lists the owner's positions in a pool, inventory resolved.
func (c *Client) UserPositions(ctx context.Context, pool *Pool, owner solana.PublicKey) ([]*Position, error) {
	poolBytes := solana.Base58(pool.Address.Bytes())
	ownerBytes := solana.Base58(owner.Bytes())
	accounts, err := c.gateway.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 8, Bytes: poolBytes}},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 40, Bytes: ownerBytes}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for %s: %w", owner, err)
	}

	positions := make([]*Position, 0, len(accounts))
	for _, keyed := range accounts {
		acct, err := decodePosition(keyed.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn("Skipping undecodable position account",
				zap.String("account", keyed.Pubkey.String()),
				zap.Error(err))
			continue
		}
		pos := &Position{
			Address:    keyed.Pubkey,
			Pool:       acct.LbPair,
			Owner:      acct.Owner,
			LowerBinID: acct.LowerBinID,
			UpperBinID: acct.UpperBinID,
		}
		for _, fi := range acct.FeeInfos {
			pos.FeeXPending += fi.FeeXPending
			pos.FeeYPending += fi.FeeYPending
		}
		if err := c.resolveBinAmounts(ctx, pool, pos, acct); err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// resolveBinAmounts walks the position's bin range and fills per-bin
// amounts from the covering bin array accounts.
func (c *Client) resolveBinAmounts(ctx context.Context, pool *Pool, pos *Position, acct *positionAccount) error {
	arrays := make(map[int64]*binArrayAccount)

	pos.Bins = pos.Bins[:0]
	for i := int32(0); i < pos.Width() && int(i) < maxBinsPerPosition; i++ {
		binID := pos.LowerBinID + i
		share := acct.LiquidityShares[i]

		arrayIdx := binArrayIndex(binID)
		array, ok := arrays[arrayIdx]
		if !ok {
			var err error
			array, err = c.fetchBinArray(ctx, pool.Address, arrayIdx)
			if err != nil {
				return err
			}
			arrays[arrayIdx] = array
		}

		amounts := BinAmounts{BinID: binID}
		if array != nil {
			offset := binOffsetInArray(binID, arrayIdx)
			amounts.AmountX, amounts.AmountY = shareAmounts(array.Bins[offset], share)
		}
		pos.Bins = append(pos.Bins, amounts)
	}
	return nil
}

// fetchBinArray loads one bin array; a missing array means the range holds
// no liquidity yet and resolves to nil.
func (c *Client) fetchBinArray(ctx context.Context, lbPair solana.PublicKey, index int64) (*binArrayAccount, error) {
	pda, err := binArrayPDA(c.programID, lbPair, index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive bin array %d: %w", index, err)
	}
	result, err := c.gateway.GetAccountInfo(ctx, pda)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bin array %d: %w", index, err)
	}
	if result == nil || result.Value == nil {
		return nil, nil
	}
	array, err := decodeBinArray(result.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("bin array %d: %w", index, err)
	}
	return array, nil
}
