// internal/dlmm/layout.go
package dlmm

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const accountDiscriminatorLen = 8

// lbPairAccount mirrors the leading fields of the on-chain lb_pair layout.
// Borsh decoding is sequential, so trailing fields the keeper never reads
// are simply left undecoded.
type lbPairAccount struct {
	Parameters              [32]byte
	VParameters             [32]byte
	BumpSeed                [1]byte
	BinStepSeed             [2]byte
	PairType                uint8
	ActiveID                int32
	BinStep                 uint16
	Status                  uint8
	RequireBaseFactorSeed   uint8
	BaseFactorSeed          [2]byte
	ActivationType          uint8
	CreatorPoolOnOffControl uint8
	TokenXMint              solana.PublicKey
	TokenYMint              solana.PublicKey
	ReserveX                solana.PublicKey
	ReserveY                solana.PublicKey
}

// positionAccount mirrors the position_v2 layout up to the claimed-fee
// counters.
type positionAccount struct {
	LbPair           solana.PublicKey
	Owner            solana.PublicKey
	LiquidityShares  [maxBinsPerPosition]bin.Uint128
	RewardInfos      [maxBinsPerPosition]userRewardInfo
	FeeInfos         [maxBinsPerPosition]feeInfo
	LowerBinID       int32
	UpperBinID       int32
	LastUpdatedAt    int64
	TotalClaimedFeeX uint64
	TotalClaimedFeeY uint64
}

type userRewardInfo struct {
	RewardPerTokenCompletes [2]bin.Uint128
	RewardPendings          [2]uint64
}

type feeInfo struct {
	FeeXPerTokenComplete bin.Uint128
	FeeYPerTokenComplete bin.Uint128
	FeeXPending          uint64
	FeeYPending          uint64
}

// binArrayAccount mirrors the bin_array layout.
type binArrayAccount struct {
	Index   int64
	Version uint8
	Padding [7]byte
	LbPair  solana.PublicKey
	Bins    [binsPerArray]binState
}

type binState struct {
	AmountX                  uint64
	AmountY                  uint64
	Price                    bin.Uint128
	LiquiditySupply          bin.Uint128
	RewardPerTokenStored     [2]bin.Uint128
	FeeAmountXPerTokenStored bin.Uint128
	FeeAmountYPerTokenStored bin.Uint128
	AmountXIn                bin.Uint128
	AmountYIn                bin.Uint128
}

func decodeLbPair(data []byte) (*lbPairAccount, error) {
	if len(data) <= accountDiscriminatorLen {
		return nil, fmt.Errorf("lb_pair account too short: %d bytes", len(data))
	}
	var acct lbPairAccount
	if err := bin.NewBinDecoder(data[accountDiscriminatorLen:]).Decode(&acct); err != nil {
		return nil, fmt.Errorf("failed to decode lb_pair account: %w", err)
	}
	return &acct, nil
}

func decodePosition(data []byte) (*positionAccount, error) {
	if len(data) <= accountDiscriminatorLen {
		return nil, fmt.Errorf("position account too short: %d bytes", len(data))
	}
	var acct positionAccount
	if err := bin.NewBinDecoder(data[accountDiscriminatorLen:]).Decode(&acct); err != nil {
		return nil, fmt.Errorf("failed to decode position account: %w", err)
	}
	if acct.UpperBinID < acct.LowerBinID {
		return nil, fmt.Errorf("position account has inverted bin range [%d, %d]",
			acct.LowerBinID, acct.UpperBinID)
	}
	return &acct, nil
}

func decodeBinArray(data []byte) (*binArrayAccount, error) {
	if len(data) <= accountDiscriminatorLen {
		return nil, fmt.Errorf("bin_array account too short: %d bytes", len(data))
	}
	var acct binArrayAccount
	if err := bin.NewBinDecoder(data[accountDiscriminatorLen:]).Decode(&acct); err != nil {
		return nil, fmt.Errorf("failed to decode bin_array account: %w", err)
	}
	return &acct, nil
}

// shareAmounts resolves a position's claim on one bin: the bin's reserves
// scaled by the position's share of the bin's liquidity supply.
func shareAmounts(b binState, share bin.Uint128) (amountX, amountY uint64) {
	supply := b.LiquiditySupply.BigInt()
	if supply.Sign() == 0 {
		return 0, 0
	}
	s := share.BigInt()
	if s.Sign() == 0 {
		return 0, 0
	}

	x := new(big.Int).SetUint64(b.AmountX)
	x.Mul(x, s).Div(x, supply)

	y := new(big.Int).SetUint64(b.AmountY)
	y.Mul(y, s).Div(y, supply)

	return x.Uint64(), y.Uint64()
}
