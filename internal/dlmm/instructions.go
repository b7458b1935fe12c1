// internal/dlmm/instructions.go
package dlmm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor instruction discriminators are the first 8 bytes of
// sha256("global:<snake_case_name>").
func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

var (
	initializePositionDiscriminator     = anchorDiscriminator("initialize_position")
	addLiquidityByStrategyDiscriminator = anchorDiscriminator("add_liquidity_by_strategy")
	removeLiquidityByRangeDiscriminator = anchorDiscriminator("remove_liquidity_by_range")
	claimFeeDiscriminator               = anchorDiscriminator("claim_fee")
	closePositionDiscriminator          = anchorDiscriminator("close_position")
)

// strategy types understood by add_liquidity_by_strategy.
const (
	strategySpotBalanced uint8 = 6
)

func eventAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("__event_authority")},
		programID,
	)
	return pda, err
}

func binArrayPDA(programID, lbPair solana.PublicKey, index int64) (solana.PublicKey, error) {
	indexBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(indexBytes, uint64(index))
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bin_array"), lbPair.Bytes(), indexBytes},
		programID,
	)
	return pda, err
}

// positionBinArrays resolves the lower and upper bin array PDAs covering a
// bin range.
func positionBinArrays(programID, lbPair solana.PublicKey, lowerBinID, upperBinID int32) (lower, upper solana.PublicKey, err error) {
	lower, err = binArrayPDA(programID, lbPair, binArrayIndex(lowerBinID))
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("failed to derive lower bin array: %w", err)
	}
	upper, err = binArrayPDA(programID, lbPair, binArrayIndex(upperBinID))
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("failed to derive upper bin array: %w", err)
	}
	return lower, upper, nil
}

// instructionAccounts is the resolved account set shared by the liquidity
// instructions.
type instructionAccounts struct {
	Pool           *Pool
	Position       solana.PublicKey
	Owner          solana.PublicKey
	UserTokenX     solana.PublicKey
	UserTokenY     solana.PublicKey
	BinArrayLower  solana.PublicKey
	BinArrayUpper  solana.PublicKey
	EventAuthority solana.PublicKey
	ProgramID      solana.PublicKey
}

func buildInitializePositionInstruction(
	acc instructionAccounts,
	lowerBinID, width int32,
) solana.Instruction {
	data := make([]byte, 0, 16)
	data = append(data, initializePositionDiscriminator...)
	data = binary.LittleEndian.AppendUint32(data, uint32(lowerBinID))
	data = binary.LittleEndian.AppendUint32(data, uint32(width))

	keys := []*solana.AccountMeta{
		{PublicKey: acc.Owner, IsSigner: true, IsWritable: true},
		{PublicKey: acc.Position, IsSigner: true, IsWritable: true},
		{PublicKey: acc.Pool.Address, IsSigner: false, IsWritable: false},
		{PublicKey: acc.Owner, IsSigner: true, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SysVarRentPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: acc.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(acc.ProgramID, keys, data)
}

// liquidityStrategyParams is the borsh payload of add_liquidity_by_strategy.
type liquidityStrategyParams struct {
	AmountX              uint64
	AmountY              uint64
	ActiveID             int32
	MaxActiveBinSlippage int32
	Strategy             strategyParameters
}

type strategyParameters struct {
	MinBinID     int32
	MaxBinID     int32
	StrategyType uint8
	Parameters   [64]uint8
}

func buildAddLiquidityInstruction(
	acc instructionAccounts,
	params liquidityStrategyParams,
) (solana.Instruction, error) {
	var buf bytes.Buffer
	buf.Write(addLiquidityByStrategyDiscriminator)
	if err := bin.NewBorshEncoder(&buf).Encode(params); err != nil {
		return nil, fmt.Errorf("failed to encode liquidity parameters: %w", err)
	}

	keys := []*solana.AccountMeta{
		{PublicKey: acc.Position, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.Address, IsSigner: false, IsWritable: true},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false}, // bitmap extension unused
		{PublicKey: acc.UserTokenX, IsSigner: false, IsWritable: true},
		{PublicKey: acc.UserTokenY, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.ReserveX, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.ReserveY, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.TokenXMint, IsSigner: false, IsWritable: false},
		{PublicKey: acc.Pool.TokenYMint, IsSigner: false, IsWritable: false},
		{PublicKey: acc.BinArrayLower, IsSigner: false, IsWritable: true},
		{PublicKey: acc.BinArrayUpper, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Owner, IsSigner: true, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: acc.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(acc.ProgramID, keys, buf.Bytes()), nil
}

const fullWithdrawBps uint16 = 10_000

func buildRemoveLiquidityInstruction(
	acc instructionAccounts,
	fromBinID, toBinID int32,
	bpsToRemove uint16,
) solana.Instruction {
	data := make([]byte, 0, 18)
	data = append(data, removeLiquidityByRangeDiscriminator...)
	data = binary.LittleEndian.AppendUint32(data, uint32(fromBinID))
	data = binary.LittleEndian.AppendUint32(data, uint32(toBinID))
	data = binary.LittleEndian.AppendUint16(data, bpsToRemove)

	keys := []*solana.AccountMeta{
		{PublicKey: acc.Position, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.Address, IsSigner: false, IsWritable: true},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false}, // bitmap extension unused
		{PublicKey: acc.UserTokenX, IsSigner: false, IsWritable: true},
		{PublicKey: acc.UserTokenY, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.ReserveX, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.ReserveY, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.TokenXMint, IsSigner: false, IsWritable: false},
		{PublicKey: acc.Pool.TokenYMint, IsSigner: false, IsWritable: false},
		{PublicKey: acc.BinArrayLower, IsSigner: false, IsWritable: true},
		{PublicKey: acc.BinArrayUpper, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Owner, IsSigner: true, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: acc.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(acc.ProgramID, keys, data)
}

func buildClaimFeeInstruction(acc instructionAccounts) solana.Instruction {
	data := make([]byte, 0, 8)
	data = append(data, claimFeeDiscriminator...)

	keys := []*solana.AccountMeta{
		{PublicKey: acc.Pool.Address, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Position, IsSigner: false, IsWritable: true},
		{PublicKey: acc.BinArrayLower, IsSigner: false, IsWritable: true},
		{PublicKey: acc.BinArrayUpper, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Owner, IsSigner: true, IsWritable: false},
		{PublicKey: acc.Pool.ReserveX, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.ReserveY, IsSigner: false, IsWritable: true},
		{PublicKey: acc.UserTokenX, IsSigner: false, IsWritable: true},
		{PublicKey: acc.UserTokenY, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.TokenXMint, IsSigner: false, IsWritable: false},
		{PublicKey: acc.Pool.TokenYMint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: acc.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(acc.ProgramID, keys, data)
}

func buildClosePositionInstruction(acc instructionAccounts, rentReceiver solana.PublicKey) solana.Instruction {
	data := make([]byte, 0, 8)
	data = append(data, closePositionDiscriminator...)

	keys := []*solana.AccountMeta{
		{PublicKey: acc.Position, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Pool.Address, IsSigner: false, IsWritable: true},
		{PublicKey: acc.BinArrayLower, IsSigner: false, IsWritable: true},
		{PublicKey: acc.BinArrayUpper, IsSigner: false, IsWritable: true},
		{PublicKey: acc.Owner, IsSigner: true, IsWritable: false},
		{PublicKey: rentReceiver, IsSigner: false, IsWritable: true},
		{PublicKey: acc.EventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: acc.ProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(acc.ProgramID, keys, data)
}
