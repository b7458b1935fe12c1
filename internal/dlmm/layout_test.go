// internal/dlmm/layout_test.go
package dlmm

import (
	"bytes"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/stretchr/testify/require"
)

func encodeAccount(t *testing.T, v interface{}) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, accountDiscriminatorLen))
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(v))
	return buf.Bytes()
}

func TestDecodeLbPair(t *testing.T) {
	src := lbPairAccount{
		ActiveID: 8391,
		BinStep:  25,
	}
	acct, err := decodeLbPair(encodeAccount(t, src))
	require.NoError(t, err)
	require.Equal(t, int32(8391), acct.ActiveID)
	require.Equal(t, uint16(25), acct.BinStep)
}

func TestDecodeLbPair_TooShort(t *testing.T) {
	_, err := decodeLbPair([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodePosition(t *testing.T) {
	src := positionAccount{
		LowerBinID: 100,
		UpperBinID: 139,
	}
	src.FeeInfos[0].FeeXPending = 500
	src.FeeInfos[3].FeeYPending = 250

	acct, err := decodePosition(encodeAccount(t, src))
	require.NoError(t, err)
	require.Equal(t, int32(100), acct.LowerBinID)
	require.Equal(t, int32(139), acct.UpperBinID)
	require.Equal(t, uint64(500), acct.FeeInfos[0].FeeXPending)
	require.Equal(t, uint64(250), acct.FeeInfos[3].FeeYPending)
}

func TestDecodePosition_InvertedRange(t *testing.T) {
	src := positionAccount{LowerBinID: 139, UpperBinID: 100}
	_, err := decodePosition(encodeAccount(t, src))
	require.Error(t, err)
}

func TestShareAmounts(t *testing.T) {
	state := binState{
		AmountX:         1_000_000,
		AmountY:         500_000,
		LiquiditySupply: bin.Uint128{Lo: 1_000},
	}

	// Full ownership of the bin.
	x, y := shareAmounts(state, bin.Uint128{Lo: 1_000})
	require.Equal(t, uint64(1_000_000), x)
	require.Equal(t, uint64(500_000), y)

	// Quarter ownership.
	x, y = shareAmounts(state, bin.Uint128{Lo: 250})
	require.Equal(t, uint64(250_000), x)
	require.Equal(t, uint64(125_000), y)

	// No share, no amounts.
	x, y = shareAmounts(state, bin.Uint128{})
	require.Zero(t, x)
	require.Zero(t, y)
}

func TestShareAmounts_EmptyBin(t *testing.T) {
	x, y := shareAmounts(binState{}, bin.Uint128{Lo: 100})
	require.Zero(t, x)
	require.Zero(t, y)
}

func TestAnchorDiscriminator(t *testing.T) {
	d := anchorDiscriminator("initialize_position")
	require.Len(t, d, 8)
	// Deterministic, and distinct per instruction name.
	require.Equal(t, d, anchorDiscriminator("initialize_position"))
	require.NotEqual(t, d, anchorDiscriminator("close_position"))
}
