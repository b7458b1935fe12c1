// internal/dlmm/types_test.go
package dlmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionGeometry(t *testing.T) {
	pos := &Position{LowerBinID: 100, UpperBinID: 139}
	require.Equal(t, int32(40), pos.Width())
	require.Equal(t, 119.5, pos.Centre())
	require.Equal(t, 10.5, pos.Distance(130))
	require.Equal(t, 30.5, pos.Distance(150))
	require.Equal(t, 19.5, pos.Distance(100))
}

func TestPositionGeometry_OddWidth(t *testing.T) {
	pos := &Position{LowerBinID: -10, UpperBinID: 10}
	require.Equal(t, int32(21), pos.Width())
	require.Equal(t, 0.0, pos.Centre())
	require.Equal(t, 0.0, pos.Distance(0))
	require.Equal(t, 10.0, pos.Distance(-10))
}

func TestPositionGeometry_SingleBin(t *testing.T) {
	pos := &Position{LowerBinID: 42, UpperBinID: 42}
	require.Equal(t, int32(1), pos.Width())
	require.Equal(t, 42.0, pos.Centre())
}

func TestBinPrice(t *testing.T) {
	// Bin 0 is always price 1 regardless of step.
	require.Equal(t, 1.0, BinPrice(0, 25))
	require.Equal(t, 1.0, BinPrice(0, 100))

	// One step up multiplies by (1 + step/10000).
	require.InDelta(t, 1.0025, BinPrice(1, 25), 1e-12)
	require.InDelta(t, 1.0/1.0025, BinPrice(-1, 25), 1e-12)

	// Prices grow monotonically with the bin id.
	require.Greater(t, BinPrice(100, 25), BinPrice(99, 25))
}

func TestBinArrayIndex(t *testing.T) {
	cases := []struct {
		binID int32
		want  int64
	}{
		{0, 0},
		{69, 0},
		{70, 1},
		{139, 1},
		{140, 2},
		{-1, -1},
		{-70, -1},
		{-71, -2},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, binArrayIndex(tc.binID), "bin %d", tc.binID)
	}
}

func TestBinOffsetInArray(t *testing.T) {
	for _, binID := range []int32{0, 35, 69, 70, 139, -1, -70, -71} {
		idx := binArrayIndex(binID)
		offset := binOffsetInArray(binID, idx)
		require.GreaterOrEqual(t, offset, 0, "bin %d", binID)
		require.Less(t, offset, binsPerArray, "bin %d", binID)
	}
	require.Equal(t, 69, binOffsetInArray(-1, -1))
	require.Equal(t, 0, binOffsetInArray(-70, -1))
}

func TestTotalAmounts(t *testing.T) {
	pos := &Position{
		Bins: []BinAmounts{
			{BinID: 10, AmountX: 100, AmountY: 0},
			{BinID: 11, AmountX: 50, AmountY: 25},
			{BinID: 12, AmountX: 0, AmountY: 75},
		},
	}
	x, y := pos.TotalAmounts()
	require.Equal(t, uint64(150), x)
	require.Equal(t, uint64(100), y)
}
