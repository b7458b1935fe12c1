// internal/dlmm/types.go
package dlmm

import (
	"math"

	"github.com/gagliardetto/solana-go"
)

// MainnetProgramID is the DLMM program on mainnet-beta.
var MainnetProgramID = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

const (
	// binsPerArray is the fixed bin count of one on-chain bin array account.
	binsPerArray = 70
	// maxBinsPerPosition is the fixed bin span one position account covers.
	maxBinsPerPosition = 70
	// basisPointMax converts a bin step into a per-bin price ratio.
	basisPointMax = 10_000
)

// Pool is the decoded slice of an lb_pair account the keeper needs.
type Pool struct {
	Address    solana.PublicKey
	TokenXMint solana.PublicKey
	TokenYMint solana.PublicKey
	ReserveX   solana.PublicKey
	ReserveY   solana.PublicKey
	ActiveID   int32
	BinStep    uint16
}

// ActiveBin is the pool's current trading bin with its derived price
// (token Y per token X, before decimal adjustment).
type ActiveBin struct {
	ID    int32
	Price float64
}

// BinAmounts is one bin's share of the position's inventory.
type BinAmounts struct {
	BinID   int32
	AmountX uint64
	AmountY uint64
}

// Position is a decoded position account plus its resolved inventory.
type Position struct {
	Address     solana.PublicKey
	Pool        solana.PublicKey
	Owner       solana.PublicKey
	LowerBinID  int32
	UpperBinID  int32
	Bins        []BinAmounts
	FeeXPending uint64
	FeeYPending uint64
}

// Width is the number of bins the position covers, inclusive of both ends.
func (p *Position) Width() int32 {
	return p.UpperBinID - p.LowerBinID + 1
}

// Centre is the midpoint of the covered range. Even widths fall between two
// bins, so the midpoint is fractional.
func (p *Position) Centre() float64 {
	return (float64(p.UpperBinID) + float64(p.LowerBinID)) / 2
}

// Distance is how far the active bin has drifted from the range midpoint.
func (p *Position) Distance(activeID int32) float64 {
	return math.Abs(float64(activeID) - p.Centre())
}

// TotalAmounts sums the per-bin inventory.
func (p *Position) TotalAmounts() (amountX, amountY uint64) {
	for _, b := range p.Bins {
		amountX += b.AmountX
		amountY += b.AmountY
	}
	return amountX, amountY
}

// BinPrice is the spot price of a bin: (1 + binStep/10000)^binID.
func BinPrice(binID int32, binStep uint16) float64 {
	ratio := 1 + float64(binStep)/basisPointMax
	return math.Pow(ratio, float64(binID))
}

// binArrayIndex locates the bin array covering a bin id. Bin ids are signed,
// so the division floors toward negative infinity.
func binArrayIndex(binID int32) int64 {
	idx := int64(binID) / binsPerArray
	if int64(binID)%binsPerArray < 0 {
		idx--
	}
	return idx
}

// binOffsetInArray is the bin's slot within its array.
func binOffsetInArray(binID int32, arrayIndex int64) int {
	return int(int64(binID) - arrayIndex*binsPerArray)
}
