// internal/bundle/types.go
package bundle

import (
	"math"

	"github.com/gagliardetto/solana-go"
)

// PriorityTier selects which tip-floor percentile a bundle pays.
type PriorityTier string

const (
	TierLow    PriorityTier = "low"
	TierMedium PriorityTier = "medium"
	TierHigh   PriorityTier = "high"
	TierMax    PriorityTier = "max"
)

// TipFloor is a point-in-time percentile distribution of tips the relay
// accepted, in SOL. It is refreshed per bundle attempt and never persisted.
type TipFloor struct {
	Time  string  `json:"time"`
	P25   float64 `json:"landed_tips_25th_percentile"`
	P50   float64 `json:"landed_tips_50th_percentile"`
	P75   float64 `json:"landed_tips_75th_percentile"`
	P95   float64 `json:"landed_tips_95th_percentile"`
	P99   float64 `json:"landed_tips_99th_percentile"`
	EMA50 float64 `json:"ema_landed_tips_50th_percentile"`
}

const lamportsPerSol = 1_000_000_000

// TipLamports maps a priority tier to the matching percentile, in lamports.
func (tf TipFloor) TipLamports(tier PriorityTier) uint64 {
	var sol float64
	switch tier {
	case TierLow:
		sol = tf.P25
	case TierMedium:
		sol = tf.P50
	case TierHigh:
		sol = tf.P75
	case TierMax:
		sol = tf.P95
	default:
		sol = tf.P50
	}
	return uint64(math.Ceil(sol * lamportsPerSol))
}

// Status is the relay's view of a submitted bundle.
type Status struct {
	BundleID           string      `json:"bundle_id"`
	Transactions       []string    `json:"transactions"`
	Slot               uint64      `json:"slot"`
	ConfirmationStatus string      `json:"confirmation_status"`
	Err                interface{} `json:"err"`
}

// Result reports an atomically landed bundle. A Result is only produced when
// every bundled transaction landed in the same slot; partial landing is
// always a failure.
type Result struct {
	BundleID    string
	Slot        uint64
	Signatures  []solana.Signature
	TxCount     int
	TipLamports uint64
	TipSOL      float64
}

// VerifiedTransaction is one signature's independent ledger-side check.
type VerifiedTransaction struct {
	Signature solana.Signature
	Slot      uint64
	Success   bool
}
