// internal/swap/types.go
package swap

// QuoteParams describes the conversion the pipeline should price.
type QuoteParams struct {
	InputMint   string
	OutputMint  string
	AmountRaw   uint64
	SlippageBps uint16
}

// QuoteResponse is the venue's conversion offer. Amounts come back as raw
// integer strings; PriceImpactPct is a fraction (0.008 means 0.8%). The whole
// struct is the opaque payload required to build a transaction and is valid
// only for a short window.
type QuoteResponse struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          uint16          `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`

	ContextSlot uint64  `json:"contextSlot,omitempty"`
	TimeTaken   float64 `json:"timeTaken,omitempty"`
}

// RoutePlanStep is one hop of the quoted route.
type RoutePlanStep struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  *uint8   `json:"percent,omitempty"`
	Bps      uint16   `json:"bps,omitempty"`
}

// SwapInfo describes one AMM hop.
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label,omitempty"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}

// buildRequest is the POST body for the venue's swap-build endpoint.
type buildRequest struct {
	QuoteResponse             *QuoteResponse     `json:"quoteResponse"`
	UserPublicKey             string             `json:"userPublicKey"`
	WrapAndUnwrapSol          bool               `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool               `json:"dynamicComputeUnitLimit"`
	DynamicSlippage           bool               `json:"dynamicSlippage"`
	PrioritizationFeeLamports prioritizationFee  `json:"prioritizationFeeLamports"`
}

type prioritizationFee struct {
	PriorityLevelWithMaxLamports priorityLevelWithMax `json:"priorityLevelWithMaxLamports"`
}

type priorityLevelWithMax struct {
	MaxLamports   uint64 `json:"maxLamports"`
	PriorityLevel string `json:"priorityLevel"`
}

// BuiltSwap is the venue's transaction skeleton. SwapTransaction is a
// base64-encoded unsigned transaction whose blockhash is already stale by
// the time the execute stage runs; it is overwritten before signing.
type BuiltSwap struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports,omitempty"`
	ComputeUnitLimit          uint64 `json:"computeUnitLimit,omitempty"`
}

// apiError is the venue's JSON error envelope.
type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode,omitempty"`
}
