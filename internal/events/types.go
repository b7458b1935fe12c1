// internal/events/types.go
package events

import (
	"time"
)

// EventType identifies a lifecycle event class.
type EventType string

const (
	// Position lifecycle
	PositionOpened  EventType = "position.opened"
	PositionUpdated EventType = "position.updated"
	PositionClosed  EventType = "position.closed"

	// Rebalancing
	RebalanceTriggered EventType = "rebalance.triggered"
	RebalanceCompleted EventType = "rebalance.completed"
	RebalanceFailed    EventType = "rebalance.failed"

	// Execution
	SwapExecuted EventType = "swap.executed"
	SwapFailed   EventType = "swap.failed"
	BundleLanded EventType = "bundle.landed"
	BundleFailed EventType = "bundle.failed"
)

// Event is the base interface for all events. Events are one-way
// notifications for the dashboard layer; the engine never answers queries
// through the bus.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// NewBase stamps an event with its type and the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// PositionOpenedEvent is emitted when a position enters management.
type PositionOpenedEvent struct {
	BaseEvent
	Position string
	Pool     string
	LowerBin int32
	UpperBin int32
}

// PositionUpdatedEvent is the per-tick valuation snapshot.
type PositionUpdatedEvent struct {
	BaseEvent
	Position       string
	ActiveBin      int32
	LiquidityUSD   float64
	FeesUSD        float64
	TotalUSD       float64
	DistanceToMid  float64
	RebalanceBound float64
}

// PositionClosedEvent is emitted when the monitor terminates.
type PositionClosedEvent struct {
	BaseEvent
	Position string
	Reason   string
}

// RebalanceTriggeredEvent is emitted when the active bin leaves the band.
type RebalanceTriggeredEvent struct {
	BaseEvent
	Position  string
	ActiveBin int32
	Centre    float64
	Distance  float64
	Bound     float64
}

// RebalanceCompletedEvent carries the replacement position.
type RebalanceCompletedEvent struct {
	BaseEvent
	OldPosition string
	NewPosition string
}

// RebalanceFailedEvent terminates the monitoring run.
type RebalanceFailedEvent struct {
	BaseEvent
	Position string
	Error    error
}

// SwapExecutedEvent is emitted after a confirmed swap.
type SwapExecutedEvent struct {
	BaseEvent
	Signature  string
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
}

// SwapFailedEvent is emitted when the pipeline exhausts its attempts.
type SwapFailedEvent struct {
	BaseEvent
	InputMint  string
	OutputMint string
	Stage      string
	Error      error
}

// BundleLandedEvent is emitted when a bundle lands atomically.
type BundleLandedEvent struct {
	BaseEvent
	BundleID    string
	Slot        uint64
	TxCount     int
	TipLamports uint64
}

// BundleFailedEvent is emitted for rejected or timed-out bundles.
type BundleFailedEvent struct {
	BaseEvent
	BundleID string
	Reason   string
}

// Handler processes events delivered by the bus.
type Handler interface {
	Handle(event Event)
}

// HandlerFunc allows plain functions as handlers.
type HandlerFunc func(event Event)

func (f HandlerFunc) Handle(event Event) { f(event) }

// Subscription allows a handler to detach from the bus.
type Subscription interface {
	Unsubscribe()
}
