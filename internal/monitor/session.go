// internal/monitor/session.go

// Package monitor runs the position control loop: observe the pool on an
// interval, value the position, and recenter it once the active bin drifts
// past the configured band.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/dlmm-bot/internal/dlmm"
	"github.com/rovshanmuradov/dlmm-bot/internal/events"
	"github.com/rovshanmuradov/dlmm-bot/internal/metrics"
)

// State is the session's lifecycle phase.
type State string

const (
	StateObserving   State = "observing"
	StateRebalancing State = "rebalancing"
	StateTerminated  State = "terminated"
)

// ErrSessionTerminated reports a fatal condition that ended the session.
var ErrSessionTerminated = errors.New("monitoring session terminated")

// PoolClient reads the pool and the managed position.
type PoolClient interface {
	RefreshPool(ctx context.Context, address solana.PublicKey) (*dlmm.Pool, error)
	Refresh(ctx context.Context, pool *dlmm.Pool, address solana.PublicKey) (*dlmm.Position, error)
	ActiveBin(pool *dlmm.Pool) dlmm.ActiveBin
}

// Rebalancer recenters a drifted position.
type Rebalancer interface {
	RecenterPosition(ctx context.Context, pool *dlmm.Pool, pos *dlmm.Position) (*dlmm.Position, error)
}

// Oracle prices the pool's tokens in USD.
type Oracle interface {
	Prices(ctx context.Context, mints []string) (map[string]float64, error)
}

// SessionConfig bounds one monitoring run.
type SessionConfig struct {
	PoolAddress solana.PublicKey
	Interval    time.Duration
	// Threshold is the drift bound as a fraction of position width. The
	// active bin may wander up to width*Threshold bins from the range
	// midpoint before a recenter fires.
	Threshold      float64
	TokenXDecimals uint8
	TokenYDecimals uint8
}

// Session monitors exactly one position. It moves between observing and
// rebalancing until a fatal condition terminates it.
type Session struct {
	config     SessionConfig
	pool       PoolClient
	rebalancer Rebalancer
	oracle     Oracle
	bus        *events.Bus
	metrics    *metrics.Collector
	logger     *zap.Logger

	mu       sync.RWMutex
	state    State
	position *dlmm.Position
	ticks    uint64
}

// NewSession creates a session for an existing position.
func NewSession(
	cfg SessionConfig,
	pool PoolClient,
	rebalancer Rebalancer,
	oracle Oracle,
	bus *events.Bus,
	mc *metrics.Collector,
	position *dlmm.Position,
	logger *zap.Logger,
) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.45
	}
	return &Session{
		config:     cfg,
		pool:       pool,
		rebalancer: rebalancer,
		oracle:     oracle,
		bus:        bus,
		metrics:    mc,
		logger:     logger.Named("monitor"),
		state:      StateObserving,
		position:   position,
	}
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Position returns the currently managed position.
func (s *Session) Position() *dlmm.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Run drives the control loop until the context is cancelled or the session
// terminates. Cancellation returns nil; termination returns the fatal cause
// wrapped in ErrSessionTerminated.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Monitoring session started",
		zap.String("pool", s.config.PoolAddress.String()),
		zap.String("position", s.Position().Address.String()),
		zap.Duration("interval", s.config.Interval),
		zap.Float64("threshold", s.config.Threshold))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitoring session stopped", zap.Uint64("ticks", s.tickCount()))
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.setState(StateTerminated)
				s.publish(&events.PositionClosedEvent{
					BaseEvent: events.NewBase(events.PositionClosed),
					Position:  s.Position().Address.String(),
					Reason:    err.Error(),
				})
				return fmt.Errorf("%w: %v", ErrSessionTerminated, err)
			}
		}
	}
}

// tick performs one observation cycle. A nil return keeps the loop going;
// a non-nil return is fatal.
func (s *Session) tick(ctx context.Context) error {
	s.bumpTick()

	pool, err := s.pool.RefreshPool(ctx, s.config.PoolAddress)
	if err != nil {
		if errors.Is(err, dlmm.ErrPoolNotFound) {
			return fmt.Errorf("pool unreadable: %w", err)
		}
		s.logger.Warn("Pool refresh failed, skipping tick", zap.Error(err))
		return nil
	}

	pos, err := s.pool.Refresh(ctx, pool, s.Position().Address)
	if err != nil {
		if errors.Is(err, dlmm.ErrPositionNotFound) {
			return fmt.Errorf("position gone: %w", err)
		}
		s.logger.Warn("Position refresh failed, skipping tick", zap.Error(err))
		return nil
	}
	s.setPosition(pos)

	valuation, err := s.value(ctx, pool, pos)
	if err != nil {
		s.logger.Warn("Valuation failed, skipping tick", zap.Error(err))
		return nil
	}

	active := s.pool.ActiveBin(pool)
	width := pos.Width()
	centre := pos.Centre()
	distance := pos.Distance(active.ID)
	bound := float64(width) * s.config.Threshold

	s.logger.Info("Position status",
		zap.Int32("active_bin", active.ID),
		zap.Int32("lower", pos.LowerBinID),
		zap.Int32("upper", pos.UpperBinID),
		zap.Float64("distance", distance),
		zap.Float64("bound", bound),
		zap.Float64("liquidity_usd", valuation.liquidityUSD),
		zap.Float64("fees_usd", valuation.feesUSD))

	if s.metrics != nil {
		s.metrics.SetValuation(valuation.liquidityUSD + valuation.feesUSD)
	}
	s.publish(&events.PositionUpdatedEvent{
		BaseEvent:      events.NewBase(events.PositionUpdated),
		Position:       pos.Address.String(),
		ActiveBin:      active.ID,
		LiquidityUSD:   valuation.liquidityUSD,
		FeesUSD:        valuation.feesUSD,
		TotalUSD:       valuation.liquidityUSD + valuation.feesUSD,
		DistanceToMid:  distance,
		RebalanceBound: bound,
	})

	if distance <= bound {
		return nil
	}

	// At most one recenter per tick.
	return s.recenter(ctx, pool, pos, active.ID, centre, distance, bound)
}

func (s *Session) recenter(ctx context.Context, pool *dlmm.Pool, pos *dlmm.Position, activeID int32, centre, distance, bound float64) error {
	s.setState(StateRebalancing)
	s.logger.Info("Recenter triggered",
		zap.Int32("active_bin", activeID),
		zap.Float64("centre", centre),
		zap.Float64("distance", distance),
		zap.Float64("bound", bound))
	s.publish(&events.RebalanceTriggeredEvent{
		BaseEvent: events.NewBase(events.RebalanceTriggered),
		Position:  pos.Address.String(),
		ActiveBin: activeID,
		Centre:    centre,
		Distance:  distance,
		Bound:     bound,
	})

	newPos, err := s.rebalancer.RecenterPosition(ctx, pool, pos)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRebalance(false)
		}
		s.publish(&events.RebalanceFailedEvent{
			BaseEvent: events.NewBase(events.RebalanceFailed),
			Position:  pos.Address.String(),
			Error:     err,
		})
		return fmt.Errorf("recenter failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordRebalance(true)
	}
	s.setPosition(newPos)
	s.setState(StateObserving)
	s.publish(&events.RebalanceCompletedEvent{
		BaseEvent:   events.NewBase(events.RebalanceCompleted),
		OldPosition: pos.Address.String(),
		NewPosition: newPos.Address.String(),
	})
	s.logger.Info("Recenter completed",
		zap.String("old_position", pos.Address.String()),
		zap.String("new_position", newPos.Address.String()),
		zap.Int32("new_lower", newPos.LowerBinID),
		zap.Int32("new_upper", newPos.UpperBinID))
	return nil
}

type valuation struct {
	liquidityUSD float64
	feesUSD      float64
}

// value prices the position's inventory and accrued fees in USD.
func (s *Session) value(ctx context.Context, pool *dlmm.Pool, pos *dlmm.Position) (valuation, error) {
	mintX := pool.TokenXMint.String()
	mintY := pool.TokenYMint.String()
	prices, err := s.oracle.Prices(ctx, []string{mintX, mintY})
	if err != nil {
		return valuation{}, err
	}

	scaleX := math.Pow10(int(s.config.TokenXDecimals))
	scaleY := math.Pow10(int(s.config.TokenYDecimals))
	amountX, amountY := pos.TotalAmounts()

	return valuation{
		liquidityUSD: float64(amountX)/scaleX*prices[mintX] + float64(amountY)/scaleY*prices[mintY],
		feesUSD:      float64(pos.FeeXPending)/scaleX*prices[mintX] + float64(pos.FeeYPending)/scaleY*prices[mintY],
	}, nil
}

func (s *Session) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.logger.Debug("Event dropped", zap.String("type", string(event.Type())), zap.Error(err))
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setPosition(pos *dlmm.Position) {
	s.mu.Lock()
	s.position = pos
	s.mu.Unlock()
}

func (s *Session) bumpTick() {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
}

func (s *Session) tickCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}
