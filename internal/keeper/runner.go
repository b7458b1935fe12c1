// internal/keeper/runner.go

// Package keeper wires the keeper's collaborators together and owns the
// process lifecycle: startup, initial position, monitoring, metrics
// endpoint and graceful shutdown.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/dlmm-bot/internal/bundle"
	"github.com/rovshanmuradov/dlmm-bot/internal/chain"
	"github.com/rovshanmuradov/dlmm-bot/internal/config"
	"github.com/rovshanmuradov/dlmm-bot/internal/dlmm"
	"github.com/rovshanmuradov/dlmm-bot/internal/events"
	"github.com/rovshanmuradov/dlmm-bot/internal/logger"
	"github.com/rovshanmuradov/dlmm-bot/internal/metrics"
	"github.com/rovshanmuradov/dlmm-bot/internal/monitor"
	"github.com/rovshanmuradov/dlmm-bot/internal/price"
	"github.com/rovshanmuradov/dlmm-bot/internal/swap"
	"github.com/rovshanmuradov/dlmm-bot/internal/wallet"
)

// Runner owns one keeper process.
type Runner struct {
	config     *config.Config
	logger     *zap.Logger
	wallet     *wallet.Wallet
	chain      *chain.Client
	dlmm       *dlmm.Client
	rebalancer *dlmm.Rebalancer
	oracle     *price.Client
	bus        *events.Bus
	metrics    *metrics.Collector
	shutdownCh chan os.Signal
}

// NewRunner builds the full collaborator graph from configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	w, err := wallet.Load(cfg.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	chainClient := chain.NewClient(cfg.RPCURL, logger, chain.WithSkipPreflight(cfg.SkipPreflight))

	programID := dlmm.MainnetProgramID
	if cfg.DLMMProgramID != "" {
		programID, err = solana.PublicKeyFromBase58(cfg.DLMMProgramID)
		if err != nil {
			return nil, fmt.Errorf("invalid dlmm_program_id: %w", err)
		}
	}
	dlmmClient := dlmm.NewClient(chainClient, programID, logger)

	mc := metrics.NewCollector()
	bus := events.NewBus(logger, 256)

	venue := swap.NewClient(cfg.QuoteAPIURL, cfg.QuoteAPIKey)
	pipeline := swap.NewPipeline(venue, chainClient, swap.Config{
		SlippageBps:            cfg.SlippageBps,
		MaxImpactPct:           cfg.MaxPriceImpactPct,
		MaxAttempts:            uint(cfg.MaxRetries),
		PriorityLevel:          cfg.PriorityLevel,
		MaxPriorityFeeLamports: cfg.PriorityFeeMaxLamports,
		RetryOnChainErrors:     cfg.RetryOnChainErrors,
	}, logger, mc)

	relay := bundle.NewRelayClient(cfg.BundleRelayURL)
	protocol := bundle.NewProtocol(relay, chainClient, w, bundle.Config{
		DefaultTipLamports: cfg.DefaultTipLamports,
		MaxRetries:         uint(cfg.MaxRetries),
		Timeout:            cfg.BundleTimeout(),
	}, logger, mc)

	rebalancer := dlmm.NewRebalancer(
		dlmmClient, w, chainClient, protocol, pipeline,
		bundle.PriorityTier(cfg.BundlePriority), bus, logger,
	)

	return &Runner{
		config:     cfg,
		logger:     logger,
		wallet:     w,
		chain:      chainClient,
		dlmm:       dlmmClient,
		rebalancer: rebalancer,
		oracle:     price.NewClient(cfg.PriceAPIURL, logger),
		bus:        bus,
		metrics:    mc,
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// Run starts the keeper and blocks until the session ends or a shutdown
// signal arrives. An in-flight rebalance gets the configured grace window
// to finish before the context is cut.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.shutdownCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poolAddress, err := solana.PublicKeyFromBase58(r.config.PoolAddress)
	if err != nil {
		return fmt.Errorf("invalid pool_address: %w", err)
	}

	pool, err := r.dlmm.RefreshPool(runCtx, poolAddress)
	if err != nil {
		return fmt.Errorf("failed to read pool: %w", err)
	}
	r.logger.Info("Pool loaded",
		zap.String("pool", pool.Address.String()),
		zap.Int32("active_bin", pool.ActiveID),
		zap.Uint16("bin_step", pool.BinStep))

	position, err := r.ensurePosition(runCtx, pool)
	if err != nil {
		return err
	}

	session := monitor.NewSession(monitor.SessionConfig{
		PoolAddress:    poolAddress,
		Interval:       r.config.MonitorInterval(),
		Threshold:      r.config.RecenterThreshold,
		TokenXDecimals: r.config.TokenXDecimals,
		TokenYDecimals: r.config.TokenYDecimals,
	}, r.dlmm, r.rebalancer, r.oracle, r.bus, r.metrics, position,
		logger.WithPosition(r.logger, position.Address.String()))

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return session.Run(gctx)
	})

	var metricsSrv *http.Server
	if r.config.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: r.config.MetricsListenAddr, Handler: mux}
		g.Go(func() error {
			r.logger.Info("Metrics endpoint listening", zap.String("addr", r.config.MetricsListenAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case sig := <-r.shutdownCh:
			r.logger.Info("Signal received, shutting down", zap.String("signal", sig.String()))
			// The grace window lets an in-flight rebalance attempt land or
			// fail cleanly before its context is cut.
			if session.State() == monitor.StateRebalancing {
				select {
				case <-gctx.Done():
				case <-time.After(r.config.ShutdownTimeout()):
					r.logger.Warn("Grace window elapsed, forcing shutdown")
				}
			}
			cancel()
			return nil
		}
	})

	err = g.Wait()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	busCtx, busCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if busErr := r.bus.Shutdown(busCtx); busErr != nil {
		r.logger.Warn("Event bus drain incomplete", zap.Error(busErr))
	}
	busCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Info("Keeper stopped")
	return nil
}

// ensurePosition adopts the wallet's existing position in the pool, or
// opens a fresh one centered on the active bin.
func (r *Runner) ensurePosition(ctx context.Context, pool *dlmm.Pool) (*dlmm.Position, error) {
	positions, err := r.dlmm.UserPositions(ctx, pool, r.wallet.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	if len(positions) > 0 {
		pos := positions[0]
		if len(positions) > 1 {
			r.logger.Warn("Multiple positions found, managing the first",
				zap.Int("count", len(positions)),
				zap.String("position", pos.Address.String()))
		}
		r.logger.Info("Adopting existing position",
			zap.String("position", pos.Address.String()),
			zap.Int32("lower", pos.LowerBinID),
			zap.Int32("upper", pos.UpperBinID))
		r.publishOpened(pos)
		return pos, nil
	}

	if r.config.InitialAmountX == 0 && r.config.InitialAmountY == 0 {
		return nil, errors.New("no position found and no initial amounts configured")
	}

	r.logger.Info("No position found, opening",
		zap.Int32("centre_bin", pool.ActiveID),
		zap.Int("width", r.config.PositionWidth))
	pos, err := r.rebalancer.OpenPosition(ctx, pool, dlmm.OpenParams{
		CentreBinID: pool.ActiveID,
		Width:       int32(r.config.PositionWidth),
		AmountX:     r.config.InitialAmountX,
		AmountY:     r.config.InitialAmountY,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open initial position: %w", err)
	}
	r.publishOpened(pos)
	return pos, nil
}

func (r *Runner) publishOpened(pos *dlmm.Position) {
	_ = r.bus.Publish(&events.PositionOpenedEvent{
		BaseEvent: events.NewBase(events.PositionOpened),
		Position:  pos.Address.String(),
		Pool:      pos.Pool.String(),
		LowerBin:  pos.LowerBinID,
		UpperBin:  pos.UpperBinID,
	})
}
