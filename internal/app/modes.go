package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/price"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/route"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

// LiveMode trades against the configured chain through the deployed unit.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	bySymbol, _ := tokenSet(a.cfg)
	st, closeChain, err := a.buildChain(ctx, deps, bySymbol, true)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeChain)
	return a.runController(ctx, deps, st)
}

// PaperMode runs the whole pipeline against an in-process ledger, unit and
// seeded venues. Nothing leaves the process.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	bySymbol, _ := tokenSet(a.cfg)
	st, err := a.buildPaper(deps, bySymbol)
	if err != nil {
		return err
	}
	return a.runController(ctx, deps, st)
}

// MonitorMode scans live venues and publishes candidates without submitting.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	bySymbol, _ := tokenSet(a.cfg)
	st, closeChain, err := a.buildChain(ctx, deps, bySymbol, false)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeChain)
	return a.runController(ctx, deps, st)
}

// runController builds the risk, route and orchestrator layers on top of a
// mode stack and runs them with the archiver and HTTP server until ctx ends.
func (a *App) runController(ctx context.Context, deps *Dependencies, st *stack) error {
	cfg := a.cfg
	bySymbol, tokens := tokenSet(cfg)
	watches, err := watchList(cfg, bySymbol)
	if err != nil {
		return err
	}

	if deps.Registry != nil {
		known, err := deps.Registry.Load(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "token registry load failed", slog.String("error", err.Error()))
		}
		tokens = append(tokens, known...)
	}
	state := orchestrator.NewState(watches, tokens)

	cal := risk.New(risk.Config{
		Tolerance:      cfg.Risk.Tolerance,
		Critical:       cfg.Risk.Critical,
		Volatility:     cfg.Risk.Volatility,
		MinSamples:     cfg.Risk.MinSamples,
		LevelWindow:    cfg.Risk.LevelWindow,
		History:        cfg.Risk.History,
		FrontRunFactor: cfg.Risk.FrontRunFactor,
		Defaults: domain.Thresholds{
			MinProfitUSD:      cfg.Risk.MinProfitUSD,
			MinProfitPct:      cfg.Risk.MinProfitPct,
			SlippageBps:       cfg.Risk.SlippageBps,
			MinProfitMultiple: cfg.Risk.MinProfitMultiple,
			MEVProtection:     cfg.Execution.MEVProtection,
		},
	}, deps.Samples, a.logger)
	if err := cal.Load(ctx); err != nil {
		a.logger.WarnContext(ctx, "profit history load failed", slog.String("error", err.Error()))
	}

	var oracle price.Oracle = price.Chain(st.prices)
	if deps.PriceCache != nil {
		oracle = price.NewCached(oracle, deps.PriceCache, cfg.Price.CacheTTL.Duration, a.logger)
	}
	enum := route.NewEnumerator(route.EnumeratorConfig{
		MaxHops:          cfg.Scan.MaxHops,
		MaxIntermediates: cfg.Scan.MaxIntermediates,
	}, a.logger)
	sim := route.NewSimulator(route.SimulatorConfig{
		GasLimit:      cfg.Chain.GasLimit,
		WrappedNative: common.HexToAddress(cfg.Chain.WrappedNative),
		PremiumBps:    st.premiumBps,
	}, st.quoters, oracle, cal, a.logger)

	od := orchestrator.Deps{
		Quoters:    st.quoters,
		Enumerator: enum,
		Simulator:  sim,
		Gas:        st.gas,
		Calibrator: cal,
		Executions: deps.ExecutionStore,
		Cooldowns:  deps.Cooldowns,
		Local:      st.local,
		Public:     st.public,
		Bundle:     st.bundle,
		Audit:      deps.AuditStore,
		Bus:        deps.SignalBus,
		Pauser:     st.pauser,
		Params:     st.params,
		Registry:   deps.Registry,
	}
	if st.venues != nil {
		od.Venues = st.venues
	}
	// Interface fields stay untyped nil when the backend is off.
	if deps.Publisher != nil {
		od.Publisher = deps.Publisher
	}
	if deps.Notifier != nil {
		od.Alerts = deps.Notifier
	}
	if deps.BlobReader != nil {
		od.Discovery = s3blob.NewTokenList(deps.BlobReader, cfg.S3.TokenListPath, cfg.Chain.ChainID)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		ScanInterval:         cfg.Scan.Interval.Duration,
		GasInterval:          cfg.Scan.GasInterval.Duration,
		LiquidityInterval:    cfg.Scan.LiquidityInterval.Duration,
		DiscoveryInterval:    cfg.Scan.DiscoveryInterval.Duration,
		MaxExecutionsPerHour: cfg.Execution.MaxPerHour,
		Cooldown:             cfg.Execution.Cooldown.Duration,
		MEVProtection:        cfg.Execution.MEVProtection,
		MinLiquidity:         cfg.Scan.MinLiquidity,
		DryRun:               st.dryRun,
	}, od, state, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Only one instance may submit for a given unit.
	if deps.LockManager != nil && !st.dryRun {
		lease, err := orchestrator.AcquireLease(ctx, deps.LockManager,
			cfg.Execution.LeaseKey, cfg.Execution.LeaseTTL.Duration, a.logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return lease.Hold(ctx)
		})
	}

	g.Go(func() error {
		return orch.Supervise(ctx, cfg.Execution.RestartDelay.Duration)
	})

	if deps.Archiver != nil && cfg.S3.ArchiveEvery.Duration > 0 {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}

	if cfg.Server.Enabled {
		a.startServer(ctx, g, deps, st, orch, cal)
	}

	return g.Wait()
}

// runArchiver moves execution records older than ArchiveAfter to blob storage
// on every tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	ticker := time.NewTicker(a.cfg.S3.ArchiveEvery.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-a.cfg.S3.ArchiveAfter.Duration)
			n, err := archiver.ArchiveExecutions(ctx, cutoff)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived executions",
					slog.Int64("count", n),
					slog.Time("before", cutoff),
				)
			}
		}
	}
}

// startServer adds the HTTP server, websocket hub and shutdown watcher to g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, st *stack, orch *orchestrator.Orchestrator, cal *risk.Calibrator) {
	checks := make(map[string]handler.Check, len(deps.Checks)+len(st.checks))
	for name, c := range deps.Checks {
		checks[name] = c
	}
	for name, c := range st.checks {
		checks[name] = c
	}

	hub := ws.NewHub(deps.SignalBus, func() any {
		return orch.State().Snapshot()
	}, a.cfg.Server.CORSOrigins, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(checks),
		Status:     handler.NewStatusHandler(a.cfg.Mode, orch.State(), st.venues, cal),
		Executions: handler.NewExecutionHandler(deps.ExecutionStore, a.logger),
		Risk:       handler.NewRiskHandler(cal),
		Admin:      handler.NewAdminHandler(orch, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
