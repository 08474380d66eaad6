// Command zoneweaverd runs the host-local control-plane agent: the
// Store, Task Engine, Provisioning Orchestrator, Console Multiplexer,
// metric Collectors and HTTP surface, wired together per SPEC_FULL.md.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/collectors"
	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/config"
	"github.com/Makr91/zoneweaver-api/internal/console"
	"github.com/Makr91/zoneweaver-api/internal/engine"
	"github.com/Makr91/zoneweaver-api/internal/handlers"
	zwmetrics "github.com/Makr91/zoneweaver-api/internal/metrics"
	"github.com/Makr91/zoneweaver-api/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api/internal/server"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "zoneweaverd",
		Short: "Host-local control-plane agent for illumos/OmniOS zones",
		RunE:  run,
	}
	config.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.Store.Path, sugar)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runner := command.New()
	mux := console.NewMultiplexer(sugar.Named("console"))
	orch := orchestrator.New(st, sugar.Named("orchestrator"))

	eng := engine.New(st, engine.Config{
		Workers:        cfg.Engine.Workers,
		PollInterval:   cfg.Engine.PollInterval,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		RetryBaseDelay: cfg.Engine.RetryBaseDelay,
	}, sugar.Named("engine"))
	engine.NewHandlers(runner, st, mux).RegisterAll(eng)
	eng.Start(ctx)
	defer eng.Stop()

	collectorSet := []collectors.Collector{
		collectors.NewNetworkCollector(cfg.Host, runner, st, sugar.Named("collector.network"), cfg.Collectors.NetworkInterval),
		collectors.NewCPUCollector(cfg.Host, runner, st, sugar.Named("collector.cpu"), cfg.Collectors.CPUInterval),
		collectors.NewMemoryCollector(cfg.Host, runner, st, sugar.Named("collector.memory"), cfg.Collectors.MemoryInterval),
		collectors.NewSwapCollector(cfg.Host, runner, st, sugar.Named("collector.swap"), cfg.Collectors.SwapInterval),
		collectors.NewStorageCollector(cfg.Host, runner, st, sugar.Named("collector.storage"), cfg.Collectors.StorageInterval),
		collectors.NewArcCollector(cfg.Host, runner, st, sugar.Named("collector.arc"), cfg.Collectors.ArcInterval),
	}
	collectorManager := collectors.NewManager(cfg.Host, st, collectors.Config{
		MaxConsecutiveErrors: cfg.Collectors.MaxConsecutiveErrors,
		IdleResetWindow:      cfg.Collectors.IdleResetWindow,
	}, sugar.Named("collectors"), collectorSet...)
	collectorManager.Start(ctx)
	defer collectorManager.Stop()

	sweeper := collectors.NewRetentionSweeper(st, collectors.DefaultRetentionTables(), cfg.Collectors.RetentionSweep, sugar.Named("retention"))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	zwmetrics.NewRegistry(prometheus.DefaultRegisterer)

	zoneHandlers := handlers.NewZoneHandlers(st, orch)
	provisioningHandlers := handlers.NewProvisioningHandlers(st)
	consoleHandlers := handlers.NewConsoleHandlers(st, mux, sugar.Named("console.http"))
	statsHandlers := handlers.NewStatsHandlers(st, cfg.Host)

	srv := server.New(cfg.Server, logger,
		zoneHandlers.Register,
		provisioningHandlers.Register,
		consoleHandlers.Register,
		statsHandlers.Register,
	)

	errCh := make(chan error, 1)
	srv.Start(cfg.Server, errCh)
	sugar.Infow("zoneweaverd started", "host", cfg.Host, "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sugar.Errorw("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown order: HTTP stops accepting new work first, then the
	// Console Multiplexer tears down PTYs, then the Task Engine drains
	// its worker pool, then the Store closes last.
	if err := srv.Stop(shutdownCtx); err != nil {
		sugar.Errorw("http server shutdown failed", "error", err)
	}
	mux.DestroyAll()

	return nil
}
