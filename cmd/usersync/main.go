package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/usersync/internal/app"
	"github.com/davicafu/usersync/internal/config"
	infraEvents "github.com/davicafu/usersync/internal/infra/events"
	"github.com/davicafu/usersync/pkg/logger"
)

func main() {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "usersync",
		Short:         "Sincronización de usuarios por eventos: user service, notifier y gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig()
			if err != nil {
				return err
			}
			cfg = loaded
			logger.Init(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, ServiceName: "usersync-" + cmd.Name()})
			return infraEvents.RegisterMetrics(prometheus.DefaultRegisterer)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Logger().Sync() // flush buffers al salir
		},
	}

	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Servicio de usuarios (HTTP + publicación de eventos)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(cmd.Context(), cfg, true, false)
		},
	}

	notifierCmd := &cobra.Command{
		Use:   "notifier",
		Short: "Servicio de notificaciones (consumidor + HTTP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(cmd.Context(), cfg, false, true)
		},
	}

	gatewayCmd := &cobra.Command{
		Use:   "gateway",
		Short: "API gateway con rate limit y circuit breaker por ruta",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), cfg)
		},
	}

	allCmd := &cobra.Command{
		Use:   "all",
		Short: "Los tres servicios en un solo proceso (el broker en memoria solo funciona así)",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return runServices(ctx, cfg, true, true) })
			g.Go(func() error { return runGateway(ctx, cfg) })
			return g.Wait()
		},
	}

	root.AddCommand(apiCmd, notifierCmd, gatewayCmd, allCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// runServices arranca el user service y/o el notifier compartiendo un broker.
func runServices(ctx context.Context, cfg *config.Config, withAPI, withNotifier bool) error {
	log := logger.Logger()

	broker, err := app.NewBroker(cfg, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	g, ctx := errgroup.WithContext(ctx)

	if withAPI {
		store, err := app.OpenStore(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		cache, rdb := app.NewCache(ctx, cfg, log)
		if rdb != nil {
			defer rdb.Close()
		}

		api := app.NewUserAPI(cfg, store, cache, broker, log.Named("user"))
		g.Go(func() error { return api.Run(ctx, ":"+cfg.HTTPPort) })
	}

	if withNotifier {
		notifier, err := app.NewNotifier(ctx, cfg, broker, log.Named("notification"))
		if err != nil {
			return fmt.Errorf("build notifier: %w", err)
		}
		g.Go(func() error { return notifier.Run(ctx, ":"+cfg.NotificationHTTPPort) })
	}

	if err := g.Wait(); err != nil {
		log.Error("❌ Servicio terminado con error", zap.Error(err))
		return err
	}
	log.Info("👋 Servicios detenidos")
	return nil
}

func runGateway(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("gateway")

	_, rdb := app.NewCache(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	handler, err := app.NewGateway(cfg, rdb, prometheus.NewRegistry(), log)
	if err != nil {
		return err
	}
	return app.Serve(ctx, ":"+cfg.GatewayHTTPPort, handler, log)
}
