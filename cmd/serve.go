package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/threadlinehq/threadline/internal/compliance"
	"github.com/threadlinehq/threadline/internal/config"
	"github.com/threadlinehq/threadline/internal/httpapi"
	"github.com/threadlinehq/threadline/internal/intent"
	"github.com/threadlinehq/threadline/internal/pipeline"
	"github.com/threadlinehq/threadline/internal/providers"
	"github.com/threadlinehq/threadline/internal/services"
	"github.com/threadlinehq/threadline/internal/services/woo"
	"github.com/threadlinehq/threadline/internal/store"
	"github.com/threadlinehq/threadline/internal/store/pg"
	"github.com/threadlinehq/threadline/internal/store/sqlite"
	"github.com/threadlinehq/threadline/internal/tracing"
	"github.com/threadlinehq/threadline/internal/twilio"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (webhooks + management API)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, err := openStores(cfg)
	if err != nil {
		log.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	oracle := providers.NewOpenAIProvider(cfg.Oracle.APIKey, cfg.Oracle.APIBase, cfg.Oracle.Model)

	registry := services.NewRegistry()
	registry.Register(services.TypeWooCommerce, woo.New)

	sender := twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.MessagesPerSecond)

	proc := pipeline.New(pipeline.Config{
		Stores:     stores,
		Gate:       &compliance.Gate{},
		Classifier: intent.NewClassifier(oracle, log),
		Router:     services.NewRouter(registry, stores.Credentials, log),
		Oracle:     oracle,
		Sender:     sender,
		Log:        log,
	})
	proc.SetDevRedirect(cfg.Delivery.DevRedirect)
	if cfg.Delivery.DevRedirect != "" {
		log.Warn("dev redirect active: all outbound messages rerouted", "to", cfg.Delivery.DevRedirect)
	}

	server := httpapi.NewServer(cfg, proc, stores, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		// Hot-reload covers operational knobs only; listener and
		// storage changes need a restart.
		err := config.Watch(gctx, cfgPath, log, func(fresh *config.Config) {
			proc.SetDevRedirect(fresh.Delivery.DevRedirect)
		})
		if err == context.Canceled {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("gateway exited", "error", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.IsManaged() {
		return pg.NewPGStores(store.StoreConfig{
			Driver:        "postgres",
			DSN:           cfg.Database.PostgresDSN,
			EncryptionKey: cfg.Database.EncryptionKey,
		})
	}
	return sqlite.NewSQLiteStores(store.StoreConfig{
		Driver:        "sqlite",
		DSN:           config.ExpandHome(cfg.Database.SQLitePath),
		EncryptionKey: cfg.Database.EncryptionKey,
	})
}
