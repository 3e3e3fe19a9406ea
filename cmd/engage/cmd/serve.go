package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/solatis/engage/internal/core/api"
	"github.com/solatis/engage/internal/core/auth"
	"github.com/solatis/engage/internal/core/config"
	"github.com/solatis/engage/internal/core/server"
	"github.com/solatis/engage/internal/core/storage"
	"github.com/solatis/engage/internal/core/telemetry"
	"github.com/solatis/engage/internal/sdk"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SDK with the local ingestion API and health endpoint",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1", "ingestion API host")
	serveCmd.Flags().Int("port", 8470, "ingestion API port")
	serveCmd.Flags().Int("health-port", 8471, "gRPC health port")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.API.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("health-port") {
		cfg.API.HealthPort, _ = cmd.Flags().GetInt("health-port")
	}

	device, err := config.LoadDevice()
	if err != nil {
		return err
	}
	secrets, err := config.APISecrets()
	if err != nil {
		return fmt.Errorf("failed to load API secrets: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "engage")
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.SDK.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.OpenSQLStore(ctx, resolveDBURL(cfg.SDK.DBURL))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	client, err := sdk.New(sdk.Options{
		TenantToken:     cfg.SDK.TenantToken,
		ConfigName:      cfg.SDK.ConfigName,
		GlobalConfigURL: cfg.SDK.GlobalConfigURL,
		TenantConfigURL: cfg.SDK.TenantConfigURL,
		DataDir:         cfg.SDK.DataDir,
		SharedDataDir:   cfg.SDK.SharedDataDir,
		Storage:         store,
		Device:          device,
		BufferCapacity:  cfg.SDK.BufferCapacity,
		TrackerBatch:    cfg.SDK.TrackerBatch,
		ProbeTimeout:    cfg.SDK.ProbeTimeout,
		RequestTimeout:  cfg.SDK.RequestTimeout,
		ConnectivityURL: cfg.SDK.ConnectivityURL,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create sdk: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewRouter(client, auth.NewAuthenticator(secrets), logger)
	if err != nil {
		return err
	}
	httpServer := api.NewServer(cfg.API.Host, cfg.API.Port, router, logger)

	healthServer, err := server.NewGRPCServer(cfg.API.Host, cfg.API.HealthPort, logger)
	if err != nil {
		return fmt.Errorf("failed to create health server: %w", err)
	}

	logger.Info("starting engage", "version", Version, "app_ns", device.AppNS, "platform", device.Platform)
	client.Start(ctx)
	go healthServer.Track(ctx, client)

	errChan := make(chan error, 2)
	go func() { errChan <- httpServer.Start() }()
	go func() { errChan <- healthServer.Start() }()

	select {
	case err = <-errChan:
		logger.Error("server stopped", "error", err)
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := httpServer.Shutdown(sctx); serr != nil {
		logger.Warn("ingestion API shutdown failed", "error", serr)
	}
	if serr := healthServer.Shutdown(sctx); serr != nil {
		logger.Warn("health endpoint shutdown failed", "error", serr)
	}
	client.Flush()
	if serr := client.Close(sctx); serr != nil {
		logger.Warn("sdk shutdown incomplete", "error", serr)
	}
	return err
}
