package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/critidx/internal/core/api"
	"github.com/solatis/critidx/internal/core/auth"
	"github.com/solatis/critidx/internal/core/config"
	"github.com/solatis/critidx/internal/core/db"
	"github.com/solatis/critidx/internal/core/server"
	"github.com/solatis/critidx/internal/core/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC criteria index service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
	serveCmd.Flags().Int("metrics-port", 9090, "prometheus metrics port (0 disables)")
	serveCmd.Flags().Bool("restore", false, "import the latest stored export of every group at startup")
	serveCmd.Flags().Bool("insecure", false, "disable API key authentication")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	v := config.New()
	for key, flag := range map[string]string{
		"server.host":         "host",
		"server.port":         "port",
		"server.metrics_port": "metrics-port",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	compression, err := store.ParseCompression(cfg.Snapshot.Compression)
	if err != nil {
		return err
	}

	database, queries, err := openDB(false)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.CheckSchema(database); err != nil {
		return fmt.Errorf("database schema not ready: %w", err)
	}

	manager, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	st := store.New(queries, compression)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if restore, _ := cmd.Flags().GetBool("restore"); restore {
		restored, err := st.Restore(ctx, manager, logger)
		if err != nil {
			return fmt.Errorf("failed to restore groups: %w", err)
		}
		logger.Info("groups restored", "count", len(restored))
	}

	var authenticator *auth.Authenticator
	if insecure, _ := cmd.Flags().GetBool("insecure"); !insecure {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET or pass --insecure)", config.EnvPrefix)
		}
		authenticator = auth.NewAuthenticator(secrets, queries)
	}

	service, err := api.NewService(manager, st, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, authenticator, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting critidx", "version", Version, "host", cfg.Server.Host, "port", cfg.Server.Port)
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return grpcServer.Shutdown(shutdownCtx)
	}
}
