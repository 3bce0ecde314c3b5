package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/db"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/logger"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/scheduler"
)

// shutdownTimeout bounds how long serve waits for running recurring fires.
const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, the recurring scheduler and the health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	log := a.log
	ctx = logger.WithContext(ctx, log)

	if _, err := db.Migrate(a.cfg.Database.URL, log); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := a.connectBrokers(ctx); err != nil {
		return err
	}

	// Fires run to completion on shutdown, so they do not inherit ctx.
	registry := scheduler.NewRegistry(logger.WithContext(context.Background(), log), log)
	recurring := domain.NewRecurringService(a.accounts, a.transactions, a.recurring, a.txManager, registry, a.options()...)
	log.Info().Msg("domain services initialized")

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Register reflection service (useful for tools like grpcurl)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+a.cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", a.cfg.GRPC.Port, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", a.cfg.GRPC.Port).Msg("gRPC server starting")
		serveErr <- grpcServer.Serve(lis)
	}()

	jobs, err := recurring.Recover(ctx)
	if err != nil {
		grpcServer.Stop()
		return err
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	log.Info().Int("jobs", jobs).Msg("ledger is serving")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}

	log.Info().Msg("shutting down")
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("recurring fires still running at shutdown")
	}

	log.Info().Msg("ledger stopped")
	return nil
}
