package commands

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/config"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/db"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/domain"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/events"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/lock"
	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/logger"
)

// app holds the infrastructure shared by every command that touches the ledger.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	pool         *pgxpool.Pool
	accounts     *db.AccountRepository
	transactions *db.TransactionRepository
	recurring    *db.RecurringRepository
	txManager    *db.TransactionManager

	publisher *events.RabbitMQPublisher
	locker    *lock.RedisLocker
}

// loadApp reads the configuration and builds the root logger.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	return &app{cfg: cfg, log: log}, nil
}

// connect opens the database pool and creates the repositories.
func (a *app) connect(ctx context.Context) error {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:            a.cfg.Database.URL,
		MaxConns:       a.cfg.Database.MaxConns,
		MinConns:       a.cfg.Database.MinConns,
		ConnectTimeout: a.cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	a.log.Info().Msg("database connection pool initialized")

	a.pool = pool
	a.accounts = db.NewAccountRepository(pool)
	a.transactions = db.NewTransactionRepository(pool)
	a.recurring = db.NewRecurringRepository(pool)
	a.txManager = db.NewTransactionManager(pool)
	return nil
}

// connectBrokers opens the optional RabbitMQ publisher and Redis locker.
func (a *app) connectBrokers(ctx context.Context) error {
	if a.cfg.RabbitMQ.Enabled {
		p, err := events.NewRabbitMQPublisher(events.Config{
			URL:      a.cfg.RabbitMQ.URL,
			Exchange: a.cfg.RabbitMQ.Exchange,
		}, a.log)
		if err != nil {
			return err
		}
		a.publisher = p
	}

	if a.cfg.Redis.Addr != "" {
		l, err := lock.NewRedisLocker(ctx, lock.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Expiry:   a.cfg.Redis.LockExpiry,
		}, a.log)
		if err != nil {
			return err
		}
		a.locker = l
		a.log.Info().Str("addr", a.cfg.Redis.Addr).Msg("redis fire lock enabled")
	}
	return nil
}

// options returns the service options derived from the configuration.
func (a *app) options() []domain.Option {
	opts := []domain.Option{
		domain.WithLogger(a.log),
		domain.WithTracerProvider(otel.GetTracerProvider()),
		domain.WithPageSize(a.cfg.Ledger.PageSize),
		domain.WithDefaultCategory(a.cfg.Ledger.DefaultCategory),
	}
	if a.publisher != nil {
		opts = append(opts, domain.WithPublisher(a.publisher))
	}
	if a.locker != nil {
		opts = append(opts, domain.WithFireLocker(a.locker))
	}
	return opts
}

func (a *app) ledger() *domain.LedgerService {
	return domain.NewLedgerService(a.accounts, a.transactions, a.txManager, a.options()...)
}

// Close releases every connection opened by the app.
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
