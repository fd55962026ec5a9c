package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/depositledger/internal/db"
	"github.com/nkiryanov/depositledger/internal/events"
	"github.com/nkiryanov/depositledger/internal/events/kafka"
	"github.com/nkiryanov/depositledger/internal/handlers"
	"github.com/nkiryanov/depositledger/internal/ledger"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/service/auth"
	"github.com/nkiryanov/depositledger/internal/service/deposit"
	"github.com/nkiryanov/depositledger/internal/service/depositprocessor"
	"github.com/nkiryanov/depositledger/internal/service/gateway"
	"github.com/nkiryanov/depositledger/internal/service/reconcile"
	"github.com/nkiryanov/depositledger/internal/service/signature"
	"github.com/nkiryanov/depositledger/internal/service/sweeper"
	"github.com/nkiryanov/depositledger/internal/store"
	"github.com/nkiryanov/depositledger/internal/store/memory"
	pgstore "github.com/nkiryanov/depositledger/internal/store/postgres"
	redisstore "github.com/nkiryanov/depositledger/internal/store/redis"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper   *sweeper.Sweeper
	processor *depositprocessor.Processor // nil when polling is disabled
	logger    logger.Logger

	// Released after the server stops, in reverse order
	closers []func() error
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		logger:     logger,
	}

	s, err := app.openStore(ctx, c)
	if err != nil {
		app.close()
		return nil, err
	}

	var publisher events.Publisher = events.Noop{}
	if brokers := c.Brokers(); len(brokers) > 0 {
		kp := kafka.NewPublisher(brokers)
		app.closers = append(app.closers, kp.Close)
		publisher = kp
	}

	app.Handler, err = app.wire(c, s, publisher)
	if err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func (s *ServerApp) openStore(ctx context.Context, c *Config) (store.Store, error) {
	switch c.Storage {
	case StoragePostgres:
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		return pgstore.New(pool), nil

	case StorageRedis:
		client := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		return redisstore.New(client), nil

	default:
		s.logger.Warn("Records are kept in memory and lost on restart")
		return memory.New(), nil
	}
}

func (s *ServerApp) wire(c *Config, st store.Store, publisher events.Publisher) (http.Handler, error) {
	verifier, err := signature.NewVerifier(c.GatewaySecret)
	if err != nil {
		return nil, fmt.Errorf("error while creating signature verifier. Err: %w", err)
	}

	gw, err := gateway.NewClient(gateway.Config{
		Address: c.GatewayAddr,
		Secret:  c.GatewaySecret,
		Timeout: c.GatewayTimeout,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating gateway client. Err: %w", err)
	}

	coordinator, err := reconcile.New(reconcile.Config{
		SweepThreshold: c.SweepThreshold,
		VerifyTimeout:  c.GatewayTimeout,
	}, reconcile.Deps{
		Store:     st,
		Gateway:   gw,
		Signature: verifier,
		Publisher: publisher,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating coordinator. Err: %w", err)
	}

	tokenManager, err := auth.New(auth.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	depositService := deposit.New(st, gw, s.logger, deposit.WithCallbackURL(c.CallbackURL))
	deposits := ledger.NewDepositLedger(st)

	s.sweeper = sweeper.New(sweeper.Config{
		Interval:  c.SweepInterval,
		Threshold: c.SweepThreshold,
	}, deposits, coordinator, s.logger)

	if c.VerifyInterval > 0 {
		s.processor = depositprocessor.New(depositprocessor.Config{
			Interval: c.VerifyInterval,
		}, deposits, coordinator, s.logger)
	}

	return handlers.NewRouter(tokenManager, depositService, coordinator, s.logger), nil
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("Error while releasing resource", "error", err)
		}
	}
	s.closers = nil
}

// Run starts background workers and http server. Everything stops gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	workersStopped := s.startWorkers(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	for _, stopped := range workersStopped {
		<-stopped
	}

	return err
}

func (s *ServerApp) startWorkers(ctx context.Context) []<-chan struct{} {
	var stopped []<-chan struct{}
	if s.sweeper != nil {
		stopped = append(stopped, s.sweeper.Run(ctx))
	}
	if s.processor != nil {
		stopped = append(stopped, s.processor.Process(ctx))
	}
	return stopped
}
