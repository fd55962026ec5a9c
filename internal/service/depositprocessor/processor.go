// Package depositprocessor polls the gateway for deposits whose webhook never came.
//
// Producer lists non-terminal deposits every interval, a pool of consumers asks
// the gateway about each of them through the verification path. When the gateway
// throttles, all workers pause until the retry-after moment.
package depositprocessor

import (
	"context"
	"time"

	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
)

const (
	defaultCountWorkers    = 4                // Number of workers verifying deposits
	defaultProduceInterval = 30 * time.Second // Interval for listing pending deposits
	defaultMinAge          = 10 * time.Second // Give the webhook a chance first
)

type depositLister interface {
	ListPending(ctx context.Context) ([]models.Deposit, error)
}

type verifier interface {
	VerifyReference(ctx context.Context, reference string) (models.ReconcileResult, error)
}

type Config struct {
	Workers  int
	Interval time.Duration

	// Deposits younger than MinAge are skipped
	MinAge time.Duration
}

type Processor struct {
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

func New(cfg Config, deposits depositLister, verifier verifier, logger logger.Logger) *Processor {
	if cfg.Workers == 0 {
		cfg.Workers = defaultCountWorkers
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultProduceInterval
	}
	if cfg.MinAge == 0 {
		cfg.MinAge = defaultMinAge
	}

	return &Processor{
		consumer: &Consumer{
			countWorkers: cfg.Workers,
			verifier:     verifier,
			logger:       logger,
		},
		producer: &Producer{
			interval: cfg.Interval,
			minAge:   cfg.MinAge,
			deposits: deposits,
			now:      time.Now,
			logger:   logger,
		},
		logger: logger,
	}
}

func (p *Processor) Process(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	depositChan := make(chan models.Deposit)

	producerStopped := p.producer.Produce(ctx, depositChan)
	consumerStopped := p.consumer.Consume(ctx, depositChan)

	go func() {
		defer close(idleStopped)
		<-producerStopped
		close(depositChan)
		<-consumerStopped
		p.logger.Debug("Deposit processor stopped")
	}()

	return idleStopped
}
