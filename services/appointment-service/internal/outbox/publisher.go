package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/ItsMoloy/Android-250/libs/db"
)

// Sink receives outbox records in id order. A Deliver error leaves the batch
// unpublished so it is retried on the next poll.
type Sink interface {
	Deliver(ctx context.Context, records []Record) error
}

type Publisher struct {
	db        db.DBTX
	repo      *Repository
	sink      Sink
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(conn db.DBTX, repo *Repository, sink Sink, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		db:        conn,
		repo:      repo,
		sink:      sink,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain quickly after bursts instead of waiting a tick per batch.
			for {
				n, err := p.PublishBatch(ctx)
				if err != nil {
					p.logger.Error("outbox publish failed", "err", err)
					break
				}
				if n < p.batchSize {
					break
				}
			}
		}
	}
}

// PublishBatch delivers up to one batch and returns how many rows it handled.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	if err := p.sink.Deliver(ctx, records); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}
