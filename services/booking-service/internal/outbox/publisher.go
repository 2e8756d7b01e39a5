package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pawtrack/vetbook/libs/db"
	"github.com/pawtrack/vetbook/libs/kafkax"
	otelx "github.com/pawtrack/vetbook/libs/otel"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	maxDelay  time.Duration
	batchSize int
	retain    time.Duration
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retain is how long published rows are kept; zero keeps them forever.
	Retain time.Duration
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger.With("component", "outbox"),
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		maxDelay:  16 * cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retain:    cfg.Retain,
	}
}

// Run polls the outbox until ctx is done. A full batch is followed at once by
// the next one; failures back off up to sixteen poll intervals.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()

	timer := time.NewTimer(p.pollEvery)
	defer timer.Stop()
	failures := 0
	lastPrune := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := p.publishBatch(ctx, writer)
		delay := p.pollEvery
		switch {
		case err != nil:
			failures++
			delay = p.backoff(failures)
			p.logger.Error("outbox publish failed", "err", err, "retry_in", delay)
		case n == p.batchSize:
			failures = 0
			delay = 0
		default:
			failures = 0
		}
		if n > 0 {
			p.logger.Debug("outbox batch published", "count", n)
		}

		if p.retain > 0 && time.Since(lastPrune) >= p.retain/4 {
			lastPrune = time.Now()
			p.prune(ctx)
		}
		timer.Reset(delay)
	}
}

func (p *Publisher) backoff(failures int) time.Duration {
	d := p.pollEvery
	for i := 1; i < failures && d < p.maxDelay; i++ {
		d *= 2
	}
	return min(d, p.maxDelay)
}

func (p *Publisher) prune(ctx context.Context) {
	n, err := p.repo.Prune(ctx, p.pool, time.Now().Add(-p.retain))
	if err != nil {
		p.logger.Warn("outbox prune failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("outbox pruned", "deleted", n)
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil || len(records) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, len(records))
	ids := make([]int64, len(records))
	for i, r := range records {
		msgs[i] = Message(ctx, r)
		ids[i] = r.ID
	}
	// Rows stay locked until commit; a crash after the write republishes the
	// batch and consumers drop the repeats through their inbox.
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

// Message builds the Kafka message for r: topic is the event type, the key is
// the aggregate id so one appointment's events stay ordered on a partition.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.TraceContext{Traceparent: r.Traceparent, Tracestate: r.Tracestate}.Restore(ctx)
	meta := kafkax.EventMeta{
		EventID:     r.EventID,
		EventType:   r.EventType,
		AggregateID: r.AggregateID,
		OccurredAt:  r.CreatedAt,
	}
	return kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, meta.Headers()),
	}
}
