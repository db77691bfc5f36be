package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox"
	"github.com/angelmondragon/orgplans-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterWriter interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publishMetrics interface {
	ObservePublish(eventType string, result string)
}

// publisher is the slice of *pubsub.Publisher the relay needs.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams groups dependencies for the notification relay.
type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Broker      pinger
	Repository  outboxRepository
	Registry    eventResolver
	Publishers  func(topic string) publisher
	DeadLetters deadLetterWriter
	Metrics     publishMetrics
	Now         func() time.Time
}

// Relay moves committed notification rows from outbox_events to Pub/Sub.
// Rows for one organization are published in commit order: once a row for an
// organization fails, its later rows wait for the next pass.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	broker       pinger
	repo         outboxRepository
	registry     eventResolver
	publishers   func(topic string) publisher
	deadLetters  deadLetterWriter
	metrics      publishMetrics
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publishers == nil:
		return nil, errors.New("publisher source is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	}

	batch := params.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := params.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Relay{
		logg:         params.Logger,
		db:           params.DB,
		broker:       params.Broker,
		repo:         params.Repository,
		registry:     params.Registry,
		publishers:   params.Publishers,
		deadLetters:  params.DeadLetters,
		metrics:      params.Metrics,
		now:          now,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: interval,
	}, nil
}

// Run drains the outbox until ctx is cancelled. Failed passes back off
// exponentially; an empty outbox is polled at the configured interval.
func (r *Relay) Run(ctx context.Context) error {
	for name, dep := range map[string]pinger{"database": r.db, "pubsub": r.broker} {
		if err := dep.Ping(ctx); err != nil {
			r.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	backoff := r.failureBackoff()
	idle := retry.WithJitter(jitterWindow, retry.NewConstant(r.pollInterval))
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		pass, err := r.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay pass failed", err)
			wait, _ = backoff.Next()
		case pass.retried > 0:
			wait, _ = backoff.Next()
		case pass.total() > 0:
			backoff = r.failureBackoff()
			continue
		default:
			backoff = r.failureBackoff()
			wait, _ = idle.Next()
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Relay) failureBackoff() retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxBackoff, retry.NewExponential(r.pollInterval)))
}

type passSummary struct {
	published    int
	retried      int
	deadLettered int
	held         int
}

func (p passSummary) total() int {
	return p.published + p.retried + p.deadLettered + p.held
}

type rowOutcome string

const (
	rowPublished    rowOutcome = "published"
	rowRetry        rowOutcome = "retry"
	rowDeadLettered rowOutcome = "dead_lettered"
	rowHeld         rowOutcome = "held"
)

// drain handles one locked batch inside a single transaction.
func (r *Relay) drain(ctx context.Context) (passSummary, error) {
	var pass passSummary
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		pass = passSummary{}
		rows, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}

		blocked := make(map[uuid.UUID]struct{})
		for _, row := range rows {
			if _, ok := blocked[row.AggregateID]; ok {
				r.observe(row, rowHeld)
				pass.held++
				continue
			}
			outcome, err := r.handle(ctx, tx, row)
			if err != nil {
				return err
			}
			r.observe(row, outcome)
			switch outcome {
			case rowPublished:
				pass.published++
			case rowRetry:
				blocked[row.AggregateID] = struct{}{}
				pass.retried++
			case rowDeadLettered:
				pass.deadLettered++
			}
		}
		return nil
	})
	return pass, err
}

func (r *Relay) handle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (rowOutcome, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return rowDeadLettered, r.deadLetter(r.logg.WithFields(ctx, rowFields(row, nil)), tx, row, enums.OutboxDLQReasonUndecodable, err)
	}
	ctx = r.logg.WithFields(ctx, rowFields(row, resolved))

	err = r.publish(ctx, row, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case err == nil:
		if err := r.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(ctx, "notification published")
		return rowPublished, nil
	case errors.As(err, &nonRetryable):
		return rowDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	case row.Exhausted(r.maxAttempts):
		return rowDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	default:
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"attempt_count": row.NextAttempt(),
			"error":         err.Error(),
		}), "notification publish failed, will retry")
		if err := r.repo.MarkFailedTx(tx, row.ID, err); err != nil {
			return "", fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
		return rowRetry, nil
	}
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	orderingKey := row.AggregateID.String()
	msg := &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: orderingKey,
		Attributes:  messageAttributes(row, resolved.Envelope),
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		// An ordered publisher pauses the key after a failure.
		pub.ResumePublish(orderingKey)
		return err
	}
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "notification dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) observe(row models.OutboxEvent, outcome rowOutcome) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObservePublish(string(row.EventType), string(outcome))
}

func messageAttributes(row models.OutboxEvent, envelope outbox.Envelope) map[string]string {
	attrs := map[string]string{
		"outbox_id":       row.ID.String(),
		"event_type":      string(row.EventType),
		"aggregate_type":  string(row.AggregateType),
		"organization_id": row.AggregateID.String(),
		"created_at":      row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.EventID != "" {
		attrs["event_id"] = envelope.EventID
	}
	if source := envelope.Source(); source != "" {
		attrs["source"] = source
	}
	return attrs
}

func rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":       row.ID.String(),
		"event_type":      row.EventType,
		"organization_id": row.AggregateID.String(),
		"attempt_count":   row.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
