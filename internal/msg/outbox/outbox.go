package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reimbot/internal/model"
	"reimbot/pkg/kafka"
)

type Config struct {
	Topic string
}

// Publisher forwards processed reimbursements to the downstream messaging
// system as JSON events. Delivery is fire and forget from the watcher's
// point of view: a failed publish is the caller's to log, never to retry
// against the table.
type Publisher struct {
	l        *zap.Logger
	cfg      Config
	producer kafka.Producer
	now      func() time.Time
}

func NewPublisher(l *zap.Logger, cfg Config, producer kafka.Producer) *Publisher {
	return &Publisher{
		l:        l,
		cfg:      cfg,
		producer: producer,
		now:      time.Now,
	}
}

// Notify publishes a ProcessedEvent for the given correlation token.
func (p *Publisher) Notify(ctx context.Context, correlationToken, eta string) error {
	event := model.ProcessedEvent{
		CorrelationToken: correlationToken,
		ETA:              eta,
		Text: fmt.Sprintf(
			"Your reimbursement has been processed. It should arrive in your account on %s.", eta),
		ProcessedAt: p.now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	messageID := uuid.New()

	key, err := messageID.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message id: %w", err)
	}

	partition, offset, err := p.producer.PushMessage(ctx, key, payload, p.cfg.Topic)
	if err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}

	p.l.Info("Message sent",
		zap.String("message_id", messageID.String()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}
