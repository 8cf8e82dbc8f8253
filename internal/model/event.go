package model

import (
	"time"
)

// ProcessedEvent is published downstream once a reimbursement payment has
// been confirmed. The correlation token links the event back to the message
// that originated the request; ETA is the human-readable delivery estimate
// taken verbatim from the notification.
type ProcessedEvent struct {
	CorrelationToken string    `json:"correlationToken"`
	ETA              string    `json:"eta"`
	Text             string    `json:"text"`
	ProcessedAt      time.Time `json:"processedAt"`
}
