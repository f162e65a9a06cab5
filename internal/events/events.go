package events

import (
	"log"
	"time"

	"anypay-backend/internal/clients"
	"anypay-backend/internal/metrics"
)

// Event subjects, published under the configured prefix
const (
	SubjectDepositRegistered = "deposit.registered"
	SubjectDepositConfirmed  = "deposit.confirmed"
	SubjectPaymentExecuted   = "payment.executed"
	SubjectSwapTerminal      = "swap.terminal"
	SubjectRefundInitiated   = "refund.initiated"
)

// DepositEvent lifecycle event payload
type DepositEvent struct {
	Type           string    `json:"type"`
	DepositAddress string    `json:"deposit_address"`
	IntentID       string    `json:"intent_id"`
	TargetChain    string    `json:"target_chain,omitempty"`
	SwapStatus     string    `json:"swap_status,omitempty"`
	Artifact       string    `json:"artifact,omitempty"` // payment authorization artifact or tx hash
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher publishes deposit lifecycle events to NATS. A nil Publisher or a
// Publisher without a client is a no-op, so callers never guard their calls.
type Publisher struct {
	nats *clients.NATSClient
}

// NewPublisher creates an event publisher; nats may be nil when events are disabled
func NewPublisher(nats *clients.NATSClient) *Publisher {
	return &Publisher{nats: nats}
}

// Publish emits an event, logging and counting failures without propagating them
func (p *Publisher) Publish(subject string, event DepositEvent) {
	if p == nil || p.nats == nil {
		return
	}

	event.Type = subject
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := p.nats.Publish(subject, event); err != nil {
		metrics.EventsPublishFailed.WithLabelValues(subject).Inc()
		log.Printf("⚠️ [Events] Failed to publish %s for %s: %v", subject, event.DepositAddress, err)
		return
	}
	metrics.EventsPublished.WithLabelValues(subject).Inc()
}
