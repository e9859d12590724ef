package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxBroadcastHistory = 100

// BroadcastRecord tracks a sent broadcast.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
}

// Broadcaster fans reminders out to every connected chat platform.
type Broadcaster struct {
	gateway *Gateway
	history []BroadcastRecord
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		gateway: gw,
		logger:  logger,
	}
}

// Send broadcasts a message to all or selected platforms via the gateway.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("broadcast type is required")
	}

	b.logger.Info("sending broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title),
		zap.String("persona", msg.Persona))

	if err := b.gateway.Broadcast(ctx, msg); err != nil {
		return err
	}

	targets := msg.Platforms
	if len(targets) == 0 {
		targets = b.gateway.Adapters()
	}

	b.mu.Lock()
	b.history = append(b.history, BroadcastRecord{
		Message: msg,
		SentAt:  time.Now(),
		Targets: targets,
	})
	if len(b.history) > maxBroadcastHistory {
		b.history = append([]BroadcastRecord{}, b.history[len(b.history)-maxBroadcastHistory:]...)
	}
	b.mu.Unlock()
	return nil
}

// NotifyReminder broadcasts a medication reminder reply.
func (b *Broadcaster) NotifyReminder(ctx context.Context, text string) error {
	return b.Send(ctx, &BroadcastMessage{
		Type:    BroadcastReminder,
		Title:   "Medication reminder",
		Content: text,
		Persona: "medication-reminder",
	})
}

// History returns up to limit of the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]BroadcastRecord, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
