package receipt

import (
	"context"
	"sync"

	"github.com/kaanbt/pazar/internal/bus"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/store"
	"go.uber.org/zap"
)

// ReadMarker is the API surface the coordinator needs.
type ReadMarker interface {
	MarkRead(ctx context.Context, id string) error
}

// Coordinator issues mark-as-read requests for messages the user has seen,
// exactly once per message per session. Repeated poll cycles re-trigger the
// same conversations, so idempotence lives here: an id is retired only on a
// confirmed 2xx or when a later fetch shows it already read server-side.
// A failed request stays eligible and is retried on the next trigger.
type Coordinator struct {
	marker ReadMarker
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.Mutex
	sent map[string]bool // receipts confirmed delivered this session
}

// NewCoordinator creates a coordinator. logger may be nil.
func NewCoordinator(marker ReadMarker, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{marker: marker, bus: b, logger: logger, sent: make(map[string]bool)}
}

// ConversationOpened fires when a conversation becomes the displayed one.
// It marks every unread incoming message in it and returns the ids whose
// receipts were delivered.
func (c *Coordinator) ConversationOpened(ctx context.Context, conversation *conv.Conversation, currentUser string) []string {
	if conversation == nil {
		return nil
	}

	var delivered []string
	for _, m := range conversation.Messages {
		if m.Pending || m.Receiver != currentUser || m.Read {
			continue
		}
		c.mu.Lock()
		already := c.sent[m.ID]
		c.mu.Unlock()
		if already {
			continue
		}

		if err := c.marker.MarkRead(ctx, m.ID); err != nil {
			// Retried at the next open of this conversation.
			c.logger.Warn("read receipt failed",
				zap.String("msg_id", m.ID),
				zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.sent[m.ID] = true
		c.mu.Unlock()
		delivered = append(delivered, m.ID)
		if c.bus != nil {
			c.bus.Emit(bus.KindReceiptSent, m.ID)
		}
	}
	return delivered
}

// Observe runs after each merge. Ids the server now reports as read no
// longer need session tracking; ids that vanished from the feed are dropped
// too, so the set cannot grow across account lifetimes.
func (c *Coordinator) Observe(snapshot []store.Message) {
	confirmed := make(map[string]bool, len(snapshot))
	for _, m := range snapshot {
		if m.Pending {
			continue
		}
		confirmed[m.ID] = m.Read
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.sent {
		read, present := confirmed[id]
		if !present || read {
			delete(c.sent, id)
		}
	}
}

// Reset forgets all session state. Called on account switch.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = make(map[string]bool)
}
