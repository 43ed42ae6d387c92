package conv

import (
	"slices"
	"strconv"

	"github.com/kaanbt/pazar/internal/store"
	"go.uber.org/zap"
)

// Key identifies a conversation: the other participant paired with the
// listing the exchange is about. An explicit struct rather than a joined
// string, so a separator character inside a username cannot collide keys.
type Key struct {
	Peer      string
	ListingID int64
}

// Conversation is a derived view over the store snapshot, never stored.
type Conversation struct {
	Key          Key
	Messages     []store.Message // newest-first, for list previews
	Unread       int
	LastActivity string // created_at of the most recent message
}

// Last returns the newest message, or nil for an empty conversation.
func (c *Conversation) Last() *store.Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[0]
}

// Thread returns the oldest-first ordering used by the thread display.
func (c *Conversation) Thread() []store.Message {
	out := make([]store.Message, len(c.Messages))
	for i, m := range c.Messages {
		out[len(out)-1-i] = m
	}
	return out
}

// Index rebuilds conversation views from store snapshots. Rebuild is a pure
// function of its input: no I/O, same snapshot in, same conversations out.
type Index struct {
	logger *zap.Logger
}

// NewIndex creates an index. logger may be nil.
func NewIndex(logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{logger: logger}
}

// Rebuild partitions msgs into conversations for currentUser and orders
// everything deterministically. Messages violating the data model (neither
// participant is currentUser, or neither body nor attachment) are excluded
// with a warning, never fatal.
func (ix *Index) Rebuild(msgs []store.Message, currentUser string) []Conversation {
	byKey := make(map[Key]*Conversation)
	var order []Key

	for _, m := range msgs {
		peer, ok := ix.peerOf(&m, currentUser)
		if !ok {
			continue
		}
		key := Key{Peer: peer, ListingID: m.ProductID}
		c, exists := byKey[key]
		if !exists {
			c = &Conversation{Key: key}
			byKey[key] = c
			order = append(order, key)
		}
		c.Messages = append(c.Messages, m)
		if m.Receiver == currentUser && !m.Read {
			c.Unread++
		}
	}

	out := make([]Conversation, 0, len(order))
	for _, key := range order {
		c := byKey[key]
		slices.SortStableFunc(c.Messages, compareNewestFirst)
		c.LastActivity = c.Messages[0].CreatedAt
		out = append(out, *c)
	}

	// Most recently active conversation first; ties broken on the key so
	// re-sorting a fixed snapshot is idempotent.
	slices.SortStableFunc(out, func(a, b Conversation) int {
		if a.LastActivity != b.LastActivity {
			if a.LastActivity > b.LastActivity {
				return -1
			}
			return 1
		}
		if a.Key.Peer != b.Key.Peer {
			if a.Key.Peer < b.Key.Peer {
				return -1
			}
			return 1
		}
		switch {
		case a.Key.ListingID < b.Key.ListingID:
			return -1
		case a.Key.ListingID > b.Key.ListingID:
			return 1
		}
		return 0
	})
	return out
}

// peerOf computes the conversation partner. Exactly one of sender/receiver
// must be currentUser; anything else is a data error.
func (ix *Index) peerOf(m *store.Message, currentUser string) (string, bool) {
	if m.Empty() {
		ix.logger.Warn("excluding message with neither body nor attachment",
			zap.String("msg_id", m.ID))
		return "", false
	}
	fromMe := m.Sender == currentUser
	toMe := m.Receiver == currentUser
	if fromMe == toMe {
		ix.logger.Warn("excluding message not addressed to or from current user",
			zap.String("msg_id", m.ID),
			zap.String("sender", m.Sender),
			zap.String("receiver", m.Receiver))
		return "", false
	}
	if fromMe {
		return m.Receiver, true
	}
	return m.Sender, true
}

// compareNewestFirst is the total order inside a conversation: created_at
// descending, then confirmed ids; pending entries sort after confirmed ones
// with an equal timestamp, among themselves newest submission first.
func compareNewestFirst(a, b store.Message) int {
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt > b.CreatedAt {
			return -1
		}
		return 1
	}
	if a.Pending != b.Pending {
		if a.Pending {
			return 1
		}
		return -1
	}
	if a.Pending {
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			if a.SubmittedAt.After(b.SubmittedAt) {
				return -1
			}
			return 1
		}
		return compareID(b.ID, a.ID)
	}
	return compareID(b.ID, a.ID)
}

// compareID orders server identifiers numerically when both parse as
// integers (the common case) and lexically otherwise.
func compareID(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
