package outbox

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kaanbt/pazar/internal/api"
	"github.com/kaanbt/pazar/internal/bus"
	"github.com/kaanbt/pazar/internal/store"
	"go.uber.org/zap"
)

// createdAtLayout mirrors the server's isoformat timestamps so pending
// entries sort correctly against confirmed ones.
const createdAtLayout = "2006-01-02T15:04:05.000000"

// matchWindow bounds how long after submission a confirmed message may still
// be claimed by a pending entry. A pending older than this is dropped: its
// confirmed copy, if the send went through, is already in the snapshot.
const matchWindow = 10 * time.Minute

// MessageSender is the API surface the tracker needs.
type MessageSender interface {
	SendMessage(ctx context.Context, sr api.SendRequest) error
}

// Tracker owns the pending-send lifecycle: optimistic insert at submit time,
// promotion when a poll returns the confirmed copy, rollback on send failure.
// The pending entries themselves live in the store; the tracker is the only
// component that adds or removes them.
type Tracker struct {
	store  *store.Store
	sender MessageSender
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTracker creates a tracker over the given store. logger may be nil.
func NewTracker(st *store.Store, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: st, sender: sender, bus: b, logger: logger}
}

// Register inserts an optimistic pending message and returns its temporary
// id. The entry becomes visible to the next index rebuild immediately, before
// the network request resolves.
func (t *Tracker) Register(sender, receiver string, listingID int64, body, attachmentName string) string {
	now := time.Now().UTC()
	m := store.Message{
		ID:          "temp-" + uuid.New().String(),
		Sender:      sender,
		Receiver:    receiver,
		ProductID:   listingID,
		Body:        body,
		FilePath:    attachmentName,
		CreatedAt:   now.Format(createdAtLayout),
		SubmittedAt: now,
	}
	t.store.InsertPending(m)
	if t.bus != nil {
		t.bus.Emit(bus.KindMessageUpserted, m)
	}
	return m.ID
}

// Send registers an optimistic entry, performs the POST and rolls the entry
// back on failure. The returned error is the caller's signal to let the user
// retry; the typed text travels back on the send_failed event as well.
func (t *Tracker) Send(ctx context.Context, from, to string, listingID int64, body string, attachment io.Reader, attachmentName string) error {
	name := ""
	if attachment != nil {
		name = attachmentName
	}
	tempID := t.Register(from, to, listingID, body, name)

	err := t.sender.SendMessage(ctx, api.SendRequest{
		Sender:         from,
		Receiver:       to,
		ProductID:      listingID,
		Body:           body,
		Attachment:     attachment,
		AttachmentName: attachmentName,
	})
	if err != nil {
		t.Fail(tempID, err)
		return err
	}
	t.logger.Info("message sent",
		zap.String("temp_id", tempID),
		zap.String("receiver", to),
		zap.Int64("listing_id", listingID))
	return nil
}

// Reconcile is called after every successful fetch. Each pending entry that
// matches a confirmed message on (sender, receiver, listing, body,
// attachment presence) with a creation timestamp at or after its submission
// time is promoted: the temporary entry is dropped, the confirmed copy from
// the merge stays. Returns the number of promotions.
//
// Matching is best-effort: two identical sends to the same peer and listing
// inside one poll interval can swap bindings. The visible content and counts
// stay correct either way, so no client nonce is attempted.
func (t *Tracker) Reconcile(confirmed []store.Message) int {
	promoted := 0
	claimed := make(map[string]bool) // confirmed ids already bound

	for _, p := range t.store.Pending() {
		if idx := t.match(&p, confirmed, claimed); idx >= 0 {
			claimed[confirmed[idx].ID] = true
			t.store.RemovePending(p.ID)
			promoted++
			t.logger.Info("pending send confirmed",
				zap.String("temp_id", p.ID),
				zap.String("msg_id", confirmed[idx].ID))
			continue
		}
		if time.Since(p.SubmittedAt) > matchWindow {
			t.store.RemovePending(p.ID)
			t.logger.Warn("dropping unmatched pending send past match window",
				zap.String("temp_id", p.ID))
		}
	}
	return promoted
}

func (t *Tracker) match(p *store.Message, confirmed []store.Message, claimed map[string]bool) int {
	// Strictly at or after submission. A confirmed copy stamped earlier is a
	// previous identical send, not this one; claiming it would orphan the
	// in-flight POST and swallow its failure.
	earliest := p.SubmittedAt.Format(createdAtLayout)
	latest := p.SubmittedAt.Add(matchWindow).Format(createdAtLayout)

	for i := range confirmed {
		c := &confirmed[i]
		if claimed[c.ID] {
			continue
		}
		if c.Sender != p.Sender || c.Receiver != p.Receiver || c.ProductID != p.ProductID {
			continue
		}
		if c.Body != p.Body || c.HasAttachment() != p.HasAttachment() {
			continue
		}
		if c.CreatedAt < earliest || c.CreatedAt > latest {
			continue
		}
		return i
	}
	return -1
}

// Fail rolls back an optimistic entry after its send request errored. The
// user-visible input must not be lost: the original body rides on the event
// so the composer can restore it.
func (t *Tracker) Fail(tempID string, cause error) {
	var failed *store.Message
	for _, p := range t.store.Pending() {
		if p.ID == tempID {
			failed = &p
			break
		}
	}
	if !t.store.RemovePending(tempID) {
		return
	}

	t.logger.Error("send failed, rolled back optimistic message",
		zap.String("temp_id", tempID),
		zap.Error(cause))

	if t.bus != nil && failed != nil {
		t.bus.Emit(bus.KindSendFailed, bus.SendFailure{
			TempID:    tempID,
			Receiver:  failed.Receiver,
			ListingID: failed.ProductID,
			Body:      failed.Body,
			Err:       cause.Error(),
		})
	}
}
