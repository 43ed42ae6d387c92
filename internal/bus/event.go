package bus

import "time"

// Event kinds published by the engine. Subscribers filter by topic prefix,
// e.g. "message." receives both upserts and send failures.
const (
	KindSyncCycle       = "sync.cycle"
	KindSyncError       = "sync.error"
	KindMessageUpserted = "message.upserted"
	KindSendFailed      = "message.send_failed"
	KindReceiptSent     = "receipt.sent"
	KindStatusChanged   = "session.status_changed"
	KindIdentityChanged = "session.identity_changed"
)

// Event is a domain event delivered through the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// CycleResult is the payload of a sync.cycle event.
type CycleResult struct {
	Messages      int
	Conversations int
	Promoted      int
	Elapsed       time.Duration
}

// SendFailure is the payload of a message.send_failed event. Body carries the
// original text so the composer can restore what the user typed.
type SendFailure struct {
	TempID    string
	Receiver  string
	ListingID int64
	Body      string
	Err       string
}
