package store

import "time"

// Message is one marketplace message, confirmed or pending.
//
// Confirmed messages carry the server-assigned ID and a server-authoritative
// CreatedAt. Pending messages exist only locally: ID holds a client-generated
// temporary identifier, CreatedAt is a client-clock estimate, and SubmittedAt
// records when the send was issued so reconciliation can bound its match
// window.
type Message struct {
	ID        string
	Sender    string
	Receiver  string
	ProductID int64
	Body      string
	FilePath  string
	CreatedAt string // ISO-8601; compared as a string, the feed is lexically ordered
	Read      bool

	Pending     bool
	SubmittedAt time.Time
}

// HasAttachment reports whether the message references an uploaded file.
func (m *Message) HasAttachment() bool {
	return m.FilePath != ""
}

// Empty reports whether the message has neither body nor attachment, which
// the data model forbids.
func (m *Message) Empty() bool {
	return m.Body == "" && m.FilePath == ""
}
