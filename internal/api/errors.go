package api

import "fmt"

// TransportError covers network failures, non-2xx responses and malformed
// bodies on any marketplace call. Fetch and receipt callers absorb it and
// retry on their next natural trigger; send callers surface it so the user
// can retry.
type TransportError struct {
	Op     string
	Status int // 0 when the request never produced a response
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
