package store

import (
	"testing"
	"time"
)

func confirmedMsg(id, sender, receiver, body string, ts string) Message {
	return Message{
		ID: id, Sender: sender, Receiver: receiver,
		ProductID: 7, Body: body, CreatedAt: ts,
	}
}

func TestMergeReplacesConfirmed(t *testing.T) {
	s := New()
	s.Merge([]Message{
		confirmedMsg("1", "a", "b", "hi", "2024-01-01T10:00:00"),
		confirmedMsg("2", "b", "a", "yo", "2024-01-01T10:01:00"),
	})

	// A later, smaller snapshot fully replaces the previous one.
	s.Merge([]Message{confirmedMsg("3", "a", "b", "new", "2024-01-01T11:00:00")})

	got := s.Confirmed()
	if len(got) != 1 || got[0].ID != "3" {
		t.Fatalf("Confirmed() = %+v, want only id 3", got)
	}
}

func TestMergeDuplicateLastWins(t *testing.T) {
	s := New()
	s.Merge([]Message{
		confirmedMsg("1", "a", "b", "first", "2024-01-01T10:00:00"),
		confirmedMsg("1", "a", "b", "second", "2024-01-01T10:00:00"),
	})

	got := s.Confirmed()
	if len(got) != 1 {
		t.Fatalf("got %d confirmed, want 1 (dedup by id)", len(got))
	}
	if got[0].Body != "second" {
		t.Errorf("Body = %q, want %q (last occurrence wins)", got[0].Body, "second")
	}
}

func TestMergeKeepsPending(t *testing.T) {
	s := New()
	s.InsertPending(Message{ID: "temp-1", Sender: "b", Receiver: "a", ProductID: 7, Body: "draft", SubmittedAt: time.Now()})
	s.Merge([]Message{confirmedMsg("1", "a", "b", "hi", "2024-01-01T10:00:00")})

	confirmed, pending := s.Len()
	if confirmed != 1 || pending != 1 {
		t.Errorf("Len() = %d,%d, want 1,1 (merge must not touch pending)", confirmed, pending)
	}
}

func TestSnapshotUnion(t *testing.T) {
	s := New()
	s.Merge([]Message{confirmedMsg("1", "a", "b", "hi", "2024-01-01T10:00:00")})
	s.InsertPending(Message{ID: "temp-1", Sender: "b", Receiver: "a", ProductID: 7, Body: "draft"})

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}

	var sawPending bool
	for _, m := range snap {
		if m.ID == "temp-1" {
			sawPending = true
			if !m.Pending {
				t.Error("pending entry lost its Pending flag")
			}
		}
	}
	if !sawPending {
		t.Error("pending entry missing from snapshot")
	}
}

func TestRemovePending(t *testing.T) {
	s := New()
	s.InsertPending(Message{ID: "temp-1", Body: "one"})
	s.InsertPending(Message{ID: "temp-2", Body: "two"})

	if !s.RemovePending("temp-1") {
		t.Fatal("RemovePending(temp-1) = false, want true")
	}
	if s.RemovePending("temp-1") {
		t.Error("second RemovePending(temp-1) = true, want false")
	}

	pending := s.Pending()
	if len(pending) != 1 || pending[0].ID != "temp-2" {
		t.Errorf("Pending() = %+v, want only temp-2", pending)
	}
}

func TestMergeStripsPendingFlag(t *testing.T) {
	s := New()
	// A confirmed copy arriving with a stray Pending flag must be stored
	// as confirmed.
	s.Merge([]Message{{ID: "1", Sender: "a", Receiver: "b", Body: "x", Pending: true}})
	got := s.Confirmed()
	if len(got) != 1 || got[0].Pending {
		t.Errorf("Confirmed() = %+v, want Pending=false", got)
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.Merge([]Message{confirmedMsg("1", "a", "b", "hi", "2024-01-01T10:00:00")})
	s.InsertPending(Message{ID: "temp-1"})

	s.Reset()

	confirmed, pending := s.Len()
	if confirmed != 0 || pending != 0 {
		t.Errorf("Len() after Reset = %d,%d, want 0,0", confirmed, pending)
	}
}
