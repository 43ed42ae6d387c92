package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kaanbt/pazar/internal/api"
	"github.com/kaanbt/pazar/internal/bus"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/outbox"
	"github.com/kaanbt/pazar/internal/receipt"
	"github.com/kaanbt/pazar/internal/session"
	"github.com/kaanbt/pazar/internal/status"
	"github.com/kaanbt/pazar/internal/store"
)

type fakeFetcher struct {
	calls atomic.Int32
	hook  func() // runs inside FetchMessages, before it returns
	msgs  []store.Message
	err   error
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, username string) ([]store.Message, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

// fakeIdentity holds the active account; empty username means logged out.
type fakeIdentity struct {
	v atomic.Value
}

func (f *fakeIdentity) set(name string) {
	f.v.Store(session.Identity{Username: name})
}

func (f *fakeIdentity) Current() (session.Identity, bool) {
	id, _ := f.v.Load().(session.Identity)
	return id, id.Username != ""
}

type fakeSender struct{}

func (fakeSender) SendMessage(ctx context.Context, req api.SendRequest) error { return nil }

type fakeMarker struct{}

func (fakeMarker) MarkRead(ctx context.Context, id string) error { return nil }

type fakeCache struct {
	username string
	saved    []store.Message
	err      error
}

func (c *fakeCache) SaveSnapshot(username string, msgs []store.Message) error {
	if c.err != nil {
		return c.err
	}
	c.username = username
	c.saved = msgs
	return nil
}

type fixture struct {
	sched    *Scheduler
	store    *store.Store
	tracker  *outbox.Tracker
	machine  *status.Machine
	bus      *bus.Bus
	fetcher  *fakeFetcher
	identity *fakeIdentity
	cache    *fakeCache
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	st := store.New()
	b := bus.New()
	fetcher := &fakeFetcher{}
	ident := &fakeIdentity{}
	cache := &fakeCache{}
	tracker := outbox.NewTracker(st, fakeSender{}, b, nil)
	f := &fixture{
		store:    st,
		tracker:  tracker,
		machine:  status.NewMachine(b),
		bus:      b,
		fetcher:  fetcher,
		identity: ident,
		cache:    cache,
	}
	f.sched = NewScheduler(Params{
		Store:    st,
		Index:    conv.NewIndex(nil),
		Tracker:  tracker,
		Receipts: receipt.NewCoordinator(fakeMarker{}, b, nil),
		Fetcher:  fetcher,
		Identity: ident,
		Cache:    cache,
		Machine:  f.machine,
		Bus:      b,
		Logger:   nil,
		Interval: interval,
	})
	return f
}

func stamp(offset time.Duration) string {
	return time.Now().UTC().Add(offset).Format("2006-01-02T15:04:05.000000")
}

func feedMessage(id, sender, receiver string, listing int64, body string) store.Message {
	return store.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		ProductID: listing,
		Body:      body,
		CreatedAt: stamp(0),
	}
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func TestCycleMergesRebuildsAndPublishes(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")
	f.fetcher.msgs = []store.Message{
		feedMessage("1", "kerem", "ayse", 7, "hala satilik mi"),
		feedMessage("2", "ayse", "kerem", 7, "evet"),
	}
	events, cancel := f.bus.Subscribe(bus.KindSyncCycle, 4)
	defer cancel()

	if !f.sched.TrySync(context.Background()) {
		t.Fatal("cycle did not run")
	}

	if confirmed, _ := f.store.Len(); confirmed != 2 {
		t.Fatalf("confirmed = %d, want 2", confirmed)
	}
	convs := f.sched.Conversations()
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	if convs[0].Key != (conv.Key{Peer: "kerem", ListingID: 7}) {
		t.Fatalf("unexpected key %+v", convs[0].Key)
	}
	if got := f.machine.Current(); got != status.Online {
		t.Fatalf("state = %v, want %v", got, status.Online)
	}

	ev := waitEvent(t, events)
	result, ok := ev.Payload.(bus.CycleResult)
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	if result.Messages != 2 || result.Conversations != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestOverlappingCycleSkipped(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.fetcher.hook = func() {
		close(entered)
		<-release
	}

	done := make(chan bool, 1)
	go func() { done <- f.sched.TrySync(context.Background()) }()
	<-entered

	if f.sched.TrySync(context.Background()) {
		t.Fatal("second cycle ran while the first was in flight")
	}

	close(release)
	if !<-done {
		t.Fatal("first cycle reported as skipped")
	}
	if got := f.fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}

	// Guard released: the next tick runs.
	f.fetcher.hook = nil
	if !f.sched.TrySync(context.Background()) {
		t.Fatal("cycle after release did not run")
	}
}

func TestFetchFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")
	f.fetcher.msgs = []store.Message{feedMessage("1", "kerem", "ayse", 7, "merhaba")}
	f.sched.TrySync(context.Background())

	errs, cancel := f.bus.Subscribe(bus.KindSyncError, 4)
	defer cancel()

	f.fetcher.err = errors.New("connection refused")
	f.sched.TrySync(context.Background())

	if confirmed, _ := f.store.Len(); confirmed != 1 {
		t.Fatalf("confirmed = %d, want 1 after failed cycle", confirmed)
	}
	if len(f.sched.Conversations()) != 1 {
		t.Fatal("view changed on failed cycle")
	}
	if got := f.machine.Current(); got != status.Degraded {
		t.Fatalf("state = %v, want %v", got, status.Degraded)
	}
	waitEvent(t, errs)

	// A later successful cycle recovers.
	f.fetcher.err = nil
	f.sched.TrySync(context.Background())
	if got := f.machine.Current(); got != status.Online {
		t.Fatalf("state = %v, want %v after recovery", got, status.Online)
	}
}

func TestStaleResponseDiscardedOnAccountSwitch(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")
	f.fetcher.msgs = []store.Message{feedMessage("1", "kerem", "ayse", 7, "merhaba")}
	f.sched.TrySync(context.Background())

	// The account changes while the next fetch is in flight.
	f.fetcher.hook = func() { f.identity.set("kerem") }
	f.fetcher.msgs = []store.Message{feedMessage("9", "ayse", "kerem", 7, "selam")}
	f.sched.TrySync(context.Background())

	snapshot := f.store.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != "1" {
		t.Fatalf("stale response was merged: %+v", snapshot)
	}

	// The new account's first cycle purges the previous session first.
	f.fetcher.hook = nil
	switches, cancel := f.bus.Subscribe(bus.KindIdentityChanged, 4)
	defer cancel()
	f.sched.TrySync(context.Background())

	snapshot = f.store.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != "9" {
		t.Fatalf("store after switch = %+v", snapshot)
	}
	ev := waitEvent(t, switches)
	if ev.Payload != "kerem" {
		t.Fatalf("identity change payload = %v", ev.Payload)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")
	f.fetcher.msgs = []store.Message{feedMessage("1", "kerem", "ayse", 7, "merhaba")}
	f.sched.TrySync(context.Background())

	f.identity.set("")
	before := f.fetcher.calls.Load()
	f.sched.TrySync(context.Background())

	if confirmed, pending := f.store.Len(); confirmed != 0 || pending != 0 {
		t.Fatalf("store not cleared: %d confirmed, %d pending", confirmed, pending)
	}
	if got := f.fetcher.calls.Load(); got != before {
		t.Fatal("fetched while logged out")
	}
	if got := f.machine.Current(); got != status.AuthRequired {
		t.Fatalf("state = %v, want %v", got, status.AuthRequired)
	}
}

func TestCyclePromotesReconciledSends(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")
	f.tracker.Register("ayse", "kerem", 7, "selam", "")

	f.fetcher.msgs = []store.Message{feedMessage("42", "ayse", "kerem", 7, "selam")}
	events, cancel := f.bus.Subscribe(bus.KindSyncCycle, 4)
	defer cancel()
	f.sched.TrySync(context.Background())

	if _, pending := f.store.Len(); pending != 0 {
		t.Fatalf("pending = %d, want 0", pending)
	}
	ev := waitEvent(t, events)
	if result := ev.Payload.(bus.CycleResult); result.Promoted != 1 {
		t.Fatalf("promoted = %d, want 1", result.Promoted)
	}
}

func TestSnapshotPersistedBestEffort(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.identity.set("ayse")
	f.fetcher.msgs = []store.Message{feedMessage("1", "kerem", "ayse", 7, "merhaba")}
	f.sched.TrySync(context.Background())

	if f.cache.username != "ayse" || len(f.cache.saved) != 1 {
		t.Fatalf("snapshot not saved: user %q, %d messages", f.cache.username, len(f.cache.saved))
	}

	// A cache write failure must not fail the cycle.
	f.cache.err = errors.New("disk full")
	f.sched.TrySync(context.Background())
	if got := f.machine.Current(); got != status.Online {
		t.Fatalf("state = %v after cache failure, want %v", got, status.Online)
	}
}

func TestWarmStartSeedsView(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.sched.WarmStart("ayse", []store.Message{feedMessage("1", "kerem", "ayse", 7, "merhaba")})

	if got := f.fetcher.calls.Load(); got != 0 {
		t.Fatalf("warm start fetched %d times", got)
	}
	convs := f.sched.Conversations()
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
}

func TestStartPollsOnCadence(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.identity.set("ayse")

	f.sched.Start(context.Background())
	time.Sleep(105 * time.Millisecond)
	f.sched.Stop()
	// Let a cycle that began before Stop finish counting.
	time.Sleep(20 * time.Millisecond)

	got := f.fetcher.calls.Load()
	if got < 3 {
		t.Fatalf("fetch calls = %d, want at least 3", got)
	}

	time.Sleep(50 * time.Millisecond)
	if after := f.fetcher.calls.Load(); after != got {
		t.Fatalf("scheduler kept polling after stop: %d -> %d", got, after)
	}
}
