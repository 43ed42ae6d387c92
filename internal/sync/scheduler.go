// Package sync drives the poll cadence: fetch, merge, reconcile, rebuild,
// receipt evaluation, one cycle at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kaanbt/pazar/internal/bus"
	"github.com/kaanbt/pazar/internal/conv"
	"github.com/kaanbt/pazar/internal/outbox"
	"github.com/kaanbt/pazar/internal/receipt"
	"github.com/kaanbt/pazar/internal/session"
	"github.com/kaanbt/pazar/internal/status"
	"github.com/kaanbt/pazar/internal/store"
	"go.uber.org/zap"
)

// Fetcher is the API surface the scheduler needs.
type Fetcher interface {
	FetchMessages(ctx context.Context, username string) ([]store.Message, error)
}

// SnapshotWriter persists successful merges; nil disables persistence.
type SnapshotWriter interface {
	SaveSnapshot(username string, msgs []store.Message) error
}

// StaleIdentityError marks a response that resolved after the active account
// changed. Such responses are discarded silently: merging them would show one
// user another user's messages.
type StaleIdentityError struct {
	IssuedAs  string
	CurrentAs string
}

func (e *StaleIdentityError) Error() string {
	return fmt.Sprintf("response issued as %q resolved while active user is %q", e.IssuedAs, e.CurrentAs)
}

// Scheduler owns the fixed-cadence poll loop. Cycles are mutually exclusive:
// a tick that fires while a cycle is in flight is skipped, never queued, so
// an older response can never overwrite a newer one. The cadence does not
// change on failure.
type Scheduler struct {
	store    *store.Store
	index    *conv.Index
	tracker  *outbox.Tracker
	receipts *receipt.Coordinator
	fetcher  Fetcher
	identity session.Source
	cache    SnapshotWriter
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	inFlight   atomic.Bool
	activeUser atomic.Value // string: account the store currently belongs to
	view       atomic.Pointer[[]conv.Conversation]
	cancel     context.CancelFunc
}

// Params collects the scheduler's collaborators.
type Params struct {
	Store    *store.Store
	Index    *conv.Index
	Tracker  *outbox.Tracker
	Receipts *receipt.Coordinator
	Fetcher  Fetcher
	Identity session.Source
	Cache    SnapshotWriter
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
	Interval time.Duration
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(p Params) *Scheduler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		store:    p.Store,
		index:    p.Index,
		tracker:  p.Tracker,
		receipts: p.Receipts,
		fetcher:  p.Fetcher,
		identity: p.Identity,
		cache:    p.Cache,
		machine:  p.Machine,
		bus:      p.Bus,
		logger:   logger,
		interval: p.Interval,
	}
	s.activeUser.Store("")
	return s
}

// Start runs one cycle immediately, then one per interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.TrySync(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.TrySync(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop. An in-flight cycle is interrupted at its next network
// boundary; the store is never left half-merged because the merge itself is
// not cancellable.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// TrySync runs one cycle unless another is already in flight; reports
// whether it ran. The TUI's manual refresh shares this guard with the
// ticker.
func (s *Scheduler) TrySync(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Info("sync tick skipped, cycle in flight")
		return false
	}
	defer s.inFlight.Store(false)

	if err := s.runCycle(ctx); err != nil {
		var stale *StaleIdentityError
		if errors.As(err, &stale) {
			// Discarded silently per the session contract.
			s.logger.Info("discarded stale response",
				zap.String("issued_as", stale.IssuedAs),
				zap.String("current_as", stale.CurrentAs))
			return true
		}
		s.logger.Warn("sync cycle failed", zap.Error(err))
		s.transition(status.Degraded)
		if s.bus != nil {
			s.bus.Emit(bus.KindSyncError, err.Error())
		}
	}
	return true
}

// Conversations returns the view produced by the most recent completed
// cycle. Safe to call from any goroutine.
func (s *Scheduler) Conversations() []conv.Conversation {
	if v := s.view.Load(); v != nil {
		return *v
	}
	return nil
}

// RefreshView rebuilds the conversation view from the current store
// contents without a network round trip. Used after a local mutation such
// as registering an optimistic send.
func (s *Scheduler) RefreshView() []conv.Conversation {
	user := s.activeUser.Load().(string)
	if user == "" {
		return nil
	}
	return s.rebuild(user)
}

// WarmStart seeds the store and view from a cached snapshot so the UI has
// content before the first poll completes.
func (s *Scheduler) WarmStart(username string, msgs []store.Message) {
	if len(msgs) == 0 {
		return
	}
	s.activeUser.Store(username)
	s.store.Merge(msgs)
	s.rebuild(username)
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	started := time.Now()

	id, ok := s.identity.Current()
	if !ok {
		s.handleLoggedOut()
		return nil
	}
	s.handleAccountSwitch(id.Username)

	if s.machine != nil && s.machine.Current() != status.Online && s.machine.Current() != status.Degraded {
		s.transition(status.Syncing)
	}

	msgs, err := s.fetcher.FetchMessages(ctx, id.Username)
	if err != nil {
		return err
	}

	// The response is only valid for the account it was issued as.
	if current, ok := s.identity.Current(); !ok || current.Username != id.Username {
		return &StaleIdentityError{IssuedAs: id.Username, CurrentAs: currentName(current.Username, ok)}
	}

	s.store.Merge(msgs)
	promoted := s.tracker.Reconcile(msgs)
	convs := s.rebuild(id.Username)

	snapshot := s.store.Snapshot()
	s.receipts.Observe(snapshot)

	if s.cache != nil {
		if err := s.cache.SaveSnapshot(id.Username, msgs); err != nil {
			// Persistence is best-effort; the in-memory state is already correct.
			s.logger.Warn("snapshot cache write failed", zap.Error(err))
		}
	}

	s.transition(status.Online)
	if s.bus != nil {
		s.bus.Emit(bus.KindSyncCycle, bus.CycleResult{
			Messages:      len(msgs),
			Conversations: len(convs),
			Promoted:      promoted,
			Elapsed:       time.Since(started),
		})
	}
	return nil
}

func (s *Scheduler) rebuild(username string) []conv.Conversation {
	convs := s.index.Rebuild(s.store.Snapshot(), username)
	s.view.Store(&convs)
	return convs
}

func (s *Scheduler) handleLoggedOut() {
	if prev := s.activeUser.Load().(string); prev != "" {
		s.clearSession("")
	}
	s.transition(status.AuthRequired)
}

func (s *Scheduler) handleAccountSwitch(username string) {
	prev := s.activeUser.Load().(string)
	if prev == username {
		return
	}
	if prev != "" {
		s.clearSession(username)
	}
	s.activeUser.Store(username)
}

// clearSession drops every trace of the previous account: snapshot, pending
// sends, receipt dedup state and the derived view.
func (s *Scheduler) clearSession(next string) {
	s.store.Reset()
	s.receipts.Reset()
	empty := []conv.Conversation{}
	s.view.Store(&empty)
	s.activeUser.Store(next)
	if s.bus != nil {
		s.bus.Emit(bus.KindIdentityChanged, next)
	}
}

func (s *Scheduler) transition(to status.State) {
	if s.machine == nil || s.machine.Current() == to {
		return
	}
	// Invalid transitions (e.g. into a terminal state race) are ignored.
	_ = s.machine.Transition(to)
}

func currentName(name string, ok bool) string {
	if !ok {
		return ""
	}
	return name
}
