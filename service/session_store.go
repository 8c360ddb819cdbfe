package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nlu-agent/model"
)

// DefaultContextExpiry is the inactivity window after which a session is swept.
const DefaultContextExpiry = 1800 * time.Second

// Persister stores session snapshots outside the process.
type Persister interface {
	// Load returns nil, nil when no snapshot exists.
	Load(ctx context.Context, sessionID string) (*model.ContextSnapshot, error)
	Save(ctx context.Context, snap model.ContextSnapshot) error
	Delete(ctx context.Context, sessionID string) error
}

type sessionEntry struct {
	// lock is a one-slot semaphore so that acquiring can honour ctx and the
	// sweeper can try it without blocking.
	lock    chan struct{}
	dctx    *DialogueContext
	removed bool
}

func newSessionEntry() *sessionEntry {
	return &sessionEntry{lock: make(chan struct{}, 1)}
}

func (e *sessionEntry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *sessionEntry) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *sessionEntry) release() { <-e.lock }

// SessionStore owns the dialogue contexts of all sessions. Each session is
// guarded by its own lock; the store-wide mutex only protects the map.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	registry  *SlotRegistry
	opts      []ContextOption
	persister Persister
	onRemove  func(sessionID string)
	logger    *zap.Logger
	now       func() time.Time
}

// SessionStoreConfig holds dependencies for NewSessionStore.
type SessionStoreConfig struct {
	Registry             *SlotRegistry
	ShortAnswerMaxTokens int                    // zero uses DefaultShortAnswerMaxTokens
	Persister            Persister              // optional
	OnRemove             func(sessionID string) // called after a session is removed or swept
	Logger               *zap.Logger
	Clock                func() time.Time
}

func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	if cfg.Registry == nil {
		cfg.Registry = NewSlotRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ShortAnswerMaxTokens <= 0 {
		cfg.ShortAnswerMaxTokens = DefaultShortAnswerMaxTokens
	}
	return &SessionStore{
		sessions:  make(map[string]*sessionEntry),
		registry:  cfg.Registry,
		opts:      []ContextOption{WithShortAnswerMaxTokens(cfg.ShortAnswerMaxTokens), WithClock(cfg.Clock)},
		persister: cfg.Persister,
		onRemove:  cfg.OnRemove,
		logger:    cfg.Logger.Named("session-store"),
		now:       cfg.Clock,
	}
}

// Lease is exclusive access to one session until Release.
type Lease struct {
	store    *SessionStore
	id       string
	entry    *sessionEntry
	released bool
}

// Context returns the committed context. Callers that may abandon the turn
// should work on a Clone and Commit it at the end.
func (l *Lease) Context() *DialogueContext { return l.entry.dctx }

func (l *Lease) SessionID() string { return l.id }

// Commit makes updated the session's context and persists it.
func (l *Lease) Commit(ctx context.Context, updated *DialogueContext) {
	l.entry.dctx = updated
	if l.store.persister == nil {
		return
	}
	if err := l.store.persister.Save(ctx, updated.Snapshot(l.id)); err != nil {
		l.store.logger.Warn("Failed to persist session",
			zap.String("session_id", l.id),
			zap.Error(err))
	}
}

func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.entry.release()
}

// Acquire blocks until the session is free or ctx is done. The session is
// created, or restored from the persister, on first access.
func (s *SessionStore) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is empty", ErrInvalidParam)
	}

	for {
		s.mu.Lock()
		e, ok := s.sessions[sessionID]
		if !ok {
			e = newSessionEntry()
			s.sessions[sessionID] = e
		}
		s.mu.Unlock()

		if err := e.acquire(ctx); err != nil {
			return nil, err
		}
		if e.removed {
			// Lost a race with Remove or Sweep; start over on a fresh entry.
			e.release()
			continue
		}
		if e.dctx == nil {
			e.dctx = s.restore(ctx, sessionID)
		}
		return &Lease{store: s, id: sessionID, entry: e}, nil
	}
}

func (s *SessionStore) restore(ctx context.Context, sessionID string) *DialogueContext {
	if s.persister != nil {
		snap, err := s.persister.Load(ctx, sessionID)
		if err != nil {
			s.logger.Warn("Failed to load session snapshot, starting empty",
				zap.String("session_id", sessionID),
				zap.Error(err))
		} else if snap != nil {
			s.logger.Debug("Restored session", zap.String("session_id", sessionID))
			return RestoreDialogueContext(*snap, s.registry, s.opts...)
		}
	}
	s.logger.Debug("Created session", zap.String("session_id", sessionID))
	return NewDialogueContext(s.registry, s.opts...)
}

// Get returns a copy of the session's context, creating it on first access.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*DialogueContext, error) {
	lease, err := s.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return lease.Context().Clone(), nil
}

// Lookup returns a copy of an existing session without creating one.
func (s *SessionStore) Lookup(ctx context.Context, sessionID string) (*DialogueContext, bool, error) {
	if !s.exists(sessionID) {
		return nil, false, nil
	}
	dctx, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return dctx, true, nil
}

func (s *SessionStore) exists(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// Remove deletes the session, waiting for an in-flight turn to finish first.
// The snapshot is deleted before the entry is released, so a turn queued on the
// session starts empty instead of restoring it.
func (s *SessionStore) Remove(ctx context.Context, sessionID string) error {
	for {
		s.mu.Lock()
		e, ok := s.sessions[sessionID]
		if !ok {
			e = newSessionEntry()
			s.sessions[sessionID] = e
		}
		s.mu.Unlock()

		if err := e.acquire(ctx); err != nil {
			return err
		}
		if e.removed {
			e.release()
			continue
		}

		var err error
		if s.persister != nil {
			if derr := s.persister.Delete(ctx, sessionID); derr != nil {
				err = fmt.Errorf("delete session snapshot: %w", derr)
			}
		}
		s.drop(sessionID, e)
		s.notifyRemoved(sessionID)
		if err != nil {
			return err
		}
		s.logger.Debug("Removed session", zap.String("session_id", sessionID))
		return nil
	}
}

// drop tombstones a locked entry, takes it out of the map and releases it.
func (s *SessionStore) drop(sessionID string, e *sessionEntry) {
	s.mu.Lock()
	if s.sessions[sessionID] == e {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	e.removed = true
	e.release()
}

// ResetContext clears the intent and slot state of an existing session.
// History is kept. Unknown sessions are left alone.
func (s *SessionStore) ResetContext(ctx context.Context, sessionID string) error {
	if !s.exists(sessionID) {
		return nil
	}
	lease, err := s.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer lease.Release()

	updated := lease.Context().Clone()
	updated.Reset()
	lease.Commit(ctx, updated)
	return nil
}

// Sweep removes sessions idle for longer than maxAge and returns how many were
// removed. A session whose turn is in progress is skipped.
func (s *SessionStore) Sweep(maxAge time.Duration) int {
	now := s.now()
	// Expired entries stay locked until their snapshot is gone.
	expired := make(map[string]*sessionEntry)

	s.mu.Lock()
	for id, e := range s.sessions {
		if !e.tryAcquire() {
			continue
		}
		if e.dctx == nil || now.Sub(e.dctx.LastUpdated()) > maxAge {
			expired[id] = e
			continue
		}
		e.release()
	}
	s.mu.Unlock()

	for id, e := range expired {
		if s.persister != nil {
			if err := s.persister.Delete(context.Background(), id); err != nil {
				s.logger.Warn("Failed to delete swept session snapshot",
					zap.String("session_id", id),
					zap.Error(err))
			}
		}
		s.drop(id, e)
		s.notifyRemoved(id)
	}
	return len(expired)
}

func (s *SessionStore) notifyRemoved(sessionID string) {
	if s.onRemove != nil {
		s.onRemove(sessionID)
	}
}

// RunSweeper sweeps every interval until ctx is done.
func (s *SessionStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(maxAge); n > 0 {
				s.logger.Info("Swept idle sessions", zap.Int("removed", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// View projects a session for read-only callers.
func View(sessionID string, dctx *DialogueContext) model.SessionView {
	slots := dctx.CollectedSlots()
	if slots == nil {
		slots = model.Slots{}
	}
	return model.SessionView{
		SessionID:      sessionID,
		State:          dctx.Phase(),
		CurrentIntent:  dctx.CurrentIntent(),
		CollectedSlots: slots,
		MissingSlots:   dctx.MissingSlots(),
		AwaitingSlot:   string(dctx.AwaitingSlot()),
		History:        dctx.History(),
		LastUpdated:    dctx.LastUpdated(),
	}
}
