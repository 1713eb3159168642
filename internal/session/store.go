package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"routechat/internal/models"
)

// ErrSessionBusy is returned when a second exchange is started on a session
// that is already mid-exchange. The store rejects rather than queues; callers
// retry after the in-flight exchange commits or cancels.
var ErrSessionBusy = errors.New("session busy")

// Key uniquely identifies one conversational context. Two different keys
// never observe each other's state.
type Key struct {
	UserID         string
	ConversationID string
}

// String renders the key as the single opaque identifier exposed externally.
func (k Key) String() string {
	return k.UserID + ":" + k.ConversationID
}

// Session is the per-key conversational context. Values handed out by the
// store are snapshots; only the store mutates the canonical record.
type Session struct {
	Key             Key           `json:"key"`
	History         []models.Turn `json:"history"`
	ModelPreference string        `json:"model_preference"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActiveAt    time.Time     `json:"last_active_at"`
}

// Journal persists committed exchanges. Implementations must write the user
// turn and the specialist turn atomically.
type Journal interface {
	RecordExchange(ctx context.Context, key Key, user, specialist models.Turn) error
}

// Cache is a best-effort snapshot store consulted when a key is first seen,
// so a restarted process can rehydrate warm conversations.
type Cache interface {
	LoadSnapshot(ctx context.Context, key Key) (*Session, bool)
	SaveSnapshot(ctx context.Context, s *Session)
}

type entry struct {
	mu      sync.RWMutex
	session Session
	slot    chan struct{} // exchange token, capacity 1
}

// Store holds all sessions, keyed and isolated per (user, conversation).
// Mutations on one key are serialized; different keys never block each
// other. Journal and cache are optional.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	journal Journal
	cache   Cache
}

func NewStore(journal Journal, cache Cache) *Store {
	return &Store{
		entries: make(map[Key]*entry),
		journal: journal,
		cache:   cache,
	}
}

// GetOrCreate returns a snapshot of the session for key, creating an empty
// one if the key has not been seen. Creation is atomic per key: concurrent
// first requests for the same conversation observe a single session.
func (s *Store) GetOrCreate(ctx context.Context, key Key, defaultPreference string) Session {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e.snapshot()
	}

	// First sighting of this key: a restarted process may find a snapshot in
	// the cache. Loaded outside the store lock; the recheck below keeps
	// creation atomic.
	var cached *Session
	if s.cache != nil {
		if snap, ok := s.cache.LoadSnapshot(ctx, key); ok && snap.Key == key {
			cached = snap
		}
	}

	s.mu.Lock()
	if e, ok = s.entries[key]; !ok {
		now := time.Now().UTC()
		e = &entry{slot: make(chan struct{}, 1)}
		if cached != nil {
			e.session = *cached
			e.session.LastActiveAt = now
		} else {
			e.session = Session{
				Key:             key,
				ModelPreference: defaultPreference,
				CreatedAt:       now,
				LastActiveAt:    now,
			}
		}
		s.entries[key] = e
	}
	s.mu.Unlock()
	return e.snapshot()
}

// Read returns a consistent snapshot of the session for key.
func (s *Store) Read(key Key) (Session, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

// BeginExchange claims the per-key exchange slot. It fails with
// ErrSessionBusy when another exchange on the same key has not yet released
// the slot. The returned function releases the slot and is safe to call once.
func (s *Store) BeginExchange(key Key) (func(), error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New("session not initialized")
	}
	select {
	case e.slot <- struct{}{}:
	default:
		return nil, ErrSessionBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-e.slot })
	}, nil
}

// AppendExchange commits one completed exchange: the user turn followed by
// the specialist turn, exactly once. The journal write happens first so a
// persistence failure leaves the in-memory history untouched.
func (s *Store) AppendExchange(ctx context.Context, key Key, userParts []models.ContentPart, specialistRole models.Role, responseParts []models.ContentPart) error {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return errors.New("session not initialized")
	}

	now := time.Now().UTC()
	userTurn := models.Turn{Role: models.RoleUser, Parts: userParts, CreatedAt: now}
	specialistTurn := models.Turn{Role: specialistRole, Parts: responseParts, CreatedAt: now}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.RecordExchange(ctx, key, userTurn, specialistTurn); err != nil {
			return err
		}
	}
	e.session.History = append(e.session.History, userTurn, specialistTurn)
	e.session.LastActiveAt = now

	if s.cache != nil {
		snap := e.snapshotLocked()
		s.cache.SaveSnapshot(ctx, &snap)
	}
	return nil
}

// SetPreference updates the session's model preference.
func (s *Store) SetPreference(key Key, preference string) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || preference == "" {
		return
	}
	e.mu.Lock()
	e.session.ModelPreference = preference
	e.mu.Unlock()
}

func (e *entry) snapshot() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *entry) snapshotLocked() Session {
	snap := e.session
	snap.History = make([]models.Turn, len(e.session.History))
	copy(snap.History, e.session.History)
	return snap
}
