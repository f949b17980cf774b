package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrNoSession is returned by operations that need a current session.
var ErrNoSession = errors.New("no session")

// ErrSessionExpired is returned by [Store.Load] when the durable record has a
// token expiry in the past. The record is removed before returning.
var ErrSessionExpired = errors.New("session expired")

// ErrRecordCorrupt is returned by [Store.Load] when the durable record cannot
// be decoded. The record is removed before returning.
var ErrRecordCorrupt = errors.New("session record corrupt")

// DefaultPrefix namespaces durable keys when no prefix is configured.
const DefaultPrefix = "authflow"

const (
	keySession    = "session"
	keyLastActive = "last_active"
	keyRoute      = "route"
)

// Store holds the current session. Memory is authoritative for the running
// process; durable writes mirror it without the credential.
//
// Put, Patch and Drop change memory only. [Store.Sync] later writes the latest
// memory state, so callers holding their own locks can defer storage I/O.
type Store struct {
	storage Storage
	prefix  string
	now     func() time.Time

	mu      sync.RWMutex
	current *Session
	token   string
	version uint64

	// ioMu serializes storage I/O. It is taken before mu, never after.
	ioMu        sync.Mutex
	synced      uint64
	durableUser string
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the time source used for expiry and inactivity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store over storage. A nil storage falls back to a fresh
// [MemoryStorage].
func NewStore(storage Storage, prefix string, opts ...Option) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Store{
		storage: storage,
		prefix:  prefix,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return s.prefix + ":" + name
}

// Keys lists every durable key the store may write.
func (s *Store) Keys() []string {
	return []string{s.key(keySession), s.key(keyLastActive), s.key(keyRoute)}
}

// SetSession replaces the current session and writes its durable record.
// Switching to a different user drops the in-memory credential. The memory
// copy is updated even when the durable write fails; that error is returned
// for the caller to log.
func (s *Store) SetSession(ctx context.Context, sess Session) error {
	if err := s.Put(sess); err != nil {
		return err
	}
	return s.Sync(ctx)
}

// Put replaces the current session in memory. Switching to a different user
// drops the credential. Call [Store.Sync] to write it.
func (s *Store) Put(sess Session) error {
	if sess.UserID == "" {
		return errors.New("session userID required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.UserID != sess.UserID {
		s.token = ""
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = s.now()
	}
	s.current = &sess
	s.version++
	return nil
}

// Session returns a copy of the current session, or nil.
func (s *Store) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// SetAccessToken attaches a credential to the current session. It is never
// written to storage.
func (s *Store) SetAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	s.token = token
	if token != "" {
		s.current.Provisional = false
	}
	return nil
}

// AccessToken returns the in-memory credential. A non-empty result implies
// [Store.Session] is non-nil.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UpdateLastActive records user activity at the given time.
func (s *Store) UpdateLastActive(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if at.IsZero() {
		at = s.now()
	}
	if at.Before(s.current.LastActiveAt) {
		s.mu.Unlock()
		return nil
	}
	s.current.LastActiveAt = at
	s.version++
	s.mu.Unlock()

	return s.Sync(ctx)
}

// IsInactive reports whether the current session has had no activity for
// longer than timeout. Without a session, or without a recorded activity
// timestamp, it reports false.
func (s *Store) IsInactive(timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.LastActiveAt.IsZero() || timeout <= 0 {
		return false
	}
	return s.now().Sub(s.current.LastActiveAt) > timeout
}

// IsTokenExpired reports whether the current session's credential window has
// closed. No session counts as expired; an unknown expiry does not.
func (s *Store) IsTokenExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked()
}

func (s *Store) expiredLocked() bool {
	if s.current == nil {
		return true
	}
	if s.current.ExpiresAt.IsZero() {
		return false
	}
	return !s.now().Before(s.current.ExpiresAt)
}

// Authenticated reports whether a non-expired credential is held.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && !s.expiredLocked()
}

// UpdateSession applies a partial update and rewrites the durable record.
func (s *Store) UpdateSession(ctx context.Context, p Patch) error {
	if err := s.Patch(p); err != nil {
		return err
	}
	return s.Sync(ctx)
}

// Patch applies a partial update in memory.
func (s *Store) Patch(p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoSession
	}
	if p.Email != nil {
		s.current.Email = *p.Email
	}
	if p.Role != nil {
		s.current.Role = *p.Role
	}
	if p.DisplayName != nil {
		s.current.DisplayName = *p.DisplayName
	}
	if p.IssuedAt != nil {
		s.current.IssuedAt = *p.IssuedAt
	}
	if p.ExpiresAt != nil {
		s.current.ExpiresAt = *p.ExpiresAt
	}
	if p.AgreementAccepted != nil {
		s.current.AgreementAccepted = *p.AgreementAccepted
	}
	s.version++
	return nil
}

// ClearSession drops the in-memory session and credential and deletes every
// durable key the store writes. Memory is cleared even if storage fails.
func (s *Store) ClearSession(ctx context.Context) error {
	s.Drop()
	return s.Sync(ctx)
}

// Drop clears the session and credential from memory. The durable keys go on
// the next [Store.Sync].
func (s *Store) Drop() {
	s.mu.Lock()
	s.current = nil
	s.token = ""
	s.version++
	s.mu.Unlock()
}

// Sync writes the latest memory state to storage. It is a no-op when nothing
// changed since the last successful write. When the session now belongs to a
// different user than the durable record, that user's route and activity keys
// are deleted first.
func (s *Store) Sync(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) error {
	s.mu.RLock()
	version := s.version
	var snap *Session
	if s.current != nil {
		cp := *s.current
		snap = &cp
	}
	s.mu.RUnlock()

	if version == s.synced {
		return nil
	}

	if snap == nil {
		if err := s.storage.Delete(ctx, s.Keys()...); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		s.durableUser = ""
		s.synced = version
		return nil
	}

	if s.durableUser != snap.UserID {
		if err := s.storage.Delete(ctx, s.key(keyRoute), s.key(keyLastActive)); err != nil {
			return fmt.Errorf("clear previous user: %w", err)
		}
	}
	data, err := Encode(recordFromSession(snap))
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.key(keySession), data, 0); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.durableUser = snap.UserID
	if !snap.LastActiveAt.IsZero() {
		value := strconv.FormatInt(snap.LastActiveAt.UnixMilli(), 10)
		if err := s.storage.Set(ctx, s.key(keyLastActive), []byte(value), 0); err != nil {
			return fmt.Errorf("persist last active: %w", err)
		}
	}
	s.synced = version
	return nil
}

// Load rebuilds a provisional session from durable metadata after a restart.
// It returns (nil, nil) when nothing was stored. An expired or unreadable
// record is deleted and reported as [ErrSessionExpired] or [ErrRecordCorrupt].
// If a session is already held in memory, Load returns it untouched.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if held := s.Session(); held != nil {
		return held, nil
	}

	data, err := s.storage.Get(ctx, s.key(keySession))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rec, err := Decode(data)
	if err != nil {
		if clearErr := s.purgeLocked(ctx); clearErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrRecordCorrupt, err), clearErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}

	if raw, err := s.storage.Get(ctx, s.key(keyLastActive)); err == nil {
		if ms, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil && ms > rec.LastActiveAt {
			rec.LastActiveAt = ms
		}
	}

	sess := rec.session()
	if !sess.ExpiresAt.IsZero() && !s.now().Before(sess.ExpiresAt) {
		if err := s.purgeLocked(ctx); err != nil {
			return nil, errors.Join(ErrSessionExpired, err)
		}
		return nil, ErrSessionExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		// A session was put while storage was being read.
		out := *s.current
		return &out, nil
	}
	s.current = sess
	s.token = ""
	s.version++
	s.synced = s.version
	s.durableUser = sess.UserID
	out := *sess
	return &out, nil
}

// purgeLocked deletes every durable key. ioMu must be held.
func (s *Store) purgeLocked(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.Keys()...); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.durableUser = ""
	return nil
}

// RememberRoute stores the last route the user was on so it can be restored
// after sign-in. The route belongs to the held session's user; without a
// session nothing is written.
func (s *Store) RememberRoute(ctx context.Context, route string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if route == "" {
		return s.storage.Delete(ctx, s.key(keyRoute))
	}
	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	if s.durableUser == "" {
		return ErrNoSession
	}
	return s.storage.Set(ctx, s.key(keyRoute), []byte(route), 0)
}

// RememberedRoute returns the stored route, or "" when none.
func (s *Store) RememberedRoute(ctx context.Context) (string, error) {
	raw, err := s.storage.Get(ctx, s.key(keyRoute))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(raw), nil
}
