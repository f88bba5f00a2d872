package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
)

var (
	// ErrNotFound means there is no active session for the identity
	ErrNotFound = errors.New("session not found")
	// ErrLockTimeout means another turn for the same identity is still running
	ErrLockTimeout = errors.New("session lock timeout")
)

// Reason explains why a snapshot was written
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonDataComplete Reason = "data_complete"
	ReasonConfirmed    Reason = "confirmed"
	ReasonCancelled    Reason = "cancelled"
	ReasonExpired      Reason = "expired"
	ReasonError        Reason = "error"
	ReasonManual       Reason = "manual"
)

// Backend keeps the single active slot per phone
type Backend interface {
	Load(ctx context.Context, phone string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, phone string) error
	Phones(ctx context.Context) ([]string, error)
	Lock(ctx context.Context, phone string) (func(), error)
}

// SnapshotWriter records point-in-time copies of sessions
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, s *Session, reason Reason) error
}

// Store owns the "one active session per phone" rule and lazy expiration
type Store struct {
	backend   Backend
	snapshots SnapshotWriter
	ttl       time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithSnapshots attaches a snapshot writer
func WithSnapshots(w SnapshotWriter) Option {
	return func(s *Store) { s.snapshots = w }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates a store over backend with the default session ttl
func NewStore(backend Backend, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock
func (s *Store) Now() time.Time { return s.now() }

// TTL is the idle time after which new sessions expire
func (s *Store) TTL() time.Duration { return s.ttl }

// Lock serializes turns for one phone. Other phones are never blocked.
func (s *Store) Lock(ctx context.Context, phone string) (func(), error) {
	return s.backend.Lock(ctx, phone)
}

// GetActive returns the active session for phone, expiring it lazily
func (s *Store) GetActive(ctx context.Context, phone string) (*Session, error) {
	sess, err := s.backend.Load(ctx, phone)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.State.IsTerminal() {
		if err := s.backend.Delete(ctx, phone); err != nil {
			return nil, fmt.Errorf("failed to drop terminal session: %w", err)
		}
		return nil, ErrNotFound
	}

	if sess.IsExpired(now) {
		if err := s.expire(ctx, sess, now); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// GetOrCreate returns the active session or starts a new one
func (s *Store) GetOrCreate(ctx context.Context, phone string) (*Session, bool, error) {
	sess, err := s.GetActive(ctx, phone)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	sess = New(phone, s.ttl, s.now())
	s.log.Info().
		Str("session_id", sess.ID).
		Str("phone", phone).
		Msg("session created")
	return sess, true, nil
}

// Save persists the session. The snapshot goes first so a failed write never
// advances the active slot; terminal sessions leave the slot.
func (s *Store) Save(ctx context.Context, sess *Session, reason Reason) error {
	if reason != ReasonNone && s.snapshots != nil {
		if err := s.snapshots.WriteSnapshot(ctx, sess, reason); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
	}

	if sess.State.IsTerminal() {
		current, err := s.backend.Load(ctx, sess.Phone)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil
		case err != nil:
			return err
		case current.ID != sess.ID:
			// a newer session already owns the slot
			return nil
		}
		return s.backend.Delete(ctx, sess.Phone)
	}

	return s.backend.Put(ctx, sess)
}

// Discard drops a session that never left collecting, such as one
// cancelled before any data arrived. A newer session in the slot is kept.
func (s *Store) Discard(ctx context.Context, sess *Session) error {
	current, err := s.backend.Load(ctx, sess.Phone)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case current.ID != sess.ID:
		return nil
	}
	return s.backend.Delete(ctx, sess.Phone)
}

// ListActive returns every session still holding an active slot
func (s *Store) ListActive(ctx context.Context) ([]*Session, error) {
	phones, err := s.backend.Phones(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Session
	for _, phone := range phones {
		sess, err := s.backend.Load(ctx, phone)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) expire(ctx context.Context, sess *Session, now time.Time) error {
	if err := sess.TransitionTo(conversation.Expired, now); err != nil {
		return err
	}
	sess.AddSystemMessage("sessão expirada por inatividade", now)

	s.log.Info().
		Str("session_id", sess.ID).
		Str("phone", sess.Phone).
		Msg("session expired")

	return s.Save(ctx, sess, ReasonExpired)
}
