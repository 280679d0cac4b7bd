package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gridtown/internal/clock"
	"gridtown/logging"
)

const (
	// DefaultMaxEncodedBytes caps the persisted snapshot text at 20 MiB.
	DefaultMaxEncodedBytes = 20 * 1024 * 1024
	// DefaultMinSaveInterval throttles how often a room row is rewritten.
	DefaultMinSaveInterval = 3 * time.Second
)

// ErrNotFound is returned by Load when no row exists for a room code.
var ErrNotFound = errors.New("snapshot: room not found")

// Record is one persisted snapshot row. At most one row exists per room
// code; writes are insert-or-update.
type Record struct {
	RoomCode     string
	DisplayName  string
	EncodedState string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PeerCount    int
}

// Storage is the external persistence collaborator.
type Storage interface {
	Upsert(ctx context.Context, rec Record) error
	Load(ctx context.Context, roomCode string) (Record, error)
	SetPeerCount(ctx context.Context, roomCode string, count int) error
}

// SizeLimitError reports an encoded state too large to persist. It is
// returned synchronously, before any write is attempted.
type SizeLimitError struct {
	Size  int
	Limit int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("snapshot: encoded state is %d bytes, limit is %d", e.Size, e.Limit)
}

// Config carries the store's collaborators and tunables.
type Config struct {
	Storage         Storage
	Codec           Codec
	Clock           clock.Clock
	MaxEncodedBytes int
	MinSaveInterval time.Duration
	Publisher       logging.Publisher
	// OnError receives persistence failures from throttled background
	// writes. Size-limit violations never reach it; they are returned to
	// the caller instead.
	OnError func(error)
}

func (c Config) normalized() Config {
	if c.Codec == nil {
		c.Codec = GzipCodec{}
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	if c.MaxEncodedBytes <= 0 {
		c.MaxEncodedBytes = DefaultMaxEncodedBytes
	}
	if c.MinSaveInterval <= 0 {
		c.MinSaveInterval = DefaultMinSaveInterval
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}

// Store throttles snapshot writes to a minimum interval. A save inside the
// window supersedes any earlier pending state and is flushed by a single
// timer once the window elapses; only the newest state is ever written.
type Store struct {
	cfg Config

	mu          sync.Mutex
	lastAttempt time.Time
	pending     *Record
	timer       clock.Timer
	closed      bool
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg.normalized()}
}

// Create synchronously persists a room's first snapshot. Unlike Save it
// reports storage failures to the caller, so room creation can abort.
func (s *Store) Create(ctx context.Context, roomCode, displayName string, state any) error {
	encoded, err := s.encode(roomCode, state)
	if err != nil {
		return err
	}
	now := s.cfg.Clock.Now()
	rec := Record{
		RoomCode:     roomCode,
		DisplayName:  displayName,
		EncodedState: encoded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.cfg.Storage.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("create snapshot for %s: %w", roomCode, err)
	}
	s.mu.Lock()
	s.lastAttempt = now
	s.mu.Unlock()
	logging.Persistence(ctx, s.cfg.Publisher, logging.EventSnapshotSaved, roomCode, map[string]any{"bytes": len(encoded)}, false)
	return nil
}

// Save records the state for persistence. Outside the throttle window the
// write starts immediately in the background; inside it the state is kept
// as pending and a timer flushes the newest pending state when the window
// elapses. The only synchronous failure is the size limit.
func (s *Store) Save(roomCode string, state any) error {
	encoded, err := s.encode(roomCode, state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	now := s.cfg.Clock.Now()
	rec := Record{RoomCode: roomCode, EncodedState: encoded, UpdatedAt: now}

	if since := now.Sub(s.lastAttempt); s.lastAttempt.IsZero() || since >= s.cfg.MinSaveInterval {
		s.lastAttempt = now
		go s.write(rec)
		return nil
	}

	s.pending = &rec
	if s.timer == nil {
		wait := s.cfg.MinSaveInterval - now.Sub(s.lastAttempt)
		s.timer = s.cfg.Clock.AfterFunc(wait, s.flushPending)
	}
	return nil
}

func (s *Store) flushPending() {
	s.mu.Lock()
	s.timer = nil
	rec := s.pending
	s.pending = nil
	if rec == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.lastAttempt = s.cfg.Clock.Now()
	rec.UpdatedAt = s.lastAttempt
	s.mu.Unlock()
	s.write(*rec)
}

// Flush writes any pending state immediately. Used during teardown; the
// error is returned for logging but teardown proceeds regardless.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	rec := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	if rec == nil {
		return nil
	}
	rec.UpdatedAt = s.cfg.Clock.Now()
	if err := s.cfg.Storage.Upsert(ctx, *rec); err != nil {
		logging.Persistence(ctx, s.cfg.Publisher, logging.EventSnapshotFailed, rec.RoomCode, map[string]any{"error": err.Error()}, true)
		return fmt.Errorf("flush snapshot for %s: %w", rec.RoomCode, err)
	}
	logging.Persistence(ctx, s.cfg.Publisher, logging.EventSnapshotSaved, rec.RoomCode, map[string]any{"bytes": len(rec.EncodedState)}, false)
	return nil
}

// HasPending reports whether a throttled state is waiting to be written.
func (s *Store) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Load fetches the most recent snapshot row for a room code and decodes the
// state into out.
func (s *Store) Load(ctx context.Context, roomCode string, out any) (Record, error) {
	rec, err := s.cfg.Storage.Load(ctx, roomCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("load snapshot for %s: %w", roomCode, err)
	}
	if out != nil {
		if err := s.cfg.Codec.Decode(rec.EncodedState, out); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// SetPeerCount writes the current roster size to the room row. Callers
// treat failures as advisory.
func (s *Store) SetPeerCount(ctx context.Context, roomCode string, count int) error {
	return s.cfg.Storage.SetPeerCount(ctx, roomCode, count)
}

// Close cancels the pending flush timer. Any pending state is discarded;
// callers that want it written call Flush first.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) encode(roomCode string, state any) (string, error) {
	encoded, err := s.cfg.Codec.Encode(state)
	if err != nil {
		return "", err
	}
	if len(encoded) > s.cfg.MaxEncodedBytes {
		logging.Persistence(context.Background(), s.cfg.Publisher, logging.EventSnapshotOversize, roomCode,
			map[string]any{"bytes": len(encoded), "limit": s.cfg.MaxEncodedBytes}, true)
		return "", &SizeLimitError{Size: len(encoded), Limit: s.cfg.MaxEncodedBytes}
	}
	return encoded, nil
}

func (s *Store) write(rec Record) {
	ctx := context.Background()
	if err := s.cfg.Storage.Upsert(ctx, rec); err != nil {
		logging.Persistence(ctx, s.cfg.Publisher, logging.EventSnapshotFailed, rec.RoomCode, map[string]any{"error": err.Error()}, true)
		if s.cfg.OnError != nil {
			s.cfg.OnError(fmt.Errorf("save snapshot for %s: %w", rec.RoomCode, err))
		} else {
			log.Printf("snapshot save failed for %s: %v", rec.RoomCode, err)
		}
		return
	}
	logging.Persistence(ctx, s.cfg.Publisher, logging.EventSnapshotSaved, rec.RoomCode, map[string]any{"bytes": len(rec.EncodedState)}, false)
}
