package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/ramify/internal/apperr"
	"go.uber.org/zap"
)

// DefaultSessionID is the shared conversation used when a caller names none.
const DefaultSessionID = "default"

// Persister mirrors store mutations to durable storage.
type Persister interface {
	SaveTurns(ctx context.Context, sessionID string, turns []Turn) error
	SaveSchedule(ctx context.Context, s Schedule) error
	LoadHistories(ctx context.Context) (map[string][]Turn, error)
	LoadSchedule(ctx context.Context) (Schedule, bool, error)
}

// Store holds conversation histories, the medication schedule and the
// reminder context. All access goes through a single RWMutex.
type Store struct {
	histories  map[string][]Turn
	schedule   Schedule
	ctx        Context
	maxHistory int // 0 = unbounded
	persister  Persister
	// persistOrder keeps writes to persister in commit order.
	persistOrder *persistQueue
	now          func() time.Time
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewStore creates an empty store. maxHistory <= 0 keeps every turn.
func NewStore(maxHistory int, logger *zap.Logger) *Store {
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &Store{
		histories:    make(map[string][]Turn),
		schedule:     NewSchedule(),
		ctx:          Context{Focus: FocusGeneral},
		maxHistory:   maxHistory,
		persistOrder: newPersistQueue(),
		now:          time.Now,
		logger:       logger,
	}
}

// SetPersister attaches durable storage. Persistence errors are logged only.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Restore hydrates the store from its persister.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.RLock()
	p := s.persister
	s.mu.RUnlock()
	if p == nil {
		return nil
	}

	histories, err := p.LoadHistories(ctx)
	if err != nil {
		return fmt.Errorf("load histories: %w", err)
	}
	sched, ok, err := p.LoadSchedule(ctx)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, turns := range histories {
		s.histories[id] = s.bound(append([]Turn{}, turns...))
	}
	if ok {
		s.schedule = sched.Clone()
	}
	s.logger.Info("session store restored",
		zap.Int("sessions", len(histories)),
		zap.Bool("schedule", ok))
	return nil
}

// Snapshot returns the schedule and reminder context as they stood at one
// instant.
func (s *Store) Snapshot() (Schedule, Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule.Clone(), s.ctx.clone()
}

// History returns a copy of the turns recorded for sessionID.
func (s *Store) History(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.histories[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Sessions returns the IDs of every session with at least one turn.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.histories))
	for id := range s.histories {
		ids = append(ids, id)
	}
	return ids
}

// NewTurn builds a turn with a fresh ID and timestamp.
func (s *Store) NewTurn(role Role, text string) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	}
}

// AppendTurn appends one turn to sessionID.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, role Role, text string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, apperr.Validation("invalid role %q", role)
	}
	t := s.NewTurn(role, text)
	if err := s.Commit(ctx, sessionID, t); err != nil {
		return Turn{}, err
	}
	return t, nil
}

// Commit appends turns to sessionID in one critical section, so either all of
// them become visible or none do.
func (s *Store) Commit(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	for _, t := range turns {
		if !t.Role.Valid() {
			return apperr.Validation("invalid role %q", t.Role)
		}
	}

	s.mu.Lock()
	s.histories[sessionID] = s.bound(append(s.histories[sessionID], turns...))
	s.unlockAndPersist(ctx, func(ctx context.Context, p Persister) error {
		return p.SaveTurns(ctx, sessionID, turns)
	}, zap.String("session", sessionID))
	return nil
}

// bound trims turns to the newest maxHistory entries. Caller holds mu.
func (s *Store) bound(turns []Turn) []Turn {
	if s.maxHistory <= 0 || len(turns) <= s.maxHistory {
		return turns
	}
	return append([]Turn{}, turns[len(turns)-s.maxHistory:]...)
}
