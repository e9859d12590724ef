// Package assistant runs one request through the session store, the prompt
// assembler and the completion gateway.
package assistant

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/ramify/internal/apperr"
	"github.com/nidhogg/ramify/internal/completion"
	"github.com/nidhogg/ramify/internal/events"
	"github.com/nidhogg/ramify/internal/prompt"
	"github.com/nidhogg/ramify/internal/session"
	"go.uber.org/zap"
)

// ScheduleUpdated is the reply to a successful schedule update.
const ScheduleUpdated = "Schedule updated successfully"

// Notifier delivers reminder replies outside the HTTP response.
type Notifier interface {
	NotifyReminder(ctx context.Context, text string) error
}

// PersonaConfig selects the model and sampling for one persona.
type PersonaConfig struct {
	Model      string
	Generation completion.Generation
}

// Service is the assistant core shared by the HTTP API and the chat router.
type Service struct {
	store     *session.Store
	prompts   *prompt.Assembler
	gateway   completion.Gateway
	personas  map[string]PersonaConfig
	publisher events.Publisher
	notifier  Notifier
	now       func() time.Time
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewService creates a service. Every persona starts with the default
// generation settings and the provider's default model.
func NewService(store *session.Store, prompts *prompt.Assembler, gw completion.Gateway, logger *zap.Logger) *Service {
	gen := completion.DefaultGeneration()
	return &Service{
		store:   store,
		prompts: prompts,
		gateway: gw,
		personas: map[string]PersonaConfig{
			prompt.PersonaRamification: {Generation: gen},
			prompt.PersonaTaskManager:  {Generation: gen},
			prompt.PersonaMedication:   {Generation: gen},
		},
		now:    time.Now,
		logger: logger,
	}
}

// SetPersona overrides the model and sampling for persona.
func (s *Service) SetPersona(persona string, cfg PersonaConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[persona] = cfg
}

// SetPublisher attaches the exchange stream. Publish failures are logged only.
func (s *Service) SetPublisher(p events.Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// SetNotifier attaches the reminder broadcaster.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Store exposes the session store for read-only routes.
func (s *Service) Store() *session.Store { return s.store }

// Schedule returns a copy of the medication schedule.
func (s *Service) Schedule() session.Schedule { return s.store.Schedule() }

// ReminderContext returns a copy of the reminder context.
func (s *Service) ReminderContext() session.Context { return s.store.Context() }

// Ramification answers a one-shot consequence analysis. No history is sent,
// but the exchange is still recorded.
func (s *Service) Ramification(ctx context.Context, sessionID, input string) (string, error) {
	if err := requireInput(input); err != nil {
		return "", err
	}
	return s.exchange(ctx, prompt.PersonaRamification, sessionID, input, nil, s.prompts.Ramification(input))
}

// TaskManager answers with the session's prior turns as context.
func (s *Service) TaskManager(ctx context.Context, sessionID, input string) (string, error) {
	if err := requireInput(input); err != nil {
		return "", err
	}
	history := s.store.History(sessionID)
	return s.exchange(ctx, prompt.PersonaTaskManager, sessionID, input, history, s.prompts.TaskManager(input))
}

// MedicationReminder answers with the schedule and reminder context embedded
// in the prompt. A reply carrying the reminder marker stamps every
// unacknowledged entry and is broadcast when a notifier is attached.
func (s *Service) MedicationReminder(ctx context.Context, sessionID, input, currentTime string) (string, error) {
	if err := requireInput(input); err != nil {
		return "", err
	}
	if strings.TrimSpace(currentTime) == "" {
		return "", apperr.Validation("currentTime is required")
	}

	sched, reminderCtx := s.store.Snapshot()
	text, err := s.prompts.MedicationReminder(sched, reminderCtx, currentTime, input)
	if err != nil {
		return "", apperr.Internal(err)
	}

	reply, err := s.exchange(ctx, prompt.PersonaMedication, sessionID, input, nil, text)
	if err != nil {
		return "", err
	}

	c := s.store.ApplyReply(ctx, reply, s.reminderTime(currentTime))
	if c.Reminder {
		s.mu.RLock()
		n := s.notifier
		s.mu.RUnlock()
		if n != nil {
			if err := n.NotifyReminder(ctx, reply); err != nil {
				s.logger.Warn("reminder broadcast failed", zap.Error(err))
			}
		}
	}
	s.logger.Debug("medication reply classified",
		zap.String("session", sessionID),
		zap.Bool("reminder", c.Reminder),
		zap.String("focus", string(c.Focus)))
	return reply, nil
}

// UpdateSchedule validates and shallow-merges a schedule payload. It never
// calls the completion gateway.
func (s *Service) UpdateSchedule(ctx context.Context, raw json.RawMessage) (string, error) {
	if err := s.store.SetSchedule(ctx, raw); err != nil {
		return "", err
	}
	s.logger.Info("schedule updated")
	return ScheduleUpdated, nil
}

// Acknowledge marks a medication as taken.
func (s *Service) Acknowledge(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("medication name is required")
	}
	if !s.store.Acknowledge(ctx, name) {
		return apperr.Validation("no medication named %q", name)
	}
	return nil
}

// exchange calls the gateway and, only on success, commits the user and
// assistant turns together.
func (s *Service) exchange(ctx context.Context, persona, sessionID, input string, history []session.Turn, text string) (string, error) {
	s.mu.RLock()
	pc := s.personas[persona]
	pub := s.publisher
	s.mu.RUnlock()

	reply, err := s.gateway.Complete(ctx, &completion.Request{
		Persona:           persona,
		Model:             pc.Model,
		SystemInstruction: s.prompts.SystemInstruction(persona),
		Generation:        pc.Generation,
		History:           history,
		Prompt:            text,
	})
	if err != nil {
		return "", err
	}

	userTurn := s.store.NewTurn(session.RoleUser, input)
	replyTurn := s.store.NewTurn(session.RoleAssistant, reply)
	if err := s.store.Commit(ctx, sessionID, userTurn, replyTurn); err != nil {
		return "", apperr.Internal(err)
	}

	if pub != nil {
		ex := &events.Exchange{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Persona:   persona,
			Input:     input,
			Reply:     reply,
			Reminder:  persona == prompt.PersonaMedication && session.ClassifyResponse(reply).Reminder,
			Timestamp: replyTurn.CreatedAt,
		}
		if err := pub.Publish(ctx, ex); err != nil {
			s.logger.Warn("publish exchange failed", zap.Error(err))
		}
	}
	return reply, nil
}

// reminderTime reads the caller's clock string. Unparseable values fall back
// to server time; the prompt still carries the caller's string verbatim.
func (s *Service) reminderTime(currentTime string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, strings.TrimSpace(currentTime)); err == nil {
			return t
		}
	}
	return s.now()
}

func requireInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return apperr.Validation("userInput is required")
	}
	return nil
}
