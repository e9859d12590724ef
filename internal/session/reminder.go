package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ReminderMarker is the substring that flags a reply as a medication reminder.
const ReminderMarker = "Reminder:"

// Classification is the structured reading of a model reply.
type Classification struct {
	Reminder bool
	Focus    Focus
}

// ClassifyResponse inspects a reply for the reminder marker. This is the only
// place reply text is interpreted; swap it for a structured output contract
// without touching the store.
func ClassifyResponse(text string) Classification {
	if strings.Contains(text, ReminderMarker) {
		return Classification{Reminder: true, Focus: FocusMedication}
	}
	return Classification{Reminder: false, Focus: FocusEmotional}
}

// Context returns a copy of the reminder context.
func (s *Store) Context() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.clone()
}

// UpdateContext replaces the pending set with candidateNames when a reminder
// marker was present, otherwise clears it and shifts focus to emotional.
func (s *Store) UpdateContext(markerPresent bool, candidateNames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateContextLocked(markerPresent, candidateNames)
}

func (s *Store) updateContextLocked(markerPresent bool, candidateNames []string) {
	if markerPresent {
		s.ctx.Pending = append([]string{}, candidateNames...)
		s.ctx.Focus = FocusMedication
		return
	}
	s.ctx.Pending = []string{}
	s.ctx.Focus = FocusEmotional
}

// Unacknowledged returns the names of every unacknowledged medication in
// bucket order.
func (s *Store) Unacknowledged() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unacknowledgedLocked()
}

func (s *Store) unacknowledgedLocked() []string {
	names := []string{}
	for _, b := range Buckets {
		for _, m := range s.schedule[b] {
			if !m.Acknowledged {
				names = append(names, m.Name)
			}
		}
	}
	return names
}

// ApplyReply classifies a reminder-handler reply and updates the context in a
// single critical section. When the reply is a reminder, the reply text becomes
// the last reminder and every unacknowledged entry is stamped with at.
func (s *Store) ApplyReply(ctx context.Context, reply string, at time.Time) Classification {
	c := ClassifyResponse(reply)

	s.mu.Lock()
	s.updateContextLocked(c.Reminder, s.unacknowledgedLocked())
	if !c.Reminder {
		s.mu.Unlock()
		return c
	}
	s.ctx.LastReminder = reply
	s.stampLocked(at)
	s.unlockAndPersist(ctx, saveSchedule(s.schedule.Clone()), zap.String("what", "schedule"))
	return c
}

// RecordReminder stores text as the last reminder and stamps every
// unacknowledged entry with at.
func (s *Store) RecordReminder(text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.LastReminder = text
	s.stampLocked(at)
}

func (s *Store) stampLocked(at time.Time) {
	for _, b := range Buckets {
		meds := s.schedule[b]
		for i := range meds {
			if !meds[i].Acknowledged {
				t := at
				meds[i].LastReminded = &t
			}
		}
	}
}

// Acknowledge marks every entry called name as taken and drops it from the
// pending set. Names match case-insensitively. It reports whether any entry
// matched.
func (s *Store) Acknowledge(ctx context.Context, name string) bool {
	s.mu.Lock()
	found := false
	for _, b := range Buckets {
		meds := s.schedule[b]
		for i := range meds {
			if strings.EqualFold(meds[i].Name, name) {
				meds[i].Acknowledged = true
				found = true
			}
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	kept := s.ctx.Pending[:0:0]
	for _, n := range s.ctx.Pending {
		if !strings.EqualFold(n, name) {
			kept = append(kept, n)
		}
	}
	s.ctx.Pending = kept
	s.unlockAndPersist(ctx, saveSchedule(s.schedule.Clone()), zap.String("what", "schedule"))
	return true
}
