package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/ramify/internal/apperr"
	"github.com/nidhogg/ramify/internal/completion"
	"github.com/nidhogg/ramify/internal/events"
	"github.com/nidhogg/ramify/internal/prompt"
	"github.com/nidhogg/ramify/internal/session"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []*completion.Request
	reply    string
	err      error
}

func (g *fakeGateway) Complete(_ context.Context, req *completion.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return "", apperr.RemoteService(g.err)
	}
	return g.reply, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeNotifier struct{ sent []string }

func (n *fakeNotifier) NotifyReminder(_ context.Context, text string) error {
	n.sent = append(n.sent, text)
	return nil
}

type fakePublisher struct{ got []*events.Exchange }

func (p *fakePublisher) Publish(_ context.Context, ex *events.Exchange) error {
	p.got = append(p.got, ex)
	return nil
}

func newTestService(t *testing.T, gw *fakeGateway) *Service {
	t.Helper()
	store := session.NewStore(0, zap.NewNop())
	return NewService(store, prompt.NewAssembler(nil), gw, zap.NewNop())
}

func seed(t *testing.T, s *Service) {
	t.Helper()
	_, err := s.UpdateSchedule(context.Background(), json.RawMessage(`{
		"morning": [{"name":"Metformin","dosage":"500 mg","instructions":"With breakfast"}],
		"night":   [{"name":"Melatonin","dosage":"3 mg","instructions":"Before bed"}]
	}`))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestRamificationSendsNoHistory(t *testing.T) {
	gw := &fakeGateway{reply: "First order: ..."}
	s := newTestService(t, gw)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Ramification(ctx, "default", "quit my job"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	for i, req := range gw.requests {
		if len(req.History) != 0 {
			t.Errorf("call %d sent %d history turns", i, len(req.History))
		}
		if req.Persona != prompt.PersonaRamification || req.Prompt != "quit my job" {
			t.Errorf("call %d: %+v", i, req)
		}
		if req.SystemInstruction == "" {
			t.Errorf("missing system instruction")
		}
	}
	if got := len(s.Store().History("default")); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}

func TestTaskManagerSendsHistory(t *testing.T) {
	gw := &fakeGateway{reply: "noted"}
	s := newTestService(t, gw)
	ctx := context.Background()

	s.TaskManager(ctx, "s1", "buy milk")
	s.TaskManager(ctx, "s1", "and eggs")

	if len(gw.requests) != 2 {
		t.Fatalf("calls = %d", len(gw.requests))
	}
	second := gw.requests[1]
	if len(second.History) != 2 {
		t.Fatalf("history sent = %d, want 2", len(second.History))
	}
	if second.History[0].Text != "buy milk" || second.History[1].Role != session.RoleAssistant {
		t.Errorf("history = %+v", second.History)
	}
	if len(s.Store().History("other")) != 0 {
		t.Errorf("sessions leaked")
	}
}

func TestGatewayFailureRecordsNothing(t *testing.T) {
	gw := &fakeGateway{err: errors.New("quota exceeded for key sk-secret")}
	s := newTestService(t, gw)
	seed(t, s)
	before := s.Store().Schedule()
	ctx := context.Background()

	calls := []func() (string, error){
		func() (string, error) { return s.Ramification(ctx, "default", "x") },
		func() (string, error) { return s.TaskManager(ctx, "default", "x") },
		func() (string, error) { return s.MedicationReminder(ctx, "default", "x", "2025-03-01 08:00") },
	}
	for i, call := range calls {
		_, err := call()
		if !apperr.IsRemoteService(err) {
			t.Fatalf("call %d: expected remote error, got %v", i, err)
		}
		if strings.Contains(apperr.PublicMessage(err), "sk-secret") {
			t.Errorf("call %d leaked detail", i)
		}
	}
	if got := len(s.Store().History("default")); got != 0 {
		t.Errorf("history length = %d, want 0", got)
	}
	if !reflect.DeepEqual(s.Store().Schedule(), before) {
		t.Errorf("schedule changed after failure")
	}
	if c := s.Store().Context(); c.Focus != session.FocusGeneral {
		t.Errorf("context changed after failure: %+v", c)
	}
}

func TestMedicationReminderIsNotCached(t *testing.T) {
	gw := &fakeGateway{reply: "How are you today?"}
	s := newTestService(t, gw)
	seed(t, s)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.MedicationReminder(ctx, "default", "hello", "2025-03-01 08:00"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if gw.calls() != 2 {
		t.Errorf("gateway calls = %d, want 2", gw.calls())
	}
}

func TestMedicationReminderPromptCarriesState(t *testing.T) {
	gw := &fakeGateway{reply: "ok"}
	s := newTestService(t, gw)
	seed(t, s)

	s.MedicationReminder(context.Background(), "default", "did I take my pills?", "2025-03-01 08:00")

	p := gw.requests[0].Prompt
	for _, want := range []string{"2025-03-01 08:00", `"name": "Metformin"`, `"currentFocus": "general"`, "did I take my pills?"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if len(gw.requests[0].History) != 0 {
		t.Errorf("medication prompt should not send history")
	}
}

func TestMedicationReminderAppliesMarker(t *testing.T) {
	gw := &fakeGateway{reply: "Good morning! Reminder: Metformin 500 mg with breakfast."}
	s := newTestService(t, gw)
	seed(t, s)
	n := &fakeNotifier{}
	s.SetNotifier(n)
	pub := &fakePublisher{}
	s.SetPublisher(pub)

	_, err := s.MedicationReminder(context.Background(), "default", "morning", "2025-03-01T08:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := s.Store().Context()
	if c.Focus != session.FocusMedication || !reflect.DeepEqual(c.Pending, []string{"Metformin", "Melatonin"}) {
		t.Errorf("context = %+v", c)
	}
	want := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	if lr := s.Store().Schedule()[session.BucketMorning][0].LastReminded; lr == nil || !lr.Equal(want) {
		t.Errorf("last reminded = %v", lr)
	}
	if len(n.sent) != 1 {
		t.Errorf("notifications = %d, want 1", len(n.sent))
	}
	if len(pub.got) != 1 || !pub.got[0].Reminder {
		t.Errorf("published = %+v", pub.got)
	}
}

func TestMedicationReminderWithoutMarker(t *testing.T) {
	gw := &fakeGateway{reply: "That sounds lonely. Want to talk about it?"}
	s := newTestService(t, gw)
	seed(t, s)
	n := &fakeNotifier{}
	s.SetNotifier(n)

	s.MedicationReminder(context.Background(), "default", "I feel low", "evening")

	c := s.Store().Context()
	if c.Focus != session.FocusEmotional || len(c.Pending) != 0 {
		t.Errorf("context = %+v", c)
	}
	if len(n.sent) != 0 {
		t.Errorf("non-reminder reply was broadcast")
	}
}

func TestValidationBeforeGateway(t *testing.T) {
	gw := &fakeGateway{reply: "x"}
	s := newTestService(t, gw)
	ctx := context.Background()

	if _, err := s.TaskManager(ctx, "default", "  "); !apperr.IsValidation(err) {
		t.Errorf("blank input: %v", err)
	}
	if _, err := s.MedicationReminder(ctx, "default", "hi", ""); !apperr.IsValidation(err) {
		t.Errorf("missing time: %v", err)
	}
	if gw.calls() != 0 {
		t.Errorf("gateway called %d times", gw.calls())
	}
}

func TestUpdateScheduleSkipsGateway(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestService(t, gw)

	got, err := s.UpdateSchedule(context.Background(), json.RawMessage(
		`{"morning":[{"name":"Aspirin","dosage":"100 mg","instructions":"After food"}]}`))
	if err != nil || got != ScheduleUpdated {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := s.UpdateSchedule(context.Background(), json.RawMessage(`"not-an-object"`)); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if gw.calls() != 0 {
		t.Errorf("gateway called")
	}
}

func TestAcknowledge(t *testing.T) {
	s := newTestService(t, &fakeGateway{})
	seed(t, s)
	ctx := context.Background()

	if err := s.Acknowledge(ctx, "melatonin"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := s.Acknowledge(ctx, "Warfarin"); !apperr.IsValidation(err) {
		t.Errorf("unknown name: %v", err)
	}
	if got := s.Store().Unacknowledged(); !reflect.DeepEqual(got, []string{"Metformin"}) {
		t.Errorf("unacknowledged = %v", got)
	}
}

func TestPersonaOverride(t *testing.T) {
	gw := &fakeGateway{reply: "x"}
	s := newTestService(t, gw)
	s.SetPersona(prompt.PersonaTaskManager, PersonaConfig{
		Model:      "gemini-1.5-flash",
		Generation: completion.Generation{Temperature: 0.3},
	})

	s.TaskManager(context.Background(), "default", "plan")
	req := gw.requests[0]
	if req.Model != "gemini-1.5-flash" || req.Generation.Temperature != 0.3 {
		t.Errorf("request = %+v", req)
	}
}
