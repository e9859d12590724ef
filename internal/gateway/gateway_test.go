package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	handler    MessageHandler
	mu         sync.Mutex
	sent       []*OutboundMessage
	broadcasts []*BroadcastMessage
	connectErr error
}

func (f *fakeAdapter) Platform() string              { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return f.connectErr }
func (f *fakeAdapter) OnMessage(h MessageHandler)    { f.handler = h }
func (f *fakeAdapter) Close() error                  { return nil }
func (f *fakeAdapter) Status() AdapterStatus         { return AdapterStatus{Platform: f.platform} }
func (f *fakeAdapter) Send(_ context.Context, m *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeAdapter) Broadcast(_ context.Context, m *BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, m)
	return nil
}

func TestGatewayRoutesInboundToHandler(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	fa := &fakeAdapter{platform: "slack"}
	gw.Register(fa)

	var got *InboundMessage
	gw.SetHandler(func(m *InboundMessage) { got = m })
	fa.handler(&InboundMessage{Platform: "slack", ChannelID: "C1", Content: "hi"})

	if got == nil || got.SessionID() != "slack:C1" {
		t.Fatalf("handler got %+v", got)
	}
}

func TestGatewaySendUnknownPlatform(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Fatal("expected error for unregistered platform")
	}
}

func TestGatewayConnectAllContinuesPastFailure(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	gw.Register(&fakeAdapter{platform: "slack", connectErr: errors.New("bad token")})
	gw.Register(&fakeAdapter{platform: "discord"})

	err := gw.ConnectAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "slack") {
		t.Fatalf("expected slack failure, got %v", err)
	}
	if got := gw.Statuses(); len(got) != 2 || got[0].Platform != "discord" {
		t.Errorf("statuses = %+v", got)
	}
}

func TestBroadcasterNotifyReminder(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	slack := &fakeAdapter{platform: "slack"}
	discord := &fakeAdapter{platform: "discord"}
	gw.Register(slack)
	gw.Register(discord)
	b := NewBroadcaster(gw, zap.NewNop())

	if err := b.NotifyReminder(context.Background(), "Reminder: Aspirin"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	for _, fa := range []*fakeAdapter{slack, discord} {
		if len(fa.broadcasts) != 1 || fa.broadcasts[0].Type != BroadcastReminder {
			t.Errorf("%s broadcasts = %+v", fa.platform, fa.broadcasts)
		}
	}
	h := b.History(10)
	if len(h) != 1 || len(h[0].Targets) != 2 {
		t.Errorf("history = %+v", h)
	}
}

func TestBroadcasterRequiresType(t *testing.T) {
	b := NewBroadcaster(NewGateway(zap.NewNop()), zap.NewNop())
	if err := b.Send(context.Background(), &BroadcastMessage{Content: "x"}); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	rest := NewRESTAdapter(5*time.Second, zap.NewNop())
	gw.Register(rest)

	var session string
	gw.SetHandler(func(m *InboundMessage) {
		session = m.SessionID()
		gw.Send(context.Background(), &OutboundMessage{
			Platform:  m.Platform,
			ChannelID: m.ChannelID,
			Content:   "echo: " + m.Content,
			ReplyTo:   m.ReplyTo,
		})
	})

	body, _ := json.Marshal(map[string]string{"channel_id": "kitchen", "content": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rest.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out OutboundMessage
	json.NewDecoder(w.Body).Decode(&out)
	if out.Content != "echo: hello" {
		t.Errorf("content = %q", out.Content)
	}
	if session != "rest:kitchen" {
		t.Errorf("session = %q", session)
	}
}

func TestRESTAdapterRejectsEmptyContent(t *testing.T) {
	rest := NewRESTAdapter(time.Second, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`{"content":""}`))
	w := httptest.NewRecorder()
	rest.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRESTAdapterTimesOut(t *testing.T) {
	rest := NewRESTAdapter(50*time.Millisecond, zap.NewNop())
	rest.OnMessage(func(*InboundMessage) {})
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(`{"content":"hi"}`))
	w := httptest.NewRecorder()
	rest.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d", w.Code)
	}
}

func TestReminderBroadcastDoesNotHijackRESTReplies(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	rest := NewRESTAdapter(5*time.Second, zap.NewNop())
	gw.Register(rest)
	broadcaster := NewBroadcaster(gw, zap.NewNop())

	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})
	gw.SetHandler(func(m *InboundMessage) {
		arrived.Done()
		<-release
		gw.Send(context.Background(), &OutboundMessage{
			Platform:  m.Platform,
			ChannelID: m.ChannelID,
			Persona:   "task-manager",
			Content:   "reply to " + m.Content,
			ReplyTo:   m.ReplyTo,
		})
	})

	replies := make([]OutboundMessage, 2)
	var done sync.WaitGroup
	for i, content := range []string{"plan my day", "buy milk"} {
		done.Add(1)
		go func(i int, content string) {
			defer done.Done()
			body, _ := json.Marshal(map[string]string{"content": content})
			req := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader(body))
			w := httptest.NewRecorder()
			rest.Routes().ServeHTTP(w, req)
			json.NewDecoder(w.Body).Decode(&replies[i])
		}(i, content)
	}

	arrived.Wait()
	if err := broadcaster.NotifyReminder(context.Background(), "Reminder: take Aspirin"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	close(release)
	done.Wait()

	for i, want := range []string{"reply to plan my day", "reply to buy milk"} {
		if replies[i].Content != want {
			t.Errorf("request %d got %q, want %q", i, replies[i].Content, want)
		}
	}
	if got := broadcaster.History(0); len(got) != 1 {
		t.Errorf("history = %d records, want 1", len(got))
	}
}
