package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/ramify/internal/apperr"
	"github.com/nidhogg/ramify/internal/provider"
	"github.com/nidhogg/ramify/internal/session"
	"go.uber.org/zap"
)

type captureProvider struct {
	last  *provider.ChatRequest
	reply string
	err   error
	wait  time.Duration
}

func (c *captureProvider) ID() string   { return "capture" }
func (c *captureProvider) Name() string { return "capture" }

func (c *captureProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	c.last = req
	if c.wait > 0 {
		select {
		case <-time.After(c.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &provider.ChatResponse{Content: c.reply}, nil
}

func (c *captureProvider) HealthCheck(context.Context) error { return nil }

func newGateway(p provider.Provider, timeout time.Duration) *RouterGateway {
	r := provider.NewRouter(zap.NewNop())
	r.Register(p)
	return NewRouterGateway(r, timeout, zap.NewNop())
}

func TestCompleteBuildsMessages(t *testing.T) {
	p := &captureProvider{reply: "done"}
	g := newGateway(p, 0)

	out, err := g.Complete(context.Background(), &Request{
		Persona:           "task-manager",
		SystemInstruction: "You manage tasks.",
		Generation:        DefaultGeneration(),
		History: []session.Turn{
			{Role: session.RoleUser, Text: "add milk"},
			{Role: session.RoleAssistant, Text: "added"},
		},
		Prompt: "what is on my list?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Errorf("got %q", out)
	}

	msgs := p.last.Messages
	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, msgs[i].Role, role)
		}
	}
	if msgs[3].Content != "what is on my list?" {
		t.Errorf("prompt = %q", msgs[3].Content)
	}
	if p.last.Temperature != 2 || p.last.TopK != 64 || p.last.MaxTokens != 8192 {
		t.Errorf("generation not forwarded: %+v", p.last)
	}
}

func TestCompleteWrapsErrors(t *testing.T) {
	g := newGateway(&captureProvider{err: errors.New("API error 401: bad key")}, 0)

	_, err := g.Complete(context.Background(), &Request{Prompt: "hi"})
	if !apperr.IsRemoteService(err) {
		t.Fatalf("expected remote service error, got %v", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	g := newGateway(&captureProvider{reply: "late", wait: time.Second}, 20*time.Millisecond)

	_, err := g.Complete(context.Background(), &Request{Prompt: "hi"})
	if !apperr.IsRemoteService(err) {
		t.Fatalf("expected remote service error on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
}
