// Package completion is the boundary to the remote text-completion service.
package completion

import (
	"context"
	"time"

	"github.com/nidhogg/ramify/internal/apperr"
	"github.com/nidhogg/ramify/internal/provider"
	"github.com/nidhogg/ramify/internal/session"
	"go.uber.org/zap"
)

// Generation holds sampling parameters sent with each request.
type Generation struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k"`
	MaxOutputTokens  int     `json:"max_output_tokens"`
	ResponseMIMEType string  `json:"response_mime_type"`
}

// DefaultGeneration returns the sampling parameters the services were tuned with.
func DefaultGeneration() Generation {
	return Generation{
		Temperature:      2,
		TopP:             0.95,
		TopK:             64,
		MaxOutputTokens:  8192,
		ResponseMIMEType: "text/plain",
	}
}

// Request is one completion call.
type Request struct {
	Persona           string
	Model             string
	SystemInstruction string
	Generation        Generation
	History           []session.Turn
	Prompt            string
}

// Gateway produces a completion for a request. Every error it returns carries
// the remote-service code.
type Gateway interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// RouterGateway sends completions through a provider router.
type RouterGateway struct {
	router  *provider.Router
	timeout time.Duration
	logger  *zap.Logger
}

// NewRouterGateway creates a gateway over router. timeout <= 0 means none
// beyond the provider's HTTP client timeout.
func NewRouterGateway(router *provider.Router, timeout time.Duration, logger *zap.Logger) *RouterGateway {
	return &RouterGateway{router: router, timeout: timeout, logger: logger}
}

// Complete builds the chat request from req and routes it.
func (g *RouterGateway) Complete(ctx context.Context, req *Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.router.Route(ctx, req.Persona, BuildChatRequest(req))
	if err != nil {
		g.logger.Error("completion failed",
			zap.String("persona", req.Persona),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", apperr.RemoteService(err)
	}

	g.logger.Debug("completion done",
		zap.String("persona", req.Persona),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))
	return resp.Content, nil
}

// BuildChatRequest converts a completion request into the provider wire shape:
// system instruction, then history in order, then the prompt as a user turn.
func BuildChatRequest(req *Request) *provider.ChatRequest {
	msgs := make([]provider.Message, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: req.SystemInstruction})
	}
	for _, t := range req.History {
		role := provider.RoleUser
		if t.Role == session.RoleAssistant {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: req.Prompt})

	return &provider.ChatRequest{
		Model:            req.Model,
		Messages:         msgs,
		Temperature:      req.Generation.Temperature,
		TopP:             req.Generation.TopP,
		TopK:             req.Generation.TopK,
		MaxTokens:        req.Generation.MaxOutputTokens,
		ResponseMIMEType: req.Generation.ResponseMIMEType,
	}
}
