package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RESTAdapter lets HTTP clients talk to the chat router as if they were a
// chat platform. Each request waits for its reply.
type RESTAdapter struct {
	handler  MessageHandler
	channels map[string]chan *OutboundMessage // reply key -> waiting request
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter. timeout bounds how long a
// request waits for its reply.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: "rest", Connected: true}
}

// Send delivers a reply to the request waiting on msg.ReplyTo.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ReplyTo]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no waiting request: %s", msg.ReplyTo)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("request %s already answered", msg.ReplyTo)
	}
}

// Routes returns a chi router with the REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channel_id"`
		UserID    string `json:"user_id"`
		UserName  string `json:"user_name"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	replyKey := uuid.New().String()
	if req.ChannelID == "" {
		req.ChannelID = replyKey
	}
	ch := make(chan *OutboundMessage, 1)

	a.mu.Lock()
	a.channels[replyKey] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.channels, replyKey)
		a.mu.Unlock()
	}()

	if a.handler == nil {
		writeError(w, http.StatusServiceUnavailable, "no message handler")
		return
	}
	go a.handler(&InboundMessage{
		Platform:  "rest",
		ChannelID: req.ChannelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now(),
		ReplyTo:   replyKey,
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	case <-timer.C:
		writeError(w, http.StatusGatewayTimeout, "response timeout")
	case <-r.Context().Done():
	}
}

// Broadcast is a no-op. The reply channels belong to individual requests, and
// REST clients read broadcasts from the broadcaster's history instead.
func (a *RESTAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.logger.Debug("broadcast not pushed to REST clients",
		zap.String("type", string(msg.Type)))
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
