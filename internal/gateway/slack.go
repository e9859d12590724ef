package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter implements GatewayAdapter for Slack using Socket Mode.
type SlackAdapter struct {
	client      *slack.Client
	socket      *socketmode.Client
	handler     MessageHandler
	identities  map[string]Identity // persona -> display identity
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client:     client,
		socket:     socket,
		identities: make(map[string]Identity),
		logger:     logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetIdentity sets the name and icon used for a persona's replies.
func (a *SlackAdapter) SetIdentity(persona string, id Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities[persona] = id
}

// Connect starts the Socket Mode event loop in the background.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	if _, err := a.client.AuthTestContext(ctx); err != nil {
		a.setError(fmt.Sprintf("auth test: %v", err))
		return fmt.Errorf("slack auth: %w", err)
	}

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.setError(err.Error())
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()
	a.logger.Info("slack adapter connected via socket mode")
	return nil
}

func (a *SlackAdapter) setError(msg string) {
	a.mu.Lock()
	a.connected = false
	a.lastError = msg
	a.mu.Unlock()
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	a.socket.Ack(*evt.Request)

	if eventsAPI.Type != slackevents.CallbackEvent {
		return
	}
	if inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		// Bot messages would loop back through the assistant.
		if inner.BotID != "" || inner.SubType != "" {
			return
		}
		a.handleSlackMessage(inner)
	}
}

func (a *SlackAdapter) handleSlackMessage(ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

// Send posts a reply in the originating thread.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, a.identityOpts(msg.Persona)...)

	if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) identityOpts(persona string) []slack.MsgOption {
	if persona == "" {
		return nil
	}
	a.mu.RLock()
	id, ok := a.identities[persona]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{slack.MsgOptionUsername(id.Name)}
	if id.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(id.IconURL))
	} else if id.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(id.Emoji))
	}
	return opts
}

// Broadcast posts to every channel the bot is a member of.
func (a *SlackAdapter) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	text := fmt.Sprintf("*%s*\n%s", msg.Title, msg.Content)

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	opts = append(opts, a.identityOpts(msg.Persona)...)

	channels, _, err := a.client.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	})
	if err != nil {
		return fmt.Errorf("slack list channels: %w", err)
	}

	for _, ch := range channels {
		if _, _, err := a.client.PostMessageContext(ctx, ch.ID, opts...); err != nil {
			a.logger.Warn("slack broadcast to channel failed",
				zap.String("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "slack",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}

// Close is a no-op; cancelling the Connect context stops the socket.
func (a *SlackAdapter) Close() error {
	return nil
}
