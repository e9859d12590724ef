// Package router turns inbound chat messages into assistant calls.
package router

import (
	"context"
	"time"

	"github.com/nidhogg/ramify/internal/apperr"
	"github.com/nidhogg/ramify/internal/command"
	"github.com/nidhogg/ramify/internal/gateway"
	"github.com/nidhogg/ramify/internal/prompt"
	"go.uber.org/zap"
)

// TaskManager answers free-form chat.
type TaskManager interface {
	TaskManager(ctx context.Context, sessionID, input string) (string, error)
}

// Sender delivers replies to a platform.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter routes slash commands to the command registry and everything
// else to the task manager.
type MessageRouter struct {
	tasks    TaskManager
	sender   Sender
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a MessageRouter. timeout bounds one message's handling;
// zero means no bound.
func New(tasks TaskManager, sender Sender, commands *command.Registry, timeout time.Duration, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		tasks:    tasks,
		sender:   sender,
		commands: commands,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle processes one inbound message. Its signature matches
// gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	if mr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mr.timeout)
		defer cancel()
	}

	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName))

	if command.IsCommand(msg.Content) {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		if err != nil {
			mr.replyError(ctx, msg, err)
			return
		}
		mr.reply(ctx, msg, result.Persona, result.Content)
		return
	}

	reply, err := mr.tasks.TaskManager(ctx, msg.SessionID(), msg.Content)
	if err != nil {
		mr.replyError(ctx, msg, err)
		return
	}
	mr.reply(ctx, msg, prompt.PersonaTaskManager, reply)
}

// replyError logs the full error and sends only its public message.
func (mr *MessageRouter) replyError(ctx context.Context, msg *gateway.InboundMessage, err error) {
	mr.logger.Error("chat request failed",
		zap.String("platform", msg.Platform),
		zap.String("code", apperr.CodeOf(err)),
		zap.Error(err))
	mr.reply(ctx, msg, "", apperr.PublicMessage(err))
}

func (mr *MessageRouter) reply(ctx context.Context, orig *gateway.InboundMessage, persona, text string) {
	err := mr.sender.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Persona:   persona,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
