package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/ramify/internal/gateway"
	"github.com/nidhogg/ramify/internal/prompt"
	"github.com/nidhogg/ramify/internal/session"
)

// Assistant is the subset of the assistant service commands use.
type Assistant interface {
	Ramification(ctx context.Context, sessionID, input string) (string, error)
	MedicationReminder(ctx context.Context, sessionID, input, currentTime string) (string, error)
	Acknowledge(ctx context.Context, name string) error
	Schedule() session.Schedule
}

// StatusProvider reports chat adapter state.
type StatusProvider interface {
	Statuses() []gateway.AdapterStatus
}

// ClockLayout formats the time passed to /remind.
const ClockLayout = "2006-01-02 15:04"

// RegisterBuiltins registers /help, /ramify, /remind, /schedule, /ack and,
// when status is non-nil, /status.
func RegisterBuiltins(reg *Registry, asst Assistant, status StatusProvider, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	reg.Register(helpCommand(reg))
	reg.Register(ramifyCommand(asst))
	reg.Register(remindCommand(asst, clock))
	reg.Register(scheduleCommand(asst))
	reg.Register(ackCommand(asst))
	if status != nil {
		reg.Register(statusCommand(status))
	}
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString("Anything else goes to the task manager.")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func ramifyCommand(asst Assistant) *Command {
	return &Command{
		Name:        "ramify",
		Description: "Map the consequences of a decision",
		Usage:       "/ramify <decision>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /ramify <decision>"}, nil
			}
			reply, err := asst.Ramification(ctx, cc.SessionID(), args)
			if err != nil {
				return nil, err
			}
			return &CommandResult{Content: reply, Persona: prompt.PersonaRamification}, nil
		},
	}
}

func remindCommand(asst Assistant, clock func() time.Time) *Command {
	return &Command{
		Name:        "remind",
		Description: "Talk to the medication companion",
		Usage:       "/remind <message>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				args = "Do I have any medication due?"
			}
			reply, err := asst.MedicationReminder(ctx, cc.SessionID(), args, clock().Format(ClockLayout))
			if err != nil {
				return nil, err
			}
			return &CommandResult{Content: reply, Persona: prompt.PersonaMedication}, nil
		},
	}
}

func scheduleCommand(asst Assistant) *Command {
	return &Command{
		Name:        "schedule",
		Description: "Show the medication schedule",
		Usage:       "/schedule",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			sched := asst.Schedule()
			return &CommandResult{Content: FormatSchedule(sched), Data: sched}, nil
		},
	}
}

func ackCommand(asst Assistant) *Command {
	return &Command{
		Name:        "ack",
		Description: "Mark a medication as taken",
		Usage:       "/ack <medication name>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /ack <medication name>"}, nil
			}
			if err := asst.Acknowledge(ctx, args); err != nil {
				return nil, err
			}
			return &CommandResult{Content: fmt.Sprintf("Marked %s as taken.", args)}, nil
		},
	}
}

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.Statuses()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Error != "" {
					fmt.Fprintf(&b, " (%s)", a.Error)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// FormatSchedule renders a schedule for chat, skipping empty buckets.
func FormatSchedule(sched session.Schedule) string {
	var b strings.Builder
	for _, bucket := range session.Buckets {
		meds := sched[bucket]
		if len(meds) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", bucket)
		for _, m := range meds {
			fmt.Fprintf(&b, "  - %s", m.Name)
			if m.Dosage != "" {
				fmt.Fprintf(&b, " %s", m.Dosage)
			}
			if m.Instructions != "" {
				fmt.Fprintf(&b, " (%s)", m.Instructions)
			}
			if m.Acknowledged {
				b.WriteString(" [taken]")
			}
			b.WriteByte('\n')
		}
	}
	if b.Len() == 0 {
		return "No medications scheduled."
	}
	return "Medication schedule:\n" + b.String()
}
