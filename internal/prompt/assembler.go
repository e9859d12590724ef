// Package prompt builds the text sent to the completion service.
package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/ramify/internal/session"
)

// Personas served by the assistant. Each maps to one HTTP route.
const (
	PersonaRamification = "ramification-calculator"
	PersonaTaskManager  = "task-manager"
	PersonaMedication   = "medication-reminder"
)

//go:embed templates/ramification_system.txt
var ramificationSystem string

//go:embed templates/task_manager_system.txt
var taskManagerSystem string

//go:embed templates/medication_system.txt
var medicationSystem string

//go:embed templates/medication_prompt.txt
var medicationTemplate string

// Assembler holds the persona instructions and prompt templates.
type Assembler struct {
	instructions       map[string]string
	medicationTemplate string
}

// NewAssembler creates an assembler from the embedded defaults. Non-empty
// entries in overrides replace a persona's system instruction.
func NewAssembler(overrides map[string]string) *Assembler {
	a := &Assembler{
		instructions: map[string]string{
			PersonaRamification: strings.TrimSpace(ramificationSystem),
			PersonaTaskManager:  strings.TrimSpace(taskManagerSystem),
			PersonaMedication:   strings.TrimSpace(medicationSystem),
		},
		medicationTemplate: strings.TrimRight(medicationTemplate, "\n"),
	}
	for persona, text := range overrides {
		if text = strings.TrimSpace(text); text != "" {
			a.instructions[persona] = text
		}
	}
	return a
}

// SetMedicationTemplate replaces the reminder prompt template. Recognized
// placeholders are {current_time}, {schedule}, {context} and {user_input}.
func (a *Assembler) SetMedicationTemplate(tmpl string) {
	if tmpl != "" {
		a.medicationTemplate = tmpl
	}
}

// SystemInstruction returns the persona's fixed instruction.
func (a *Assembler) SystemInstruction(persona string) string {
	return a.instructions[persona]
}

// Ramification returns the user input unchanged; the persona instruction
// carries the framing.
func (a *Assembler) Ramification(userInput string) string {
	return userInput
}

// TaskManager returns the user input unchanged; prior turns travel as history.
func (a *Assembler) TaskManager(userInput string) string {
	return userInput
}

// MedicationReminder embeds the schedule and context as indented JSON plus the
// caller-supplied time and the raw user message. User text is not escaped.
func (a *Assembler) MedicationReminder(sched session.Schedule, ctx session.Context, currentTime, userInput string) (string, error) {
	schedJSON, err := json.MarshalIndent(sched, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schedule: %w", err)
	}
	if ctx.Pending == nil {
		ctx.Pending = []string{}
	}
	ctxJSON, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	r := strings.NewReplacer(
		"{current_time}", currentTime,
		"{schedule}", string(schedJSON),
		"{context}", string(ctxJSON),
		"{user_input}", userInput,
	)
	return r.Replace(a.medicationTemplate), nil
}
