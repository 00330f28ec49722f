package nlu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// historyCap bounds the in-memory command history; the oldest entries are
// discarded once it is reached.
const historyCap = 1000

// AutomationRunner is the external desktop-automation collaborator. It is
// only ever called in live mode.
type AutomationRunner interface {
	SendKeys(ctx context.Context, keys string) error
	RunScript(ctx context.Context, body string) error
}

// Dispatcher executes recognized intents. Apart from the append-only history
// it holds no state: the result of Execute depends only on the intent and the
// dry-run flag.
type Dispatcher struct {
	dryRun     bool
	automation AutomationRunner
	commands   []Command

	mu      sync.Mutex
	history []HistoryEntry
}

// NewDispatcher returns a dispatcher. automation may be nil when dryRun is
// true. commands is only used to enumerate the help text.
func NewDispatcher(dryRun bool, automation AutomationRunner, commands []Command) *Dispatcher {
	if len(commands) == 0 {
		commands = DefaultCommands()
	}
	return &Dispatcher{
		dryRun:     dryRun,
		automation: automation,
		commands:   commands,
	}
}

// Execute runs the intent's action and returns a structured result. Failures
// are reported in the result, never panicked or escalated: a failed dispatch
// must not take down the capture loop.
func (d *Dispatcher) Execute(ctx context.Context, intent *RecognizedIntent) Result {
	if intent == nil {
		return Result{Success: false, Feedback: "Kein Befehl erkannt", Err: "no intent provided"}
	}

	d.record(intent)
	slog.Info("executing intent", "intent", intent.Name, "action", intent.Action.Kind, "dry_run", d.dryRun)

	switch intent.Action.Kind {
	case ActionLog:
		feedback := intent.Feedback
		if feedback == "" {
			feedback = fmt.Sprintf("Befehl %s ausgeführt", intent.Name)
		}
		return Result{Success: true, Feedback: feedback}

	case ActionExit:
		feedback := intent.Feedback
		if feedback == "" {
			feedback = "Auf Wiedersehen"
		}
		return Result{Success: true, Feedback: feedback}

	case ActionHelp:
		return Result{Success: true, Feedback: d.helpText()}

	case ActionTime:
		now := time.Now().Format("15:04") + " Uhr"
		feedback := intent.Feedback
		if feedback == "" {
			feedback = "Es ist {time}"
		}
		feedback = strings.ReplaceAll(feedback, "{time}", now)
		return Result{Success: true, Feedback: feedback, Data: map[string]string{"time": now}}

	case ActionKeyCommand:
		return d.external(ctx, intent, "Tastenkombination gesendet", func(ctx context.Context) error {
			return d.automation.SendKeys(ctx, intent.Action.Keys)
		})

	case ActionScript:
		return d.external(ctx, intent, "Skript ausgeführt", func(ctx context.Context) error {
			return d.automation.RunScript(ctx, intent.Action.Script)
		})

	default:
		slog.Warn("unknown action kind", "kind", intent.Action.Kind)
		return Result{
			Success:  false,
			Feedback: "Unbekannte Aktion",
			Err:      fmt.Sprintf("unknown action kind: %q", intent.Action.Kind),
		}
	}
}

// external handles the two action kinds with real side effects. Dry-run mode
// answers with a "[TEST]" prefix and never touches the collaborator.
func (d *Dispatcher) external(ctx context.Context, intent *RecognizedIntent, defaultFeedback string, run func(context.Context) error) Result {
	feedback := intent.Feedback
	if feedback == "" {
		feedback = defaultFeedback
	}

	if d.dryRun {
		slog.Info("dry run, skipping external action", "intent", intent.Name)
		return Result{Success: true, Feedback: "[TEST] " + feedback}
	}

	if d.automation == nil {
		return Result{Success: false, Feedback: "Automatisierung nicht verfügbar", Err: "no automation runner configured"}
	}

	if err := run(ctx); err != nil {
		slog.Error("automation failed", "intent", intent.Name, "err", err)
		return Result{Success: false, Feedback: "Fehler bei der Ausführung", Err: err.Error()}
	}
	return Result{Success: true, Feedback: feedback}
}

func (d *Dispatcher) record(intent *RecognizedIntent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) >= historyCap {
		d.history = d.history[1:]
	}
	d.history = append(d.history, HistoryEntry{
		Time:   time.Now(),
		Intent: intent.Name,
		Text:   intent.Text,
	})
}

// History returns a copy of the command history, oldest first.
func (d *Dispatcher) History() []HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]HistoryEntry(nil), d.history...)
}

// ClearHistory empties the command history.
func (d *Dispatcher) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

func (d *Dispatcher) helpText() string {
	var b strings.Builder
	b.WriteString("Verfügbare Befehle:")
	for _, cmd := range d.commands {
		b.WriteString(" ")
		b.WriteString(cmd.Intent)
		if len(cmd.Patterns) > 0 {
			b.WriteString(" (")
			b.WriteString(strings.Join(cmd.Patterns, ", "))
			b.WriteString(")")
		}
		b.WriteString(";")
	}
	return strings.TrimSuffix(b.String(), ";")
}
