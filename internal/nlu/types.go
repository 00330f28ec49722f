// Package nlu turns transcribed command utterances into structured intents
// and executes them. Matching is deterministic pattern scoring against a
// configured command table; no remote service is involved.
package nlu

import "time"

// ActionKind enumerates the closed set of action variants a command can
// resolve to. The kind is resolved once at configuration load, so the
// dispatcher never inspects loosely-typed values.
type ActionKind string

const (
	// ActionLog records the command and answers with its feedback text.
	ActionLog ActionKind = "log"

	// ActionExit asks the caller to end the capture loop.
	ActionExit ActionKind = "exit"

	// ActionHelp answers with the enumerated help text.
	ActionHelp ActionKind = "help"

	// ActionTime answers with the current local time.
	ActionTime ActionKind = "time"

	// ActionKeyCommand sends a keystroke combination to the target
	// application.
	ActionKeyCommand ActionKind = "key_command"

	// ActionScript runs an automation script against the target application.
	ActionScript ActionKind = "script"
)

// Action is the tagged variant describing what a command does. Keys is set
// only for ActionKeyCommand, Script only for ActionScript.
type Action struct {
	Kind   ActionKind
	Keys   string // e.g. "Cmd+Shift+Space"
	Script string // automation script body
}

// Command is one configured voice command: an intent name, the trigger
// patterns scored against utterances, the resolved action, and a feedback
// template (which may contain a {time} placeholder). Immutable after load.
type Command struct {
	Intent   string
	Patterns []string
	Action   Action
	Feedback string
}

// RecognizedIntent is the result of matching one utterance. Created once per
// successful match and consumed exactly once by the dispatcher.
type RecognizedIntent struct {
	Name       string
	Confidence float64
	Text       string // original utterance
	Action     Action
	Feedback   string
}

// Result reports the outcome of dispatching one intent.
type Result struct {
	Success  bool
	Feedback string
	Err      string
	Data     map[string]string
}

// HistoryEntry records one dispatched command.
type HistoryEntry struct {
	Time   time.Time
	Intent string
	Text   string
}

// DefaultCommands is the built-in command table used when the configuration
// provides none.
func DefaultCommands() []Command {
	return []Command{
		{
			Intent:   "test",
			Patterns: []string{"test", "teste", "testing"},
			Action:   Action{Kind: ActionLog},
			Feedback: "Test erfolgreich",
		},
		{
			Intent:   "hello",
			Patterns: []string{"hallo", "guten tag", "hi", "servus"},
			Action:   Action{Kind: ActionLog},
			Feedback: "Hallo! Wie kann ich helfen?",
		},
		{
			Intent:   "time",
			Patterns: []string{"zeit", "uhrzeit", "wie spät"},
			Action:   Action{Kind: ActionTime},
			Feedback: "Es ist {time}",
		},
		{
			Intent:   "stop",
			Patterns: []string{"stop", "stopp", "beenden", "ende", "ausschalten"},
			Action:   Action{Kind: ActionExit},
			Feedback: "Auf Wiedersehen",
		},
		{
			Intent:   "help",
			Patterns: []string{"hilfe", "help", "was kannst du"},
			Action:   Action{Kind: ActionHelp},
			Feedback: "",
		},
	}
}
