// Package automation sends keystrokes and runs scripts against the desktop
// via osascript. It is the only package with real side effects on the target
// application.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// defaultTimeout bounds a single osascript invocation. AppleScript calls that
// hang (missing accessibility permission, frozen target app) must not stall
// the capture loop.
const defaultTimeout = 10 * time.Second

// modifiers maps descriptor tokens to AppleScript modifier clauses.
var modifiers = map[string]string{
	"cmd":     "command down",
	"command": "command down",
	"shift":   "shift down",
	"opt":     "option down",
	"option":  "option down",
	"alt":     "option down",
	"ctrl":    "control down",
	"control": "control down",
}

// keyCodes maps named keys to System Events key codes. Plain characters are
// sent with keystroke instead.
var keyCodes = map[string]int{
	"space":  49,
	"return": 36,
	"enter":  36,
	"escape": 53,
	"esc":    53,
	"tab":    48,
	"delete": 51,
	"left":   123,
	"right":  124,
	"down":   125,
	"up":     126,
}

// Runner executes automation against a single target application.
type Runner struct {
	app     string
	timeout time.Duration
}

// NewRunner returns a runner targeting app, e.g. "Logic Pro". An empty app
// sends keystrokes to the frontmost application.
func NewRunner(app string) *Runner {
	return &Runner{app: app, timeout: defaultTimeout}
}

// SendKeys parses a key descriptor like "Cmd+Shift+Space" and sends it as a
// keystroke. Tokens are separated by "+"; every token but the last must be a
// modifier, the last is either a named key or a single character.
func (r *Runner) SendKeys(ctx context.Context, keys string) error {
	stmt, err := keystrokeStatement(keys)
	if err != nil {
		return err
	}
	return r.run(ctx, r.wrap(stmt))
}

// RunScript executes an AppleScript body as-is.
func (r *Runner) RunScript(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("empty script body")
	}
	return r.run(ctx, body)
}

// wrap targets the statement at the configured application, activating it
// first so the keystroke lands where the user expects.
func (r *Runner) wrap(stmt string) string {
	if r.app == "" {
		return fmt.Sprintf("tell application \"System Events\" to %s", stmt)
	}
	return fmt.Sprintf(
		"tell application %q to activate\ntell application \"System Events\" to %s",
		r.app, stmt,
	)
}

func (r *Runner) run(ctx context.Context, script string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		slog.Error("osascript failed", "err", err, "output", strings.TrimSpace(string(out)))
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// keystrokeStatement translates a key descriptor into a System Events
// keystroke or key code statement.
func keystrokeStatement(descriptor string) (string, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return "", fmt.Errorf("empty key descriptor")
	}

	tokens := strings.Split(descriptor, "+")
	var mods []string
	for _, tok := range tokens[:len(tokens)-1] {
		mod, ok := modifiers[strings.ToLower(strings.TrimSpace(tok))]
		if !ok {
			return "", fmt.Errorf("unknown modifier %q in %q", tok, descriptor)
		}
		mods = append(mods, mod)
	}

	key := strings.TrimSpace(tokens[len(tokens)-1])
	if key == "" {
		return "", fmt.Errorf("missing key in %q", descriptor)
	}

	var stmt string
	if code, ok := keyCodes[strings.ToLower(key)]; ok {
		stmt = fmt.Sprintf("key code %d", code)
	} else {
		if len([]rune(key)) != 1 {
			return "", fmt.Errorf("unknown key %q in %q", key, descriptor)
		}
		stmt = fmt.Sprintf("keystroke %q", strings.ToLower(key))
	}

	if len(mods) > 0 {
		stmt += fmt.Sprintf(" using {%s}", strings.Join(mods, ", "))
	}
	return stmt, nil
}
