package main

import (
	"fmt"
	"io"
	"os"

	"github.com/maphy9/mind-flow/internal/api"
	"github.com/maphy9/mind-flow/internal/chat"
	"github.com/maphy9/mind-flow/internal/reminder"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// Commands write results to stdout and diagnostics to stderr; tests swap both.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func printReminder(r api.ReminderView) {
	state := colorize(colorGreen, "on ")
	if !r.Enabled {
		state = colorize(colorDim, "off")
	}
	fmt.Fprintf(stdout, "%s  %s  %-24s %s\n", colorize(colorCyan, shortID(r.ID)), state, r.Description, r.Title)
}

// printOutcome reports a lifecycle result, surfacing fail-soft problems as warnings.
func printOutcome(verb string, title string, outcome reminder.Outcome, warnings []string, cancelFailures int) {
	switch outcome {
	case reminder.OutcomePermissionDenied:
		printWarning("%s %q, but notifications are not permitted; it will not fire", verb, title)
	case reminder.OutcomeUnscheduled:
		printWarning("%s %q without a notification", verb, title)
	default:
		printSuccess("%s %q", verb, title)
	}
	for _, w := range warnings {
		printWarning("%s", w)
	}
	if cancelFailures > 0 {
		printWarning("%s could not be cancelled", plural(cancelFailures, "notification"))
	}
}

func printMessage(m chat.Message) {
	role := colorize(colorBold, m.Role)
	fmt.Fprintf(stdout, "%s %s %s\n", colorize(colorDim, shortID(m.ID)), role, m.Content)
	for i, a := range m.Actions {
		when := ""
		if a.Time != "" {
			when = colorize(colorDim, " @ "+a.Time)
		}
		fmt.Fprintf(stdout, "    %d %s %s%s\n", i, checkbox(a.Checked), a.Text, when)
	}
}
