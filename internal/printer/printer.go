// Package printer writes coloured, human-oriented CLI output. Machine output
// (JSON results, JSONL listings) never goes through this package.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
)

var (
	// Stdout and Stderr are the destinations; tests replace them.
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Info prints a bold message to stdout.
func Info(format string, a ...any) {
	bold.Fprintf(Stdout, format, a...)
}

// Success prints a green message prefixed with a checkmark.
func Success(format string, a ...any) {
	green.Fprintf(Stdout, "✓ %s", fmt.Sprintf(format, a...))
}

// Warning prints a yellow message to stderr.
func Warning(format string, a ...any) {
	yellow.Fprintf(Stderr, "⚠️  %s", fmt.Sprintf(format, a...))
}

// Field prints an aligned "Label: value" line with the label in cyan.
func Field(label, value string) {
	cyan.Fprintf(Stdout, "%-10s", label+":")
	fmt.Fprintf(Stdout, " %s\n", value)
}

// Error prints a titled error with an explanation and suggestions to stderr
// and returns an error carrying only the title, for cobra's SilenceErrors.
func Error(title, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error plus key/value details, printed in key order.
func ErrorWithContext(title, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(Stderr)
		for _, k := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}
