package insights

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// FormatArtifactTable writes artifacts as a table and returns how many rows
// were written.
func FormatArtifactTable(w io.Writer, artifacts []*atlas.Artifact) int {
	if len(artifacts) == 0 {
		fmt.Fprintln(w, "No insights found")
		return 0
	}

	row := "%-10s %-12s %-14s %-7s %-9s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "EVENT", "MODEL", "TOKENS", "GROUNDED", "AGE", "ROADMAP")
	fmt.Fprintf(w, row, "----------", "------------", "--------------", "-------", "---------", "--------",
		"----------------------------------------")

	for _, a := range artifacts {
		fmt.Fprintf(w, row,
			shortID(a.ID),
			truncate(a.EventID, 12),
			truncate(a.Model, 14),
			fmt.Sprintf("%d", a.TokensUsed),
			formatGrounded(a),
			formatAge(a.CreatedAtMs, time.Now()),
			firstLine(a.Roadmap, 40),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(artifacts), plural(len(artifacts), "insight", "insights"))
	return len(artifacts)
}

// FormatArtifactLine writes one timestamped summary line, as used by watch.
func FormatArtifactLine(w io.Writer, a *atlas.Artifact) {
	ts := "--:--:--"
	if a.CreatedAtMs > 0 {
		ts = time.UnixMilli(a.CreatedAtMs).Format("15:04:05")
	}
	icon := "✨"
	if !a.Grounded {
		icon = "⚠️ "
	}
	fmt.Fprintf(w, "[%s] %s %s event=%s model=%s tokens=%d grounded=%s: %s\n",
		ts, icon, shortID(a.ID), dash(a.EventID), dash(a.Model), a.TokensUsed,
		formatGrounded(a), firstLine(a.Roadmap, 60))
}

// FormatFailureTable writes failures as a table and returns how many rows
// were written.
func FormatFailureTable(w io.Writer, failures []*atlas.Failure) int {
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failures found")
		return 0
	}

	row := "%-18s %-12s %-15s %-5s %-8s %s\n"
	fmt.Fprintf(w, row, "MESSAGE", "EVENT", "REASON", "DLV", "AGE", "ERROR")
	fmt.Fprintf(w, row, "------------------", "------------", "---------------", "-----", "--------",
		"----------------------------------------")

	for _, f := range failures {
		fmt.Fprintf(w, row,
			truncate(f.MessageID, 18),
			truncate(dash(f.EventID), 12),
			string(f.Reason),
			fmt.Sprintf("%d", f.Deliveries),
			formatAge(f.CreatedAtMs, time.Now()),
			firstLine(f.Error, 40),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(failures), plural(len(failures), "failure", "failures"))
	return len(failures)
}

// FormatJSONL writes each element of a slice as compact JSON on its own line.
func FormatJSONL(w io.Writer, items interface{}) error {
	v := reflect.ValueOf(items)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("FormatJSONL needs a slice, got %T", items)
	}

	for i := 0; i < v.Len(); i++ {
		data, err := json.Marshal(v.Index(i).Interface())
		if err != nil {
			return fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as indented JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// firstLine returns the first non-blank line, truncated to max characters.
func firstLine(text string, max int) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return truncate(trimmed, max)
		}
	}
	return "-"
}

func formatGrounded(a *atlas.Artifact) string {
	if a.Grounded {
		return "yes"
	}
	return fmt.Sprintf("no (%d)", len(a.Unknown))
}

// formatAge renders a millisecond timestamp relative to now, e.g. "5m ago".
func formatAge(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	diff := now.Sub(time.UnixMilli(ms))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
