// Package insights reads published artifacts and failures back from Redis for
// the insights command.
package insights

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// OutputFormat selects how listings are written.
type OutputFormat string

const (
	// OutputFormatDefault is a table with truncated text.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one complete JSON document per line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates an --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s (use 'default' or 'jsonl')", s)
	}
}

// Filter narrows a listing. All criteria are ANDed; zero values match
// everything.
type Filter struct {
	SinceMs        int64  // 0 = unbounded
	UntilMs        int64  // 0 = unbounded
	ModelGlob      string // Glob over the model name, e.g. "gpt-4*"
	Provider       string // Exact provider name
	UngroundedOnly bool
	Limit          int64 // Newest entries scanned; 0 = 100
}

// SetWindow bounds the filter by --since and --until values. A bound is a
// duration back from now ("90m", or "7d" for days), an RFC3339 time, or a
// date taken as UTC midnight. Empty leaves that side open.
func (f *Filter) SetWindow(since, until string, now time.Time) error {
	sinceMs, err := windowBound(since, now)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	untilMs, err := windowBound(until, now)
	if err != nil {
		return fmt.Errorf("invalid --until: %w", err)
	}
	if sinceMs > 0 && untilMs > 0 && sinceMs >= untilMs {
		return fmt.Errorf("--since must be before --until")
	}
	f.SinceMs, f.UntilMs = sinceMs, untilMs
	return nil
}

func windowBound(s string, now time.Time) (int64, error) {
	switch {
	case s == "":
		return 0, nil
	case strings.HasSuffix(s, "d"):
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil && days >= 0 {
			return now.AddDate(0, 0, -days).UnixMilli(), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("%q is not a duration, date or RFC3339 time", s)
}

func (f Filter) limit() int64 {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f Filter) inRange(createdAtMs int64) bool {
	if f.SinceMs > 0 && createdAtMs < f.SinceMs {
		return false
	}
	if f.UntilMs > 0 && createdAtMs > f.UntilMs {
		return false
	}
	return true
}

func (f Filter) matches(a *atlas.Artifact) bool {
	if !f.inRange(a.CreatedAtMs) {
		return false
	}
	if f.ModelGlob != "" {
		if matched, err := path.Match(f.ModelGlob, a.Model); err != nil || !matched {
			return false
		}
	}
	if f.Provider != "" && a.Provider != f.Provider {
		return false
	}
	return !f.UngroundedOnly || !a.Grounded
}

// Validate rejects malformed glob patterns.
func (f Filter) Validate() error {
	if f.ModelGlob != "" {
		if _, err := path.Match(f.ModelGlob, ""); err != nil {
			return fmt.Errorf("invalid model pattern %q: %w", f.ModelGlob, err)
		}
	}
	return nil
}

// ListArtifacts writes the newest published artifacts, oldest first.
// Entries that cannot be decoded are reported to warn and skipped.
func ListArtifacts(ctx context.Context, client *atlas.Client, filter Filter, format OutputFormat, w, warn io.Writer) error {
	entries, err := client.RecentEntries(ctx, atlas.InsightsStream, filter.limit())
	if err != nil {
		return err
	}

	var artifacts []*atlas.Artifact
	for _, entry := range oldestFirst(entries) {
		a, err := atlas.ArtifactFromFields(entry.Values)
		if err != nil {
			fmt.Fprintf(warn, "Skipping malformed insights entry %s: %v\n", entry.ID, err)
			continue
		}
		if filter.matches(a) {
			artifacts = append(artifacts, a)
		}
	}

	switch format {
	case OutputFormatDefault:
		FormatArtifactTable(w, artifacts)
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, artifacts)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// ListFailures writes the newest failure records, oldest first.
func ListFailures(ctx context.Context, client *atlas.Client, filter Filter, format OutputFormat, w io.Writer) error {
	entries, err := client.RecentEntries(ctx, atlas.FailedStream, filter.limit())
	if err != nil {
		return err
	}

	var failures []*atlas.Failure
	for _, entry := range oldestFirst(entries) {
		f := atlas.FailureFromFields(entry.Values)
		if filter.inRange(f.CreatedAtMs) {
			failures = append(failures, f)
		}
	}

	switch format {
	case OutputFormatDefault:
		FormatFailureTable(w, failures)
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, failures)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// oldestFirst reverses XREVRANGE output.
func oldestFirst(entries []redis.XMessage) []redis.XMessage {
	out := make([]redis.XMessage, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
