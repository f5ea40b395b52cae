package insights

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

const watchBatch = 100

// WatchArtifacts writes artifacts published after the call starts, as they
// arrive, until ctx is cancelled. Each poll blocks for at most poll. Default
// format prints one summary line per artifact; JSONL prints full documents.
func WatchArtifacts(ctx context.Context, client *atlas.Client, filter Filter, format OutputFormat, poll time.Duration, w, warn io.Writer) error {
	lastID := "0-0"
	latest, err := client.RecentEntries(ctx, atlas.InsightsStream, 1)
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := client.ReadAfter(ctx, atlas.InsightsStream, lastID, watchBatch, poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, entry := range entries {
			lastID = entry.ID

			a, err := atlas.ArtifactFromFields(entry.Values)
			if err != nil {
				fmt.Fprintf(warn, "Skipping malformed insights entry %s: %v\n", entry.ID, err)
				continue
			}
			if !filter.matches(a) {
				continue
			}

			switch format {
			case OutputFormatJSONL:
				if err := FormatJSONL(w, []*atlas.Artifact{a}); err != nil {
					return err
				}
			default:
				FormatArtifactLine(w, a)
			}
		}
	}
}
