package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Matza-labs/atlas-ai/internal/insights"
	"github.com/Matza-labs/atlas-ai/internal/printer"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

var (
	insightsOutputFormat string
	insightsSince        string
	insightsUntil        string
	insightsModel        string
	insightsProvider     string
	insightsLimit        int64
	insightsUngrounded   bool
	insightsFailures     bool
	insightsWatch        bool
)

const watchPollInterval = 500 * time.Millisecond

var insightsCmd = &cobra.Command{
	Use:   "insights [ARTIFACT_ID]",
	Short: "Inspect published roadmaps and failures",
	Long: `Inspect what the stream consumer has published, in list or get mode.

List Mode (no ARTIFACT_ID):
  Displays the newest artifacts from atlas.ai.insights, oldest first, as a
  table or JSONL stream. With --failures, lists atlas.ai.failed instead.

Watch Mode (--watch):
  Prints artifacts as they are published until interrupted.

Get Mode (with ARTIFACT_ID):
  Displays one complete artifact as pretty-printed JSON.
  Accepts the short IDs shown in listings (at least 6 characters).

Examples:
  # Artifacts from the last hour
  atlas-ai insights --since=1h

  # Ungrounded artifacts as JSONL for jq
  atlas-ai insights --ungrounded --output=jsonl | jq .unknown

  # Recent failures
  atlas-ai insights --failures --limit=20

  # Follow new roadmaps from one model family
  atlas-ai insights --watch --model="llama3*"

  # One artifact, by short ID
  atlas-ai insights 3f2b7c1e`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInsights,
}

func init() {
	insightsCmd.Flags().StringVarP(&insightsOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	insightsCmd.Flags().StringVar(&insightsSince, "since", "", "Show entries after time (duration or RFC3339)")
	insightsCmd.Flags().StringVar(&insightsUntil, "until", "", "Show entries before time (duration or RFC3339)")
	insightsCmd.Flags().StringVar(&insightsModel, "model", "", "Filter by model (glob pattern)")
	insightsCmd.Flags().StringVar(&insightsProvider, "provider", "", "Filter by provider (exact match)")
	insightsCmd.Flags().Int64Var(&insightsLimit, "limit", 100, "Number of newest stream entries to scan")
	insightsCmd.Flags().BoolVar(&insightsUngrounded, "ungrounded", false, "Only show artifacts citing unknown evidence")
	insightsCmd.Flags().BoolVar(&insightsFailures, "failures", false, "List failure records instead of artifacts")
	insightsCmd.Flags().BoolVarP(&insightsWatch, "watch", "w", false, "Follow newly published artifacts until interrupted")

	rootCmd.AddCommand(insightsCmd)
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	isGetMode := len(args) > 0

	if insightsWatch && insightsFailures {
		return printer.Error(
			"conflicting flags",
			"--watch follows artifacts only and cannot be combined with --failures.",
			nil,
		)
	}

	var format insights.OutputFormat
	var filter insights.Filter
	if !isGetMode {
		var err error
		if format, err = insights.ParseOutputFormat(insightsOutputFormat); err != nil {
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", insightsOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}

		filter = insights.Filter{
			ModelGlob:      insightsModel,
			Provider:       insightsProvider,
			UngroundedOnly: insightsUngrounded,
			Limit:          insightsLimit,
		}
		if err := filter.SetWindow(insightsSince, insightsUntil, time.Now()); err != nil {
			return printer.Error(
				"invalid time range",
				err.Error(),
				[]string{"Use a duration like 1h30m or 7d, a date like 2026-01-02, or an RFC3339 time like 2026-01-02T15:04:05Z"},
			)
		}
		if err := filter.Validate(); err != nil {
			return printer.Error(
				"invalid filter",
				err.Error(),
				[]string{"Use a glob pattern like --model=\"gpt-4*\""},
			)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := atlas.NewClientFromURL(cfg.RedisURL)
	if err != nil {
		return printer.Error(
			"invalid Redis URL",
			err.Error(),
			[]string{"Set ATLAS_REDIS_URL to a redis:// or rediss:// URL"},
		)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis: %v", err),
			map[string]string{"URL": cfg.RedisURL},
			[]string{"Check that Redis is running", "Check ATLAS_REDIS_URL"},
		)
	}

	out := cmd.OutOrStdout()

	if isGetMode {
		return getInsight(ctx, client, args[0], out)
	}

	if insightsWatch {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := insights.WatchArtifacts(ctx, client, filter, format, watchPollInterval, out, cmd.ErrOrStderr()); err != nil {
			return printer.Error("watch failed", err.Error(), nil)
		}
		return nil
	}

	if insightsFailures {
		err = insights.ListFailures(ctx, client, filter, format, out)
	} else {
		err = insights.ListArtifacts(ctx, client, filter, format, out, cmd.ErrOrStderr())
	}
	if err != nil {
		return printer.Error("failed to list insights", err.Error(), nil)
	}
	return nil
}

func getInsight(ctx context.Context, client *atlas.Client, id string, out io.Writer) error {
	artifactID, err := insights.ResolveArtifactID(ctx, client, id)
	if err == nil {
		err = insights.GetArtifact(ctx, client, artifactID, out)
	}

	var ambiguous *insights.AmbiguousError
	switch {
	case err == nil:
		return nil
	case insights.IsNotFound(err):
		return printer.Error(
			fmt.Sprintf("artifact with ID '%s' not found", id),
			"The artifact was never published or its retention expired.",
			[]string{"List recent artifacts:\n  atlas-ai insights"},
		)
	case errors.As(err, &ambiguous):
		return printer.Error(
			fmt.Sprintf("ambiguous short ID '%s'", id),
			fmt.Sprintf("%d artifacts match:\n%s", len(ambiguous.Matches), ambiguous.Details()),
			[]string{"Use a longer prefix to identify the artifact"},
		)
	default:
		return printer.Error("failed to fetch artifact", err.Error(), nil)
	}
}
