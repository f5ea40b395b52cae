package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

func setupPublisher(t *testing.T, cfg config.PublisherConfig) (*Publisher, *atlas.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := atlas.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, cfg, nil), client, mr
}

func testArtifact() *atlas.Artifact {
	return &atlas.Artifact{
		ID:               uuid.New().String(),
		EventID:          "evt-1",
		RunID:            "run-1",
		Kind:             atlas.ArtifactKindAnalysis,
		Roadmap:          "1. Pin images [ev:finding:unpinned-images]",
		ExecutiveSummary: "Mostly healthy.",
		Model:            "mistral",
		Provider:         "ollama",
		TokensUsed:       150,
		Provenance:       []string{"finding:unpinned-images", "finding:no-timeout"},
		Citations:        []string{"finding:unpinned-images"},
		Unknown:          []string{},
		Coverage:         0.5,
		Grounded:         true,
		CreatedAtMs:      1700000000000,
	}
}

func TestPublishArtifact(t *testing.T) {
	p, client, mr := setupPublisher(t, config.PublisherConfig{StreamMaxLen: 100, ArtifactTTL: time.Hour})
	ctx := context.Background()
	a := testArtifact()

	entryID, err := p.PublishArtifact(ctx, a)
	require.NoError(t, err)
	assert.NotEmpty(t, entryID)

	t.Run("hash is stored with retention", func(t *testing.T) {
		stored, err := client.GetArtifact(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a, stored)
		assert.Equal(t, time.Hour, mr.TTL(atlas.ArtifactKey(a.ID)))
	})

	t.Run("stream entry carries the artifact", func(t *testing.T) {
		entries, err := client.RecentEntries(ctx, atlas.InsightsStream, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entryID, entries[0].ID)
		assert.Equal(t, a.ID, entries[0].Values["artifact_id"])
		assert.Equal(t, "evt-1", entries[0].Values["event_id"])

		decoded, err := atlas.ArtifactFromFields(entries[0].Values)
		require.NoError(t, err)
		assert.Equal(t, a, decoded)
	})

	t.Run("invalid artifact is rejected before any write", func(t *testing.T) {
		bad := testArtifact()
		bad.Unknown = []string{"node:ghost"}

		_, err := p.PublishArtifact(ctx, bad)
		assert.ErrorContains(t, err, "invalid artifact")
		assert.False(t, mr.Exists(atlas.ArtifactKey(bad.ID)))

		entries, err := client.RecentEntries(ctx, atlas.InsightsStream, 10)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestPublishArtifact_NoTTL(t *testing.T) {
	p, _, mr := setupPublisher(t, config.PublisherConfig{})
	a := testArtifact()

	_, err := p.PublishArtifact(context.Background(), a)
	require.NoError(t, err)
	assert.Zero(t, mr.TTL(atlas.ArtifactKey(a.ID)))
}

func TestPublishFailure(t *testing.T) {
	p, client, _ := setupPublisher(t, config.PublisherConfig{StreamMaxLen: 100})
	ctx := context.Background()

	f := &atlas.Failure{
		EventID:     "evt-1",
		MessageID:   "1700000000000-0",
		Reason:      atlas.FailureReasonGeneration,
		Error:       "LLM generation failed after 4 attempt(s)",
		Deliveries:  1,
		CreatedAtMs: 1700000000000,
	}
	_, err := p.PublishFailure(ctx, f)
	require.NoError(t, err)

	entries, err := client.RecentEntries(ctx, atlas.FailedStream, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, f, atlas.FailureFromFields(entries[0].Values))

	_, err = p.PublishFailure(ctx, &atlas.Failure{Reason: atlas.FailureReasonDecode})
	assert.ErrorContains(t, err, "invalid failure")
}

func TestPublish_RedisDown(t *testing.T) {
	p, _, mr := setupPublisher(t, config.PublisherConfig{})
	mr.Close()

	_, err := p.PublishArtifact(context.Background(), testArtifact())
	assert.Error(t, err)
	_, err = p.PublishFailure(context.Background(), &atlas.Failure{MessageID: "1-0", Reason: atlas.FailureReasonDecode})
	assert.Error(t, err)
}
