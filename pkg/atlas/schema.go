package atlas

import "fmt"

// Stream names and the consumer group shared with the upstream services.
const (
	ReportsStream   = "atlas.reports.ready"
	InsightsStream  = "atlas.ai.insights"
	FailedStream    = "atlas.ai.failed"
	ConsumerGroup   = "atlas-ai"
	DefaultConsumer = "atlas-ai-1"
)

// ArtifactKey returns the Redis key for a published artifact hash.
// Pattern: atlas:ai:artifact:{artifact_id}
func ArtifactKey(artifactID string) string {
	return fmt.Sprintf("atlas:ai:artifact:%s", artifactID)
}

// CacheKey returns the Redis key for a cached LLM response.
// Pattern: atlas:ai:cache:{fingerprint}
func CacheKey(fingerprint string) string {
	return fmt.Sprintf("atlas:ai:cache:%s", fingerprint)
}
