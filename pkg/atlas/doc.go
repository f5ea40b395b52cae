// Package atlas provides the shared data model and Redis schema for the
// PipelineAtlas AI strategy layer.
//
// # Overview
//
// Upstream analysis services announce completed runs on a Redis stream. The
// atlas-ai service consumes those announcements, asks an LLM for a
// modernization roadmap and an executive summary, and publishes the result as an
// Artifact on an outbound stream. Everything the LLM is allowed to reference is
// carried as EvidenceRef values whose IDs are opaque references into the
// external graph service.
//
// # Core Types
//
// Event is one inbound stream entry: the run it refers to and the raw JSON
// analysis report.
//
// EvidenceRef is a single piece of grounded context. IDs derived from the report
// are prefixed deterministically (finding:<rule_id>, node:<type>); IDs returned by
// the graph service are used verbatim and never invented.
//
// Artifact is a generated roadmap or summary together with its provenance (the
// evidence IDs supplied to the model) and the citations found in the generated
// text.
//
// Failure records why an inbound entry could not be turned into an Artifact.
//
// # Redis Schema
//
// Streams:
//
//	atlas.reports.ready   inbound, consumer group atlas-ai
//	atlas.ai.insights     outbound artifacts
//	atlas.ai.failed       failures and dead-lettered entries
//
// Keys:
//
//	atlas:ai:artifact:{artifact_id}   artifact hash
//	atlas:ai:cache:{fingerprint}      cached LLM response (string, TTL)
//
// # Usage Example
//
//	client, err := atlas.NewClientFromURL("redis://localhost:6379")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.EnsureGroup(ctx, atlas.ReportsStream, atlas.ConsumerGroup); err != nil {
//		log.Fatal(err)
//	}
//
//	msgs, err := client.ReadGroup(ctx, atlas.ReportsStream, atlas.ConsumerGroup, "atlas-ai-1", 1, 5*time.Second)
package atlas
