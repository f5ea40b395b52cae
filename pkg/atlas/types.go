package atlas

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an inbound stream entry cannot be decoded
// into an Event.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a notification that an upstream analysis run has completed.
type Event struct {
	MessageID  string          `json:"message_id"`           // Stream entry ID
	EventID    string          `json:"event_id"`             // UUID, generated when the producer omits it
	RunID      string          `json:"run_id,omitempty"`     // Analysis run reference in the graph service
	Repository string          `json:"repository,omitempty"` // Source repository, informational
	Report     json.RawMessage `json:"report"`               // Raw JSON analysis report
	Deliveries int64           `json:"deliveries,omitempty"` // Delivery count, set for reclaimed entries
}

// EvidenceKind classifies where an evidence reference came from.
type EvidenceKind string

const (
	// EvidenceKindFinding is a rule finding from the analysis report.
	EvidenceKindFinding EvidenceKind = "finding"

	// EvidenceKindNode is a graph node (or node type) from the analysis.
	EvidenceKindNode EvidenceKind = "node"

	// EvidenceKindGraph is an item returned by the graph service.
	EvidenceKindGraph EvidenceKind = "graph"
)

// EvidenceRef is an opaque reference into the external graph plus the
// descriptive text rendered into prompts.
type EvidenceRef struct {
	ID       string       `json:"id"`
	Kind     EvidenceKind `json:"kind"`
	Label    string       `json:"label"`
	Severity string       `json:"severity,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	Related  []string     `json:"related,omitempty"`
}

// PromptKind selects which generation a prompt is for.
type PromptKind string

const (
	PromptKindRoadmap PromptKind = "roadmap"
	PromptKindSummary PromptKind = "summary"
)

// Prompt is a fully rendered LLM request.
// EvidenceIDs lists exactly the evidence rendered into User.
type Prompt struct {
	Kind            PromptKind `json:"kind"`
	System          string     `json:"system"`
	User            string     `json:"user"`
	EvidenceIDs     []string   `json:"evidence_ids"`
	EstimatedTokens int        `json:"estimated_tokens"`
	Dropped         int        `json:"dropped"` // Evidence omitted to stay under the token ceiling
}

// ArtifactKind identifies what an artifact contains.
type ArtifactKind string

const (
	ArtifactKindRoadmap  ArtifactKind = "roadmap"
	ArtifactKindSummary  ArtifactKind = "summary"
	ArtifactKindAnalysis ArtifactKind = "analysis" // Roadmap and executive summary together
)

// Validate checks that the kind is one of the known artifact kinds.
func (k ArtifactKind) Validate() error {
	switch k {
	case ArtifactKindRoadmap, ArtifactKindSummary, ArtifactKindAnalysis:
		return nil
	default:
		return fmt.Errorf("unknown artifact kind: %q", string(k))
	}
}

// Artifact is a generated insight together with its provenance.
type Artifact struct {
	ID               string       `json:"id"`
	EventID          string       `json:"event_id"`
	RunID            string       `json:"run_id,omitempty"`
	Kind             ArtifactKind `json:"kind"`
	Roadmap          string       `json:"roadmap,omitempty"`
	ExecutiveSummary string       `json:"executive_summary,omitempty"`
	Model            string       `json:"model"`
	Provider         string       `json:"provider"`
	TokensUsed       int          `json:"tokens_used"`
	Provenance       []string     `json:"provenance"` // Evidence IDs supplied to the model
	Citations        []string     `json:"citations"`  // Evidence IDs cited in the generated text
	Unknown          []string     `json:"unknown"`    // Cited IDs that were never supplied
	Coverage         float64      `json:"coverage"`
	Grounded         bool         `json:"grounded"`
	Cached           bool         `json:"cached"`
	Fingerprint      string       `json:"fingerprint,omitempty"`
	CreatedAtMs      int64        `json:"created_at_ms"`
}

// Validate checks the artifact's structural invariants.
func (a *Artifact) Validate() error {
	if !isValidUUID(a.ID) {
		return fmt.Errorf("invalid artifact ID: not a valid UUID")
	}

	if a.EventID == "" {
		return fmt.Errorf("event_id cannot be empty")
	}

	if err := a.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}

	if a.TokensUsed < 0 {
		return fmt.Errorf("invalid tokens_used: must be >= 0, got %d", a.TokensUsed)
	}

	if a.Coverage < 0 || a.Coverage > 1 {
		return fmt.Errorf("invalid coverage: must be within [0, 1], got %f", a.Coverage)
	}

	cited := toSet(a.Citations)
	for _, id := range a.Unknown {
		if !cited[id] {
			return fmt.Errorf("unknown evidence %q is not among citations", id)
		}
	}

	unknown := toSet(a.Unknown)
	supplied := toSet(a.Provenance)
	for _, id := range a.Citations {
		if !unknown[id] && !supplied[id] {
			return fmt.Errorf("citation %q is neither supplied nor marked unknown", id)
		}
	}

	return nil
}

// FailureReason classifies a Failure.
type FailureReason string

const (
	FailureReasonDecode        FailureReason = "decode"
	FailureReasonContext       FailureReason = "context"
	FailureReasonBudget        FailureReason = "budget"
	FailureReasonGeneration    FailureReason = "generation"
	FailureReasonUngrounded    FailureReason = "ungrounded"
	FailureReasonPublish       FailureReason = "publish"
	FailureReasonMaxDeliveries FailureReason = "max_deliveries"
)

// Failure records why an inbound entry produced no artifact.
type Failure struct {
	EventID     string        `json:"event_id,omitempty"`
	MessageID   string        `json:"message_id"`
	Reason      FailureReason `json:"reason"`
	Error       string        `json:"error"`
	Deliveries  int64         `json:"deliveries,omitempty"`
	CreatedAtMs int64         `json:"created_at_ms"`
}

// Validate checks that the failure can be traced back to its stream entry.
func (f *Failure) Validate() error {
	if f.MessageID == "" {
		return fmt.Errorf("message_id cannot be empty")
	}
	if f.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}
	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
