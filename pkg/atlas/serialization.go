package atlas

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Serialization helpers for stream entries and artifact hashes.
//
// Stream entries and hashes are flat string maps. List fields are JSON-encoded
// into a single field, and every outbound stream entry also carries the full
// JSON document in its payload field.

// EventFromFields decodes an inbound stream entry. The report is read from the
// payload field; a missing payload is treated as an empty report. Entries whose
// payload is not a JSON object are rejected with ErrInvalidEvent. Without an
// event_id field the event ID is derived from the message ID, so every
// delivery of an entry carries the same ID.
func EventFromFields(messageID string, fields map[string]interface{}) (*Event, error) {
	payload := strings.TrimSpace(fieldString(fields, "payload"))
	if payload == "" {
		payload = "{}"
	}

	if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
		return nil, fmt.Errorf("%w: payload of %s is not a JSON object", ErrInvalidEvent, messageID)
	}

	eventID := fieldString(fields, "event_id")
	if eventID == "" {
		eventID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ReportsStream+"/"+messageID)).String()
	}

	return &Event{
		MessageID:  messageID,
		EventID:    eventID,
		RunID:      fieldString(fields, "run_id"),
		Repository: fieldString(fields, "repository"),
		Report:     json.RawMessage(payload),
	}, nil
}

// EventToFields encodes an event for XADD onto the inbound stream.
func EventToFields(e *Event) map[string]interface{} {
	report := string(e.Report)
	if report == "" {
		report = "{}"
	}
	return map[string]interface{}{
		"event_id":   e.EventID,
		"run_id":     e.RunID,
		"repository": e.Repository,
		"payload":    report,
	}
}

// ArtifactToHash converts an Artifact to a Redis hash.
// Evidence ID lists are JSON-encoded.
func ArtifactToHash(a *Artifact) (map[string]interface{}, error) {
	provenance, err := marshalIDs(a.Provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provenance: %w", err)
	}
	citations, err := marshalIDs(a.Citations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal citations: %w", err)
	}
	unknown, err := marshalIDs(a.Unknown)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal unknown: %w", err)
	}

	return map[string]interface{}{
		"id":                a.ID,
		"event_id":          a.EventID,
		"run_id":            a.RunID,
		"kind":              string(a.Kind),
		"roadmap":           a.Roadmap,
		"executive_summary": a.ExecutiveSummary,
		"model":             a.Model,
		"provider":          a.Provider,
		"tokens_used":       a.TokensUsed,
		"provenance":        provenance,
		"citations":         citations,
		"unknown":           unknown,
		"coverage":          strconv.FormatFloat(a.Coverage, 'f', -1, 64),
		"grounded":          strconv.FormatBool(a.Grounded),
		"cached":            strconv.FormatBool(a.Cached),
		"fingerprint":       a.Fingerprint,
		"created_at_ms":     a.CreatedAtMs,
	}, nil
}

// HashToArtifact converts a Redis hash back to an Artifact.
func HashToArtifact(hash map[string]string) (*Artifact, error) {
	tokens, err := strconv.Atoi(hash["tokens_used"])
	if err != nil {
		return nil, fmt.Errorf("invalid tokens_used field: %w", err)
	}

	provenance, err := unmarshalIDs(hash["provenance"])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
	}
	citations, err := unmarshalIDs(hash["citations"])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
	}
	unknown, err := unmarshalIDs(hash["unknown"])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal unknown: %w", err)
	}

	coverage, _ := strconv.ParseFloat(hash["coverage"], 64)
	grounded, _ := strconv.ParseBool(hash["grounded"])
	cached, _ := strconv.ParseBool(hash["cached"])
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Artifact{
		ID:               hash["id"],
		EventID:          hash["event_id"],
		RunID:            hash["run_id"],
		Kind:             ArtifactKind(hash["kind"]),
		Roadmap:          hash["roadmap"],
		ExecutiveSummary: hash["executive_summary"],
		Model:            hash["model"],
		Provider:         hash["provider"],
		TokensUsed:       tokens,
		Provenance:       provenance,
		Citations:        citations,
		Unknown:          unknown,
		Coverage:         coverage,
		Grounded:         grounded,
		Cached:           cached,
		Fingerprint:      hash["fingerprint"],
		CreatedAtMs:      createdAtMs,
	}, nil
}

// ArtifactToFields encodes an artifact for the outbound insights stream.
func ArtifactToFields(a *Artifact) (map[string]interface{}, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return map[string]interface{}{
		"artifact_id": a.ID,
		"event_id":    a.EventID,
		"run_id":      a.RunID,
		"kind":        string(a.Kind),
		"grounded":    strconv.FormatBool(a.Grounded),
		"payload":     string(payload),
	}, nil
}

// ArtifactFromFields decodes an outbound insights stream entry.
func ArtifactFromFields(fields map[string]interface{}) (*Artifact, error) {
	payload := fieldString(fields, "payload")
	if payload == "" {
		return nil, fmt.Errorf("insights entry has no payload")
	}
	var a Artifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return &a, nil
}

// FailureToFields encodes a failure for the failed stream.
func FailureToFields(f *Failure) map[string]interface{} {
	return map[string]interface{}{
		"event_id":      f.EventID,
		"message_id":    f.MessageID,
		"reason":        string(f.Reason),
		"error":         f.Error,
		"deliveries":    f.Deliveries,
		"created_at_ms": f.CreatedAtMs,
	}
}

// FailureFromFields decodes a failed stream entry.
func FailureFromFields(fields map[string]interface{}) *Failure {
	deliveries, _ := strconv.ParseInt(fieldString(fields, "deliveries"), 10, 64)
	createdAtMs, _ := strconv.ParseInt(fieldString(fields, "created_at_ms"), 10, 64)
	return &Failure{
		EventID:     fieldString(fields, "event_id"),
		MessageID:   fieldString(fields, "message_id"),
		Reason:      FailureReason(fieldString(fields, "reason")),
		Error:       fieldString(fields, "error"),
		Deliveries:  deliveries,
		CreatedAtMs: createdAtMs,
	}
}

func fieldString(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalIDs(s string) ([]string, error) {
	ids := []string{}
	if s == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
