package atlas

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func validArtifact() *Artifact {
	return &Artifact{
		ID:         uuid.New().String(),
		EventID:    "evt-1",
		Kind:       ArtifactKindAnalysis,
		Provenance: []string{"finding:no-timeout", "node:job"},
		Citations:  []string{"finding:no-timeout", "node:ghost"},
		Unknown:    []string{"node:ghost"},
		Coverage:   0.5,
	}
}

func TestArtifactValidate(t *testing.T) {
	t.Run("valid artifact passes", func(t *testing.T) {
		assert.NoError(t, validArtifact().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(a *Artifact)
		wantErr string
	}{
		{"invalid ID", func(a *Artifact) { a.ID = "x" }, "invalid artifact ID"},
		{"empty event", func(a *Artifact) { a.EventID = "" }, "event_id cannot be empty"},
		{"bad kind", func(a *Artifact) { a.Kind = "poem" }, "invalid kind"},
		{"negative tokens", func(a *Artifact) { a.TokensUsed = -1 }, "invalid tokens_used"},
		{"coverage above one", func(a *Artifact) { a.Coverage = 1.5 }, "invalid coverage"},
		{"unknown not cited", func(a *Artifact) { a.Unknown = []string{"node:other"} }, "not among citations"},
		{"citation not supplied", func(a *Artifact) { a.Unknown = nil }, "neither supplied nor marked unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validArtifact()
			tt.mutate(a)
			err := a.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFailureValidate(t *testing.T) {
	assert.NoError(t, (&Failure{MessageID: "1-0", Reason: FailureReasonDecode}).Validate())
	assert.Error(t, (&Failure{Reason: FailureReasonDecode}).Validate())
	assert.Error(t, (&Failure{MessageID: "1-0"}).Validate())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "atlas:ai:artifact:abc", ArtifactKey("abc"))
	assert.Equal(t, "atlas:ai:cache:f00", CacheKey("f00"))
}
