package insights

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// NotFoundError reports an artifact ID with no stored hash, either never
// published or expired.
type NotFoundError struct {
	ArtifactID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact with ID '%s' not found", e.ArtifactID)
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// GetArtifact writes one artifact as indented JSON.
func GetArtifact(ctx context.Context, client *atlas.Client, artifactID string, w io.Writer) error {
	if _, err := uuid.Parse(artifactID); err != nil {
		return fmt.Errorf("invalid artifact ID format: must be a valid UUID")
	}

	a, err := client.GetArtifact(ctx, artifactID)
	if err != nil {
		if atlas.IsNotFound(err) {
			return &NotFoundError{ArtifactID: artifactID}
		}
		return fmt.Errorf("failed to fetch artifact: %w", err)
	}

	return FormatSingleJSON(w, a)
}
