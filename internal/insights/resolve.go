package insights

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// MinShortIDLength is the shortest prefix accepted in place of a full ID.
// The listing table prints eight characters.
const MinShortIDLength = 6

const maxListedMatches = 10

// AmbiguousError reports a prefix that matches more than one artifact.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d artifacts", e.Prefix, len(e.Matches))
}

// Details lists the matching IDs, at most ten of them.
func (e *AmbiguousError) Details() string {
	var b strings.Builder
	for i, id := range e.Matches {
		if i == maxListedMatches {
			fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-maxListedMatches)
			break
		}
		fmt.Fprintf(&b, "  %s\n", id)
	}
	return b.String()
}

// ResolveArtifactID expands a short ID prefix to the full artifact ID. A full
// UUID is returned in canonical lowercase form without a lookup; GetArtifact
// reports whether it exists.
func ResolveArtifactID(ctx context.Context, client *atlas.Client, id string) (string, error) {
	// Stored IDs are lowercase and SCAN matching is case-sensitive.
	id = strings.ToLower(id)
	if _, err := uuid.Parse(id); err == nil {
		return id, nil
	}

	if strings.IndexFunc(id, notIDRune) >= 0 {
		return "", fmt.Errorf("invalid artifact ID %q: use a UUID or a prefix of one", id)
	}
	if len(id) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(id))
	}

	matches, err := client.ScanArtifactIDs(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to search for artifact: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ArtifactID: id}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: id, Matches: matches}
	}
}

func notIDRune(r rune) bool {
	return !(r == '-' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'f'))
}
