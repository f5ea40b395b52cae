// Package grounding checks that generated text only cites evidence that was
// actually supplied to the model.
package grounding

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrUngrounded is returned under the reject policy when generated text cites
// evidence IDs that were never supplied.
var ErrUngrounded = errors.New("generated text cites unknown evidence")

// Policy decides what happens to ungrounded output.
type Policy string

const (
	// PolicyFlag keeps the output and records the unknown IDs.
	PolicyFlag Policy = "flag"
	// PolicyReject fails the generation.
	PolicyReject Policy = "reject"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFlag, PolicyReject:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown grounding policy: %q", s)
	}
}

// Any text up to the closing bracket is an ID, so unusual IDs cannot slip
// past verification.
var citationPattern = regexp.MustCompile(`\[ev:([^\]\r\n]*)\]`)

var idReplacer = strings.NewReplacer("]", "_", "\r", "_", "\n", "_")

// NormalizeID makes an evidence ID citable: surrounding space is trimmed and
// characters that would end a citation are replaced.
func NormalizeID(id string) string {
	return idReplacer.Replace(strings.TrimSpace(id))
}

// Report is the outcome of verifying one or more texts.
type Report struct {
	Citations []string `json:"citations"` // Distinct cited IDs, in order of first appearance
	Unknown   []string `json:"unknown"`   // Cited IDs absent from the allowed set
	Coverage  float64  `json:"coverage"`  // Share of allowed IDs that were cited
	Grounded  bool     `json:"grounded"`
}

// Extract returns the distinct evidence IDs cited in text, in order of first
// appearance.
func Extract(text string) []string {
	seen := make(map[string]bool)
	ids := []string{}
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		id := strings.TrimSpace(m[1])
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Verify checks every citation in the texts against allowed.
// Coverage is 1 when nothing was allowed.
func Verify(allowed []string, texts ...string) Report {
	allowedSet := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = true
	}

	seen := make(map[string]bool)
	citations := []string{}
	for _, text := range texts {
		for _, id := range Extract(text) {
			if !seen[id] {
				seen[id] = true
				citations = append(citations, id)
			}
		}
	}

	unknown := []string{}
	known := 0
	for _, id := range citations {
		if allowedSet[id] {
			known++
		} else {
			unknown = append(unknown, id)
		}
	}

	coverage := 1.0
	if len(allowedSet) > 0 {
		coverage = float64(known) / float64(len(allowedSet))
	}

	return Report{
		Citations: citations,
		Unknown:   unknown,
		Coverage:  coverage,
		Grounded:  len(unknown) == 0,
	}
}

// Enforce applies the policy to a report. Under PolicyReject an ungrounded
// report yields an error wrapping ErrUngrounded.
func (p Policy) Enforce(r Report) error {
	if r.Grounded || p != PolicyReject {
		return nil
	}
	unknown := append([]string(nil), r.Unknown...)
	sort.Strings(unknown)
	return fmt.Errorf("%w: %v", ErrUngrounded, unknown)
}
