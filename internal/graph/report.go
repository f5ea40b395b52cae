package graph

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/Matza-labs/atlas-ai/internal/grounding"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// FromReport derives evidence from the analysis report itself: one item per
// distinct finding rule and one per node type. IDs are finding:<rule_id> and
// node:<type>.
func FromReport(raw json.RawMessage) []atlas.EvidenceRef {
	if len(raw) == 0 {
		return nil
	}
	doc := gjson.ParseBytes(raw)

	var refs []atlas.EvidenceRef
	seen := make(map[string]bool)

	for _, f := range doc.Get("findings").Array() {
		ruleID := f.Get("rule_id").String()
		if ruleID == "" {
			continue
		}
		id := grounding.NormalizeID("finding:" + ruleID)
		if seen[id] {
			continue
		}
		seen[id] = true

		severity := f.Get("severity").String()
		if severity == "" {
			severity = "info"
		}
		refs = append(refs, atlas.EvidenceRef{
			ID:       id,
			Kind:     atlas.EvidenceKindFinding,
			Label:    ruleID,
			Severity: severity,
			Detail:   f.Get("message").String(),
		})
	}

	doc.Get("structure.nodes_by_type").ForEach(func(key, count gjson.Result) bool {
		nodeType := key.String()
		id := grounding.NormalizeID("node:" + nodeType)
		if nodeType == "" || seen[id] {
			return true
		}
		seen[id] = true
		refs = append(refs, atlas.EvidenceRef{
			ID:     id,
			Kind:   atlas.EvidenceKindNode,
			Label:  nodeType,
			Detail: fmt.Sprintf("%s node(s)", count.Raw),
		})
		return true
	})

	return refs
}
