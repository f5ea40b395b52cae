// Package prompt builds LLM prompts from deterministic analysis reports and
// keeps them under the configured token ceiling.
//
// The LLM never parses CI/CD structure. It only sees data that upstream
// analysis already extracted, plus the evidence IDs it is allowed to cite.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// SystemPrompt frames every request sent to the model.
const SystemPrompt = `You are PipelineAtlas AI, an expert CI/CD architecture advisor.

You will receive a summary of a deterministic CI/CD analysis including:
- Pipeline structure (nodes and edges)
- Complexity and fragility scores
- Rule engine findings with severity levels
- A list of evidence items, each with an ID

Your job is to:
1. Provide an executive summary of the pipeline health
2. Generate a modernization roadmap with specific, actionable steps
3. Rank improvements by impact (highest first)
4. Reference specific node names and findings from the data

Rules:
- NEVER invent CI/CD structure that isn't in the data
- ALWAYS reference specific node names and rule IDs from the data
- Cite supporting evidence as [ev:<ID>] using only IDs listed in the evidence section
- Keep recommendations practical and specific
- Use markdown formatting for readability
`

// report gives tolerant, defaulted access to an analysis report.
type report struct {
	doc gjson.Result
}

func parseReport(raw json.RawMessage) report {
	if len(raw) == 0 {
		return report{doc: gjson.Parse("{}")}
	}
	return report{doc: gjson.ParseBytes(raw)}
}

// value renders a field the way it appears in the report: strings unquoted,
// numbers with their original formatting.
func (r report) value(path, def string) string {
	v := r.doc.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}

func (r report) findings() []gjson.Result {
	return r.doc.Get("findings").Array()
}

// analysisHeader renders everything in the analysis prompt except the evidence
// list and the closing instructions.
func analysisHeader(r report) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("## Pipeline: %s", r.value("meta.name", "Unknown")))
	sections = append(sections, fmt.Sprintf("Platform: %s", r.value("meta.platform", "unknown")))
	sections = append(sections, fmt.Sprintf("Generated: %s", r.value("meta.generated_at", "unknown")))

	sections = append(sections, "\n## Scores")
	sections = append(sections, fmt.Sprintf("- Complexity: %s/100", r.value("scores.complexity_score", "N/A")))
	sections = append(sections, fmt.Sprintf("- Fragility: %s/100", r.value("scores.fragility_score", "N/A")))

	sections = append(sections, "\n## Structure")
	sections = append(sections, fmt.Sprintf("- Nodes: %s", r.value("structure.total_nodes", "0")))
	sections = append(sections, fmt.Sprintf("- Edges: %s", r.value("structure.total_edges", "0")))
	r.doc.Get("structure.nodes_by_type").ForEach(func(key, count gjson.Result) bool {
		sections = append(sections, fmt.Sprintf("  - %s: %s", key.String(), count.Raw))
		return true
	})

	if findings := r.findings(); len(findings) > 0 {
		sections = append(sections, fmt.Sprintf("\n## Findings (%d total)", len(findings)))
		for _, f := range findings {
			severity := f.Get("severity").String()
			if severity == "" {
				severity = "info"
			}
			ruleID := f.Get("rule_id").String()
			if ruleID == "" {
				ruleID = "?"
			}
			sections = append(sections, fmt.Sprintf("- [%s] %s: %s",
				strings.ToUpper(severity), ruleID, f.Get("message").String()))
		}
	}

	return strings.Join(sections, "\n")
}

const analysisFooter = `
---
Based on the analysis above, provide:
1. Executive Summary (2-3 sentences)
2. Modernization Roadmap (3-5 prioritized improvements)
3. Risk Assessment (what could break if left unaddressed)`

func summaryHeader(r report) string {
	return fmt.Sprintf("Generate a concise 2-3 sentence executive summary for '%s'.\n"+
		"Complexity: %s/100, Fragility: %s/100, Findings: %d.\n"+
		"Focus on the overall health and the single most impactful improvement.",
		r.value("meta.name", "Unknown Pipeline"),
		r.value("scores.complexity_score", "N/A"),
		r.value("scores.fragility_score", "N/A"),
		len(r.findings()))
}

// renderEvidence lists the citable evidence. Returns "" for an empty list.
func renderEvidence(evidence []atlas.EvidenceRef) string {
	if len(evidence) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n## Evidence\n")
	b.WriteString("Cite items as [ev:<ID>]. Only these IDs exist:\n")
	for _, ev := range evidence {
		b.WriteString(renderEvidenceLine(ev))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEvidenceLine(ev atlas.EvidenceRef) string {
	line := fmt.Sprintf("- [ev:%s] (%s", ev.ID, ev.Kind)
	if ev.Severity != "" {
		line += ", " + strings.ToUpper(ev.Severity)
	}
	line += ") " + ev.Label
	if ev.Detail != "" {
		line += ": " + ev.Detail
	}
	return line
}

// BuildAnalysisPrompt renders the full analysis prompt with every evidence item
// and no budget enforcement.
func BuildAnalysisPrompt(raw json.RawMessage, evidence []atlas.EvidenceRef) string {
	return renderAnalysis(parseReport(raw), evidence)
}

// BuildExecutiveSummaryPrompt renders the executive summary prompt with every
// evidence item and no budget enforcement.
func BuildExecutiveSummaryPrompt(raw json.RawMessage, evidence []atlas.EvidenceRef) string {
	return renderSummary(parseReport(raw), evidence)
}

func renderAnalysis(r report, evidence []atlas.EvidenceRef) string {
	parts := []string{analysisHeader(r)}
	if ev := renderEvidence(evidence); ev != "" {
		parts = append(parts, ev)
	}
	parts = append(parts, analysisFooter)
	return strings.Join(parts, "\n")
}

func renderSummary(r report, evidence []atlas.EvidenceRef) string {
	out := summaryHeader(r)
	if ev := renderEvidence(evidence); ev != "" {
		out += "\n" + ev
	}
	return out
}
