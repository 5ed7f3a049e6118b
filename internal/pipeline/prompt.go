package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

const extractionSystem = `You extract facts about a software repository for a structured knowledge record.
Every fact must cite at least one anchor (file path, startLine, endLine, commit, kind) taken from the evidence.
Return {"facts": [{"path", "proposedValue", "confidence", "anchors", "source": {"kind"}, "notes"}]}.
Paths use $.section.field notation. Confidence is a number between 0 and 1.
Do not propose values for change history, timestamps or run identifiers.`

const reasoningSystem = `You reconcile extracted repository facts against the current record.
For each fact, reconfirm it, correct it, or lower its confidence when the evidence is weak or contradictory.
Keep existing anchors unless you cite better ones.
Return {"facts": [...]} using the same fact shape you were given.`

const verificationSystem = `You verify repository facts against the cited source text.
For each fact decide whether the source text supports the proposed value.
Return {"verdicts": [{"path", "valid", "confidence", "comment"}]}.
Lower confidence when support is partial. Never raise it.`

// retryGuidanceHeading opens the appendix listing unresolved issues.
const retryGuidanceHeading = "## Retry Guidance"

func renderPayload(title string, payload any) (string, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: render %s payload", title)
	}
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(title)
	sb.WriteString("\n\n```json\n")
	sb.Write(raw)
	sb.WriteString("\n```\n")
	return sb.String(), nil
}

func appendRetryGuidance(prompt string, reasons []string) string {
	if len(reasons) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n")
	sb.WriteString(retryGuidanceHeading)
	sb.WriteString("\n\nThe previous answer left these issues unresolved:\n")
	for _, r := range reasons {
		sb.WriteString("- ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRe-examine the evidence, cite anchors for every fact and calibrate confidence.\n")
	return sb.String()
}

// estimateTokens approximates token count at four bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
