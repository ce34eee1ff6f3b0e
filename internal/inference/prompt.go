package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roofsignal/discrepancy-cli/internal/model"
	"github.com/roofsignal/discrepancy-cli/internal/taxonomy"
)

// PromptVersion is bumped whenever the system prompt changes in a way
// that could shift predictions; it is recorded with every run.
const PromptVersion = "v3"

const systemPreamble = `You are a meticulous quality auditor for a residential roofing company.
You review sales-call transcripts against the written estimate and production form,
looking for deviations: things the rep and homeowner agreed on verbally that the
paperwork does not reflect, or paperwork that contradicts what was said.

Be conservative. Only report a deviation when the transcript gives clear evidence
for it. Ambiguous small talk, hypotheticals the customer declined, and items the
estimate already covers are NOT deviations. When in doubt, leave it out: a false
alarm wastes an estimator's time and erodes trust in this tool.

Rules:
- Use only the class names listed below, verbatim.
- Cite every deviation with at least one occurrence: the conversation index
  (0-based) and the timestamp (MM:SS or HH:MM:SS) of the moment in the call
  where the evidence appears. Use the timestamps shown in the transcript.
- For classes that call for a predicted_line_item, describe the missing work
  the way an estimator would write it, with a quantity when one was stated.
- Explanations must quote or closely paraphrase the transcript evidence.`

const responseSchema = `Respond with a single JSON object and nothing else:
{
  "deviations": [
    {
      "class": "<class name from the list>",
      "explanation": "<evidence-based explanation>",
      "occurrences": [
        {"conversation_index": 0, "timestamp": "MM:SS"}
      ],
      "predicted_line_item": {
        "description": "<estimate-style description>",
        "quantity": 2,
        "unit": "<unit, if stated>"
      }
    }
  ]
}
Omit predicted_line_item for classes that do not call for one.
Return {"deviations": []} when the paperwork matches the calls.`

// BuildSystemText assembles the full system prompt for a taxonomy. The
// result is stable per taxonomy version, which is what makes prompt
// caching effective across the cases of one run.
func BuildSystemText(tax *taxonomy.Taxonomy) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")
	b.WriteString(tax.FormatForPrompt())
	b.WriteString("\n")
	b.WriteString(responseSchema)
	return b.String()
}

// BuildUserMessage renders one case's material: the compacted transcripts,
// the estimate line items, and the production form.
func BuildUserMessage(input model.CaseInput, transcripts []string) (string, error) {
	var b strings.Builder

	for i, tr := range transcripts {
		fmt.Fprintf(&b, "## Conversation %d\n%s\n", i, tr)
	}

	estimateJSON, err := json.MarshalIndent(input.Estimate.LineItems, "", "  ")
	if err != nil {
		return "", err
	}
	b.WriteString("## Estimate line items\n")
	b.Write(estimateJSON)
	b.WriteString("\n")

	if len(input.ProductionForm) > 0 {
		formJSON, err := json.MarshalIndent(input.ProductionForm, "", "  ")
		if err != nil {
			return "", err
		}
		b.WriteString("\n## Production form\n")
		b.Write(formJSON)
		b.WriteString("\n")
	}

	b.WriteString("\nAudit the paperwork against the conversations and respond with the JSON object.")
	return b.String(), nil
}

// correctionMessage is sent after a schema-invalid response, alongside the
// model's previous output, to get a clean retry.
const correctionMessage = `Your previous response was not a valid JSON object matching the required schema.
Respond again with ONLY the JSON object described in the system prompt: no prose,
no markdown fences, no trailing commentary.`
