package inference

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrSchemaInvalid is returned when the LLM output cannot be parsed into
// the expected deviation structure, even after the corrective re-prompt.
var ErrSchemaInvalid = eris.New("inference: schema-invalid llm output")

// rawOccurrence mirrors the occurrence object in the response schema.
// Timestamp is left as raw JSON so both "12:40" and a bare number fail
// softly instead of aborting the whole parse.
type rawOccurrence struct {
	ConversationIndex *int            `json:"conversation_index"`
	Timestamp         json.RawMessage `json:"timestamp"`
}

type rawLineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	Unit        string   `json:"unit"`
	Notes       string   `json:"notes"`
}

type rawDeviation struct {
	Class             string          `json:"class"`
	Explanation       string          `json:"explanation"`
	Occurrences       []rawOccurrence `json:"occurrences"`
	PredictedLineItem *rawLineItem    `json:"predicted_line_item"`
}

type rawOutput struct {
	Deviations []rawDeviation `json:"deviations"`
}

// parseResponse extracts the deviation list from raw LLM text. It is
// lenient about markdown fences and surrounding prose, strict about the
// object itself.
func parseResponse(text string) (rawOutput, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return rawOutput{}, eris.Wrap(ErrSchemaInvalid, "empty response")
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var out rawOutput
	if err := dec.Decode(&out); err != nil {
		// Unknown top-level fields are a model quirk, not a failure; retry
		// the decode permissively before giving up.
		var lax rawOutput
		if err2 := json.Unmarshal([]byte(cleaned), &lax); err2 != nil {
			return rawOutput{}, eris.Wrapf(ErrSchemaInvalid, "%v", err2)
		}
		out = lax
	}
	if out.Deviations == nil {
		return rawOutput{}, eris.Wrap(ErrSchemaInvalid, "missing deviations array")
	}
	for i, d := range out.Deviations {
		if d.Class == "" {
			return rawOutput{}, eris.Wrapf(ErrSchemaInvalid, "deviation %d has no class", i)
		}
	}
	return out, nil
}

// timestampString resolves a raw timestamp value to its string form.
// Non-string values come back as the empty string, which downstream
// clamping treats as unaligned.
func (o rawOccurrence) timestampString() string {
	var s string
	if err := json.Unmarshal(o.Timestamp, &s); err != nil {
		return ""
	}
	return s
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find the outermost object when the model wrapped it in prose.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
