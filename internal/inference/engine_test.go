package inference

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roofsignal/discrepancy-cli/internal/model"
	"github.com/roofsignal/discrepancy-cli/internal/pricebook"
	"github.com/roofsignal/discrepancy-cli/internal/resilience"
	"github.com/roofsignal/discrepancy-cli/internal/taxonomy"
	"github.com/roofsignal/discrepancy-cli/internal/transcript"
	"github.com/roofsignal/discrepancy-cli/pkg/anthropic"
)

const testTaxonomy = `{
  "scope_discrepancy": {"level": 1, "expects_line_item": false, "business_impact": "cost"},
  "incorrect_quantity": {"level": 2, "expects_line_item": false, "business_impact": "cost"},
  "product_or_component_not_in_estimate": {"level": 1, "expects_line_item": true, "business_impact": "cost"}
}`

func loadTestTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	require.NoError(t, os.WriteFile(path, []byte(testTaxonomy), 0o644))
	tax, err := taxonomy.Load(path)
	require.NoError(t, err)
	return tax
}

// mockLLM returns canned responses in order.
type mockLLM struct {
	responses []string
	errs      []error
	requests  []anthropic.MessageRequest
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	call := len(m.requests)
	m.requests = append(m.requests, req)
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	text := "{}"
	if call < len(m.responses) {
		text = m.responses[call]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

type stubRetriever struct {
	entries []pricebook.Entry
	err     error
	queries []string
}

func (s *stubRetriever) Search(ctx context.Context, query string, k int) ([]pricebook.Entry, error) {
	s.queries = append(s.queries, query)
	return s.entries, s.err
}

func qty(v float64) *float64 { return &v }

func testInput() model.CaseInput {
	return model.CaseInput{
		CaseID: "case-001",
		Conversations: [][]model.Word{{
			{Speaker: "rep", Word: "we'll", Timestamp: 100, Confidence: 0.99},
			{Speaker: "rep", Word: "add", Timestamp: 100.4, Confidence: 0.98},
			{Speaker: "rep", Word: "gutters", Timestamp: 100.9, Confidence: 0.97},
			{Speaker: "customer", Word: "great", Timestamp: 102, Confidence: 0.95},
		}},
		Estimate: model.Estimate{LineItems: []model.EstimateLineItem{
			{Description: "Architectural Shingles", Quantity: qty(32), Unit: "SQ"},
		}},
	}
}

func newTestEngine(llm anthropic.Client, r pricebook.Retriever, tax *taxonomy.Taxonomy) *Engine {
	e := NewEngine(llm, r, tax, DefaultConfig())
	e.retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}
	return e
}

const validResponse = `{
  "deviations": [
    {
      "class": "product_or_component_not_in_estimate",
      "explanation": "rep agreed to add gutters, estimate has none",
      "occurrences": [{"conversation_index": 0, "timestamp": "01:40"}],
      "predicted_line_item": {"description": "5\" K-Style Gutter Installation", "quantity": 120, "unit": "LF"}
    }
  ]
}`

func TestInferHappyPath(t *testing.T) {
	llm := &mockLLM{responses: []string{validResponse}}
	retriever := &stubRetriever{entries: []pricebook.Entry{
		{ID: 12, Code: "GUT-5K", DisplayName: "5\" K-Style Gutter Installation", UnitCost: 8.25, Score: 0.9},
	}}
	e := newTestEngine(llm, retriever, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, pred.Deviations, 1)

	d := pred.Deviations[0]
	assert.Equal(t, "product_or_component_not_in_estimate", d.Class)
	require.Len(t, d.Occurrences, 1)
	assert.Equal(t, "01:40", d.Occurrences[0].Timestamp)

	require.NotNil(t, d.PredictedLineItem)
	require.NotNil(t, d.PredictedLineItem.MatchedPricebookItemID)
	assert.Equal(t, int64(12), *d.PredictedLineItem.MatchedPricebookItemID)
	require.NotNil(t, d.PredictedLineItem.UnitCost)
	assert.InDelta(t, 8.25, *d.PredictedLineItem.UnitCost, 1e-9)
	require.NotNil(t, d.PredictedLineItem.TotalCost)
	assert.InDelta(t, 8.25*120, *d.PredictedLineItem.TotalCost, 1e-9)

	assert.Equal(t, int64(100), pred.Usage.InputTokens)
	assert.Empty(t, pred.Warnings)

	// The transcript reached the prompt in compacted form.
	require.Len(t, llm.requests, 1)
	assert.Contains(t, llm.requests[0].Messages[0].Content, "rep: we'll add gutters")
}

func TestInferEmptyDeviations(t *testing.T) {
	llm := &mockLLM{responses: []string{`{"deviations": []}`}}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	assert.Empty(t, pred.Deviations)
}

func TestInferDropsUnknownClass(t *testing.T) {
	llm := &mockLLM{responses: []string{`{
		"deviations": [
			{"class": "made_up_class", "explanation": "x", "occurrences": []},
			{"class": "scope_discrepancy", "explanation": "y", "occurrences": [{"conversation_index": 0, "timestamp": "01:42"}]}
		]
	}`}}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, pred.Deviations, 1)
	assert.Equal(t, "scope_discrepancy", pred.Deviations[0].Class)
	require.Len(t, pred.Warnings, 1)
	assert.Contains(t, pred.Warnings[0], "made_up_class")
}

func TestInferClampsMalformedTimestamp(t *testing.T) {
	llm := &mockLLM{responses: []string{`{
		"deviations": [
			{"class": "scope_discrepancy", "explanation": "x", "occurrences": [
				{"conversation_index": 0, "timestamp": "around one forty"},
				{"conversation_index": 0, "timestamp": "01:40"}
			]}
		]
	}`}}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, pred.Deviations, 1)
	require.Len(t, pred.Deviations[0].Occurrences, 2)
	// Parseable occurrence sorts first; the clamped one keeps its slot.
	assert.Equal(t, "01:40", pred.Deviations[0].Occurrences[0].Timestamp)
	assert.Equal(t, "", pred.Deviations[0].Occurrences[1].Timestamp)
	assert.NotEmpty(t, pred.Warnings)
}

func TestInferDropsOutOfRangeOccurrence(t *testing.T) {
	llm := &mockLLM{responses: []string{`{
		"deviations": [
			{"class": "scope_discrepancy", "explanation": "x", "occurrences": [
				{"conversation_index": 7, "timestamp": "01:40"}
			]}
		]
	}`}}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, pred.Deviations, 1)
	assert.Empty(t, pred.Deviations[0].Occurrences)
	assert.NotEmpty(t, pred.Warnings)
}

func TestInferSchemaRetrySucceeds(t *testing.T) {
	llm := &mockLLM{responses: []string{
		"Sure! Here are my thoughts on the case, in prose.",
		validResponse,
	}}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, pred.Deviations, 1)
	assert.Contains(t, pred.Warnings[0], "re-prompted")

	// The corrective turn carries the bad output back to the model.
	require.Len(t, llm.requests, 2)
	require.Len(t, llm.requests[1].Messages, 3)
	assert.Equal(t, "assistant", llm.requests[1].Messages[1].Role)

	// Usage from both calls is attributed to the case.
	assert.Equal(t, int64(200), pred.Usage.InputTokens)
}

func TestInferSchemaInvalidTwiceFails(t *testing.T) {
	llm := &mockLLM{responses: []string{"prose", "more prose"}}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	_, err := e.Infer(context.Background(), testInput())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSchemaInvalid))
}

func TestInferMalformedTranscript(t *testing.T) {
	input := testInput()
	input.Conversations[0] = []model.Word{
		{Speaker: "rep", Word: "hello", Timestamp: 50, Confidence: 0.9},
		{Speaker: "rep", Word: "there", Timestamp: 40, Confidence: 0.9},
	}
	llm := &mockLLM{}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	_, err := e.Infer(context.Background(), input)
	require.Error(t, err)
	assert.True(t, eris.Is(err, transcript.ErrMalformed))
	assert.Empty(t, llm.requests) // no tokens spent on a bad transcript
}

func TestInferRetrievalFailureAnnotates(t *testing.T) {
	llm := &mockLLM{responses: []string{validResponse}}
	retriever := &stubRetriever{err: eris.Wrap(pricebook.ErrRetrievalFailed, "backend down")}
	e := newTestEngine(llm, retriever, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, pred.Deviations, 1)

	d := pred.Deviations[0]
	assert.True(t, d.Annotated(model.AnnotationRetrievalFailed))
	require.NotNil(t, d.PredictedLineItem)
	assert.Nil(t, d.PredictedLineItem.MatchedPricebookItemID)
	assert.Nil(t, d.PredictedLineItem.UnitCost)
	assert.Nil(t, d.PredictedLineItem.TotalCost)
}

func TestInferNoPricebookMatchLeavesFieldsNull(t *testing.T) {
	llm := &mockLLM{responses: []string{validResponse}}
	retriever := &stubRetriever{entries: []pricebook.Entry{{ID: 1, Score: 0.05}}}
	e := newTestEngine(llm, retriever, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)

	d := pred.Deviations[0]
	assert.False(t, d.Annotated(model.AnnotationRetrievalFailed))
	assert.Nil(t, d.PredictedLineItem.MatchedPricebookItemID)
}

func TestInferTransientLLMErrorRetries(t *testing.T) {
	llm := &mockLLM{
		errs:      []error{resilience.NewTransientError(eris.New("overloaded_error"), 529)},
		responses: []string{"", `{"deviations": []}`},
	}
	e := newTestEngine(llm, nil, loadTestTaxonomy(t))

	pred, err := e.Infer(context.Background(), testInput())
	require.NoError(t, err)
	assert.Empty(t, pred.Deviations)
	assert.Len(t, llm.requests, 2)
}
