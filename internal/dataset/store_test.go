package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roofsignal/discrepancy-cli/internal/model"
)

const testDataset = `{
  "entries": [
    {
      "uuid": "case-001",
      "inputs": {
        "conversations": [
          [
            {"speaker": "rep", "word": "we'll", "timestamp": 10.0, "confidence": 0.99},
            {"speaker": "rep", "word": "add", "timestamp": 10.3, "confidence": 0.98},
            {"speaker": "rep", "word": "gutters", "timestamp": 10.7, "confidence": 0.97}
          ]
        ],
        "estimate": {"line_items": [{"description": "Architectural Shingles", "quantity": 32, "unit": "SQ"}]}
      },
      "labels": {
        "deviations": [
          {"class": "product_or_component_not_in_estimate", "explanation": "gutters agreed but absent", "occurrences": [{"conversation_index": 0, "timestamp": "00:10"}]}
        ],
        "verified_by": "mallory",
        "notes": "spot-checked against recording"
      }
    },
    {
      "uuid": "case-002",
      "inputs": {
        "conversations": [[]],
        "estimate": {"line_items": []}
      }
    }
  ]
}`

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenAndLoad(t *testing.T) {
	s, err := Open(writeDataset(t, testDataset))
	require.NoError(t, err)

	assert.Equal(t, []string{"case-001", "case-002"}, s.ListIDs())
	assert.Equal(t, []string{"case-001"}, s.LabeledIDs())

	input, labels, err := s.Load("case-001")
	require.NoError(t, err)
	assert.Equal(t, "case-001", input.CaseID)
	require.Len(t, input.Conversations, 1)
	assert.Len(t, input.Conversations[0], 3)
	require.NotNil(t, labels)
	assert.Equal(t, "mallory", labels.VerifiedBy)
	require.Len(t, labels.Deviations, 1)
	assert.Equal(t, "product_or_component_not_in_estimate", labels.Deviations[0].Class)

	_, labels2, err := s.Load("case-002")
	require.NoError(t, err)
	assert.Nil(t, labels2)
}

func TestLoadUnknownCase(t *testing.T) {
	s, err := Open(writeDataset(t, testDataset))
	require.NoError(t, err)

	_, _, err = s.Load("case-999")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoCase))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestOpenMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "nope"},
		{"empty uuid", `{"entries": [{"uuid": "", "inputs": {"conversations": [], "estimate": {"line_items": []}}}]}`},
		{"duplicate uuid", `{"entries": [{"uuid": "a", "inputs": {"conversations": [], "estimate": {"line_items": []}}}, {"uuid": "a", "inputs": {"conversations": [], "estimate": {"line_items": []}}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writeDataset(t, tt.content))
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrMalformed))
		})
	}
}

func TestFilter(t *testing.T) {
	s, err := Open(writeDataset(t, testDataset))
	require.NoError(t, err)

	present, missing := s.Filter([]string{"case-002", "case-404", "case-001"})
	assert.Equal(t, []string{"case-001", "case-002"}, present) // file order preserved
	assert.Equal(t, []string{"case-404"}, missing)

	present, missing = s.Filter(nil)
	assert.Empty(t, present)
	assert.Empty(t, missing)
}

func TestPutNewCasePersists(t *testing.T) {
	path := writeDataset(t, testDataset)
	s, err := Open(path)
	require.NoError(t, err)

	err = s.Put("case-003", Inputs{
		Conversations: [][]model.Word{{{Speaker: "rep", Word: "hello", Timestamp: 1, Confidence: 0.9}}},
		Estimate:      model.Estimate{},
	}, &model.CaseLabels{VerifiedBy: "sam"})
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"case-001", "case-002", "case-003"}, reopened.ListIDs())

	_, labels, err := reopened.Load("case-003")
	require.NoError(t, err)
	require.NotNil(t, labels)
	assert.Equal(t, "sam", labels.VerifiedBy)
	assert.False(t, labels.VerifiedAt.IsZero())
}

func TestPutRelabelBumpsTimestampKeepsInputs(t *testing.T) {
	path := writeDataset(t, testDataset)
	s, err := Open(path)
	require.NoError(t, err)

	err = s.Put("case-001", Inputs{}, &model.CaseLabels{VerifiedBy: "sam"})
	require.NoError(t, err)

	input, labels, err := s.Load("case-001")
	require.NoError(t, err)
	assert.Equal(t, "sam", labels.VerifiedBy)
	assert.False(t, labels.VerifiedAt.IsZero())
	// Inputs survive the relabel untouched.
	assert.Len(t, input.Conversations, 1)
	assert.Len(t, input.Conversations[0], 3)
}
