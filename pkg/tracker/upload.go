package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// RunUpload is the experiment-log row for one evaluation run.
type RunUpload struct {
	RunID           string
	ExperimentName  string
	ModelID         string
	Temperature     float64
	TaxonomyVersion string
	PromptVersion   string
	Status          string

	Cases   int
	Errored int
	CostUSD float64

	MicroF1            *float64
	MacroF1            *float64
	OccurrenceAccuracy *float64

	StartedAt time.Time
}

// UploadRun creates one page in the experiment-log database.
func UploadRun(ctx context.Context, c Client, dbID string, up RunUpload) (*notionapi.Page, error) {
	title := up.ExperimentName
	if title == "" {
		title = up.RunID
	}

	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: title}}},
		},
		"Run ID":           richText(up.RunID),
		"Model":            richText(up.ModelID),
		"Taxonomy Version": richText(up.TaxonomyVersion),
		"Prompt Version":   richText(up.PromptVersion),
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: up.Status},
		},
		"Temperature": numberProp(up.Temperature),
		"Cases":       numberProp(float64(up.Cases)),
		"Errored":     numberProp(float64(up.Errored)),
		"Cost USD":    numberProp(up.CostUSD),
		"Started": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: datePtr(up.StartedAt)},
		},
	}
	if up.MicroF1 != nil {
		props["Micro F1"] = numberProp(*up.MicroF1)
	}
	if up.MacroF1 != nil {
		props["Macro F1"] = numberProp(*up.MacroF1)
	}
	if up.OccurrenceAccuracy != nil {
		props["Occurrence Accuracy"] = numberProp(*up.OccurrenceAccuracy)
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent:     notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(dbID)},
		Properties: props,
	})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracker: upload run %s", up.RunID))
	}
	return page, nil
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: s}}},
	}
}

func numberProp(v float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{Number: v}
}

func datePtr(t time.Time) *notionapi.Date {
	d := notionapi.Date(t)
	return &d
}
