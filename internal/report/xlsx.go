// Package report renders evaluation output for humans: an XLSX workbook
// for run exports and text/markdown/json views of the error log.
package report

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/roofsignal/discrepancy-cli/internal/model"
	"github.com/roofsignal/discrepancy-cli/internal/runstore"
	"github.com/roofsignal/discrepancy-cli/internal/scorer"
)

// WriteXLSX writes a run summary workbook to path: a Metrics sheet with
// per-class numbers, a Confusion sheet, and a Cases sheet with one row
// per evaluated case.
func WriteXLSX(path string, run runstore.Run, results []model.CaseResult) error {
	f := xlsx.NewFile()

	if err := addMetricsSheet(f, run); err != nil {
		return err
	}
	if run.Report != nil {
		if err := addConfusionSheet(f, run.Report); err != nil {
			return err
		}
	}
	if err := addCasesSheet(f, results); err != nil {
		return err
	}

	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addMetricsSheet(f *xlsx.File, run runstore.Run) error {
	sheet, err := f.AddSheet("Metrics")
	if err != nil {
		return eris.Wrap(err, "report: add metrics sheet")
	}

	addStringRow(sheet, "Run ID", run.ID)
	addStringRow(sheet, "Experiment", run.Meta.ExperimentName)
	addStringRow(sheet, "Model", run.Meta.ModelID)
	addStringRow(sheet, "Taxonomy Version", run.Meta.TaxonomyVersion)
	addStringRow(sheet, "Prompt Version", run.Meta.PromptVersion)
	addStringRow(sheet, "Status", run.Status)
	row := sheet.AddRow()
	row.AddCell().SetString("Cost USD")
	row.AddCell().SetFloat(run.CostUSD)
	sheet.AddRow()

	if run.Report == nil {
		return nil
	}
	rep := run.Report

	header := sheet.AddRow()
	for _, h := range []string{"Class", "TP", "FP", "FN", "Precision", "Recall", "F1"} {
		header.AddCell().SetString(h)
	}
	for _, m := range rep.Classes {
		r := sheet.AddRow()
		r.AddCell().SetString(m.Class)
		r.AddCell().SetInt(m.TP)
		r.AddCell().SetInt(m.FP)
		r.AddCell().SetInt(m.FN)
		addOptFloat(r, m.Precision)
		addOptFloat(r, m.Recall)
		addOptFloat(r, m.F1)
	}

	sheet.AddRow()
	summary := sheet.AddRow()
	summary.AddCell().SetString("Micro F1")
	addOptFloat(summary, rep.MicroF1)
	summary = sheet.AddRow()
	summary.AddCell().SetString("Macro F1")
	addOptFloat(summary, rep.MacroF1)
	summary = sheet.AddRow()
	summary.AddCell().SetString("Occurrence Accuracy")
	addOptFloat(summary, rep.OccurrenceAccuracy)
	summary = sheet.AddRow()
	summary.AddCell().SetString("Mean Occurrence Error (s)")
	addOptFloat(summary, rep.MeanOccurrenceErr)

	return nil
}

func addConfusionSheet(f *xlsx.File, rep *scorer.Report) error {
	sheet, err := f.AddSheet("Confusion")
	if err != nil {
		return eris.Wrap(err, "report: add confusion sheet")
	}

	// Union of expected and predicted classes, sorted for a stable grid.
	classSet := map[string]bool{}
	for exp, row := range rep.Confusion {
		classSet[exp] = true
		for pred := range row {
			classSet[pred] = true
		}
	}
	classes := make([]string, 0, len(classSet))
	for c := range classSet {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	header := sheet.AddRow()
	header.AddCell().SetString("expected \\ predicted")
	for _, c := range classes {
		header.AddCell().SetString(c)
	}
	for _, exp := range classes {
		r := sheet.AddRow()
		r.AddCell().SetString(exp)
		for _, pred := range classes {
			r.AddCell().SetInt(rep.Confusion[exp][pred])
		}
	}
	return nil
}

func addCasesSheet(f *xlsx.File, results []model.CaseResult) error {
	sheet, err := f.AddSheet("Cases")
	if err != nil {
		return eris.Wrap(err, "report: add cases sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Case ID", "TP", "FP", "FN", "Predicted", "Expected", "Warnings"} {
		header.AddCell().SetString(h)
	}
	for _, res := range results {
		r := sheet.AddRow()
		r.AddCell().SetString(res.CaseID)
		r.AddCell().SetInt(res.Counts.TP)
		r.AddCell().SetInt(res.Counts.FP)
		r.AddCell().SetInt(res.Counts.FN)
		r.AddCell().SetInt(len(res.Predicted))
		r.AddCell().SetInt(len(res.Expected))
		r.AddCell().SetInt(len(res.Warnings))
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, key, value string) {
	row := sheet.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetString(value)
}

func addOptFloat(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v == nil {
		cell.SetString("n/a")
		return
	}
	cell.SetFloat(*v)
}
