package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/roofsignal/discrepancy-cli/internal/errlog"
	"github.com/roofsignal/discrepancy-cli/internal/model"
)

// Error-log output formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// RenderErrors writes error-log records to w in the requested format.
func RenderErrors(w io.Writer, records []errlog.Record, format string) error {
	switch format {
	case FormatText, "":
		return renderText(w, records)
	case FormatMarkdown:
		return renderMarkdown(w, records)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(records), "report: encode errors")
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

func renderText(w io.Writer, records []errlog.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no errors logged")
		return eris.Wrap(err, "report: write")
	}

	for i, rec := range records {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%s] %s %s  case=%s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Severity, rec.ErrorKind, rec.CaseID)
		fmt.Fprintf(w, "  class:       %s\n", rec.Deviation.Class)
		if rec.Deviation.Explanation != "" {
			fmt.Fprintf(w, "  explanation: %s\n", rec.Deviation.Explanation)
		}
		if occ := formatOccurrences(rec.Deviation.Occurrences); occ != "" {
			fmt.Fprintf(w, "  occurrences: %s\n", occ)
		}
		for _, op := range rec.Opposing {
			fmt.Fprintf(w, "  opposing:    %s %s\n", op.Class, formatOccurrences(op.Occurrences))
		}
		fmt.Fprintf(w, "  case counts: tp=%d fp=%d fn=%d\n",
			rec.CaseMetrics.TP, rec.CaseMetrics.FP, rec.CaseMetrics.FN)
	}
	return nil
}

func renderMarkdown(w io.Writer, records []errlog.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "_no errors logged_")
		return eris.Wrap(err, "report: write")
	}

	fmt.Fprintln(w, "| Time | Kind | Severity | Case | Class | Occurrences | Explanation |")
	fmt.Fprintln(w, "|------|------|----------|------|-------|-------------|-------------|")
	for _, rec := range records {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %s |\n",
			rec.Timestamp.Format("2006-01-02 15:04"),
			rec.ErrorKind,
			rec.Severity,
			rec.CaseID,
			rec.Deviation.Class,
			formatOccurrences(rec.Deviation.Occurrences),
			escapePipes(rec.Deviation.Explanation),
		)
	}
	return nil
}

func formatOccurrences(occs []model.Occurrence) string {
	if len(occs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(occs))
	for _, o := range occs {
		ts := o.Timestamp
		if ts == "" {
			ts = "?"
		}
		parts = append(parts, fmt.Sprintf("conv %d @ %s", o.ConversationIndex, ts))
	}
	return strings.Join(parts, ", ")
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
