package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/verify"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatDetectResult writes a detection summary and its open discrepancies.
func formatDetectResult(out io.Writer, res *verify.DetectResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Certificate:\t%s/%d\n", res.Key.Type, res.Key.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	_, _ = fmt.Fprintf(w, "Quality score:\t%d\n", res.QualityScore)
	if !res.Persisted {
		_, _ = fmt.Fprintln(w, "Score stored:\tno")
	}
	_ = w.Flush()

	if len(res.Discrepancies) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	formatDiscrepancies(out, res.Discrepancies)
}

func formatDiscrepancies(out io.Writer, ds []model.Discrepancy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tTYPE\tSEVERITY\tFORM\tPDF")
	_, _ = fmt.Fprintln(w, "-----\t----\t--------\t----\t---")
	for _, d := range ds {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.FieldName, d.Type, d.Severity, truncate(d.FormValue, 30), truncate(d.PDFValue, 30))
	}
	_ = w.Flush()
}

// formatWorkflowList writes a tabular list of workflow records.
func formatWorkflowList(out io.Writer, recs []model.WorkflowRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tID\tREGISTRY_NO\tNAME\tSTATE\tSCORE\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t--\t-----------\t----\t-----\t-----\t-------")
	for _, r := range recs {
		regNo, name := "-", "-"
		if r.Certificate != nil {
			regNo = r.Certificate.RegistryNumber
			name = truncate(r.Certificate.DisplayName, 30)
			if r.Certificate.Deleted {
				name += " (deleted)"
			}
		}
		score := "-"
		if r.DataQualityScore != nil {
			score = fmt.Sprintf("%d", *r.DataQualityScore)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Key.Type, r.Key.ID, regNo, name, r.CurrentState, score,
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatCounts writes per-state counts in lifecycle order.
func formatCounts(out io.Writer, counts map[model.State]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	total := 0
	for _, st := range model.States {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", st, counts[st])
		total += counts[st]
	}
	_, _ = fmt.Fprintf(w, "total:\t%d\n", total)
	_ = w.Flush()
}

func formatHistory(out io.Writer, recs []model.TransitionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AT\tFROM\tTO\tACTOR\tREASON")
	_, _ = fmt.Fprintln(w, "--\t----\t--\t-----\t------")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.FromState, r.ToState, r.ActorID, r.Reason)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
