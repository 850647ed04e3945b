package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// writeJSONFile writes v to path, or to stdout when path is empty.
func writeJSONFile(path string, v any) error {
	if path == "" {
		return writeJSON(os.Stdout, v)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := writeJSON(f, v); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "write %s", path)
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

// formatRequests prints requests as a table. Counts are shown only when
// withCounts is set since plain request listings do not aggregate them.
func formatRequests(w io.Writer, reqs []model.ActiveRequest, withCounts bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAPPROVED\tCATEGORY\tBUDGET\tSUBS\tMATCHES\tEXPIRES\tTITLE")
	for _, r := range reqs {
		budget := "-"
		if r.MaxBudget != nil {
			budget = fmt.Sprintf("%d kr", *r.MaxBudget)
		}
		subs, matches := "-", "-"
		if withCounts {
			subs, matches = strconv.Itoa(r.SubscriberCount), strconv.Itoa(r.MatchCount)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Approved, r.Category, budget, subs, matches,
			r.ExpiresAt.UTC().Format(time.DateOnly), truncate(r.Title, 40),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatStats(w io.Writer, s *model.Stats, threshold float64) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total posts:\t%d\n", s.TotalPosts)
	fmt.Fprintf(tw, "Evaluated:\t%d\n", s.EvaluatedPosts)
	fmt.Fprintf(tw, "Pending evaluation:\t%d\n", s.PendingEvaluations)
	fmt.Fprintf(tw, "Failed evaluation:\t%d\n", s.FailedEvaluations)
	fmt.Fprintf(tw, "High-value deals (>= %.1f):\t%d\n", threshold, s.HighValueDeals)
	if s.AvgScore != nil {
		fmt.Fprintf(tw, "Average score:\t%.2f\n", *s.AvgScore)
	} else {
		fmt.Fprintf(tw, "Average score:\t-\n")
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
