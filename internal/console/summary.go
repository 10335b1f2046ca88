package console

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"guidedconv/agent/internal/realtime"
)

// Summary prints the end-of-conversation report of snap.
func Summary(w io.Writer, snap realtime.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Conversation:\t%s\n", snap.Conversation)
	fmt.Fprintf(tw, "Duration:\t%s\n", snap.Tracker.Duration.Round(time.Second))
	fmt.Fprintf(tw, "Final phase:\t%s\n", snap.Phase)

	var path []string
	for _, c := range snap.History {
		path = append(path, fmt.Sprintf("%s (%s)", c.Phase, c.Duration.Round(time.Second)))
	}
	if len(path) == 0 {
		path = append(path, "none")
	}
	fmt.Fprintf(tw, "Completed phases:\t%s\n", strings.Join(path, " -> "))
	fmt.Fprintf(tw, "Observations:\t%d\n", snap.Tracker.TotalObservations)
	for _, p := range snap.Tracker.PhasesWithCriteria {
		fmt.Fprintf(tw, "Criteria met in %s:\t%s\n", p, strings.Join(snap.Tracker.CriteriaMet[p], ", "))
	}
	fmt.Fprintf(tw, "Barge-ins:\t%d\n", snap.Floor.BargeIns)
	completed := "no"
	if snap.State.Completed {
		completed = "yes"
	}
	fmt.Fprintf(tw, "Completed:\t%s\n", completed)
	if snap.State.Notes != "" {
		fmt.Fprintf(tw, "Notes:\t%s\n", snap.State.Notes)
	}
	return tw.Flush()
}
