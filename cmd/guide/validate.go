package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"guidedconv/agent/internal/phasegraph"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a conversation definition",
	Long: `Load a conversation definition, check its phase graph and print the phases.

Examples:
  guide validate conversations/basic.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	conv, err := phasegraph.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s (initial phase %q, voice %s)\n", conv.Name, conv.Goal, conv.InitialPhase, conv.Voice)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tNAME\tCRITERIA\tNEXT")
	for _, id := range conv.PhaseIDs() {
		p, _ := conv.Phase(id)
		next := strings.Join(p.NextPhases, ",")
		if next == "" {
			next = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", id, p.Name, len(p.SuccessCriteria), next)
	}
	return tw.Flush()
}
