package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"timetable/internal/app"
	"timetable/internal/resolver"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>...",
	Short: "Match teacher names against the faculty directory",
	Long: `Resolve noisy teacher names the way schedule rows are annotated.

Examples:
  timetable resolve "Dr. Ayesha Khan5"
  timetable resolve "A. Khan" "Syed Imran"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print identities as JSON")
}

type resolved struct {
	Query    string            `json:"query"`
	Identity resolver.Identity `json:"identity"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, true, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := make([]resolved, 0, len(args))
	for _, name := range args {
		id, _ := a.Resolve(name)
		out = append(out, resolved{Query: name, Identity: id})
	}
	if resolveJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	tw := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(tw, "QUERY\tMATCH\tRESULT")
	for _, r := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Query, matchLabel(r.Identity), teacherLabel(r.Identity))
	}
	return tw.Flush()
}

func matchLabel(id resolver.Identity) string {
	switch v := id.(type) {
	case resolver.Matched:
		return string(v.Pass)
	case resolver.Placeholder:
		return "placeholder"
	}
	return "-"
}
