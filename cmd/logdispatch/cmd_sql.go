package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/sqlsink"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <template>",
	Short: "Show how a SQL template is parameterized",
	Long: `Show how a SQL template is parameterized.

Quoted literals containing a conversion pattern become positional parameters
rendered from each event. Literals without '%' are left in the statement.`,
	Example: `  logdispatch sql "INSERT INTO logs (ts, level, msg) VALUES ('%d', '%p', 'host-a: %m')"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSQL,
}

func init() {
	rootCmd.AddCommand(sqlCmd)
}

func runSQL(cmd *cobra.Command, args []string) error {
	p, err := sqlsink.ParseSQL(args[0])
	if err != nil {
		return errx.Wrap(ErrParseSQL, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, p.SQL())
	if p.NumParams() == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAM\tPATTERN")
	for i, pat := range p.ArgPatterns() {
		fmt.Fprintf(w, "%d\t%q\n", i+1, pat)
	}
	return w.Flush()
}
