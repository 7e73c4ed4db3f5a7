package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verifier/pkg/client"
)

func createSearchCmd() *cobra.Command {
	var codeType string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "search <code>",
		Short: "Find verified sources for deployed bytecode",
		Long: `Look up previously verified sources whose compiled bytecode matches the
given code. Code is hex, @file, or - to read it from stdin.

EXAMPLES:
  verifier search 0x6080604052...
  verifier search --type creation @creation.hex
  cast code 0x1234... | verifier search - -o json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), args[0], codeType, showSources)
		},
	}

	cmd.Flags().StringVar(&codeType, "type", "runtime", "code type: runtime or creation")
	cmd.Flags().BoolVar(&showSources, "sources", false, "print the matched source files")

	return cmd
}

func runSearch(ctx context.Context, arg, codeType string, showSources bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	code, err := readCode(arg, os.Stdin)
	if err != nil {
		return err
	}

	result, err := newClient().Search(ctx, client.SearchRequest{Code: code, CodeType: codeType})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if structured() {
		return printStructured(stdout, outputFormat, result)
	}
	return printSearchResult(stdout, result, showSources)
}

func printSearchResult(w io.Writer, r *client.SearchResult, showSources bool) error {
	if len(r.Matches) == 0 {
		fmt.Fprintln(w, "No verified sources found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MATCH\tCONTRACT\tCOMPILER\tID")
	for _, m := range r.Matches {
		fmt.Fprintf(tw, "%s\t%s:%s\t%s\t%s\n", m.MatchType, m.FileName, m.ContractName, m.CompilerVersion, m.ContractID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if showSources {
		for _, m := range r.Matches {
			for path, content := range m.Sources {
				fmt.Fprintf(w, "\n// ---- %s (%s)\n%s\n", path, m.ContractID, content)
			}
		}
	}
	return nil
}
