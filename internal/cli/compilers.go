package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func createCompilersCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "compilers [language]",
		Short: "List compiler versions available on the server",
		Long: `List compiler versions the server can verify with, newest first.

EXAMPLES:
  verifier compilers
  verifier compilers vyper --limit 0
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			language := "solidity"
			if len(args) == 1 {
				language = args[0]
			}
			return runCompilers(cmd.Context(), language, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum versions shown (0 for all)")

	return cmd
}

func runCompilers(ctx context.Context, language string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := newClient().ListCompilers(ctx, language)
	if err != nil {
		return fmt.Errorf("listing compilers: %w", err)
	}

	if limit > 0 && len(resp.Versions) > limit {
		resp.Versions = resp.Versions[:limit]
	}

	if structured() {
		return printStructured(stdout, outputFormat, resp)
	}

	fmt.Fprintf(stdout, "%s compilers:\n", resp.Language)
	for _, v := range resp.Versions {
		fmt.Fprintf(stdout, "  %s\n", v)
	}
	return nil
}
