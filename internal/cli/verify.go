package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verifier/internal/foundry"
	"github.com/pendergraft/verifier/pkg/client"
)

type verifyOptions struct {
	language        string
	compilerVersion string
	inputPath       string
	sources         []string
	settingsPath    string
	contract        string
	creationCode    string
	runtimeCode     string
	chainID         string
	foundryDir      string
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify deployed bytecode against contract sources",
		Long: `Compile contract sources on the server and compare the result with
deployed bytecode.

Sources come from a standard JSON input file, from individual source files,
or from a Foundry project's build-info. Bytecode is given as hex, as @file,
or as - to read it from stdin.

EXAMPLES:
  # Verify runtime code with a standard JSON input
  verifier verify \
    --compiler v0.8.28+commit.7893614a \
    --input input.json \
    --contract src/Token.sol:Token \
    --runtime-code @token.runtime.hex

  # Use the build-info of a Foundry project
  verifier verify --foundry . --contract Token --creation-code @creation.hex

  # Vyper from source files
  verifier verify --language vyper --compiler v0.3.10+commit.91361694 \
    --source contracts/Vault.vy --runtime-code - < vault.hex
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.language, "language", "", "solidity, yul or vyper (default solidity)")
	cmd.Flags().StringVar(&opts.compilerVersion, "compiler", "", "full compiler version, e.g. v0.8.28+commit.7893614a")
	cmd.Flags().StringVar(&opts.inputPath, "input", "", "standard JSON input file")
	cmd.Flags().StringSliceVar(&opts.sources, "source", nil, "source file (repeatable)")
	cmd.Flags().StringVar(&opts.settingsPath, "settings", "", "compiler settings JSON file, used with --source")
	cmd.Flags().StringVar(&opts.contract, "contract", "", "contract name, optionally path:Name")
	cmd.Flags().StringVar(&opts.creationCode, "creation-code", "", "creation bytecode (hex, @file or -)")
	cmd.Flags().StringVar(&opts.runtimeCode, "runtime-code", "", "runtime bytecode (hex, @file or -)")
	cmd.Flags().StringVar(&opts.chainID, "chain-id", "", "chain the code was deployed on")
	cmd.Flags().StringVar(&opts.foundryDir, "foundry", "", "Foundry project directory to read build-info from")

	return cmd
}

// buildVerifyRequest merges flags with project config defaults and loads
// every referenced file.
func buildVerifyRequest(opts verifyOptions, project *ProjectConfig) (client.VerifyRequest, error) {
	if project != nil {
		if opts.language == "" {
			opts.language = project.Language
		}
		if opts.compilerVersion == "" {
			opts.compilerVersion = project.CompilerVersion
		}
		if opts.chainID == "" {
			opts.chainID = project.ChainID
		}
		if opts.foundryDir == "" && opts.inputPath == "" && len(opts.sources) == 0 {
			opts.foundryDir = project.Foundry
		}
	}

	req := client.VerifyRequest{
		Language:        opts.language,
		CompilerVersion: opts.compilerVersion,
		ContractName:    opts.contract,
		ChainID:         opts.chainID,
	}

	var err error
	if req.CreationCode, err = readCode(opts.creationCode, os.Stdin); err != nil {
		return req, fmt.Errorf("creation code: %w", err)
	}
	if req.RuntimeCode, err = readCode(opts.runtimeCode, os.Stdin); err != nil {
		return req, fmt.Errorf("runtime code: %w", err)
	}
	if req.CreationCode == "" && req.RuntimeCode == "" {
		return req, errors.New("at least one of --creation-code or --runtime-code is required")
	}

	switch {
	case opts.inputPath != "":
		data, err := os.ReadFile(opts.inputPath)
		if err != nil {
			return req, fmt.Errorf("reading input: %w", err)
		}
		if !json.Valid(data) {
			return req, fmt.Errorf("%s is not valid JSON", opts.inputPath)
		}
		req.Input = data

	case len(opts.sources) > 0:
		req.SourceFiles = make(map[string]string, len(opts.sources))
		for _, path := range opts.sources {
			data, err := os.ReadFile(path)
			if err != nil {
				return req, fmt.Errorf("reading source: %w", err)
			}
			req.SourceFiles[filepath.ToSlash(path)] = string(data)
		}
		if opts.settingsPath != "" {
			data, err := os.ReadFile(opts.settingsPath)
			if err != nil {
				return req, fmt.Errorf("reading settings: %w", err)
			}
			req.Settings = data
		}

	case opts.foundryDir != "":
		if opts.contract == "" {
			return req, errors.New("--contract is required with --foundry")
		}
		vi, err := foundry.LoadVerificationInput(opts.foundryDir, opts.contract)
		if err != nil {
			return req, err
		}
		req.Input = vi.StandardJSON
		req.ContractName = vi.QualifiedName()
		if req.CompilerVersion == "" {
			req.CompilerVersion = vi.CompilerVersion
		}

	default:
		return req, errors.New("one of --input, --source or --foundry is required")
	}

	if req.CompilerVersion == "" {
		return req, errors.New("--compiler is required")
	}
	return req, nil
}

func runVerify(ctx context.Context, opts verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildVerifyRequest(opts, loadProjectConfigSilent())
	if err != nil {
		return err
	}

	if !structured() {
		fmt.Fprintf(os.Stderr, "🔍 Compiling with %s on %s\n", req.CompilerVersion, getServer())
	}

	result, err := newClient().Verify(ctx, req)
	if err != nil {
		return fmt.Errorf("verification request failed: %w", err)
	}

	if structured() {
		return printStructured(stdout, outputFormat, result)
	}
	printVerifyResult(stdout, result)
	if !result.Verified() {
		return errors.New("not verified")
	}
	return nil
}

func printVerifyResult(w io.Writer, r *client.VerifyResult) {
	fmt.Fprintln(w)

	if !r.Verified() {
		fmt.Fprintln(w, "❌ NOT VERIFIED")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "   %s\n", e)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(w, "   %s: %d mismatched slice(s)\n", f.Contract, len(f.Slices))
		}
		return
	}

	switch r.MatchType {
	case "full":
		fmt.Fprintln(w, "✅ VERIFIED - Full match")
		fmt.Fprintln(w, "   Deployed bytecode matches the compiled contract including metadata")
	default:
		fmt.Fprintln(w, "✅ VERIFIED - Partial match")
		fmt.Fprintln(w, "   Executable code matches, but the metadata hash differs")
	}

	fmt.Fprintf(w, "   Contract: %s:%s\n", r.FileName, r.ContractName)
	fmt.Fprintf(w, "   Compiler: %s\n", r.CompilerVersion)
	if r.CreationMatch != nil {
		fmt.Fprintf(w, "   Creation: %s\n", r.CreationMatch.MatchType)
	}
	if r.RuntimeMatch != nil {
		fmt.Fprintf(w, "   Runtime:  %s\n", r.RuntimeMatch.MatchType)
	}
	if r.ConstructorArguments != "" {
		fmt.Fprintf(w, "   Constructor args: %s\n", shorten(r.ConstructorArguments, 66))
	}
	if r.Blueprint {
		fmt.Fprintln(w, "   Blueprint contract")
	}
	if r.ContractID != "" {
		fmt.Fprintf(w, "   Stored as: %s\n", r.ContractID)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "   ⚠️  %s\n", warning)
	}
}
