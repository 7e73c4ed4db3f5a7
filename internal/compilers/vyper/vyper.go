// Package vyper implements the Vyper compiler family.
package vyper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pendergraft/verifier/internal/auxdata"
	"github.com/pendergraft/verifier/internal/compilers"
)

// Binary is the file name of vyper inside the binary cache.
const Binary = "vyper"

// From 0.4.0 the output selection is given per source file.
const perFileSelectionSince = "v0.4.0"

var outputs = []string{
	"abi",
	"evm.bytecode",
	"evm.deployedBytecode",
	"evm.methodIdentifiers",
	"metadata",
	"userdoc",
	"devdoc",
}

// Compiler runs vyper.
type Compiler struct{}

// New creates a vyper compiler.
func New() *Compiler {
	return &Compiler{}
}

var _ compilers.EvmCompiler = (*Compiler)(nil)

// Compile runs vyper --standard-json.
func (c *Compiler) Compile(ctx context.Context, binaryPath string, version compilers.Version, input *compilers.Input) (*compilers.Output, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}

	res, err := compilers.Run(ctx, binaryPath, []string{"--standard-json"}, raw, "")
	if err != nil {
		return nil, err
	}
	if !json.Valid(res.Stdout) {
		return nil, compilers.FailureFromRun(res)
	}
	return compilers.ParseStandardJSONOutput(res.Stdout)
}

// NormalizeOutputSelection implements compilers.EvmCompiler.
func (c *Compiler) NormalizeOutputSelection(input *compilers.Input, version compilers.Version) error {
	if !version.AtLeast(perFileSelectionSince) {
		return input.SetSetting("outputSelection", map[string][]string{"*": outputs})
	}

	selection := make(map[string][]string, len(input.Sources))
	for name := range input.Sources {
		selection[name] = outputs
	}
	return input.SetSetting("outputSelection", selection)
}

// ModifiedCopy appends a space to every source. Since 0.4.1 this changes the
// integrity hash in the auxdata.
func (c *Compiler) ModifiedCopy(input *compilers.Input) *compilers.Input {
	return compilers.AppendSpaceToSources(input)
}

// AuxdataFormat implements compilers.EvmCompiler.
func (c *Compiler) AuxdataFormat() auxdata.Format {
	return auxdata.FormatVyper
}
