// Package solc implements the Solidity (and Yul) compiler family.
package solc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pendergraft/verifier/internal/auxdata"
	"github.com/pendergraft/verifier/internal/compilers"
)

// Binary is the file name of solc inside the binary cache.
const Binary = "solc"

// Oldest version accepting --standard-json.
const standardJSONSince = "v0.4.11"

// storageLayout output was added in 0.5.13.
const storageLayoutSince = "v0.5.13"

// Compiler runs solc.
type Compiler struct{}

// New creates a solc compiler.
func New() *Compiler {
	return &Compiler{}
}

var _ compilers.EvmCompiler = (*Compiler)(nil)

// Compile runs solc on input, through standard JSON when the version supports
// it and through the command line otherwise.
func (c *Compiler) Compile(ctx context.Context, binaryPath string, version compilers.Version, input *compilers.Input) (*compilers.Output, error) {
	if !version.AtLeast(standardJSONSince) {
		return compileLegacy(ctx, binaryPath, input)
	}

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

// NormalizeOutputSelection replaces the output selection with every output
// verification needs.
func (c *Compiler) NormalizeOutputSelection(input *compilers.Input, version compilers.Version) error {
	contractOutputs := []string{
		"abi",
		"evm.bytecode.object",
		"evm.bytecode.sourceMap",
		"evm.bytecode.linkReferences",
		"evm.deployedBytecode.object",
		"evm.deployedBytecode.sourceMap",
		"evm.deployedBytecode.linkReferences",
		"evm.deployedBytecode.immutableReferences",
		"evm.methodIdentifiers",
		"metadata",
		"userdoc",
		"devdoc",
	}
	if version.AtLeast(storageLayoutSince) {
		contractOutputs = append(contractOutputs, "storageLayout")
	}

	return input.SetSetting("outputSelection", map[string]map[string][]string{
		"*": {
			"":  {"ast"},
			"*": contractOutputs,
		},
	})
}

// ModifiedCopy appends a space to every source, which changes the metadata
// hash but not the code.
func (c *Compiler) ModifiedCopy(input *compilers.Input) *compilers.Input {
	return compilers.AppendSpaceToSources(input)
}

// AuxdataFormat implements compilers.EvmCompiler.
func (c *Compiler) AuxdataFormat() auxdata.Format {
	return auxdata.FormatSolidity
}
