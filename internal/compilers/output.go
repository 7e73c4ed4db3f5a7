package compilers

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pendergraft/verifier/internal/artifacts"
)

// Output is the result of one compiler invocation.
type Output struct {
	// Contracts are keyed by fully qualified name.
	Contracts map[string]*artifacts.CompiledContract
	// Warnings holds non-error diagnostics.
	Warnings []Diagnostic
	// Raw is the compiler's standard JSON output.
	Raw json.RawMessage
}

type standardJSONOutput struct {
	Errors    []Diagnostic                               `json:"errors"`
	Sources   json.RawMessage                            `json:"sources"`
	Contracts map[string]map[string]standardJSONContract `json:"contracts"`
}

type standardJSONContract struct {
	ABI           json.RawMessage `json:"abi"`
	Metadata      json.RawMessage `json:"metadata"`
	Userdoc       json.RawMessage `json:"userdoc"`
	Devdoc        json.RawMessage `json:"devdoc"`
	StorageLayout json.RawMessage `json:"storageLayout"`
	EVM           *struct {
		Bytecode         bytecodeOutput `json:"bytecode"`
		DeployedBytecode bytecodeOutput `json:"deployedBytecode"`
	} `json:"evm"`
}

type bytecodeOutput struct {
	Object              string                        `json:"object"`
	SourceMap           json.RawMessage               `json:"sourceMap"`
	LinkReferences      artifacts.LinkReferences      `json:"linkReferences"`
	ImmutableReferences artifacts.ImmutableReferences `json:"immutableReferences"`
}

// ParseStandardJSONOutput extracts per-contract artifacts from a standard
// JSON output. Any diagnostic with severity "error" yields a
// CompilationError.
func ParseStandardJSONOutput(raw []byte) (*Output, error) {
	var parsed standardJSONOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding output: %v", ErrInternal, err)
	}

	var errs, warnings []Diagnostic
	for _, d := range parsed.Errors {
		if strings.EqualFold(d.Severity, "error") {
			errs = append(errs, d)
		} else {
			warnings = append(warnings, d)
		}
	}
	if len(errs) > 0 {
		return nil, &CompilationError{Diagnostics: errs}
	}

	out := &Output{
		Contracts: make(map[string]*artifacts.CompiledContract),
		Warnings:  warnings,
		Raw:       raw,
	}

	for file, contracts := range parsed.Contracts {
		for name, c := range contracts {
			if c.EVM == nil {
				return nil, fmt.Errorf("%w: %s:%s has no evm output", ErrInternal, file, name)
			}

			creation, err := DecodeCode(c.EVM.Bytecode.Object, c.EVM.Bytecode.LinkReferences)
			if err != nil {
				return nil, fmt.Errorf("%s:%s creation code: %w", file, name, err)
			}
			runtime, err := DecodeCode(c.EVM.DeployedBytecode.Object, c.EVM.DeployedBytecode.LinkReferences)
			if err != nil {
				return nil, fmt.Errorf("%s:%s runtime code: %w", file, name, err)
			}

			contract := &artifacts.CompiledContract{
				FileName:     file,
				ContractName: name,
				Creation:     creation,
				Runtime:      runtime,
				Compilation: artifacts.CompilationArtifacts{
					ABI:           nonNull(c.ABI),
					Devdoc:        nonNull(c.Devdoc),
					Userdoc:       nonNull(c.Userdoc),
					StorageLayout: nonNull(c.StorageLayout),
					Sources:       nonNull(parsed.Sources),
				},
				CreationArt: artifacts.CreationCodeArtifacts{
					SourceMap:      sourceMapString(c.EVM.Bytecode.SourceMap),
					LinkReferences: c.EVM.Bytecode.LinkReferences,
				},
				RuntimeArt: artifacts.RuntimeCodeArtifacts{
					SourceMap:           sourceMapString(c.EVM.DeployedBytecode.SourceMap),
					LinkReferences:      c.EVM.DeployedBytecode.LinkReferences,
					ImmutableReferences: c.EVM.DeployedBytecode.ImmutableReferences,
				},
			}
			out.Contracts[contract.FullyQualifiedName()] = contract
		}
	}

	return out, nil
}

// DecodeCode decodes a hex code object, replacing unlinked library
// placeholders at the given offsets with zero bytes.
func DecodeCode(object string, refs artifacts.LinkReferences) ([]byte, error) {
	s := []byte(strings.TrimPrefix(object, "0x"))

	for _, libs := range refs {
		for _, offsets := range libs {
			for _, o := range offsets {
				start, end := int(o.Start)*2, o.End()*2
				if end > len(s) {
					return nil, fmt.Errorf("%w: link reference %d+%d out of range", ErrInternal, o.Start, o.Length)
				}
				for i := start; i < end; i++ {
					s[i] = '0'
				}
			}
		}
	}

	code := make([]byte, hex.DecodedLen(len(s)))
	if _, err := hex.Decode(code, s); err != nil {
		return nil, fmt.Errorf("%w: invalid code object: %v", ErrInternal, err)
	}
	return code, nil
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// sourceMapString accepts the string form of a source map. Some vyper
// versions emit an object instead; it is kept as JSON text.
func sourceMapString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
