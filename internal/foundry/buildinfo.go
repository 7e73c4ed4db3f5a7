// Package foundry reads compiler inputs out of a Foundry project's
// build-info files so they can be submitted for verification.
package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConfigFile marks the root of a Foundry project.
const ConfigFile = "foundry.toml"

// ErrContractNotFound is returned when no build-info produced the contract.
var ErrContractNotFound = errors.New("contract not found in build-info")

// BuildInfo represents a Foundry build-info file (hh-sol-build-info-1 format)
type BuildInfo struct {
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`     // Short: "0.8.28"
	SolcLongVersion string          `json:"solcLongVersion"` // Full: "0.8.28+commit.7893614a"
	Input           json.RawMessage `json:"input"`           // Standard JSON Input
	Output          json.RawMessage `json:"output"`          // Compilation output
}

// VerificationInput is everything the verifier needs to recompile one contract.
type VerificationInput struct {
	StandardJSON    json.RawMessage
	CompilerVersion string // "v0.8.28+commit.7893614a"
	SourcePath      string
	ContractName    string
}

// QualifiedName returns "path:Name".
func (v *VerificationInput) QualifiedName() string {
	return v.SourcePath + ":" + v.ContractName
}

// Detect checks if a directory is a Foundry project
func Detect(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// outputContracts represents output.contracts from Solidity compiler output
type outputContracts map[string]map[string]json.RawMessage

// LoadVerificationInput finds the build-info under dir/out/build-info that
// produced contract. contract is either "Name" or "path/To.sol:Name"; a bare
// name must resolve to exactly one source path.
func LoadVerificationInput(dir, contract string) (*VerificationInput, error) {
	sourcePath, name := splitQualified(contract)
	buildInfoDir := filepath.Join(dir, "out", "build-info")

	entries, err := os.ReadDir(buildInfoDir)
	if err != nil {
		return nil, fmt.Errorf("reading build-info directory: %w", err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(buildInfoDir, entry.Name()))
		if err != nil {
			continue
		}

		var buildInfo BuildInfo
		if err := json.Unmarshal(data, &buildInfo); err != nil {
			continue
		}

		var output struct {
			Contracts outputContracts `json:"contracts"`
		}
		if err := json.Unmarshal(buildInfo.Output, &output); err != nil {
			continue
		}

		paths := output.Contracts.pathsOf(name)
		if sourcePath != "" {
			if _, ok := output.Contracts[sourcePath][name]; !ok {
				continue
			}
			paths = []string{sourcePath}
		}
		switch len(paths) {
		case 0:
			continue
		case 1:
		default:
			return nil, fmt.Errorf("contract %s is ambiguous, qualify it with one of: %s", name, strings.Join(paths, ", "))
		}

		stdJSON, err := stripFoundryStandardJSONKeys(buildInfo.Input)
		if err != nil {
			return nil, fmt.Errorf("parsing build-info %s: %w", entry.Name(), err)
		}

		return &VerificationInput{
			StandardJSON:    stdJSON,
			CompilerVersion: longVersion(buildInfo.SolcLongVersion),
			SourcePath:      paths[0],
			ContractName:    name,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrContractNotFound, contract)
}

func (c outputContracts) pathsOf(name string) []string {
	var paths []string
	for path, contracts := range c {
		if _, ok := contracts[name]; ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func splitQualified(contract string) (path, name string) {
	if i := strings.LastIndex(contract, ":"); i >= 0 {
		return contract[:i], contract[i+1:]
	}
	return "", contract
}

func longVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// foundryStandardJSONKeysToStrip are top-level keys Foundry adds that the Solidity compiler rejects.
// The standard JSON input only allows: language, sources, settings.
var foundryStandardJSONKeysToStrip = []string{"allowPaths", "basePath", "includePaths", "version"}

func stripFoundryStandardJSONKeys(input json.RawMessage) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return nil, err
	}
	for _, key := range foundryStandardJSONKeysToStrip {
		delete(m, key)
	}
	return json.Marshal(m)
}
