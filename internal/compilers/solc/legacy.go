package solc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/compilers"
)

// legacySettings is the part of standard JSON settings the command line
// understands.
type legacySettings struct {
	Optimizer struct {
		Enabled bool `json:"enabled"`
		Runs    *int `json:"runs"`
	} `json:"optimizer"`
	Libraries map[string]map[string]string `json:"libraries"`
}

type legacyContract struct {
	ABI        string `json:"abi"`
	Bin        string `json:"bin"`
	BinRuntime string `json:"bin-runtime"`
}

type legacyOutput struct {
	Contracts map[string]legacyContract `json:"contracts"`
}

// legacyArgs builds the solc command line for settings.
func legacyArgs(settings legacySettings) []string {
	args := []string{"--combined-json", "abi,bin,bin-runtime"}
	if settings.Optimizer.Enabled {
		args = append(args, "--optimize")
	}
	// --optimize-runs has no effect without --optimize
	if settings.Optimizer.Runs != nil {
		args = append(args, "--optimize-runs", strconv.Itoa(*settings.Optimizer.Runs))
	}

	libs := make(map[string]string)
	for _, byName := range settings.Libraries {
		for name, addr := range byName {
			libs[name] = addr
		}
	}
	if len(libs) > 0 {
		pairs := make([]string, 0, len(libs))
		for name, addr := range libs {
			pairs = append(pairs, name+":"+addr)
		}
		sort.Strings(pairs)
		args = append(args, "--libraries", strings.Join(pairs, ","))
	}
	return args
}

// compileLegacy compiles with the pre-0.4.11 command line interface. Sources
// are written to a temporary directory and passed as file arguments.
func compileLegacy(ctx context.Context, binaryPath string, input *compilers.Input) (*compilers.Output, error) {
	var settings legacySettings
	if len(input.Settings) > 0 {
		if err := json.Unmarshal(input.Settings, &settings); err != nil {
			return nil, fmt.Errorf("%w: settings: %v", compilers.ErrInvalidInput, err)
		}
	}

	dir, err := os.MkdirTemp("", "solc-legacy-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp dir: %v", compilers.ErrInternal, err)
	}
	defer os.RemoveAll(dir)

	names := make([]string, 0, len(input.Sources))
	for name := range input.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !filepath.IsLocal(name) {
			return nil, fmt.Errorf("%w: source path %q escapes the source root", compilers.ErrInvalidInput, name)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", compilers.ErrInternal, err)
		}
		if err := os.WriteFile(path, []byte(input.Sources[name].Content), 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", compilers.ErrInternal, err)
		}
	}

	args := append(legacyArgs(settings), names...)
	res, err := compilers.Run(ctx, binaryPath, args, nil, dir)
	if err != nil {
		return nil, err
	}
	// old compilers report everything, including fatal errors, on stderr
	if len(strings.TrimSpace(string(res.Stderr))) > 0 || res.ExitCode != 0 {
		return nil, compilers.FailureFromRun(res)
	}

	return parseLegacyOutput(res.Stdout, dir, names)
}

func parseLegacyOutput(stdout []byte, dir string, names []string) (*compilers.Output, error) {
	var parsed legacyOutput
	if err := json.Unmarshal(stdout, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding combined json: %v", compilers.ErrInternal, err)
	}

	out := &compilers.Output{
		Contracts: make(map[string]*artifacts.CompiledContract),
		Raw:       stdout,
	}

	for key, c := range parsed.Contracts {
		file, name := artifacts.SplitFullyQualifiedName(key)
		file = strings.TrimPrefix(strings.TrimPrefix(file, dir), string(filepath.Separator))
		if file == "" && len(names) == 1 {
			file = names[0]
		}

		creationRefs := placeholderReferences(c.Bin)
		runtimeRefs := placeholderReferences(c.BinRuntime)

		creation, err := compilers.DecodeCode(c.Bin, creationRefs)
		if err != nil {
			return nil, fmt.Errorf("%s creation code: %w", key, err)
		}
		runtime, err := compilers.DecodeCode(c.BinRuntime, runtimeRefs)
		if err != nil {
			return nil, fmt.Errorf("%s runtime code: %w", key, err)
		}

		var abi json.RawMessage
		if c.ABI != "" {
			if !json.Valid([]byte(c.ABI)) {
				return nil, fmt.Errorf("%w: %s has an invalid abi", compilers.ErrInternal, key)
			}
			abi = json.RawMessage(c.ABI)
		}

		contract := &artifacts.CompiledContract{
			FileName:     file,
			ContractName: name,
			Creation:     creation,
			Runtime:      runtime,
			Compilation:  artifacts.CompilationArtifacts{ABI: abi},
			CreationArt:  artifacts.CreationCodeArtifacts{LinkReferences: creationRefs},
			RuntimeArt:   artifacts.RuntimeCodeArtifacts{LinkReferences: runtimeRefs},
		}
		out.Contracts[contract.FullyQualifiedName()] = contract
	}

	return out, nil
}

// placeholderReferences finds the 40-character "__Name___" library
// placeholders that old compilers leave in unlinked code.
func placeholderReferences(object string) artifacts.LinkReferences {
	const placeholderLen = 40

	var refs artifacts.LinkReferences
	for i := 0; i+placeholderLen <= len(object); i += 2 {
		if object[i] != '_' || object[i+1] != '_' {
			continue
		}
		placeholder := object[i : i+placeholderLen]
		id := strings.Trim(placeholder, "_")
		file, lib := artifacts.SplitFullyQualifiedName(id)

		if refs == nil {
			refs = make(artifacts.LinkReferences)
		}
		if refs[file] == nil {
			refs[file] = make(map[string][]artifacts.Offset)
		}
		refs[file][lib] = append(refs[file][lib], artifacts.Offset{
			Start:  uint32(i / 2),
			Length: placeholderLen / 2,
		})
		i += placeholderLen - 2
	}
	return refs
}
