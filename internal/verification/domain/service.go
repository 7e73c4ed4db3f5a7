// Package domain contains the business logic for contract verification.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/compilers"
	"github.com/pendergraft/verifier/internal/matcher"
	"github.com/pendergraft/verifier/internal/observability/metrics"
	"github.com/pendergraft/verifier/internal/storage"
	"github.com/pendergraft/verifier/internal/validation"
)

// Common errors returned by the verification service.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrVersionNotFound = errors.New("compiler version not found")
	ErrTimeout         = errors.New("compilation timed out")
	ErrInternal        = errors.New("internal error")
	ErrSourceNotFound  = errors.New("source not found")
	// ErrNoMatch is reported in a failure result, never returned.
	ErrNoMatch = errors.New("no compiled contract matches the on-chain code")
)

// Compiler defines the compilation operations needed by the verification domain.
type Compiler interface {
	Compile(ctx context.Context, lang compilers.Language, version compilers.Version, input *compilers.Input) (*compilers.CompileResult, error)
	Versions(lang compilers.Language) ([]compilers.Version, error)
}

// SourceStore defines the source storage operations needed by the verification domain.
type SourceStore interface {
	SaveSource(ctx context.Context, src *storage.Source) (string, error)
	GetSource(ctx context.Context, id string) (*storage.Source, error)
}

// PartStore defines the bytecode part operations needed by the verification domain.
type PartStore interface {
	PersistParts(ctx context.Context, sourceID string, codeType matcher.CodeType, parts []storage.Part) (*storage.StoredBytecode, error)
	FindCandidates(ctx context.Context, code []byte, codeType matcher.CodeType) ([]storage.Candidate, error)
	GetParts(ctx context.Context, bytecodeID int64) ([]storage.Part, error)
}

type service struct {
	compilers Compiler
	sources   SourceStore
	parts     PartStore
	persist   bool
	logger    *slog.Logger
}

// NewService creates a new verification service. When persist is set,
// successful verifications are stored for later searches.
func NewService(compiler Compiler, sources SourceStore, parts PartStore, persist bool, logger *slog.Logger) *service {
	return &service{
		compilers: compiler,
		sources:   sources,
		parts:     parts,
		persist:   persist,
		logger:    logger,
	}
}

// Verify recompiles the submitted sources and compares every candidate
// contract with the on-chain code. The first matching contract wins.
func (s *service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	lang, version, input, err := parseVerifyRequest(req)
	if err != nil {
		return nil, err
	}

	compiled, err := s.compilers.Compile(ctx, lang, version, input)
	if err != nil {
		var compErr *compilers.CompilationError
		if errors.As(err, &compErr) {
			metrics.VerificationRequest(string(lang), "compilation_error")
			return &VerifyResult{
				Status:          StatusFailure,
				Verdict:         matcher.VerdictFailure,
				CompilerVersion: version.String(),
				Errors:          compErr.Messages(),
			}, nil
		}
		return nil, mapCompileError(err, lang, version)
	}

	contracts := selectContracts(compiled, req.ContractName)
	if len(contracts) == 0 {
		metrics.VerificationRequest(string(lang), string(matcher.VerdictFailure))
		return &VerifyResult{
			Status:          StatusFailure,
			Verdict:         matcher.VerdictFailure,
			CompilerVersion: version.String(),
			Errors:          []string{fmt.Sprintf("contract %q not found in compilation output", req.ContractName)},
		}, nil
	}

	onChain := matcher.OnChainCode{Creation: req.CreationCode, Runtime: req.RuntimeCode}
	blueprint := matcher.IsBlueprint(onChain)

	var failures []ContractFailure
	for _, c := range contracts {
		recompiled, art := matcher.FromContract(c)

		var res matcher.Result
		if blueprint {
			res, err = matcher.VerifyBlueprint(onChain, recompiled, art)
			if err != nil {
				failures = append(failures, ContractFailure{
					Contract: c.FullyQualifiedName(),
					Slices:   []matcher.SliceFailure{{CodeType: matcher.CodeTypeCreation, Reason: err.Error()}},
				})
				continue
			}
		} else {
			res = matcher.Verify(onChain, recompiled, art)
		}

		if !res.Matched() {
			failures = append(failures, ContractFailure{Contract: c.FullyQualifiedName(), Slices: res.Failures})
			continue
		}

		result := successResult(compiled, c, res)
		if s.persist {
			result.ContractID = s.persistMatch(ctx, compiled, c)
		}
		metrics.VerificationRequest(string(lang), string(res.Verdict))
		return result, nil
	}

	metrics.VerificationRequest(string(lang), string(matcher.VerdictFailure))
	return &VerifyResult{
		Status:          StatusFailure,
		Verdict:         matcher.VerdictFailure,
		CompilerVersion: version.String(),
		Failures:        failures,
		Errors:          []string{ErrNoMatch.Error()},
		Warnings:        warningTexts(compiled.Warnings),
	}, nil
}

func parseVerifyRequest(req VerifyRequest) (compilers.Language, compilers.Version, *compilers.Input, error) {
	lang, err := compilers.ParseLanguage(req.Language)
	if err != nil {
		return "", compilers.Version{}, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	version, err := compilers.ParseVersion(req.CompilerVersion)
	if err != nil {
		return "", compilers.Version{}, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.CreationCode) == 0 && len(req.RuntimeCode) == 0 {
		return "", compilers.Version{}, nil, fmt.Errorf("%w: creation or runtime code is required", ErrInvalidRequest)
	}
	if req.ContractName != "" {
		if err := validation.ValidateContractName(req.ContractName); err != nil {
			return "", compilers.Version{}, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if req.ChainID != "" {
		if err := validation.ValidateChainID(req.ChainID); err != nil {
			return "", compilers.Version{}, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	input, err := compilers.ParseInput(req.Input)
	if err != nil {
		return "", compilers.Version{}, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for path := range input.Sources {
		if err := validation.ValidateSourcePath(path); err != nil {
			return "", compilers.Version{}, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	input.Language = lang.StandardJSONName()
	return lang, version, input, nil
}

func mapCompileError(err error, lang compilers.Language, version compilers.Version) error {
	switch {
	case errors.Is(err, compilers.ErrVersionNotFound):
		return fmt.Errorf("%w: %s %s", ErrVersionNotFound, lang, version)
	case errors.Is(err, compilers.ErrUnsupportedLanguage), errors.Is(err, compilers.ErrInvalidInput):
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case errors.Is(err, compilers.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

// selectContracts returns the contracts to try in name order. A fully
// qualified name selects one contract, a bare name every contract with that
// name.
func selectContracts(compiled *compilers.CompileResult, name string) []*artifacts.CompiledContract {
	var out []*artifacts.CompiledContract
	if strings.Contains(name, ":") {
		if c, ok := compiled.Contract(name); ok {
			out = append(out, c)
		}
		return out
	}
	for _, fq := range compiled.SortedNames() {
		c := compiled.Contracts[fq]
		if name == "" || c.ContractName == name {
			out = append(out, c)
		}
	}
	return out
}

func successResult(compiled *compilers.CompileResult, c *artifacts.CompiledContract, res matcher.Result) *VerifyResult {
	best := res.Best()
	values := best.Values
	result := &VerifyResult{
		Status:          StatusSuccess,
		MatchType:       res.MatchType(),
		Verdict:         res.Verdict,
		CompilerVersion: compiled.Version.String(),
		FileName:        c.FileName,
		ContractName:    c.ContractName,
		Transformations: best.Transformations,
		Values:          &values,
		CreationMatch:   res.Creation,
		RuntimeMatch:    res.Runtime,
		Blueprint:       res.Blueprint,
		ABI:             c.Compilation.ABI,
		Warnings:        warningTexts(compiled.Warnings),
	}
	if res.Creation != nil {
		result.ConstructorArguments = res.Creation.Values.ConstructorArguments
	}
	if res.CodeHash != (common.Hash{}) {
		result.CodeHash = res.CodeHash.Hex()
	}
	return result
}

func warningTexts(diags []compilers.Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Text())
	}
	return out
}

// persistMatch stores the source and the recompiled code of a verified
// contract. Failures are logged and leave the contract id empty.
func (s *service) persistMatch(ctx context.Context, compiled *compilers.CompileResult, c *artifacts.CompiledContract) string {
	art, err := json.Marshal(c)
	if err != nil {
		s.logger.Warn("encoding artifacts failed", "contract", c.FullyQualifiedName(), "error", err)
		return ""
	}
	sources := make(map[string]string, len(compiled.Input.Sources))
	for path, src := range compiled.Input.Sources {
		sources[path] = src.Content
	}

	id, err := s.sources.SaveSource(ctx, &storage.Source{
		Language:        string(compiled.Language),
		CompilerVersion: compiled.Version.String(),
		FileName:        c.FileName,
		ContractName:    c.ContractName,
		Settings:        compiled.Input.Settings,
		Sources:         sources,
		ABI:             c.Compilation.ABI,
		Artifacts:       art,
	})
	if err != nil {
		s.logger.Warn("persisting verified source failed", "contract", c.FullyQualifiedName(), "error", err)
		return ""
	}

	slices := []struct {
		codeType   matcher.CodeType
		code       []byte
		descriptor artifacts.CborAuxdata
	}{
		{matcher.CodeTypeCreation, c.Creation, c.CreationArt.CborAuxdata},
		{matcher.CodeTypeRuntime, c.Runtime, c.RuntimeArt.CborAuxdata},
	}
	for _, sl := range slices {
		if len(sl.code) == 0 {
			continue
		}
		parts := storage.Split(sl.code)
		if sl.descriptor != nil {
			parts = storage.SplitWithDescriptor(sl.code, sl.descriptor)
		}
		if _, err := s.parts.PersistParts(ctx, id, sl.codeType, parts); err != nil {
			s.logger.Warn("persisting bytecode parts failed",
				"contract", c.FullyQualifiedName(),
				"code_type", sl.codeType,
				"error", err,
			)
		}
	}
	return id
}

// Search finds verified sources whose stored code matches the given code.
// Candidates sharing the code's search key are confirmed part by part.
func (s *service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if len(req.Code) == 0 {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	codeType := req.CodeType
	switch codeType {
	case "":
		codeType = matcher.CodeTypeRuntime
	case matcher.CodeTypeRuntime, matcher.CodeTypeCreation:
	default:
		return nil, fmt.Errorf("%w: unknown code type %q", ErrInvalidRequest, codeType)
	}

	candidates, err := s.parts.FindCandidates(ctx, req.Code, codeType)
	if err != nil {
		metrics.SearchRequest("error")
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	result := &SearchResult{}
	seen := make(map[string]bool)
	for _, c := range candidates {
		if seen[c.SourceID] {
			continue
		}
		match, err := s.confirmCandidate(ctx, req.Code, codeType, c)
		if err != nil {
			if ctx.Err() != nil {
				metrics.SearchRequest("error")
				return nil, ctx.Err()
			}
			s.logger.Debug("candidate rejected", "bytecode_id", c.BytecodeID, "source_id", c.SourceID, "reason", err)
			continue
		}
		seen[c.SourceID] = true
		result.Matches = append(result.Matches, *match)
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].MatchType == matcher.MatchFull && result.Matches[j].MatchType != matcher.MatchFull
	})

	if len(result.Matches) > 0 {
		metrics.SearchRequest("hit")
	} else {
		metrics.SearchRequest("miss")
	}
	return result, nil
}

// confirmCandidate reassembles a candidate and reruns the matcher against
// the searched code, using the artifacts stored with the source. Sources
// stored without artifacts fall back to the part comparison.
func (s *service) confirmCandidate(ctx context.Context, code []byte, codeType matcher.CodeType, c storage.Candidate) (*SearchMatch, error) {
	parts, err := s.parts.GetParts(ctx, c.BytecodeID)
	if err != nil {
		return nil, fmt.Errorf("loading parts: %w", err)
	}
	src, err := s.sources.GetSource(ctx, c.SourceID)
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}

	var (
		matchType matcher.MatchType
		args      []byte
	)
	if len(src.Artifacts) > 0 {
		matchType, args, err = rematch(code, codeType, storage.Join(parts), src.Artifacts)
	} else {
		matchType, args, err = compareParts(code, codeType, parts, src.ABI)
	}
	if err != nil {
		return nil, err
	}

	return &SearchMatch{
		ContractID:           src.ID,
		BytecodeID:           c.BytecodeID,
		MatchType:            matchType,
		Language:             src.Language,
		CompilerVersion:      src.CompilerVersion,
		FileName:             src.FileName,
		ContractName:         src.ContractName,
		ConstructorArguments: args,
		Settings:             src.Settings,
		Sources:              src.Sources,
		ABI:                  src.ABI,
	}, nil
}

// rematch runs the matcher with the stored code as the recompiled slice.
func rematch(code []byte, codeType matcher.CodeType, stored []byte, artJSON json.RawMessage) (matcher.MatchType, []byte, error) {
	var contract artifacts.CompiledContract
	if err := json.Unmarshal(artJSON, &contract); err != nil {
		return "", nil, fmt.Errorf("decoding artifacts: %w", err)
	}
	_, art := matcher.FromContract(&contract)

	var (
		onChain    matcher.OnChainCode
		recompiled matcher.RecompiledCode
	)
	if codeType == matcher.CodeTypeCreation {
		onChain.Creation, recompiled.Creation = code, stored
	} else {
		onChain.Runtime, recompiled.Runtime = code, stored
	}

	res := matcher.Verify(onChain, recompiled, art)
	if !res.Matched() {
		if len(res.Failures) > 0 {
			return "", nil, res.Failures[0]
		}
		return "", nil, ErrNoMatch
	}
	best := res.Best()
	if len(best.Values.ConstructorArguments) == 0 {
		return best.Type, nil, nil
	}
	return best.Type, []byte(best.Values.ConstructorArguments), nil
}

func compareParts(code []byte, codeType matcher.CodeType, parts []storage.Part, abiJSON json.RawMessage) (matcher.MatchType, []byte, error) {
	matchType, err := storage.Compare(code, parts)
	if err != nil {
		return "", nil, err
	}
	var args []byte
	if codeType == matcher.CodeTypeCreation {
		if n := len(storage.Join(parts)); n < len(code) {
			args = code[n:]
		}
		if err := matcher.ValidateConstructorArguments(abiJSON, args); err != nil {
			return "", nil, err
		}
	}
	return matchType, args, nil
}

// ListVersions lists the known compiler versions of a language, newest first.
func (s *service) ListVersions(ctx context.Context, language string) (*CompilerVersions, error) {
	lang, err := compilers.ParseLanguage(language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	versions, err := s.compilers.Versions(lang)
	if err != nil {
		if errors.Is(err, compilers.ErrUnsupportedLanguage) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	out := &CompilerVersions{Language: string(lang), Versions: make([]string, len(versions))}
	for i, v := range versions {
		out.Versions[i] = v.String()
	}
	return out, nil
}

// GetSource returns a stored verified source by contract id.
func (s *service) GetSource(ctx context.Context, id string) (*Source, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid contract id %q", ErrInvalidRequest, id)
	}
	src, err := s.sources.GetSource(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return &Source{
		ID:              src.ID,
		Language:        src.Language,
		CompilerVersion: src.CompilerVersion,
		FileName:        src.FileName,
		ContractName:    src.ContractName,
		Settings:        src.Settings,
		Sources:         src.Sources,
		ABI:             src.ABI,
		CreatedAt:       src.CreatedAt,
	}, nil
}
