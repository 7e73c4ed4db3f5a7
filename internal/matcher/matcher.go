// Package matcher compares on-chain bytecode with the output of a
// recompilation and classifies the result.
//
// The matcher does no I/O. Differences that a compilation is known to leave
// open (metadata hashes, linked library addresses, immutable values and
// constructor arguments) are reconciled by copying the on-chain bytes into
// the compiled code and recording a Transformation for each.
package matcher

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"

	"github.com/pendergraft/verifier/internal/artifacts"
)

// ErrInconsistentReferences is returned when the same library or immutable
// carries different values at two of its offsets.
var ErrInconsistentReferences = errors.New("inconsistent reference values")

// CodeType names a code slice.
type CodeType string

const (
	CodeTypeCreation CodeType = "creation"
	CodeTypeRuntime  CodeType = "runtime"
)

// MatchType tells whether a slice needed its metadata reconciled.
type MatchType string

const (
	MatchFull    MatchType = "full"
	MatchPartial MatchType = "partial"
)

// Verdict is the aggregate decision over both slices.
type Verdict string

const (
	VerdictFailure       Verdict = "failure"
	VerdictRuntimeMatch  Verdict = "runtime_match"
	VerdictCreationMatch Verdict = "creation_match"
	VerdictCompleteMatch Verdict = "complete_match"
)

// TransformationType is how a compiled code was changed.
type TransformationType string

const (
	TransformReplace TransformationType = "replace"
	TransformInsert  TransformationType = "insert"
)

// TransformationReason is why a compiled code was changed.
type TransformationReason string

const (
	ReasonCborAuxdata TransformationReason = "cborAuxdata"
	ReasonLibrary     TransformationReason = "library"
	ReasonImmutable   TransformationReason = "immutable"
	ReasonConstructor TransformationReason = "constructor"
)

// Transformation records one change applied to the compiled code.
type Transformation struct {
	Type   TransformationType   `json:"type"`
	Reason TransformationReason `json:"reason"`
	Offset int                  `json:"offset"`
	ID     string               `json:"id,omitempty"`
}

// Values are the on-chain bytes copied in by transformations.
type Values struct {
	CborAuxdata          map[string]hexutil.Bytes `json:"cborAuxdata,omitempty"`
	Libraries            map[string]string        `json:"libraries,omitempty"`
	Immutables           map[string]hexutil.Bytes `json:"immutables,omitempty"`
	ConstructorArguments hexutil.Bytes            `json:"constructorArguments,omitempty"`
}

// Match is a successful comparison of one slice.
type Match struct {
	Type            MatchType        `json:"matchType"`
	MetadataMatch   bool             `json:"metadataMatch"`
	Transformations []Transformation `json:"transformations"`
	Values          Values           `json:"values"`
}

// SliceFailure describes why a slice did not match.
type SliceFailure struct {
	CodeType    CodeType `json:"codeType"`
	Reason      string   `json:"reason"`
	CompiledLen int      `json:"compiledLength"`
	OnChainLen  int      `json:"onChainLength"`
}

func (f SliceFailure) Error() string {
	return fmt.Sprintf("%s code: %s (compiled %d bytes, on-chain %d bytes)", f.CodeType, f.Reason, f.CompiledLen, f.OnChainLen)
}

// OnChainCode is the deployed bytecode. A nil slice means absent.
type OnChainCode struct {
	Creation []byte
	Runtime  []byte
}

// RecompiledCode is the compiler's output for one contract.
type RecompiledCode struct {
	Creation []byte
	Runtime  []byte
}

// CompiledArtifacts describe the variable regions of the recompiled code.
type CompiledArtifacts struct {
	Compilation artifacts.CompilationArtifacts
	Creation    artifacts.CreationCodeArtifacts
	Runtime     artifacts.RuntimeCodeArtifacts
}

// FromContract splits a compiled contract into matcher inputs.
func FromContract(c *artifacts.CompiledContract) (RecompiledCode, CompiledArtifacts) {
	return RecompiledCode{Creation: c.Creation, Runtime: c.Runtime},
		CompiledArtifacts{Compilation: c.Compilation, Creation: c.CreationArt, Runtime: c.RuntimeArt}
}

// Result is the outcome of Verify.
type Result struct {
	Verdict   Verdict        `json:"verdict"`
	Creation  *Match         `json:"creationMatch,omitempty"`
	Runtime   *Match         `json:"runtimeMatch,omitempty"`
	Failures  []SliceFailure `json:"failures,omitempty"`
	CodeHash  common.Hash    `json:"codeHash"`
	Blueprint bool           `json:"blueprint,omitempty"`
}

// Matched reports whether at least one slice matched.
func (r *Result) Matched() bool { return r.Verdict != VerdictFailure }

// Best returns the match to report: creation when present, since only it
// carries constructor arguments.
func (r *Result) Best() *Match {
	if r.Creation != nil {
		return r.Creation
	}
	return r.Runtime
}

// MatchType returns full only when every matched slice is full.
func (r *Result) MatchType() MatchType {
	for _, m := range []*Match{r.Creation, r.Runtime} {
		if m != nil && m.Type == MatchPartial {
			return MatchPartial
		}
	}
	return MatchFull
}

// Verify compares the on-chain code with the recompiled code. At least one of
// the on-chain slices must be present.
func Verify(onChain OnChainCode, recompiled RecompiledCode, art CompiledArtifacts) Result {
	if onChain.Creation == nil && onChain.Runtime == nil {
		panic("matcher: no on-chain code to verify")
	}

	var result Result
	if onChain.Runtime != nil {
		result.CodeHash = CodeHash(onChain.Runtime)
		match, failure := verifyRuntime(onChain.Runtime, recompiled.Runtime, art.Runtime)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
		}
		result.Runtime = match
	}
	if onChain.Creation != nil {
		match, failure := verifyCreation(onChain.Creation, recompiled.Creation, art.Creation, art.Compilation.ABI)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
		}
		result.Creation = match
	}
	result.Verdict = aggregate(result.Creation, result.Runtime)
	return result
}

// aggregate combines slice results. A slice that failed while the other
// matched yields the single-slice verdict.
func aggregate(creation, runtime *Match) Verdict {
	switch {
	case creation != nil && runtime != nil:
		return VerdictCompleteMatch
	case creation != nil:
		return VerdictCreationMatch
	case runtime != nil:
		return VerdictRuntimeMatch
	default:
		return VerdictFailure
	}
}

// CodeHash returns the keccak256 hash of a code, as stored in account state.
func CodeHash(code []byte) common.Hash {
	var h common.Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(code)
	hasher.Sum(h[:0])
	return h
}

func verifyRuntime(deployed, compiled []byte, art artifacts.RuntimeCodeArtifacts) (*Match, *SliceFailure) {
	b, failure := NewMatchBuilder(CodeTypeRuntime, deployed, compiled)
	if failure != nil {
		return nil, failure
	}
	if err := b.ApplyRuntimeTransformations(art); err != nil {
		return nil, b.failure(err.Error())
	}
	return b.VerifyAndBuild()
}

func verifyCreation(deployed, compiled []byte, art artifacts.CreationCodeArtifacts, abiJSON []byte) (*Match, *SliceFailure) {
	b, failure := NewMatchBuilder(CodeTypeCreation, deployed, compiled)
	if failure != nil {
		return nil, failure
	}
	if err := b.ApplyCreationTransformations(art, abiJSON); err != nil {
		return nil, b.failure(err.Error())
	}
	return b.VerifyAndBuild()
}
