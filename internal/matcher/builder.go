package matcher

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/auxdata"
)

const (
	failureTooShort        = "on-chain code is shorter than compiled code"
	failureMismatch        = "code mismatch"
	failureConstructorArgs = "invalid constructor arguments"
)

// MatchBuilder reconciles one compiled slice against its on-chain
// counterpart. The compiled code is copied on construction and modified in
// place by the Apply methods.
type MatchBuilder struct {
	codeType CodeType
	deployed []byte
	compiled []byte
	origLen  int

	transformations          []Transformation
	values                   Values
	hasAuxdata               bool
	hasAuxdataTransformation bool
	invalidConstructorArgs   bool
}

// NewMatchBuilder fails when the on-chain code cannot contain the compiled
// code.
func NewMatchBuilder(codeType CodeType, deployed, compiled []byte) (*MatchBuilder, *SliceFailure) {
	b := &MatchBuilder{
		codeType: codeType,
		deployed: deployed,
		compiled: bytes.Clone(compiled),
		origLen:  len(compiled),
	}
	if len(deployed) < len(compiled) {
		return nil, b.failure(failureTooShort)
	}
	return b, nil
}

// ApplyRuntimeTransformations reconciles auxdata, then libraries, then
// immutables.
func (b *MatchBuilder) ApplyRuntimeTransformations(art artifacts.RuntimeCodeArtifacts) error {
	b.applyCborAuxdata(art.CborAuxdata)
	if err := b.applyLibraries(art.LinkReferences); err != nil {
		return err
	}
	return b.applyImmutables(art.ImmutableReferences)
}

// ApplyCreationTransformations reconciles auxdata, then libraries, then
// appends the constructor arguments.
func (b *MatchBuilder) ApplyCreationTransformations(art artifacts.CreationCodeArtifacts, abiJSON []byte) error {
	b.applyCborAuxdata(art.CborAuxdata)
	if err := b.applyLibraries(art.LinkReferences); err != nil {
		return err
	}
	b.applyConstructorArguments(abiJSON)
	return nil
}

// VerifyAndBuild returns the match when the transformed code equals the
// on-chain code.
func (b *MatchBuilder) VerifyAndBuild() (*Match, *SliceFailure) {
	if b.invalidConstructorArgs {
		return nil, b.failure(failureConstructorArgs)
	}
	if !bytes.Equal(b.compiled, b.deployed) {
		return nil, b.failure(failureMismatch)
	}

	metadataMatch := b.hasAuxdata && !b.hasAuxdataTransformation
	matchType := MatchPartial
	if metadataMatch || (!b.hasAuxdata && !b.hasNonConstructorTransformation()) {
		matchType = MatchFull
	}

	transformations := b.transformations
	if transformations == nil {
		transformations = []Transformation{}
	}
	return &Match{
		Type:            matchType,
		MetadataMatch:   metadataMatch,
		Transformations: transformations,
		Values:          b.values,
	}, nil
}

func (b *MatchBuilder) failure(reason string) *SliceFailure {
	return &SliceFailure{
		CodeType:    b.codeType,
		Reason:      reason,
		CompiledLen: b.origLen,
		OnChainLen:  len(b.deployed),
	}
}

func (b *MatchBuilder) hasNonConstructorTransformation() bool {
	for _, t := range b.transformations {
		if t.Reason != ReasonConstructor {
			return true
		}
	}
	return false
}

// applyCborAuxdata falls back to the trailing block of the compiled code when
// the compilation carried no descriptor.
func (b *MatchBuilder) applyCborAuxdata(descriptor artifacts.CborAuxdata) {
	if descriptor == nil {
		descriptor = auxdata.TrailingDescriptor(b.compiled)
	}
	b.hasAuxdata = len(descriptor) > 0

	for _, id := range descriptor.IDs() {
		value := descriptor[id]
		start := int(value.Offset)
		end := start + len(value.Value)
		if end > len(b.compiled) {
			continue
		}

		onChain := b.deployed[start:end]
		if bytes.Equal(onChain, b.compiled[start:end]) {
			continue
		}
		copy(b.compiled[start:end], onChain)

		b.hasAuxdataTransformation = true
		b.transformations = append(b.transformations, Transformation{
			Type:   TransformReplace,
			Reason: ReasonCborAuxdata,
			Offset: start,
			ID:     id,
		})
		if b.values.CborAuxdata == nil {
			b.values.CborAuxdata = make(map[string]hexutil.Bytes)
		}
		b.values.CborAuxdata[id] = bytes.Clone(onChain)
	}
}

func (b *MatchBuilder) applyLibraries(refs artifacts.LinkReferences) error {
	for _, id := range refs.SortedLibraryIDs() {
		value, err := b.replaceReferences(refs.Offsets(id), ReasonLibrary, id)
		if err != nil {
			return err
		}
		if value == nil {
			continue
		}
		if b.values.Libraries == nil {
			b.values.Libraries = make(map[string]string)
		}
		b.values.Libraries[id] = common.BytesToAddress(value).Hex()
	}
	return nil
}

func (b *MatchBuilder) applyImmutables(refs artifacts.ImmutableReferences) error {
	for _, id := range refs.SortedIDs() {
		value, err := b.replaceReferences(refs[id], ReasonImmutable, id)
		if err != nil {
			return err
		}
		if value == nil {
			continue
		}
		if b.values.Immutables == nil {
			b.values.Immutables = make(map[string]hexutil.Bytes)
		}
		b.values.Immutables[id] = value
	}
	return nil
}

// replaceReferences copies the on-chain value found at every offset into the
// compiled code. All offsets must carry the same value. Offsets where both
// codes already agree are not recorded as transformations.
func (b *MatchBuilder) replaceReferences(offsets []artifacts.Offset, reason TransformationReason, id string) ([]byte, error) {
	var value []byte
	for _, o := range offsets {
		if o.End() > len(b.compiled) {
			return nil, fmt.Errorf("%s %s: offset %d out of range", reason, id, o.Start)
		}
		onChain := b.deployed[o.Start:o.End()]
		if value == nil {
			value = bytes.Clone(onChain)
		} else if !bytes.Equal(value, onChain) {
			return nil, fmt.Errorf("%w: %s %s differs at offset %d", ErrInconsistentReferences, reason, id, o.Start)
		}

		if bytes.Equal(b.compiled[o.Start:o.End()], onChain) {
			continue
		}
		copy(b.compiled[o.Start:o.End()], onChain)
		b.transformations = append(b.transformations, Transformation{
			Type:   TransformReplace,
			Reason: reason,
			Offset: int(o.Start),
			ID:     id,
		})
	}
	return value, nil
}

// applyConstructorArguments treats the on-chain bytes past the compiled
// code as ABI-encoded constructor arguments.
func (b *MatchBuilder) applyConstructorArguments(abiJSON []byte) {
	offset := len(b.compiled)
	args := b.deployed[offset:]
	if err := ValidateConstructorArguments(abiJSON, args); err != nil {
		b.invalidConstructorArgs = true
		return
	}
	if len(args) == 0 {
		return
	}

	b.compiled = append(b.compiled, args...)
	b.transformations = append(b.transformations, Transformation{
		Type:   TransformInsert,
		Reason: ReasonConstructor,
		Offset: offset,
	})
	b.values.ConstructorArguments = bytes.Clone(args)
}
