package matcher

import (
	"bytes"
	"errors"
	"fmt"
)

// ERC-5202 blueprint layout.
const (
	blueprintMagic0 = 0xfe
	blueprintMagic1 = 0x71
	// PUSH2 <len> RETURNDATASIZE DUP2 PUSH1 0x0a RETURNDATASIZE CODECOPY RETURN
	deployPreambleLen = 10
)

var (
	// ErrNotBlueprint is returned for code that does not follow ERC-5202.
	ErrNotBlueprint = errors.New("not a blueprint")

	deployPreambleTail = []byte{0x3d, 0x81, 0x60, 0x0a, 0x3d, 0x39, 0xf3}
)

// Blueprint is a parsed ERC-5202 blueprint contract.
type Blueprint struct {
	Version  byte
	Data     []byte
	Initcode []byte
}

// ParseBlueprint parses the deployed code of a blueprint contract.
func ParseBlueprint(code []byte) (*Blueprint, error) {
	if len(code) < 3 || code[0] != blueprintMagic0 || code[1] != blueprintMagic1 {
		return nil, ErrNotBlueprint
	}
	version := code[2] >> 2
	lenBytes := int(code[2] & 0x03)
	if lenBytes == 3 {
		return nil, fmt.Errorf("%w: reserved data length size", ErrNotBlueprint)
	}

	rest := code[3:]
	if len(rest) < lenBytes {
		return nil, fmt.Errorf("%w: truncated data length", ErrNotBlueprint)
	}
	dataLen := 0
	for _, b := range rest[:lenBytes] {
		dataLen = dataLen<<8 | int(b)
	}
	rest = rest[lenBytes:]
	if len(rest) < dataLen {
		return nil, fmt.Errorf("%w: truncated data section", ErrNotBlueprint)
	}

	bp := &Blueprint{Version: version, Data: rest[:dataLen], Initcode: rest[dataLen:]}
	if len(bp.Initcode) == 0 {
		return nil, fmt.Errorf("%w: empty initcode", ErrNotBlueprint)
	}
	return bp, nil
}

// StripDeployPreamble returns the blueprint code deployed by a standard
// blueprint creation code.
func StripDeployPreamble(creation []byte) ([]byte, error) {
	if len(creation) < deployPreambleLen || creation[0] != 0x61 ||
		!bytes.Equal(creation[3:deployPreambleLen], deployPreambleTail) {
		return nil, ErrNotBlueprint
	}
	size := int(creation[1])<<8 | int(creation[2])
	if size != len(creation)-deployPreambleLen {
		return nil, fmt.Errorf("%w: preamble length %d, code length %d", ErrNotBlueprint, size, len(creation)-deployPreambleLen)
	}
	return creation[deployPreambleLen:], nil
}

// IsBlueprint reports whether any present on-chain slice is a blueprint.
func IsBlueprint(onChain OnChainCode) bool {
	_, err := blueprintInitcode(onChain)
	return err == nil
}

func blueprintInitcode(onChain OnChainCode) ([]byte, error) {
	code := onChain.Runtime
	if code == nil {
		stripped, err := StripDeployPreamble(onChain.Creation)
		if err != nil {
			return nil, err
		}
		code = stripped
	}
	bp, err := ParseBlueprint(code)
	if err != nil {
		return nil, err
	}
	return bp.Initcode, nil
}

// VerifyBlueprint verifies a blueprint deployment against the recompiled
// creation code. Only the initcode is compared and constructor arguments are
// not allowed, since they are supplied when the blueprint is instantiated.
func VerifyBlueprint(onChain OnChainCode, recompiled RecompiledCode, art CompiledArtifacts) (Result, error) {
	initcode, err := blueprintInitcode(onChain)
	if err != nil {
		return Result{}, err
	}

	result := Result{Blueprint: true}
	if onChain.Runtime != nil {
		result.CodeHash = CodeHash(onChain.Runtime)
	}

	b, failure := NewMatchBuilder(CodeTypeCreation, initcode, recompiled.Creation)
	if failure == nil {
		b.applyCborAuxdata(art.Creation.CborAuxdata)
		if err := b.applyLibraries(art.Creation.LinkReferences); err != nil {
			failure = b.failure(err.Error())
		} else {
			result.Creation, failure = b.VerifyAndBuild()
		}
	}
	if failure != nil {
		result.Failures = append(result.Failures, *failure)
	}
	result.Verdict = aggregate(result.Creation, nil)
	return result, nil
}
