// Package auxdata parses and locates the CBOR-encoded metadata blocks that
// compilers append to EVM bytecode.
//
// Solidity appends a CBOR map followed by a two-byte big-endian length that
// does not count itself. Vyper appends a CBOR array followed by a two-byte
// length that does count itself.
package auxdata

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/mod/semver"
)

// Format identifies the auxdata encoding convention of a compiler.
type Format int

const (
	FormatSolidity Format = iota
	FormatVyper
)

func (f Format) String() string {
	if f == FormatVyper {
		return "vyper"
	}
	return "solidity"
}

// Common errors.
var (
	ErrNotMetadata    = errors.New("not a metadata block")
	ErrLengthMismatch = errors.New("code and modified code lengths differ")
	ErrNotLocated     = errors.New("failed to locate next metadata block")
)

const (
	cborMajorArray = 4
	cborMajorMap   = 5

	integrityHashSize = 32
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthAllowed,
		MaxNestedLevels: 8,
	}.DecMode()
	if err != nil {
		panic("auxdata: CBOR decoder initialization failed: " + err.Error())
	}
}

// SolidityMetadata is the decoded Solidity metadata map. Only the compiler
// version is retained; hash entries (ipfs, bzzr0, bzzr1) are skipped.
type SolidityMetadata struct {
	// Solc is the canonical semver of the compiler ("v0.8.14"), or empty when
	// the map carries no "solc" key.
	Solc string
}

// ParseSolidity decodes the first CBOR item of b as Solidity metadata and
// returns the number of bytes it occupies.
func ParseSolidity(b []byte) (SolidityMetadata, int, error) {
	if len(b) == 0 || b[0]>>5 != cborMajorMap {
		return SolidityMetadata{}, 0, ErrNotMetadata
	}

	var m map[string]cbor.RawMessage
	rest, err := decMode.UnmarshalFirst(b, &m)
	if err != nil {
		return SolidityMetadata{}, 0, fmt.Errorf("%w: %v", ErrNotMetadata, err)
	}
	size := len(b) - len(rest)

	raw, ok := m["solc"]
	if !ok {
		return SolidityMetadata{}, size, nil
	}

	var value any
	if err := decMode.Unmarshal(raw, &value); err != nil {
		return SolidityMetadata{}, 0, fmt.Errorf("%w: solc: %v", ErrNotMetadata, err)
	}

	switch v := value.(type) {
	case []byte:
		if len(v) != 3 {
			return SolidityMetadata{}, 0, fmt.Errorf("%w: release build should be encoded as exactly 3 bytes", ErrNotMetadata)
		}
		return SolidityMetadata{Solc: fmt.Sprintf("v%d.%d.%d", v[0], v[1], v[2])}, size, nil
	case string:
		sv := "v" + v
		if !semver.IsValid(sv) {
			return SolidityMetadata{}, 0, fmt.Errorf("%w: solc is not a valid version: %s", ErrNotMetadata, v)
		}
		return SolidityMetadata{Solc: semver.Canonical(sv)}, size, nil
	default:
		return SolidityMetadata{}, 0, fmt.Errorf("%w: invalid solc type %T", ErrNotMetadata, value)
	}
}

// VyperAuxdata is the decoded Vyper auxdata array.
type VyperAuxdata struct {
	IntegrityHash      []byte
	RuntimeCodeLength  uint64
	DataSectionLengths []uint64
	ImmutablesLength   uint64
	Version            string
}

// ParseVyper decodes the first CBOR item of b as Vyper auxdata and returns the
// number of bytes it occupies. Both the 5-element layout (with integrity hash)
// and the older 4-element layout are accepted.
func ParseVyper(b []byte) (VyperAuxdata, int, error) {
	if len(b) == 0 || b[0]>>5 != cborMajorArray {
		return VyperAuxdata{}, 0, ErrNotMetadata
	}

	var items []cbor.RawMessage
	rest, err := decMode.UnmarshalFirst(b, &items)
	if err != nil {
		return VyperAuxdata{}, 0, fmt.Errorf("%w: %v", ErrNotMetadata, err)
	}
	size := len(b) - len(rest)

	var aux VyperAuxdata
	switch len(items) {
	case 5:
		if err := decMode.Unmarshal(items[0], &aux.IntegrityHash); err != nil {
			return VyperAuxdata{}, 0, fmt.Errorf("%w: integrity hash: %v", ErrNotMetadata, err)
		}
		if len(aux.IntegrityHash) != integrityHashSize {
			return VyperAuxdata{}, 0, fmt.Errorf("%w: integrity hash is %d bytes", ErrNotMetadata, len(aux.IntegrityHash))
		}
		items = items[1:]
	case 4:
	default:
		return VyperAuxdata{}, 0, fmt.Errorf("%w: auxdata array has %d elements", ErrNotMetadata, len(items))
	}

	if err := decMode.Unmarshal(items[0], &aux.RuntimeCodeLength); err != nil {
		return VyperAuxdata{}, 0, fmt.Errorf("%w: runtime code length: %v", ErrNotMetadata, err)
	}
	if err := decMode.Unmarshal(items[1], &aux.DataSectionLengths); err != nil {
		return VyperAuxdata{}, 0, fmt.Errorf("%w: data section lengths: %v", ErrNotMetadata, err)
	}
	if err := decMode.Unmarshal(items[2], &aux.ImmutablesLength); err != nil {
		return VyperAuxdata{}, 0, fmt.Errorf("%w: immutables length: %v", ErrNotMetadata, err)
	}

	var compiler map[string][]uint64
	if err := decMode.Unmarshal(items[3], &compiler); err != nil {
		return VyperAuxdata{}, 0, fmt.Errorf("%w: compiler: %v", ErrNotMetadata, err)
	}
	triple, ok := compiler["vyper"]
	if len(compiler) != 1 || !ok || len(triple) != 3 {
		return VyperAuxdata{}, 0, fmt.Errorf("%w: invalid compiler map", ErrNotMetadata)
	}
	aux.Version = fmt.Sprintf("v%d.%d.%d", triple[0], triple[1], triple[2])

	return aux, size, nil
}

// parsedSize returns the byte size of the metadata item at the start of b.
func parsedSize(format Format, b []byte) (int, error) {
	if format == FormatVyper {
		_, size, err := ParseVyper(b)
		return size, err
	}
	_, size, err := ParseSolidity(b)
	return size, err
}

// validEncodedLength checks the two-byte length suffix following a parsed item.
func validEncodedLength(format Format, code []byte, start, size int) bool {
	if len(code) < start+size+2 {
		return false
	}
	encoded := int(code[start+size])<<8 | int(code[start+size+1])
	if format == FormatVyper {
		return encoded == size+2
	}
	return encoded == size
}
