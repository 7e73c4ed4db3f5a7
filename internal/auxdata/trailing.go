package auxdata

import "github.com/pendergraft/verifier/internal/artifacts"

// Block is a metadata block at the end of a code, length suffix included.
type Block struct {
	Offset int
	Length int
	Format Format
	// Solc is the compiler version embedded in a Solidity block, if any.
	Solc string
}

// Trailing detects a metadata block at the end of code from its length suffix
// alone. The Solidity convention is tried first, then the Vyper one.
func Trailing(code []byte) (Block, bool) {
	n := len(code)
	if n < 2 {
		return Block{}, false
	}
	encoded := int(code[n-2])<<8 | int(code[n-1])

	if start := n - 2 - encoded; encoded > 0 && start >= 0 {
		meta, size, err := ParseSolidity(code[start : n-2])
		if err == nil && size == encoded {
			return Block{Offset: start, Length: encoded + 2, Format: FormatSolidity, Solc: meta.Solc}, true
		}
	}

	if start := n - encoded; encoded > 2 && start >= 0 {
		_, size, err := ParseVyper(code[start : n-2])
		if err == nil && size == encoded-2 {
			return Block{Offset: start, Length: encoded, Format: FormatVyper}, true
		}
	}

	return Block{}, false
}

// TrailingDescriptor builds a single-entry descriptor from Trailing, or an
// empty one when the code has no trailing block.
func TrailingDescriptor(code []byte) artifacts.CborAuxdata {
	block, ok := Trailing(code)
	if !ok {
		return artifacts.CborAuxdata{}
	}
	value := make([]byte, block.Length)
	copy(value, code[block.Offset:block.Offset+block.Length])
	return artifacts.CborAuxdata{
		"1": {Offset: uint32(block.Offset), Value: value},
	}
}
