package auxdata

import (
	"fmt"
	"strconv"

	"github.com/pendergraft/verifier/internal/artifacts"
)

// Locate finds every metadata block of code by comparing it with modified,
// the same contract compiled from sources that differ only in whitespace.
// Bytes outside metadata blocks are identical between the two; each block is
// found by walking back from the first differing byte until a CBOR item parses
// and its length suffix agrees with the parsed size.
//
// A nil error with an empty map means the code carries no metadata.
func Locate(format Format, code, modified []byte) (artifacts.CborAuxdata, error) {
	if len(code) != len(modified) {
		return nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(code), len(modified))
	}

	result := artifacts.CborAuxdata{}
	processed := 0
	for {
		start := firstMismatch(code, modified, processed)
		if start < 0 {
			return result, nil
		}

		offset, size, err := nextBlock(format, code, processed, start)
		if err != nil {
			return nil, err
		}

		end := offset + size + 2
		value := make([]byte, end-offset)
		copy(value, code[offset:end])
		result[strconv.Itoa(len(result)+1)] = artifacts.CborAuxdataValue{
			Offset: uint32(offset),
			Value:  value,
		}
		processed = end
	}
}

func firstMismatch(a, b []byte, from int) int {
	for i := from; i < len(a); i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

// nextBlock walks back from start, never crossing processed.
func nextBlock(format Format, code []byte, processed, start int) (int, int, error) {
	for i := start; i >= processed; i-- {
		size, err := parsedSize(format, code[i:])
		if err != nil {
			continue
		}
		if validEncodedLength(format, code, i, size) {
			return i, size, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: mismatch at offset %d", ErrNotLocated, start)
}
