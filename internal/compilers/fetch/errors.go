package fetch

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pendergraft/verifier/internal/compilers"
)

// Common errors. ErrNotFound is the compilers package sentinel so callers of
// a compilers.BinaryCache can test for it without importing fetch.
var (
	ErrNotFound   = compilers.ErrVersionNotFound
	ErrFetch      = errors.New("fetching compiler failed")
	ErrFile       = errors.New("compiler file error")
	ErrHashParse  = errors.New("invalid compiler digest")
	ErrValidation = errors.New("compiler validation failed")
)

// HashMismatchError is returned when a downloaded binary does not match the
// digest announced by its source.
type HashMismatchError struct {
	Expected string
	Found    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("compiler digest mismatch: expected %s, found %s", e.Expected, e.Found)
}

// Digest is a sha256 digest.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest parses a hex-encoded sha256 digest with or without a 0x prefix.
// Surrounding whitespace and a trailing file name (sha256sum output) are
// ignored.
func ParseDigest(s string) (Digest, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Digest{}, fmt.Errorf("%w: empty", ErrHashParse)
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(fields[0], "0x"), "0X")

	var d Digest
	if hex.DecodedLen(len(raw)) != len(d) {
		return Digest{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrHashParse, 2*len(d), len(raw))
	}
	if _, err := hex.Decode(d[:], []byte(raw)); err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrHashParse, err)
	}
	return d, nil
}
