package fetch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pendergraft/verifier/internal/compilers"
)

const binaryMode = 0o755

// Validator checks a freshly downloaded binary before it is committed.
type Validator func(ctx context.Context, path string) error

// writeBinary streams r to <dir>/<version>/<name>.tmp while hashing it and
// renames it into place only if the digest matches and the validator passes.
// Nothing is left on disk on failure.
func writeBinary(ctx context.Context, r io.Reader, dir string, version compilers.Version, name string, expected Digest, validate Validator) (*CachedBinary, error) {
	versionDir := filepath.Join(dir, version.String())
	_, statErr := os.Stat(versionDir)
	createdDir := os.IsNotExist(statErr)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrFile, versionDir, err)
	}

	final := filepath.Join(versionDir, name)
	tmp := final + ".tmp"

	committed := false
	defer func() {
		if committed {
			return
		}
		os.Remove(tmp)
		if createdDir {
			// fails harmlessly if another version file landed there meanwhile
			os.Remove(versionDir)
		}
	}()

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, binaryMode)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrFile, tmp, err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), r)
	closeErr := f.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("%w: downloading %s: %v", ErrFetch, version, copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: writing %s: %v", ErrFile, tmp, closeErr)
	}

	var found Digest
	copy(found[:], h.Sum(nil))
	if found != expected {
		return nil, &HashMismatchError{Expected: expected.String(), Found: found.String()}
	}

	// umask may have narrowed the mode
	if err := os.Chmod(tmp, binaryMode); err != nil {
		return nil, fmt.Errorf("%w: chmod %s: %v", ErrFile, tmp, err)
	}

	if validate != nil {
		if err := validate(ctx, tmp); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, version, err)
		}
	}

	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("%w: renaming %s: %v", ErrFile, tmp, err)
	}
	committed = true

	return &CachedBinary{
		Version:  version,
		Path:     final,
		Checksum: found.String(),
	}, nil
}
