package storage

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/auxdata"
	"github.com/pendergraft/verifier/internal/matcher"
)

// SearchPrefixLen is the number of leading code bytes used as search key.
const SearchPrefixLen = 32

// PartType distinguishes compiled code from metadata.
type PartType string

const (
	PartMain     PartType = "main"
	PartMetadata PartType = "metadata"
)

// Part is a contiguous slice of a bytecode.
type Part struct {
	Type PartType
	Data []byte
}

// ID is the content address of a part.
func (p Part) ID() string {
	return computeHash(append([]byte(p.Type+":"), p.Data...))
}

// searchKey returns the indexed key of a main part, or "" for metadata.
func (p Part) searchKey() string {
	if p.Type != PartMain {
		return ""
	}
	return SearchKey(p.Data)
}

// SearchKey is the hex of the first SearchPrefixLen bytes of code.
func SearchKey(code []byte) string {
	if len(code) > SearchPrefixLen {
		code = code[:SearchPrefixLen]
	}
	return hex.EncodeToString(code)
}

// Split decomposes code into a main part and its trailing metadata block.
// A code without a trailing block is a single main part.
func Split(code []byte) []Part {
	return SplitWithDescriptor(code, auxdata.TrailingDescriptor(code))
}

// SplitWithDescriptor decomposes code around every metadata block in the
// descriptor. Blocks outside the code or overlapping a previous block are
// ignored.
func SplitWithDescriptor(code []byte, descriptor artifacts.CborAuxdata) []Part {
	var parts []Part
	cursor := 0
	for _, id := range descriptor.IDs() {
		value := descriptor[id]
		start, end := int(value.Offset), int(value.Offset)+len(value.Value)
		if start < cursor || end > len(code) || start == end {
			continue
		}
		if start > cursor {
			parts = append(parts, Part{Type: PartMain, Data: code[cursor:start]})
		}
		parts = append(parts, Part{Type: PartMetadata, Data: code[start:end]})
		cursor = end
	}
	if cursor < len(code) {
		parts = append(parts, Part{Type: PartMain, Data: code[cursor:]})
	}
	return parts
}

// Join concatenates parts in order.
func Join(parts []Part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p.Data)
	}
	return buf.Bytes()
}

// Compare checks remote code against stored parts. A remote code that starts
// with the stored code is a full match. Otherwise main parts must be equal
// byte for byte and metadata parts must parse at the same position with the
// same length and compiler version; that is a partial match.
func Compare(remote []byte, parts []Part) (matcher.MatchType, error) {
	local := Join(parts)
	if bytes.HasPrefix(remote, local) {
		return matcher.MatchFull, nil
	}
	if len(remote) < len(local) {
		return "", fmt.Errorf("%w: %d < %d", ErrLengthMismatch, len(remote), len(local))
	}

	i := 0
	for _, part := range parts {
		switch part.Type {
		case PartMain:
			if !bytes.Equal(part.Data, remote[i:i+len(part.Data)]) {
				return "", fmt.Errorf("%w: main part at offset %d", ErrBytecodeMismatch, i)
			}
		case PartMetadata:
			if err := compareMetadata(remote[i:], part.Data); err != nil {
				return "", fmt.Errorf("metadata part at offset %d: %w", i, err)
			}
		default:
			return "", fmt.Errorf("%w: unknown type %q", ErrInvalidPart, part.Type)
		}
		i += len(part.Data)
	}
	return matcher.MatchPartial, nil
}

func compareMetadata(remote, stored []byte) error {
	if len(stored) < 2 {
		return fmt.Errorf("%w: metadata part too short", ErrInvalidPart)
	}
	suffix := stored[len(stored)-2:]

	if local, _, err := auxdata.ParseSolidity(stored); err == nil {
		other, size, err := auxdata.ParseSolidity(remote)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMetadataMismatch, err)
		}
		if err := compareSuffix(remote, size, suffix); err != nil {
			return err
		}
		return compareVersions(local.Solc, other.Solc)
	}

	if local, _, err := auxdata.ParseVyper(stored); err == nil {
		other, size, err := auxdata.ParseVyper(remote)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMetadataMismatch, err)
		}
		if err := compareSuffix(remote, size, suffix); err != nil {
			return err
		}
		return compareVersions(local.Version, other.Version)
	}

	return fmt.Errorf("%w: stored metadata cannot be parsed", ErrInvalidPart)
}

func compareSuffix(remote []byte, size int, suffix []byte) error {
	if len(remote) < size+2 {
		return fmt.Errorf("%w: no encoded length", ErrMetadataMismatch)
	}
	if !bytes.Equal(remote[size:size+2], suffix) {
		return fmt.Errorf("%w: encoded length differs", ErrMetadataMismatch)
	}
	return nil
}

// compareVersions only fails when both versions are known.
func compareVersions(local, remote string) error {
	if local != "" && remote != "" && local != remote {
		return fmt.Errorf("%w: stored %s, on-chain %s", ErrCompilerVersionMismatch, local, remote)
	}
	return nil
}
