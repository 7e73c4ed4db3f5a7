// Package artifacts defines the per-contract compilation output consumed by the
// matcher and the part store.
package artifacts

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Offset is a byte range inside a code buffer.
type Offset struct {
	Start  uint32 `json:"start"`
	Length uint32 `json:"length"`
}

// End returns the exclusive end of the range.
func (o Offset) End() int { return int(o.Start) + int(o.Length) }

// LinkReferences maps file name -> library name -> placeholder offsets.
type LinkReferences map[string]map[string][]Offset

// ImmutableReferences maps an immutable's AST id to its offsets in runtime code.
type ImmutableReferences map[string][]Offset

// CborAuxdataValue is one metadata block found in a compiled code.
type CborAuxdataValue struct {
	Offset uint32        `json:"offset"`
	Value  hexutil.Bytes `json:"value"`
}

// CborAuxdata holds every metadata block of a code keyed by "1", "2", ... in
// code order.
type CborAuxdata map[string]CborAuxdataValue

// IDs returns the auxdata keys ordered by offset.
func (c CborAuxdata) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return c[ids[i]].Offset < c[ids[j]].Offset
	})
	return ids
}

// CompilationArtifacts are code-independent outputs of a compilation.
type CompilationArtifacts struct {
	ABI           json.RawMessage `json:"abi,omitempty"`
	Devdoc        json.RawMessage `json:"devdoc,omitempty"`
	Userdoc       json.RawMessage `json:"userdoc,omitempty"`
	StorageLayout json.RawMessage `json:"storageLayout,omitempty"`
	Sources       json.RawMessage `json:"sources,omitempty"`
}

// CreationCodeArtifacts describe the variable regions of creation code.
type CreationCodeArtifacts struct {
	SourceMap      string         `json:"sourceMap,omitempty"`
	LinkReferences LinkReferences `json:"linkReferences,omitempty"`
	CborAuxdata    CborAuxdata    `json:"cborAuxdata,omitempty"`
}

// RuntimeCodeArtifacts describe the variable regions of runtime code.
type RuntimeCodeArtifacts struct {
	SourceMap           string              `json:"sourceMap,omitempty"`
	LinkReferences      LinkReferences      `json:"linkReferences,omitempty"`
	ImmutableReferences ImmutableReferences `json:"immutableReferences,omitempty"`
	CborAuxdata         CborAuxdata         `json:"cborAuxdata,omitempty"`
}

// CompiledContract is the output of compiling one contract.
type CompiledContract struct {
	FileName     string `json:"fileName"`
	ContractName string `json:"contractName"`

	// Creation and Runtime have unlinked library placeholders zeroed.
	Creation []byte `json:"-"`
	Runtime  []byte `json:"-"`

	Compilation CompilationArtifacts  `json:"compilationArtifacts"`
	CreationArt CreationCodeArtifacts `json:"creationCodeArtifacts"`
	RuntimeArt  RuntimeCodeArtifacts  `json:"runtimeCodeArtifacts"`
}

// FullyQualifiedName returns "file:Contract".
func (c *CompiledContract) FullyQualifiedName() string {
	return c.FileName + ":" + c.ContractName
}

// SplitFullyQualifiedName splits "path/to/file.sol:Contract". A name without
// a colon is treated as a bare contract name.
func SplitFullyQualifiedName(name string) (file, contract string) {
	i := strings.LastIndex(name, ":")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// SortedLibraryIDs returns "file:Library" ids in lexical order, paired with
// their offsets.
func (l LinkReferences) SortedLibraryIDs() []string {
	var ids []string
	for file, libs := range l {
		for lib := range libs {
			ids = append(ids, file+":"+lib)
		}
	}
	sort.Strings(ids)
	return ids
}

// Offsets returns the offsets registered for a "file:Library" id.
func (l LinkReferences) Offsets(id string) []Offset {
	file, lib := SplitFullyQualifiedName(id)
	return l[file][lib]
}

// SortedIDs returns immutable ids in lexical order.
func (r ImmutableReferences) SortedIDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
