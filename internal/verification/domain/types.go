package domain

import (
	"encoding/json"

	"github.com/pendergraft/verifier/internal/matcher"
)

// Status is the caller-facing outcome of a verification.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// VerifyRequest represents a verification request
type VerifyRequest struct {
	Language        string
	CompilerVersion string
	// Input is a standard JSON compiler input.
	Input json.RawMessage
	// ContractName restricts the attempt to one contract, either bare or
	// fully qualified ("contracts/Token.sol:Token").
	ContractName string
	// CreationCode and RuntimeCode are the on-chain code. At least one is set.
	CreationCode []byte
	RuntimeCode  []byte
	ChainID      string
}

// VerifyResult represents the outcome of a verification
type VerifyResult struct {
	Status               Status
	MatchType            matcher.MatchType
	Verdict              matcher.Verdict
	CompilerVersion      string
	FileName             string
	ContractName         string
	ConstructorArguments []byte
	Transformations      []matcher.Transformation
	Values               *matcher.Values
	CreationMatch        *matcher.Match
	RuntimeMatch         *matcher.Match
	CodeHash             string
	Blueprint            bool
	// ContractID is the stored source id; empty when nothing was persisted.
	ContractID string
	ABI        json.RawMessage
	Failures   []ContractFailure
	Errors     []string
	Warnings   []string
}

// ContractFailure records why one compiled contract did not match.
type ContractFailure struct {
	Contract string
	Slices   []matcher.SliceFailure
}

// SearchRequest looks up verified sources for an on-chain code.
type SearchRequest struct {
	Code     []byte
	CodeType matcher.CodeType
}

// SearchResult lists confirmed matches, full matches first.
type SearchResult struct {
	Matches []SearchMatch
}

// SearchMatch is a stored bytecode confirmed against the searched code.
type SearchMatch struct {
	ContractID           string
	BytecodeID           int64
	MatchType            matcher.MatchType
	Language             string
	CompilerVersion      string
	FileName             string
	ContractName         string
	ConstructorArguments []byte
	Settings             json.RawMessage
	Sources              map[string]string
	ABI                  json.RawMessage
}

// CompilerVersions lists the versions known for a language.
type CompilerVersions struct {
	Language string
	Versions []string
}

// Source is a stored verified source.
type Source struct {
	ID              string
	Language        string
	CompilerVersion string
	FileName        string
	ContractName    string
	Settings        json.RawMessage
	Sources         map[string]string
	ABI             json.RawMessage
	CreatedAt       string
}
