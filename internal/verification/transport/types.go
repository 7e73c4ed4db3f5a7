// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/verifier/internal/matcher"
	"github.com/pendergraft/verifier/internal/validation"
	"github.com/pendergraft/verifier/internal/verification/domain"
)

// VerifyRequest is the HTTP request body for verifying a contract.
// The compiler input is either a standard JSON document or source files
// plus settings.
type VerifyRequest struct {
	Language        string            `json:"language"`
	CompilerVersion string            `json:"compilerVersion"`
	Input           json.RawMessage   `json:"input,omitempty"`
	SourceFiles     map[string]string `json:"sourceFiles,omitempty"`
	Settings        json.RawMessage   `json:"settings,omitempty"`
	ContractName    string            `json:"contractName,omitempty"`
	CreationCode    string            `json:"creationCode,omitempty"`
	RuntimeCode     string            `json:"runtimeCode,omitempty"`
	ChainID         string            `json:"chainId,omitempty"`
}

// ToDomain converts VerifyRequest to domain.VerifyRequest.
func (r VerifyRequest) ToDomain() (domain.VerifyRequest, error) {
	creation, err := validation.DecodeHexCode(r.CreationCode)
	if err != nil {
		return domain.VerifyRequest{}, fmt.Errorf("creationCode: %w", err)
	}
	runtime, err := validation.DecodeHexCode(r.RuntimeCode)
	if err != nil {
		return domain.VerifyRequest{}, fmt.Errorf("runtimeCode: %w", err)
	}

	input := r.Input
	if len(input) == 0 && len(r.SourceFiles) > 0 {
		input, err = standardJSON(r.SourceFiles, r.Settings)
		if err != nil {
			return domain.VerifyRequest{}, err
		}
	}

	return domain.VerifyRequest{
		Language:        r.Language,
		CompilerVersion: r.CompilerVersion,
		Input:           input,
		ContractName:    r.ContractName,
		CreationCode:    creation,
		RuntimeCode:     runtime,
		ChainID:         r.ChainID,
	}, nil
}

func standardJSON(files map[string]string, settings json.RawMessage) (json.RawMessage, error) {
	type source struct {
		Content string `json:"content"`
	}
	sources := make(map[string]source, len(files))
	for path, content := range files {
		sources[path] = source{Content: content}
	}
	return json.Marshal(struct {
		Sources  map[string]source `json:"sources"`
		Settings json.RawMessage   `json:"settings,omitempty"`
	}{sources, settings})
}

// VerifyResponse is the response for a verification request.
type VerifyResponse struct {
	Status               domain.Status            `json:"status"`
	MatchType            matcher.MatchType        `json:"matchType,omitempty"`
	Verdict              matcher.Verdict          `json:"verdict"`
	CompilerVersion      string                   `json:"compilerVersion,omitempty"`
	FileName             string                   `json:"fileName,omitempty"`
	ContractName         string                   `json:"contractName,omitempty"`
	ConstructorArguments hexutil.Bytes            `json:"constructorArguments,omitempty"`
	Transformations      []matcher.Transformation `json:"transformations,omitempty"`
	Values               *matcher.Values          `json:"values,omitempty"`
	CreationMatch        *matcher.Match           `json:"creationMatch,omitempty"`
	RuntimeMatch         *matcher.Match           `json:"runtimeMatch,omitempty"`
	CodeHash             string                   `json:"codeHash,omitempty"`
	Blueprint            bool                     `json:"blueprint,omitempty"`
	ContractID           string                   `json:"contractId,omitempty"`
	ABI                  json.RawMessage          `json:"abi,omitempty"`
	Failures             []ContractFailure        `json:"failures,omitempty"`
	Errors               []string                 `json:"errors,omitempty"`
	Warnings             []string                 `json:"warnings,omitempty"`
}

// ContractFailure explains why one compiled contract did not match.
type ContractFailure struct {
	Contract string                 `json:"contract"`
	Slices   []matcher.SliceFailure `json:"slices"`
}

// FromDomainResult converts a domain verification result to a response.
func FromDomainResult(r *domain.VerifyResult) VerifyResponse {
	resp := VerifyResponse{
		Status:               r.Status,
		MatchType:            r.MatchType,
		Verdict:              r.Verdict,
		CompilerVersion:      r.CompilerVersion,
		FileName:             r.FileName,
		ContractName:         r.ContractName,
		ConstructorArguments: r.ConstructorArguments,
		Transformations:      r.Transformations,
		Values:               r.Values,
		CreationMatch:        r.CreationMatch,
		RuntimeMatch:         r.RuntimeMatch,
		CodeHash:             r.CodeHash,
		Blueprint:            r.Blueprint,
		ContractID:           r.ContractID,
		ABI:                  r.ABI,
		Errors:               r.Errors,
		Warnings:             r.Warnings,
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, ContractFailure{Contract: f.Contract, Slices: f.Slices})
	}
	return resp
}

// SearchRequest is the HTTP request body for a code search.
type SearchRequest struct {
	Code     string `json:"code"`
	CodeType string `json:"codeType,omitempty"`
}

// ToDomain converts SearchRequest to domain.SearchRequest.
func (r SearchRequest) ToDomain() (domain.SearchRequest, error) {
	code, err := validation.DecodeHexCode(r.Code)
	if err != nil {
		return domain.SearchRequest{}, fmt.Errorf("code: %w", err)
	}
	return domain.SearchRequest{Code: code, CodeType: matcher.CodeType(r.CodeType)}, nil
}

// SearchResponse is the response for a code search.
type SearchResponse struct {
	Matches []SearchMatch `json:"matches"`
}

// SearchMatch is one verified source matching the searched code.
type SearchMatch struct {
	ContractID           string            `json:"contractId"`
	BytecodeID           int64             `json:"bytecodeId"`
	MatchType            matcher.MatchType `json:"matchType"`
	Language             string            `json:"language"`
	CompilerVersion      string            `json:"compilerVersion"`
	FileName             string            `json:"fileName"`
	ContractName         string            `json:"contractName"`
	ConstructorArguments hexutil.Bytes     `json:"constructorArguments,omitempty"`
	Settings             json.RawMessage   `json:"settings,omitempty"`
	Sources              map[string]string `json:"sources,omitempty"`
	ABI                  json.RawMessage   `json:"abi,omitempty"`
}

// FromDomainSearch converts a domain search result to a response.
func FromDomainSearch(r *domain.SearchResult) SearchResponse {
	resp := SearchResponse{Matches: make([]SearchMatch, 0, len(r.Matches))}
	for _, m := range r.Matches {
		resp.Matches = append(resp.Matches, SearchMatch{
			ContractID:           m.ContractID,
			BytecodeID:           m.BytecodeID,
			MatchType:            m.MatchType,
			Language:             m.Language,
			CompilerVersion:      m.CompilerVersion,
			FileName:             m.FileName,
			ContractName:         m.ContractName,
			ConstructorArguments: m.ConstructorArguments,
			Settings:             m.Settings,
			Sources:              m.Sources,
			ABI:                  m.ABI,
		})
	}
	return resp
}

// SourceResponse is a stored verified source.
type SourceResponse struct {
	ContractID      string            `json:"contractId"`
	Language        string            `json:"language"`
	CompilerVersion string            `json:"compilerVersion"`
	FileName        string            `json:"fileName"`
	ContractName    string            `json:"contractName"`
	Settings        json.RawMessage   `json:"settings,omitempty"`
	Sources         map[string]string `json:"sources"`
	ABI             json.RawMessage   `json:"abi,omitempty"`
	CreatedAt       string            `json:"createdAt,omitempty"`
}

// FromDomainSource converts a domain source to a response.
func FromDomainSource(src *domain.Source) SourceResponse {
	return SourceResponse{
		ContractID:      src.ID,
		Language:        src.Language,
		CompilerVersion: src.CompilerVersion,
		FileName:        src.FileName,
		ContractName:    src.ContractName,
		Settings:        src.Settings,
		Sources:         src.Sources,
		ABI:             src.ABI,
		CreatedAt:       src.CreatedAt,
	}
}

// CompilersResponse lists compiler versions for a language.
type CompilersResponse struct {
	Language string   `json:"language"`
	Versions []string `json:"versions"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
