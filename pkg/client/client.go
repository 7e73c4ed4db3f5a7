// Package client provides a Go client for the verifier API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a verifier API client
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request
func WithUserAgent(ua string) Option {
	return func(client *Client) {
		client.userAgent = ua
	}
}

// New creates a new verifier client. Compilation can take minutes, so the
// default timeout is generous.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest asks the server to compile sources and compare them with
// on-chain code. Either Input (standard JSON) or SourceFiles must be set.
type VerifyRequest struct {
	Language        string            `json:"language,omitempty"`
	CompilerVersion string            `json:"compilerVersion"`
	Input           json.RawMessage   `json:"input,omitempty"`
	SourceFiles     map[string]string `json:"sourceFiles,omitempty"`
	Settings        json.RawMessage   `json:"settings,omitempty"`
	ContractName    string            `json:"contractName,omitempty"`
	CreationCode    string            `json:"creationCode,omitempty"`
	RuntimeCode     string            `json:"runtimeCode,omitempty"`
	ChainID         string            `json:"chainId,omitempty"`
}

// Match describes how one code kind compared.
type Match struct {
	MatchType       string            `json:"matchType"`
	Transformations []json.RawMessage `json:"transformations,omitempty"`
}

// ContractFailure explains why a compiled contract did not match.
type ContractFailure struct {
	Contract string            `json:"contract"`
	Slices   []json.RawMessage `json:"slices"`
}

// VerifyResult is the outcome of a verification.
type VerifyResult struct {
	Status               string            `json:"status"`
	MatchType            string            `json:"matchType,omitempty"`
	Verdict              string            `json:"verdict"`
	CompilerVersion      string            `json:"compilerVersion,omitempty"`
	FileName             string            `json:"fileName,omitempty"`
	ContractName         string            `json:"contractName,omitempty"`
	ConstructorArguments string            `json:"constructorArguments,omitempty"`
	Transformations      []json.RawMessage `json:"transformations,omitempty"`
	Values               json.RawMessage   `json:"values,omitempty"`
	CreationMatch        *Match            `json:"creationMatch,omitempty"`
	RuntimeMatch         *Match            `json:"runtimeMatch,omitempty"`
	CodeHash             string            `json:"codeHash,omitempty"`
	Blueprint            bool              `json:"blueprint,omitempty"`
	ContractID           string            `json:"contractId,omitempty"`
	ABI                  json.RawMessage   `json:"abi,omitempty"`
	Failures             []ContractFailure `json:"failures,omitempty"`
	Errors               []string          `json:"errors,omitempty"`
	Warnings             []string          `json:"warnings,omitempty"`
}

// Verified reports whether a contract matched.
func (r *VerifyResult) Verified() bool {
	return r.Status == "success"
}

// SearchRequest looks up verified sources for deployed code.
type SearchRequest struct {
	Code     string `json:"code"`
	CodeType string `json:"codeType,omitempty"` // "runtime" (default) or "creation"
}

// SearchMatch is one verified source matching searched code.
type SearchMatch struct {
	ContractID           string            `json:"contractId"`
	BytecodeID           int64             `json:"bytecodeId"`
	MatchType            string            `json:"matchType"`
	Language             string            `json:"language"`
	CompilerVersion      string            `json:"compilerVersion"`
	FileName             string            `json:"fileName"`
	ContractName         string            `json:"contractName"`
	ConstructorArguments string            `json:"constructorArguments,omitempty"`
	Settings             json.RawMessage   `json:"settings,omitempty"`
	Sources              map[string]string `json:"sources,omitempty"`
	ABI                  json.RawMessage   `json:"abi,omitempty"`
}

// SearchResult lists matching sources, full matches first.
type SearchResult struct {
	Matches []SearchMatch `json:"matches"`
}

// CompilerVersions lists the versions available for a language.
type CompilerVersions struct {
	Language string   `json:"language"`
	Versions []string `json:"versions"`
}

// Source is a stored verified source.
type Source struct {
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

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify compiles the request sources and compares them with the given code.
// A mismatch is not an error: check VerifyResult.Verified.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	var resp VerifyResult
	if err := c.post(ctx, "/api/v1/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search finds verified sources for deployed code.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	var resp SearchResult
	if err := c.post(ctx, "/api/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListCompilers lists compiler versions for a language, newest first.
func (c *Client) ListCompilers(ctx context.Context, language string) (*CompilerVersions, error) {
	var resp CompilerVersions
	if err := c.get(ctx, "/api/v1/compilers/"+url.PathEscape(language), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSource fetches a verified source by the contract id returned from
// Verify or Search.
func (c *Client) GetSource(ctx context.Context, contractID string) (*Source, error) {
	var resp Source
	if err := c.get(ctx, "/api/v1/sources/"+url.PathEscape(contractID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
