//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verifier/pkg/client"
)

// TestVerifyThenSearch verifies a contract against Postgres and finds it again
// by its deployed code.
func TestVerifyThenSearch(t *testing.T) {
	ctx := context.Background()
	c := newClient()

	result, err := c.Verify(ctx, verifyRequest())
	require.NoError(t, err)
	require.True(t, result.Verified(), "errors: %v", result.Errors)

	assert.Equal(t, "full", result.MatchType)
	assert.Equal(t, "main.sol", result.FileName)
	assert.Equal(t, "Main", result.ContractName)
	assert.Equal(t, testVersion, result.CompilerVersion)
	assert.Equal(t, "0x"+args42(), result.ConstructorArguments)
	require.NotNil(t, result.CreationMatch)
	require.NotNil(t, result.RuntimeMatch)
	assert.Equal(t, "full", result.RuntimeMatch.MatchType)
	require.NotEmpty(t, result.ContractID, "match should be persisted")

	findOurs := func(t *testing.T, res *client.SearchResult) client.SearchMatch {
		t.Helper()
		for _, m := range res.Matches {
			if m.ContractID == result.ContractID {
				return m
			}
		}
		t.Fatalf("contract %s not in search results %+v", result.ContractID, res.Matches)
		return client.SearchMatch{}
	}

	t.Run("runtime full match", func(t *testing.T) {
		res, err := c.Search(ctx, client.SearchRequest{Code: hexCode(runtimeMain, testMeta)})
		require.NoError(t, err)

		m := findOurs(t, res)
		assert.Equal(t, "full", m.MatchType)
		assert.Equal(t, "Main", m.ContractName)
		assert.Equal(t, "solidity", m.Language)
		assert.Contains(t, m.Sources, "main.sol")
		assert.JSONEq(t, constructorABI, string(m.ABI))
		assert.Equal(t, "full", res.Matches[0].MatchType, "full matches come first")
	})

	t.Run("runtime partial match", func(t *testing.T) {
		res, err := c.Search(ctx, client.SearchRequest{Code: hexCode(runtimeMain, otherMeta), CodeType: "runtime"})
		require.NoError(t, err)
		assert.Equal(t, "partial", findOurs(t, res).MatchType)
	})

	t.Run("creation match with constructor arguments", func(t *testing.T) {
		res, err := c.Search(ctx, client.SearchRequest{Code: hexCode(creationMain, testMeta, args42()), CodeType: "creation"})
		require.NoError(t, err)

		m := findOurs(t, res)
		assert.Equal(t, "full", m.MatchType)
		assert.Equal(t, "0x"+args42(), m.ConstructorArguments)
	})

	t.Run("creation with malformed arguments", func(t *testing.T) {
		res, err := c.Search(ctx, client.SearchRequest{Code: hexCode(creationMain, testMeta, "2a"), CodeType: "creation"})
		require.NoError(t, err)
		for _, m := range res.Matches {
			assert.NotEqual(t, result.ContractID, m.ContractID)
		}
	})

	t.Run("source by contract id", func(t *testing.T) {
		src, err := c.GetSource(ctx, result.ContractID)
		require.NoError(t, err)
		assert.Equal(t, "Main", src.ContractName)
		assert.Contains(t, src.Sources, "main.sol")

		_, err = c.GetSource(ctx, "0b3c6a1e-8f3e-4e57-b1c0-e96c64bbe039")
		assertHTTPError(t, err, "NOT_FOUND", http.StatusNotFound)
	})

	t.Run("verifying again returns the same contract", func(t *testing.T) {
		again, err := c.Verify(ctx, verifyRequest())
		require.NoError(t, err)
		assert.Equal(t, result.ContractID, again.ContractID)
	})

	t.Run("unknown code", func(t *testing.T) {
		res, err := c.Search(ctx, client.SearchRequest{Code: "0x" + strings.Repeat("5b", 64)})
		require.NoError(t, err)
		assert.Empty(t, res.Matches)
	})
}

// TestVerifyMismatch reports a failure result, not an HTTP error
func TestVerifyMismatch(t *testing.T) {
	req := verifyRequest()
	req.CreationCode = ""
	// flip one opcode in the executable section
	req.RuntimeCode = hexCode("60806040526001", runtimeMain[14:], testMeta)

	result, err := newClient().Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Verified())
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, result.ContractID)
}

// TestVerifyErrors covers requests the server rejects outright
func TestVerifyErrors(t *testing.T) {
	c := newClient()

	t.Run("unknown compiler version", func(t *testing.T) {
		req := verifyRequest()
		req.CompilerVersion = "v0.8.99+commit.00000000"
		_, err := c.Verify(context.Background(), req)
		assertHTTPError(t, err, "VERSION_NOT_FOUND", http.StatusNotFound)
	})

	t.Run("no code", func(t *testing.T) {
		req := verifyRequest()
		req.CreationCode, req.RuntimeCode = "", ""
		_, err := c.Verify(context.Background(), req)
		assertHTTPError(t, err, "INVALID_REQUEST", http.StatusBadRequest)
	})

	t.Run("malformed hex", func(t *testing.T) {
		req := verifyRequest()
		req.RuntimeCode = "0xzz"
		_, err := c.Verify(context.Background(), req)
		assertHTTPError(t, err, "INVALID_REQUEST", http.StatusBadRequest)
	})

	t.Run("search without code", func(t *testing.T) {
		_, err := c.Search(context.Background(), client.SearchRequest{})
		assertHTTPError(t, err, "INVALID_REQUEST", http.StatusBadRequest)
	})
}
