package domain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/compilers"
	"github.com/pendergraft/verifier/internal/matcher"
	"github.com/pendergraft/verifier/internal/storage"
)

const (
	runtimeMain  = "6080604052348015600f57600080fd5b506004361060285760003560e01c8063f43fa80514602d575b600080fd5b60336047565b604051603e91906062565b60405180910390f35b600065100000000001905090565b605c81607b565b82525050565b6000602082019050607560008301846055565b92915050565b600081905091905056fe"
	creationMain = "608060405234801561001057600080fd5b5060405161012338038061012383398101604081905261002f91610037565b600055610050565b60006020828403121561004957600080fd5b5051919050565b60c58061005e6000396000f3fe"
	testMeta     = "a2646970667358221220ad5a5e9ea0429c6665dc23af78b0acca8d56235be9dc3573672141811ea4a0da64736f6c63430008070033"
	otherMeta    = "a2646970667358221220bd5a5e9ea0429c6665dc23af78b0acca8d56235be9dc3573672141811ea4a0da64736f6c63430008070033"

	constructorABI = `[{"type":"constructor","inputs":[{"name":"x","type":"uint256"}],"stateMutability":"nonpayable"}]`
	testInput      = `{"language":"Solidity","sources":{"main.sol":{"content":"contract Main {}"}},"settings":{"optimizer":{"enabled":false}}}`
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCompiler returns a fixed compilation result or error
type fakeCompiler struct {
	result   *compilers.CompileResult
	err      error
	versions []compilers.Version
	calls    int
}

func (f *fakeCompiler) Compile(ctx context.Context, lang compilers.Language, version compilers.Version, input *compilers.Input) (*compilers.CompileResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	result.Language = lang
	result.Version = version
	result.Input = input
	return &result, nil
}

func (f *fakeCompiler) Versions(lang compilers.Language) ([]compilers.Version, error) {
	if lang == compilers.Vyper {
		return nil, compilers.ErrUnsupportedLanguage
	}
	return f.versions, nil
}

// failingSourceStore fails every write
type failingSourceStore struct{}

func (failingSourceStore) SaveSource(ctx context.Context, src *storage.Source) (string, error) {
	return "", errors.New("disk full")
}

func (failingSourceStore) GetSource(ctx context.Context, id string) (*storage.Source, error) {
	return nil, storage.ErrNotFound
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testContract(t *testing.T, file, name string) *artifacts.CompiledContract {
	t.Helper()
	return &artifacts.CompiledContract{
		FileName:     file,
		ContractName: name,
		Creation:     mustHex(t, creationMain+testMeta),
		Runtime:      mustHex(t, runtimeMain+testMeta),
		Compilation:  artifacts.CompilationArtifacts{ABI: json.RawMessage(constructorABI)},
	}
}

func compileResult(contracts ...*artifacts.CompiledContract) *compilers.CompileResult {
	result := &compilers.CompileResult{Contracts: make(map[string]*artifacts.CompiledContract)}
	for _, c := range contracts {
		result.Contracts[c.FullyQualifiedName()] = c
	}
	return result
}

func args42() []byte {
	return common.LeftPadBytes([]byte{0x2a}, 32)
}

func verifyRequest(t *testing.T) VerifyRequest {
	return VerifyRequest{
		Language:        "solidity",
		CompilerVersion: "v0.8.7+commit.e28d00a7",
		Input:           json.RawMessage(testInput),
		CreationCode:    append(mustHex(t, creationMain+testMeta), args42()...),
		RuntimeCode:     mustHex(t, runtimeMain+testMeta),
	}
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	compiler := &fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}
	svc := NewService(compiler, store, store, true, testLogger())

	result, err := svc.Verify(ctx, verifyRequest(t))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, matcher.VerdictCompleteMatch, result.Verdict)
	assert.Equal(t, matcher.MatchFull, result.MatchType)
	assert.Equal(t, "main.sol", result.FileName)
	assert.Equal(t, "Main", result.ContractName)
	assert.Equal(t, "v0.8.7+commit.e28d00a7", result.CompilerVersion)
	assert.Equal(t, args42(), result.ConstructorArguments)
	assert.Equal(t, matcher.CodeHash(mustHex(t, runtimeMain+testMeta)).Hex(), result.CodeHash)
	require.NotNil(t, result.CreationMatch)
	require.NotNil(t, result.RuntimeMatch)
	assert.NotEmpty(t, result.ContractID)

	src, err := store.GetSource(ctx, result.ContractID)
	require.NoError(t, err)
	assert.Equal(t, "Main", src.ContractName)
	assert.Equal(t, map[string]string{"main.sol": "contract Main {}"}, src.Sources)
	assert.JSONEq(t, constructorABI, string(src.ABI))

	t.Run("search finds the runtime code", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{Code: mustHex(t, runtimeMain+testMeta)})
		require.NoError(t, err)
		require.Len(t, found.Matches, 1)
		assert.Equal(t, result.ContractID, found.Matches[0].ContractID)
		assert.Equal(t, matcher.MatchFull, found.Matches[0].MatchType)
		assert.Empty(t, found.Matches[0].ConstructorArguments)
	})

	t.Run("search tolerates a different metadata hash", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{Code: mustHex(t, runtimeMain+otherMeta), CodeType: matcher.CodeTypeRuntime})
		require.NoError(t, err)
		require.Len(t, found.Matches, 1)
		assert.Equal(t, matcher.MatchPartial, found.Matches[0].MatchType)
	})

	t.Run("search creation code returns constructor arguments", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{
			Code:     append(mustHex(t, creationMain+testMeta), args42()...),
			CodeType: matcher.CodeTypeCreation,
		})
		require.NoError(t, err)
		require.Len(t, found.Matches, 1)
		assert.Equal(t, args42(), found.Matches[0].ConstructorArguments)
		assert.Equal(t, "v0.8.7+commit.e28d00a7", found.Matches[0].CompilerVersion)
	})

	t.Run("search rejects invalid constructor arguments", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{
			Code:     append(mustHex(t, creationMain+testMeta), 0x01),
			CodeType: matcher.CodeTypeCreation,
		})
		require.NoError(t, err)
		assert.Empty(t, found.Matches)
	})

	t.Run("search miss", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{Code: mustHex(t, "6000"+runtimeMain)})
		require.NoError(t, err)
		assert.Empty(t, found.Matches)
	})
}

// referenceContract has an immutable and a library placeholder after the
// search prefix, zeroed as the compiler leaves them.
func referenceContract(t *testing.T) (*artifacts.CompiledContract, func(immutable []byte, library common.Address) []byte) {
	t.Helper()
	base := len(runtimeMain) / 2
	build := func(immutable []byte, library common.Address) []byte {
		return bytes.Join([][]byte{
			mustHex(t, runtimeMain),
			{0x7f}, immutable,
			{0x73}, library.Bytes(),
			mustHex(t, testMeta),
		}, nil)
	}

	c := testContract(t, "vault.sol", "Vault")
	c.Runtime = build(make([]byte, 32), common.Address{})
	c.RuntimeArt = artifacts.RuntimeCodeArtifacts{
		ImmutableReferences: artifacts.ImmutableReferences{"5": {{Start: uint32(base + 1), Length: 32}}},
		LinkReferences:      artifacts.LinkReferences{"lib.sol": {"Lib": {{Start: uint32(base + 34), Length: 20}}}},
	}
	return c, build
}

func TestService_SearchWithReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	contract, build := referenceContract(t)
	svc := NewService(&fakeCompiler{result: compileResult(contract)}, store, store, true, testLogger())

	lib := common.HexToAddress("0x1234567890123456789012345678901234567890")
	onChain := build(common.LeftPadBytes([]byte{0x11}, 32), lib)

	req := verifyRequest(t)
	req.CreationCode = nil
	req.RuntimeCode = onChain
	result, err := svc.Verify(ctx, req)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.NotEmpty(t, result.ContractID)
	assert.Equal(t, lib.Hex(), result.Values.Libraries["lib.sol:Lib"])

	t.Run("same deployment", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{Code: onChain})
		require.NoError(t, err)
		require.Len(t, found.Matches, 1)
		assert.Equal(t, result.ContractID, found.Matches[0].ContractID)
		assert.Equal(t, matcher.MatchFull, found.Matches[0].MatchType)
	})

	t.Run("other immutable value and library", func(t *testing.T) {
		other := build(common.LeftPadBytes([]byte{0x22}, 32), common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"))
		found, err := svc.Search(ctx, SearchRequest{Code: other})
		require.NoError(t, err)
		require.Len(t, found.Matches, 1)
		assert.Equal(t, result.ContractID, found.Matches[0].ContractID)
	})
}

func TestService_VerifyTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(&fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}, store, store, true, testLogger())

	first, err := svc.Verify(ctx, verifyRequest(t))
	require.NoError(t, err)
	second, err := svc.Verify(ctx, verifyRequest(t))
	require.NoError(t, err)
	require.NotEmpty(t, first.ContractID)
	assert.Equal(t, first.ContractID, second.ContractID)

	runtime := mustHex(t, runtimeMain+testMeta)
	candidates, err := store.FindCandidates(ctx, runtime, matcher.CodeTypeRuntime)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)

	found, err := svc.Search(ctx, SearchRequest{Code: runtime})
	require.NoError(t, err)
	require.Len(t, found.Matches, 1)
	assert.Equal(t, first.ContractID, found.Matches[0].ContractID)
}

func TestService_GetSource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(&fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}, store, store, true, testLogger())

	result, err := svc.Verify(ctx, verifyRequest(t))
	require.NoError(t, err)

	src, err := svc.GetSource(ctx, result.ContractID)
	require.NoError(t, err)
	assert.Equal(t, result.ContractID, src.ID)
	assert.Equal(t, "Main", src.ContractName)
	assert.Equal(t, "v0.8.7+commit.e28d00a7", src.CompilerVersion)
	assert.Equal(t, map[string]string{"main.sol": "contract Main {}"}, src.Sources)

	_, err = svc.GetSource(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.GetSource(ctx, "0b3c6a1e-8f3e-4e57-b1c0-e96c64bbe039")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestService_SearchSharedPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// two unrelated contracts whose main parts share the search prefix
	mainRuntime := mustHex(t, runtimeMain+testMeta)
	otherRuntime := bytes.Clone(mainRuntime)
	otherRuntime[40] ^= 0xff

	main := testContract(t, "main.sol", "Main")
	other := testContract(t, "other.sol", "Other")
	other.Runtime = otherRuntime

	ids := make(map[string]string)
	for _, c := range []*artifacts.CompiledContract{main, other} {
		svc := NewService(&fakeCompiler{result: compileResult(c)}, store, store, true, testLogger())
		req := verifyRequest(t)
		req.CreationCode = nil
		req.RuntimeCode = c.Runtime
		result, err := svc.Verify(ctx, req)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, result.Status)
		ids[c.ContractName] = result.ContractID
	}
	require.NotEqual(t, ids["Main"], ids["Other"])

	candidates, err := store.FindCandidates(ctx, mainRuntime, matcher.CodeTypeRuntime)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	svc := NewService(&fakeCompiler{}, store, store, true, testLogger())

	t.Run("one candidate matches", func(t *testing.T) {
		found, err := svc.Search(ctx, SearchRequest{Code: mainRuntime})
		require.NoError(t, err)
		require.Len(t, found.Matches, 1)
		assert.Equal(t, ids["Main"], found.Matches[0].ContractID)
	})

	t.Run("no candidate matches", func(t *testing.T) {
		neither := bytes.Clone(mainRuntime)
		neither[41] ^= 0xff
		found, err := svc.Search(ctx, SearchRequest{Code: neither})
		require.NoError(t, err)
		assert.Empty(t, found.Matches)
	})
}

func TestService_VerifyRuntimeOnly(t *testing.T) {
	compiler := &fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}
	svc := NewService(compiler, nil, nil, false, testLogger())

	req := verifyRequest(t)
	req.CreationCode = nil
	req.RuntimeCode = mustHex(t, runtimeMain+otherMeta)

	result, err := svc.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, matcher.VerdictRuntimeMatch, result.Verdict)
	assert.Equal(t, matcher.MatchPartial, result.MatchType)
	assert.Empty(t, result.ContractID)
	assert.Nil(t, result.ConstructorArguments)
	require.NotNil(t, result.Values)
	assert.Contains(t, result.Values.CborAuxdata, "1")
}

func TestService_VerifyNoMatch(t *testing.T) {
	compiler := &fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}
	svc := NewService(compiler, nil, nil, true, testLogger())

	req := verifyRequest(t)
	req.CreationCode = nil
	req.RuntimeCode = mustHex(t, "6000"+runtimeMain+testMeta)

	result, err := svc.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, matcher.VerdictFailure, result.Verdict)
	assert.Equal(t, []string{ErrNoMatch.Error()}, result.Errors)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "main.sol:Main", result.Failures[0].Contract)
	require.Len(t, result.Failures[0].Slices, 1)
	assert.Equal(t, matcher.CodeTypeRuntime, result.Failures[0].Slices[0].CodeType)
}

func TestService_VerifyContractSelection(t *testing.T) {
	other := testContract(t, "other.sol", "Other")
	other.Runtime = mustHex(t, "6001"+runtimeMain+testMeta)
	compiler := &fakeCompiler{result: compileResult(other, testContract(t, "main.sol", "Main"))}
	svc := NewService(compiler, nil, nil, false, testLogger())

	tests := []struct {
		name       string
		contract   string
		wantStatus Status
		wantName   string
	}{
		{"all contracts tried", "", StatusSuccess, "Main"},
		{"bare name", "Main", StatusSuccess, "Main"},
		{"fully qualified", "main.sol:Main", StatusSuccess, "Main"},
		{"named contract does not match", "Other", StatusFailure, ""},
		{"unknown contract", "Missing", StatusFailure, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := verifyRequest(t)
			req.CreationCode = nil
			req.ContractName = tt.contract

			result, err := svc.Verify(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantName, result.ContractName)
		})
	}
}

func TestService_VerifyCompilationError(t *testing.T) {
	compErr := &compilers.CompilationError{Diagnostics: []compilers.Diagnostic{{
		Severity:         "error",
		FormattedMessage: "ParserError: Expected ';' but got '}'",
	}}}
	svc := NewService(&fakeCompiler{err: compErr}, nil, nil, false, testLogger())

	result, err := svc.Verify(context.Background(), verifyRequest(t))
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, []string{"ParserError: Expected ';' but got '}'"}, result.Errors)
}

func TestService_VerifyErrors(t *testing.T) {
	tests := []struct {
		name       string
		compileErr error
		modify     func(*VerifyRequest)
		wantErr    error
	}{
		{"unknown language", nil, func(r *VerifyRequest) { r.Language = "fe" }, ErrInvalidRequest},
		{"bad version", nil, func(r *VerifyRequest) { r.CompilerVersion = "latest" }, ErrInvalidRequest},
		{"no code", nil, func(r *VerifyRequest) { r.CreationCode, r.RuntimeCode = nil, nil }, ErrInvalidRequest},
		{"bad input", nil, func(r *VerifyRequest) { r.Input = json.RawMessage(`{"sources":{}}`) }, ErrInvalidRequest},
		{"bad contract name", nil, func(r *VerifyRequest) { r.ContractName = "main.sol:1nvalid" }, ErrInvalidRequest},
		{"bad chain id", nil, func(r *VerifyRequest) { r.ChainID = "mainnet" }, ErrInvalidRequest},
		{"version not found", compilers.ErrVersionNotFound, nil, ErrVersionNotFound},
		{"timeout", compilers.ErrTimeout, nil, ErrTimeout},
		{"internal", errors.New("exec format error"), nil, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiler := &fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main")), err: tt.compileErr}
			svc := NewService(compiler, nil, nil, false, testLogger())

			req := verifyRequest(t)
			if tt.modify != nil {
				tt.modify(&req)
			}
			_, err := svc.Verify(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_VerifyPersistIsBestEffort(t *testing.T) {
	store := newTestStore(t)
	compiler := &fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}
	svc := NewService(compiler, failingSourceStore{}, store, true, testLogger())

	result, err := svc.Verify(context.Background(), verifyRequest(t))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, result.ContractID)
}

func TestService_SearchErrors(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(&fakeCompiler{}, store, store, true, testLogger())

	_, err := svc.Search(context.Background(), SearchRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Search(context.Background(), SearchRequest{Code: []byte{0x60}, CodeType: "deployed"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_ListVersions(t *testing.T) {
	compiler := &fakeCompiler{versions: []compilers.Version{
		compilers.MustParseVersion("v0.8.8+commit.dddeac2f"),
		compilers.MustParseVersion("v0.8.7+commit.e28d00a7"),
	}}
	svc := NewService(compiler, nil, nil, false, testLogger())

	got, err := svc.ListVersions(context.Background(), "Solidity")
	require.NoError(t, err)
	assert.Equal(t, "solidity", got.Language)
	assert.Equal(t, []string{"v0.8.8+commit.dddeac2f", "v0.8.7+commit.e28d00a7"}, got.Versions)

	_, err = svc.ListVersions(context.Background(), "vyper")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.ListVersions(context.Background(), "cobol")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLoggingMiddleware(t *testing.T) {
	compiler := &fakeCompiler{result: compileResult(testContract(t, "main.sol", "Main"))}
	svc := LoggingMiddleware(testLogger())(NewService(compiler, nil, nil, false, testLogger()))

	result, err := svc.Verify(context.Background(), verifyRequest(t))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, compiler.calls)

	_, err = svc.Search(context.Background(), SearchRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
