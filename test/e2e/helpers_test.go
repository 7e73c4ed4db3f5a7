//go:build e2e

package e2e

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/compilers"
	"github.com/pendergraft/verifier/internal/config"
	"github.com/pendergraft/verifier/internal/server"
	"github.com/pendergraft/verifier/internal/storage"
	"github.com/pendergraft/verifier/pkg/client"
)

// Bytecode of a small contract taking one uint256 constructor argument,
// split into executable code and its CBOR metadata.
const (
	runtimeMain  = "6080604052348015600f57600080fd5b506004361060285760003560e01c8063f43fa80514602d575b600080fd5b60336047565b604051603e91906062565b60405180910390f35b600065100000000001905090565b605c81607b565b82525050565b6000602082019050607560008301846055565b92915050565b600081905091905056fe"
	creationMain = "608060405234801561001057600080fd5b5060405161012338038061012383398101604081905261002f91610037565b600055610050565b60006020828403121561004957600080fd5b5051919050565b60c58061005e6000396000f3fe"
	testMeta     = "a2646970667358221220ad5a5e9ea0429c6665dc23af78b0acca8d56235be9dc3573672141811ea4a0da64736f6c63430008070033"
	otherMeta    = "a2646970667358221220bd5a5e9ea0429c6665dc23af78b0acca8d56235be9dc3573672141811ea4a0da64736f6c63430008070033"

	constructorABI = `[{"type":"constructor","inputs":[{"name":"x","type":"uint256"}],"stateMutability":"nonpayable"}]`
	testVersion    = "v0.8.7+commit.e28d00a7"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Server            *server.Server
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("verifier"),
		postgres.WithUsername("verifier"),
		postgres.WithPassword("verifier"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// recordedCompiler stands in for solc: it returns one contract whose
// bytecode is the test vectors above, so no binary download is needed.
type recordedCompiler struct{}

func (recordedCompiler) Compile(ctx context.Context, lang compilers.Language, version compilers.Version, input *compilers.Input) (*compilers.CompileResult, error) {
	if version.String() != testVersion {
		return nil, compilers.ErrVersionNotFound
	}
	contract := &artifacts.CompiledContract{
		FileName:     "main.sol",
		ContractName: "Main",
		Creation:     mustDecode(creationMain + testMeta),
		Runtime:      mustDecode(runtimeMain + testMeta),
		Compilation:  artifacts.CompilationArtifacts{ABI: json.RawMessage(constructorABI)},
	}
	return &compilers.CompileResult{
		Language:  lang,
		Version:   version,
		Input:     input,
		Contracts: map[string]*artifacts.CompiledContract{contract.FullyQualifiedName(): contract},
	}, nil
}

func (recordedCompiler) Versions(lang compilers.Language) ([]compilers.Version, error) {
	if lang == compilers.Vyper {
		return nil, compilers.ErrUnsupportedLanguage
	}
	return []compilers.Version{compilers.MustParseVersion(testVersion)}, nil
}

func testConfig(connString string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           8050,
			Host:           "0.0.0.0",
			RequestTimeout: 30,
		},
		Storage: config.StorageConfig{
			Type:     "postgres",
			Postgres: config.PostgresConfig{URL: connString},
		},
		Verifier:  config.VerifierConfig{MaxThreads: 2, CompileTimeout: time.Minute, PersistMatches: true},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 10},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	}
}

// startServerE starts the verifier server in-process against Postgres
func startServerE(connString string) (*server.Server, *httptest.Server, storage.Store, error) {
	cfg := testConfig(connString)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv := server.New(cfg, store, recordedCompiler{}, logger)
	return srv, httptest.NewServer(srv.Handler()), store, nil
}

// newClient creates a new API client for the test server
func newClient() *client.Client {
	return client.New(testCtx.TestServer.URL, client.WithUserAgent("verifier-e2e"))
}

func mustDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func hexCode(parts ...string) string {
	code := "0x"
	for _, p := range parts {
		code += p
	}
	return code
}

func args42() string {
	return hex.EncodeToString(common.LeftPadBytes([]byte{0x2a}, 32))
}

func verifyRequest() client.VerifyRequest {
	return client.VerifyRequest{
		Language:        "solidity",
		CompilerVersion: testVersion,
		SourceFiles:     map[string]string{"main.sol": "contract Main { uint x; constructor(uint _x) { x = _x; } }"},
		CreationCode:    hexCode(creationMain, testMeta, args42()),
		RuntimeCode:     hexCode(runtimeMain, testMeta),
	}
}

// assertHTTPError checks that err is an API error with the given code
func assertHTTPError(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected *client.APIError, got %T: %v", err, err)
	assert.Equal(t, code, apiErr.Code)
	assert.Equal(t, status, apiErr.StatusCode)
}
