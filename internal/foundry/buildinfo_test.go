package foundry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBuildInfo(t *testing.T, dir, name string, contracts map[string][]string) {
	t.Helper()
	buildInfoDir := filepath.Join(dir, "out", "build-info")
	require.NoError(t, os.MkdirAll(buildInfoDir, 0755))

	out := map[string]map[string]any{}
	sources := map[string]any{}
	for path, names := range contracts {
		out[path] = map[string]any{}
		for _, n := range names {
			out[path][n] = map[string]any{"abi": []any{}}
		}
		sources[path] = map[string]string{"content": "contract X {}"}
	}

	info := map[string]any{
		"id":              name,
		"solcVersion":     "0.8.28",
		"solcLongVersion": "0.8.28+commit.7893614a",
		"input": map[string]any{
			"language":     "Solidity",
			"sources":      sources,
			"settings":     map[string]any{"optimizer": map[string]any{"enabled": true, "runs": 200}},
			"allowPaths":   []string{"/tmp"},
			"basePath":     "/tmp",
			"includePaths": []string{"lib"},
		},
		"output": map[string]any{"contracts": out},
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(buildInfoDir, name+".json"), data, 0644))
}

func TestDetect(t *testing.T) {
	t.Run("with foundry.toml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "foundry.toml"), []byte("[profile.default]"), 0644))

		detected, err := Detect(dir)
		require.NoError(t, err)
		assert.True(t, detected)
	})

	t.Run("without foundry.toml", func(t *testing.T) {
		detected, err := Detect(t.TempDir())
		require.NoError(t, err)
		assert.False(t, detected)
	})
}

func TestLoadVerificationInput(t *testing.T) {
	dir := t.TempDir()
	writeBuildInfo(t, dir, "aaa", map[string][]string{"src/Token.sol": {"Token"}})
	writeBuildInfo(t, dir, "bbb", map[string][]string{
		"src/Vault.sol":      {"Vault", "Ownable"},
		"lib/oz/Ownable.sol": {"Ownable"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "build-info", "notes.txt"), []byte("x"), 0644))

	t.Run("bare name", func(t *testing.T) {
		vi, err := LoadVerificationInput(dir, "Token")
		require.NoError(t, err)
		assert.Equal(t, "src/Token.sol", vi.SourcePath)
		assert.Equal(t, "Token", vi.ContractName)
		assert.Equal(t, "src/Token.sol:Token", vi.QualifiedName())
		assert.Equal(t, "v0.8.28+commit.7893614a", vi.CompilerVersion)

		var input map[string]any
		require.NoError(t, json.Unmarshal(vi.StandardJSON, &input))
		assert.Contains(t, input, "sources")
		assert.Contains(t, input, "settings")
		assert.NotContains(t, input, "allowPaths")
		assert.NotContains(t, input, "basePath")
		assert.NotContains(t, input, "includePaths")
	})

	t.Run("qualified name", func(t *testing.T) {
		vi, err := LoadVerificationInput(dir, "lib/oz/Ownable.sol:Ownable")
		require.NoError(t, err)
		assert.Equal(t, "lib/oz/Ownable.sol", vi.SourcePath)
	})

	t.Run("ambiguous bare name", func(t *testing.T) {
		_, err := LoadVerificationInput(dir, "Ownable")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous")
	})

	t.Run("missing contract", func(t *testing.T) {
		_, err := LoadVerificationInput(dir, "Nope")
		assert.ErrorIs(t, err, ErrContractNotFound)
	})

	t.Run("wrong path", func(t *testing.T) {
		_, err := LoadVerificationInput(dir, "src/Other.sol:Token")
		assert.ErrorIs(t, err, ErrContractNotFound)
	})

	t.Run("no build-info directory", func(t *testing.T) {
		_, err := LoadVerificationInput(t.TempDir(), "Token")
		assert.Error(t, err)
	})
}
