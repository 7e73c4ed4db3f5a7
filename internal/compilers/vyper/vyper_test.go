package vyper

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/verifier/internal/auxdata"
	"github.com/pendergraft/verifier/internal/compilers"
)

func testInput() *compilers.Input {
	return &compilers.Input{
		Language: "Vyper",
		Sources: map[string]compilers.Source{
			"token.vy": {Content: "# @version 0.3.10\n"},
			"lib.vy":   {Content: "x: uint256\n"},
		},
		Settings:   json.RawMessage(`{"evmVersion":"shanghai"}`),
		Interfaces: json.RawMessage(`{"IERC20.json":{"abi":[]}}`),
	}
}

func TestNormalizeOutputSelection(t *testing.T) {
	c := New()

	t.Run("wildcard for old versions", func(t *testing.T) {
		in := testInput()
		require.NoError(t, c.NormalizeOutputSelection(in, compilers.MustParseVersion("v0.3.10+commit.91361694")))

		var settings struct {
			EVMVersion      string              `json:"evmVersion"`
			OutputSelection map[string][]string `json:"outputSelection"`
		}
		require.NoError(t, json.Unmarshal(in.Settings, &settings))
		assert.Equal(t, "shanghai", settings.EVMVersion)
		assert.Equal(t, outputs, settings.OutputSelection["*"])
		assert.Len(t, settings.OutputSelection, 1)
	})

	t.Run("per file from 0.4.0", func(t *testing.T) {
		in := testInput()
		require.NoError(t, c.NormalizeOutputSelection(in, compilers.MustParseVersion("v0.4.0+commit.e9db8d9f")))

		var settings struct {
			OutputSelection map[string][]string `json:"outputSelection"`
		}
		require.NoError(t, json.Unmarshal(in.Settings, &settings))
		assert.Len(t, settings.OutputSelection, 2)
		assert.Equal(t, outputs, settings.OutputSelection["token.vy"])
		assert.Equal(t, outputs, settings.OutputSelection["lib.vy"])
	})
}

func TestCompile(t *testing.T) {
	path := filepath.Join(t.TempDir(), Binary)
	script := `#!/bin/sh
input=$(cat)
case "$input" in
  *IERC20.json*) ;;
  *) echo "interfaces were dropped" >&2; exit 1 ;;
esac
cat <<'EOF'
{"contracts":{"token.vy":{"token":{"abi":[],"evm":{"bytecode":{"object":"0x6001"},"deployedBytecode":{"object":"0x6002","sourceMap":{"pc_pos_map":{}}}}}}}}
EOF
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	out, err := New().Compile(context.Background(), path, compilers.MustParseVersion("v0.3.10+commit.91361694"), testInput())
	require.NoError(t, err)

	contract, ok := out.Contracts["token.vy:token"]
	require.True(t, ok)
	assert.Equal(t, []byte{0x60, 0x01}, contract.Creation)
	assert.Equal(t, []byte{0x60, 0x02}, contract.Runtime)
	assert.Contains(t, contract.RuntimeArt.SourceMap, "pc_pos_map")
}

func TestAuxdataFormat(t *testing.T) {
	assert.Equal(t, auxdata.FormatVyper, New().AuxdataFormat())
}
