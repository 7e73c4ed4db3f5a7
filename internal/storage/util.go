package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// sourceNamespace scopes the name-based UUIDs of verified sources.
var sourceNamespace = uuid.MustParse("9b3e6c1d-52a4-4f0e-8d17-6a2c5e9f0b84")

// sourceID derives a stable id from everything that identifies a verified
// source. Saving the same source twice yields the same id.
func sourceID(src *Source) (string, error) {
	key, err := json.Marshal(struct {
		Language        string            `json:"language"`
		CompilerVersion string            `json:"compilerVersion"`
		FileName        string            `json:"fileName"`
		ContractName    string            `json:"contractName"`
		Settings        json.RawMessage   `json:"settings"`
		Sources         map[string]string `json:"sources"`
	}{
		Language:        src.Language,
		CompilerVersion: src.CompilerVersion,
		FileName:        src.FileName,
		ContractName:    src.ContractName,
		Settings:        src.Settings,
		Sources:         src.Sources,
	})
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(sourceNamespace, key).String(), nil
}

// computeHash computes SHA256 hash of content
func computeHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// sequenceHash identifies an ordered list of part ids.
func sequenceHash(partIDs []string) string {
	return computeHash([]byte(strings.Join(partIDs, ",")))
}
