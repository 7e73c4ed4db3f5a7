// Package validation provides input validation for verification requests.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Contract names are Solidity/Vyper identifiers, optionally qualified by
// their source path ("contracts/Token.sol:Token").
var identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

const maxSourcePathLen = 1024

// ValidateChainID validates a decimal chain ID
func ValidateChainID(chainID string) error {
	if chainID == "" {
		return errors.New("chain ID cannot be empty")
	}
	id, err := strconv.ParseUint(chainID, 10, 64)
	if err != nil {
		return errors.New("chain ID must be a decimal integer")
	}
	if id == 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ValidateContractName validates a bare or fully qualified contract name
func ValidateContractName(name string) error {
	if name == "" {
		return errors.New("contract name cannot be empty")
	}
	contract := name
	if i := strings.LastIndex(name, ":"); i >= 0 {
		if err := ValidateSourcePath(name[:i]); err != nil {
			return err
		}
		contract = name[i+1:]
	}
	if !identifierRegex.MatchString(contract) {
		return fmt.Errorf("invalid contract name %q", contract)
	}
	return nil
}

// ValidateSourcePath validates a source file key
func ValidateSourcePath(path string) error {
	if path == "" {
		return errors.New("source path cannot be empty")
	}
	if len(path) > maxSourcePathLen {
		return fmt.Errorf("source path too long (max %d chars)", maxSourcePathLen)
	}
	if strings.ContainsRune(path, 0) {
		return errors.New("source path contains a NUL byte")
	}
	return nil
}

// DecodeHexCode decodes bytecode given as hex, with or without 0x prefix.
// An empty string decodes to nil (code absent).
func DecodeHexCode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex code: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("code cannot be empty")
	}
	return b, nil
}
