package matcher

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	errUnexpectedArguments = errors.New("constructor takes no arguments")
	errMissingArguments    = errors.New("constructor arguments are missing")
)

// ValidateConstructorArguments checks that args are a canonical encoding of
// the ABI constructor's inputs.
func ValidateConstructorArguments(abiJSON, args []byte) error {
	inputs, err := constructorInputs(abiJSON)
	if err != nil {
		return err
	}

	switch {
	case len(inputs) == 0 && len(args) == 0:
		return nil
	case len(inputs) == 0:
		return errUnexpectedArguments
	case len(args) == 0:
		return errMissingArguments
	}

	values, err := inputs.Unpack(args)
	if err != nil {
		return fmt.Errorf("decoding constructor arguments: %w", err)
	}
	encoded, err := inputs.Pack(values...)
	if err != nil {
		return fmt.Errorf("encoding constructor arguments: %w", err)
	}
	if !bytes.Equal(encoded, args) {
		return errors.New("constructor arguments are not canonically encoded")
	}
	return nil
}

func constructorInputs(abiJSON []byte) (abi.Arguments, error) {
	if len(bytes.TrimSpace(abiJSON)) == 0 {
		return nil, nil
	}
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing abi: %w", err)
	}
	return parsed.Constructor.Inputs, nil
}

// DecodeConstructorArguments unpacks constructor arguments for display.
func DecodeConstructorArguments(abiJSON, args []byte) ([]any, error) {
	inputs, err := constructorInputs(abiJSON)
	if err != nil {
		return nil, err
	}
	return inputs.Unpack(args)
}
