package fetch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// VersionFlagValidator returns a Validator that runs the binary with
// --version and expects it to exit cleanly with some output.
func VersionFlagValidator(timeout time.Duration) Validator {
	return func(ctx context.Context, path string) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
		if err != nil {
			return fmt.Errorf("running %s --version: %w", path, err)
		}
		if strings.TrimSpace(string(out)) == "" {
			return fmt.Errorf("%s --version printed nothing", path)
		}
		return nil
	}
}
