package compilers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// RunResult is the captured outcome of a compiler process.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run executes a compiler binary with the given arguments and stdin. A
// process still running at the context deadline is killed and ErrTimeout is
// returned; its partial output is discarded. A non-zero exit is not an error
// here, callers decide from the output.
func Run(ctx context.Context, binaryPath string, args []string, stdin []byte, dir string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Dir = dir
	// children holding the output pipes must not outlive the kill for long
	cmd.WaitDelay = time.Second
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: running %s: %v", ErrInternal, binaryPath, err)
		}
		return &RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitErr.ExitCode()}, nil
	}

	return &RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// FailureFromRun builds a CompilationError from a process that produced no
// parseable output.
func FailureFromRun(res *RunResult) error {
	text := res.Stderr
	if len(bytes.TrimSpace(text)) == 0 {
		text = res.Stdout
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return fmt.Errorf("%w: compiler exited with code %d and no output", ErrInternal, res.ExitCode)
	}
	return compilationErrorFromText(string(text))
}
