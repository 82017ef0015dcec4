package migrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// GoTestVerifier verifies a generated package by initializing a throwaway
// module in its directory and running its tests with the local Go toolchain.
type GoTestVerifier struct {
	// Timeout bounds a single verification round. Zero means 5 minutes.
	Timeout time.Duration
}

func (v *GoTestVerifier) Verify(ctx context.Context, dir string) (bool, string, error) {
	timeout := v.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := os.Stat(filepath.Join(dir, "go.mod")); os.IsNotExist(err) {
		if out, err := run(ctx, dir, "go", "mod", "init", filepath.Base(dir)); err != nil {
			return false, out, fmt.Errorf("go mod init: %w", err)
		}
	}
	if out, err := run(ctx, dir, "go", "mod", "tidy"); err != nil {
		// Tidy failures are diagnostics, not infrastructure errors: a bad
		// import in generated code lands here and should feed the healer.
		return false, out, nil
	}

	out, err := run(ctx, dir, "go", "test", "-v", "./...")
	if err != nil {
		if ctx.Err() != nil {
			return false, out, fmt.Errorf("verification timed out: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, out, nil
		}
		return false, out, err
	}
	return true, out, nil
}

func run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
