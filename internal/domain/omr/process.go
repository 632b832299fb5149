package omr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const processWaitDelay = 2 * time.Second

// lookPath resolves a tool binary, mapping a miss to ErrToolNotFound.
func lookPath(bin string) (string, error) {
	p, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, bin)
	}
	return p, nil
}

// runTool runs bin with args under timeout. The child runs in its own
// process group, and the whole group is killed on every return path so
// helpers spawned by the tool (JVMs, python workers) do not outlive it.
// A timeout is reported as context.DeadlineExceeded; any other failure
// carries the tail of the tool's stderr.
func runTool(ctx context.Context, timeout time.Duration, bin string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	defer killGroup(cmd)

	err := cmd.Wait()
	if cerr := cctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s exceeded %s: %w", bin, timeout, context.DeadlineExceeded)
		}
		return nil, cerr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
