package syscmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes privileged system binaries (useradd, userdel, visudo)
// with a bounded runtime and stderr capture.
type Runner struct {
	Timeout time.Duration
}

func New() *Runner {
	return &Runner{Timeout: 10 * time.Second}
}

func (r *Runner) Run(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		s := strings.TrimSpace(stderr.String())
		if s == "" {
			return err
		}
		return fmt.Errorf("%s %v: %s", name, args, s)
	}
	return nil
}

// Output runs a command and returns its combined stdout/stderr, which is
// the only place tools like visudo write their diagnostics.
func (r *Runner) Output(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
