package cli

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the logger commands hand to the provisioning
// components. On a terminal it is human-readable text; when stderr is
// piped or redirected it switches to JSON for machine consumption.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// RequireRoot refuses to proceed for non-root callers. Every mutating
// command checks this before touching any system state.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("this command must be run as root (use sudo)")
	}
	return nil
}
