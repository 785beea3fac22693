package sudoers

// Package sudoers grants and revokes passwordless sudo through drop-in
// files under /etc/sudoers.d. A malformed file there can lock every
// administrator out of root, so every grant goes through a
// write-temp / validate / rename protocol: the live sudoers tree never
// contains an unvalidated or partially written file.

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hnrobert/addy/internal/syscmd"
)

var (
	ErrAccountNotFound = errors.New("account does not exist")
	ErrInvalidConfig   = errors.New("invalid sudoers configuration")
	ErrGrantFailed     = errors.New("sudo grant failed")
	ErrRevokeFailed    = errors.New("sudo revoke failed")
)

// DefaultDir is the sudoers drop-in directory on a stock install.
const DefaultDir = "/etc/sudoers.d"

// DefaultChecker is the sudoers syntax checker invoked before a grant
// becomes visible.
const DefaultChecker = "visudo"

// AccountService is the optional account-lifecycle capability. When nil
// the reconciler operates in sudo-only mode: Grant cannot auto-create
// accounts and Revoke skips SSH/account de-provisioning.
type AccountService interface {
	Exists(username string) bool
	Create(username string) error
	Delete(username string) error
	RemoveSSHAccess(username string) error
}

// Runner executes the syntax checker. *syscmd.Runner satisfies it.
type Runner interface {
	Output(name string, args ...string) (string, error)
}

type Reconciler struct {
	// Dir is the sudoers drop-in directory.
	Dir string
	// CheckerPath is the sudoers syntax checker binary. When it cannot be
	// resolved the reconciler degrades to assuming candidate files are
	// valid, with a logged warning.
	CheckerPath string

	runner   Runner
	accounts AccountService
	log      *slog.Logger
}

// New returns a reconciler bound to an optional account service.
func New(runner Runner, accounts AccountService, log *slog.Logger) *Reconciler {
	return &Reconciler{
		Dir:         DefaultDir,
		CheckerPath: DefaultChecker,
		runner:      runner,
		accounts:    accounts,
		log:         log,
	}
}

// grantLine is the canonical single-line rule written to a drop-in file.
func grantLine(username string) string {
	return fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL\n", username)
}

func (r *Reconciler) dropinPath(username string) string {
	return filepath.Join(r.Dir, username)
}

// HasGrant reports whether a drop-in file exists for username.
func (r *Reconciler) HasGrant(username string) bool {
	_, err := os.Stat(r.dropinPath(username))
	return err == nil
}

// Grant gives username passwordless sudo. An existing drop-in makes this
// a no-op. When createUser is set and an account service is bound, a
// missing account is provisioned first; otherwise a missing account is an
// error. The candidate rule is written to a temp file, validated, and
// only then renamed onto the final path.
func (r *Reconciler) Grant(username string, createUser bool) error {
	final := r.dropinPath(username)
	if r.HasGrant(username) {
		r.log.Info("sudo already granted", "user", username)
		return nil
	}

	if r.accounts != nil && !r.accounts.Exists(username) {
		if !createUser {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, username)
		}
		if err := r.accounts.Create(username); err != nil {
			return err
		}
	}

	r.log.Info("granting sudo", "user", username, "path", final)

	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, []byte(grantLine(username)), 0o440); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGrantFailed, username, err)
	}
	if err := os.Chmod(tmp, 0o440); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", ErrGrantFailed, username, err)
	}

	ok, diag := r.checkFile(tmp)
	if !ok {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, username, diag)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", ErrGrantFailed, username, err)
	}
	return nil
}

// checkFile runs the syntax checker against path. An unavailable checker
// degrades to "assume valid" so hosts without visudo are not blocked;
// that weakens the safety invariant, so it is logged loudly.
func (r *Reconciler) checkFile(path string) (ok bool, diag string) {
	if !syscmd.LookPath(r.CheckerPath) {
		r.log.Warn("sudoers checker unavailable, skipping validation",
			"checker", r.CheckerPath, "path", path)
		return true, ""
	}
	out, err := r.runner.Output(r.CheckerPath, "-c", "-f", path)
	if err != nil {
		if out == "" {
			out = err.Error()
		}
		return false, out
	}
	return true, ""
}

// Revoke removes username's sudo grant. deleteUser implies removeSSH:
// an account slated for deletion must never keep login access. The
// SSH/account steps run through the bound account service and are skipped
// in sudo-only mode.
func (r *Reconciler) Revoke(username string, removeSSH, deleteUser bool) error {
	if deleteUser {
		removeSSH = true
	}

	path := r.dropinPath(username)
	if _, err := os.Stat(path); err == nil {
		r.log.Info("revoking sudo", "user", username, "path", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRevokeFailed, username, err)
		}
	} else {
		r.log.Info("no sudo grant present", "user", username)
	}

	if r.accounts == nil {
		return nil
	}
	if removeSSH {
		if err := r.accounts.RemoveSSHAccess(username); err != nil {
			return err
		}
	}
	if deleteUser {
		if err := r.accounts.Delete(username); err != nil {
			return err
		}
	}
	return nil
}

// IsToolManaged reports whether the file at path is a grant this tool
// wrote: its trimmed content must exactly equal the canonical rule for
// its own filename. Anything else (hand-edited, third-party) is never
// touched by revoke or listing operations. The match is deliberately
// strict; tolerating comments or extra whitespace would widen the set of
// files the tool is willing to delete.
func (r *Reconciler) IsToolManaged(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	expected := strings.TrimSpace(grantLine(filepath.Base(path)))
	return strings.TrimSpace(string(b)) == expected
}

// ListManaged enumerates tool-managed drop-ins, sorted by the directory
// walk order of os.ReadDir. Hidden files and non-regular entries are
// skipped. A missing directory yields an empty list.
func (r *Reconciler) ListManaged() ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if r.IsToolManaged(filepath.Join(r.Dir, e.Name())) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// GrantInfo is a snapshot of one drop-in file.
type GrantInfo struct {
	Username    string
	Path        string
	Mode        os.FileMode
	Content     string
	ToolManaged bool
}

// Info returns a snapshot of username's drop-in, or ok=false when no
// grant exists or it cannot be read.
func (r *Reconciler) Info(username string) (GrantInfo, bool) {
	path := r.dropinPath(username)
	st, err := os.Stat(path)
	if err != nil {
		return GrantInfo{}, false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return GrantInfo{}, false
	}
	return GrantInfo{
		Username:    username,
		Path:        path,
		Mode:        st.Mode().Perm(),
		Content:     strings.TrimSpace(string(b)),
		ToolManaged: r.IsToolManaged(path),
	}, true
}

// IntegrityReport partitions tool-managed drop-ins by syntax check result.
type IntegrityReport struct {
	Valid   []string
	Invalid []string
}

// VerifyIntegrity re-runs the syntax checker over every tool-managed
// drop-in. A missing sudoers directory is an error, not an empty report.
func (r *Reconciler) VerifyIntegrity() (IntegrityReport, error) {
	var report IntegrityReport
	if _, err := os.Stat(r.Dir); err != nil {
		return report, fmt.Errorf("sudoers directory: %w", err)
	}
	managed, err := r.ListManaged()
	if err != nil {
		return report, err
	}
	for _, name := range managed {
		if ok, diag := r.checkFile(filepath.Join(r.Dir, name)); ok {
			report.Valid = append(report.Valid, name)
		} else {
			r.log.Error("sudoers file failed validation", "file", name, "diagnostic", diag)
			report.Invalid = append(report.Invalid, name)
		}
	}
	return report, nil
}
