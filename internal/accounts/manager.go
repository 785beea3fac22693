package accounts

// Package accounts wraps the OS account database and useradd/userdel for
// one-account-at-a-time provisioning, and owns the authorized_keys store
// of accounts it provisions.

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/hnrobert/addy/internal/passwd"
)

var (
	ErrAccountNotFound = errors.New("account does not exist")
	ErrCreateFailed    = errors.New("account creation failed")
	ErrDeleteFailed    = errors.New("account deletion failed")
)

// Runner executes privileged system binaries. *syscmd.Runner satisfies it.
type Runner interface {
	Run(name string, args ...string) error
}

const (
	defaultShell = "/bin/bash"
	// Accounts below this UID are system accounts and never enumerated.
	minUserUID = 1000
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,31}$`)

// ValidUsername enforces POSIX-style username rules: starts with an
// alphanumeric, body limited to alphanumerics, dot, dash and underscore,
// at most 32 characters.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

type Manager struct {
	// PasswdPath is the account database consulted for lookups.
	PasswdPath string
	// Shell is the login shell given to newly created accounts.
	Shell string

	runner Runner
	log    *slog.Logger
}

func NewManager(runner Runner, log *slog.Logger) *Manager {
	return &Manager{
		PasswdPath: passwd.DefaultPath,
		Shell:      defaultShell,
		runner:     runner,
		log:        log,
	}
}

func (m *Manager) lookup(username string) *passwd.Entry {
	pw, err := passwd.Load(m.PasswdPath)
	if err != nil {
		return nil
	}
	return pw.Find(username)
}

// Exists reports whether username is present in the account database.
// Any lookup failure counts as absent.
func (m *Manager) Exists(username string) bool {
	return m.lookup(username) != nil
}

// Create provisions a new account with a home directory and a private
// .ssh subdirectory. Creating an existing account is a no-op. If the .ssh
// setup fails the just-created account is removed best-effort and the
// original error surfaces.
func (m *Manager) Create(username string) error {
	if m.Exists(username) {
		m.log.Info("account already exists", "user", username)
		return nil
	}
	m.log.Info("creating account", "user", username)
	if err := m.runner.Run("useradd", "-m", "-s", m.Shell, username); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCreateFailed, username, err)
	}
	if err := m.setupSSHDir(username); err != nil {
		if rmErr := m.runner.Run("userdel", "-r", username); rmErr != nil {
			m.log.Warn("rollback of partially created account failed",
				"user", username, "error", rmErr)
		}
		return fmt.Errorf("%w: ssh directory for %s: %v", ErrCreateFailed, username, err)
	}
	return nil
}

// Delete removes an account and its home directory. Deleting a missing
// account is a no-op.
func (m *Manager) Delete(username string) error {
	if !m.Exists(username) {
		m.log.Info("account already absent", "user", username)
		return nil
	}
	m.log.Info("deleting account", "user", username)
	if err := m.runner.Run("userdel", "-r", username); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeleteFailed, username, err)
	}
	return nil
}

// setupSSHDir creates <home>/.ssh with mode 0700 owned by the account.
func (m *Manager) setupSSHDir(username string) error {
	entry := m.lookup(username)
	if entry == nil {
		return ErrAccountNotFound
	}
	dir := filepath.Join(entry.Home, ".ssh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return err
	}
	return os.Chown(dir, entry.UID, entry.GID)
}

// AccountInfo is a point-in-time snapshot of one account.
type AccountInfo struct {
	Username     string
	UID          int
	GID          int
	Home         string
	Shell        string
	SSHKeyCount  int
	HasSSHAccess bool
}

// Info returns a snapshot of username, or ok=false when it does not exist.
func (m *Manager) Info(username string) (AccountInfo, bool) {
	entry := m.lookup(username)
	if entry == nil {
		return AccountInfo{}, false
	}
	keysPath := authorizedKeysPath(entry.Home)
	info := AccountInfo{
		Username: username,
		UID:      entry.UID,
		GID:      entry.GID,
		Home:     entry.Home,
		Shell:    entry.Shell,
	}
	if _, err := os.Stat(keysPath); err == nil {
		info.HasSSHAccess = true
		info.SSHKeyCount = countKeys(keysPath)
	}
	return info, true
}

// ListWithSSHAccess enumerates non-system accounts (uid >= 1000) whose
// authorized_keys store exists, sorted by name.
func (m *Manager) ListWithSSHAccess() ([]string, error) {
	pw, err := passwd.Load(m.PasswdPath)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range pw.Entries() {
		if e.UID < minUserUID {
			continue
		}
		if _, err := os.Stat(authorizedKeysPath(e.Home)); err == nil {
			out = append(out, e.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}
