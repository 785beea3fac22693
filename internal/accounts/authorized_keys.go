package accounts

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrKeyInstall = errors.New("authorized_keys update failed")

func authorizedKeysPath(home string) string {
	return filepath.Join(home, ".ssh", "authorized_keys")
}

// InstallKey appends a public key to the account's authorized_keys store.
// Installing a key that is already present is a no-op. The caller is
// expected to have validated the key format; this method only refuses
// installation to a nonexistent account.
//
// The append is not protected against concurrent invocations racing on
// the same file; the tool runs as a one-shot privileged command.
func (m *Manager) InstallKey(username, key string) error {
	entry := m.lookup(username)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	if err := m.setupSSHDir(username); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, err)
	}

	path := authorizedKeysPath(entry.Home)
	key = strings.TrimSpace(key)

	if existing, err := os.ReadFile(path); err == nil {
		if strings.Contains(string(existing), key) {
			m.log.Info("key already installed", "user", username)
			return nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, err)
	}

	m.log.Info("installing key", "user", username, "path", path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, err)
	}
	_, werr := f.WriteString(key + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, werr)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, err)
	}
	if err := os.Chown(path, entry.UID, entry.GID); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, err)
	}
	return nil
}

// RemoveSSHAccess deletes the account's entire authorized_keys file.
// Deliberately coarse: addy owns the whole authorized_keys lifecycle of
// accounts it provisions. A missing account or missing file is already
// the desired end state.
func (m *Manager) RemoveSSHAccess(username string) error {
	entry := m.lookup(username)
	if entry == nil {
		m.log.Warn("account does not exist", "user", username)
		return nil
	}
	path := authorizedKeysPath(entry.Home)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		m.log.Info("no keys installed", "user", username)
		return nil
	}
	m.log.Info("removing ssh access", "user", username, "path", path)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyInstall, username, err)
	}
	return nil
}

func countKeys(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}
