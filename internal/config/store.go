package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is a YAML key-value settings store kept under /etc/addy.
// The file holds operator-supplied values such as the declarative
// repository URL, so it is created 0600 inside a 0700 directory.
type Store struct {
	mu   sync.Mutex
	path string
}

const (
	// KeyGitRepo is the remote URL of the declarative repository.
	KeyGitRepo = "git-repo"
	// KeyGitBranch is the branch tracked by sync. Defaults to "main".
	KeyGitBranch = "git-branch"
	// KeySSHKeyPath is an optional private key used to reach the remote.
	KeySSHKeyPath = "ssh-key-path"

	defaultBranch = "main"
)

var ErrRepoNotConfigured = errors.New("git repository not configured; run: addy config set git-repo <url>")

func NewStore(path string) *Store {
	return &Store{path: path}
}

func DefaultPath() string {
	return filepath.Join("/etc/addy", "config.yaml")
}

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := cfg[key]
	return v, ok, nil
}

// GetDefault returns the stored value for key, or def when unset.
func (s *Store) GetDefault(key, def string) (string, error) {
	v, ok, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return def, nil
	}
	return v, nil
}

func (s *Store) Set(key, value string) error {
	if key == "" {
		return errors.New("configuration key must be non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return err
	}
	cfg[key] = value
	return s.saveLocked(cfg)
}

// Unset removes key and reports whether it was present.
func (s *Store) Unset(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return false, err
	}
	if _, ok := cfg[key]; !ok {
		return false, nil
	}
	delete(cfg, key)
	return true, s.saveLocked(cfg)
}

// List returns all keys in sorted order with their values.
func (s *Store) List() ([][2]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, cfg[k]})
	}
	return out, nil
}

// GitRepo returns the configured repository URL or ErrRepoNotConfigured.
func (s *Store) GitRepo() (string, error) {
	v, ok, err := s.Get(KeyGitRepo)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", ErrRepoNotConfigured
	}
	return v, nil
}

func (s *Store) GitBranch() (string, error) {
	return s.GetDefault(KeyGitBranch, defaultBranch)
}

// SSHKeyPath returns the configured key path, or "" when unset.
func (s *Store) SSHKeyPath() (string, error) {
	v, _, err := s.Get(KeySSHKeyPath)
	return v, err
}

// Validate reports per-key configuration problems. An empty map means the
// configuration is usable.
func (s *Store) Validate() (map[string]string, error) {
	problems := map[string]string{}
	repo, ok, err := s.Get(KeyGitRepo)
	if err != nil {
		return nil, err
	}
	if !ok || repo == "" {
		problems[KeyGitRepo] = "git repository URL is required"
	}
	keyPath, err := s.SSHKeyPath()
	if err != nil {
		return nil, err
	}
	if keyPath != "" {
		if _, err := os.Stat(keyPath); err != nil {
			problems[KeySSHKeyPath] = fmt.Sprintf("ssh key file does not exist: %s", keyPath)
		}
	}
	return problems, nil
}

func (s *Store) loadLocked() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	cfg := map[string]string{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return cfg, nil
}

func (s *Store) saveLocked(cfg map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
