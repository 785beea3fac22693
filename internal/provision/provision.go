package provision

// Package provision sequences the package-style lifecycle operations:
// install user/X, install sudo/X and their removals. Every step is
// individually idempotent, so a failed run can simply be retried; there
// is no transaction log and no rollback of a committed sudo grant short
// of an explicit remove.

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hnrobert/addy/internal/accounts"
	"github.com/hnrobert/addy/internal/sshkey"
)

var ErrInvalidInput = errors.New("invalid input")

// PackageKind distinguishes login-access packages from sudo packages.
type PackageKind string

const (
	KindUser PackageKind = "user"
	KindSudo PackageKind = "sudo"
)

// Package is a (kind, username) intent such as "user/alice" or "sudo/bob".
type Package struct {
	Kind     PackageKind
	Username string
}

func (p Package) String() string {
	return string(p.Kind) + "/" + p.Username
}

// ParsePackage parses a "kind/username" specifier.
func ParsePackage(spec string) (Package, error) {
	kind, username, found := strings.Cut(spec, "/")
	if !found {
		return Package{}, fmt.Errorf("%w: package format is user/<name> or sudo/<name>: %q", ErrInvalidInput, spec)
	}
	if kind != string(KindUser) && kind != string(KindSudo) {
		return Package{}, fmt.Errorf("%w: package kind must be \"user\" or \"sudo\": %q", ErrInvalidInput, kind)
	}
	if !accounts.ValidUsername(username) {
		return Package{}, fmt.Errorf("%w: invalid username: %q", ErrInvalidInput, username)
	}
	return Package{Kind: PackageKind(kind), Username: username}, nil
}

// KeySource fetches the declarative repository and reads user keys.
type KeySource interface {
	Sync() error
	PublicKey(username string) (string, error)
}

// AccountService is the account-lifecycle capability.
type AccountService interface {
	Create(username string) error
	Delete(username string) error
	InstallKey(username, key string) error
	RemoveSSHAccess(username string) error
}

// SudoService grants and revokes passwordless sudo.
type SudoService interface {
	Grant(username string, createUser bool) error
	Revoke(username string, removeSSH, deleteUser bool) error
}

type Provisioner struct {
	repo     KeySource
	accounts AccountService
	sudo     SudoService
	log      *slog.Logger
}

func New(repo KeySource, accounts AccountService, sudo SudoService, log *slog.Logger) *Provisioner {
	return &Provisioner{repo: repo, accounts: accounts, sudo: sudo, log: log}
}

// Install provisions a package. For user packages the key comes from the
// repository and is format-checked before any account mutation. For sudo
// packages the account is auto-created when absent; no repository key
// lookup is needed for a pure sudo grant.
func (p *Provisioner) Install(pkg Package) error {
	p.log.Info("installing package", "package", pkg.String())
	switch pkg.Kind {
	case KindUser:
		if err := p.repo.Sync(); err != nil {
			return err
		}
		key, err := p.repo.PublicKey(pkg.Username)
		if err != nil {
			return err
		}
		if !sshkey.Validate(key) {
			return fmt.Errorf("%w: invalid ssh public key for %s", ErrInvalidInput, pkg.Username)
		}
		if err := p.accounts.Create(pkg.Username); err != nil {
			return err
		}
		return p.accounts.InstallKey(pkg.Username, key)
	case KindSudo:
		return p.sudo.Grant(pkg.Username, true)
	}
	return fmt.Errorf("%w: unknown package kind %q", ErrInvalidInput, pkg.Kind)
}

// RemoveOptions widen a removal beyond its default scope.
type RemoveOptions struct {
	// RemoveUser also de-provisions SSH when removing a sudo package.
	// Invalid for user packages, where SSH removal is the default action.
	RemoveUser bool
	// DeleteAccount also deletes the account; implies SSH de-provisioning.
	DeleteAccount bool
}

// Remove de-provisions a package. For user packages the account keeps
// existing unless DeleteAccount is set; if account deletion then fails,
// SSH access has already been removed, so the account cannot be reached
// even though it still exists.
func (p *Provisioner) Remove(pkg Package, opts RemoveOptions) error {
	p.log.Info("removing package", "package", pkg.String(),
		"remove_user", opts.RemoveUser, "delete_account", opts.DeleteAccount)
	switch pkg.Kind {
	case KindUser:
		if opts.RemoveUser {
			return fmt.Errorf("%w: --remove-user only applies to sudo packages", ErrInvalidInput)
		}
		if err := p.accounts.RemoveSSHAccess(pkg.Username); err != nil {
			return err
		}
		if opts.DeleteAccount {
			return p.accounts.Delete(pkg.Username)
		}
		return nil
	case KindSudo:
		removeSSH := opts.RemoveUser || opts.DeleteAccount
		return p.sudo.Revoke(pkg.Username, removeSSH, opts.DeleteAccount)
	}
	return fmt.Errorf("%w: unknown package kind %q", ErrInvalidInput, pkg.Kind)
}
