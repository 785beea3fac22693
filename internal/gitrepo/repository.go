package gitrepo

// Package gitrepo pulls the declarative access repository and reads
// users/<name>.pub key files from it. The local checkout is always forced
// to match origin/<branch>; local edits to the checkout are not a
// supported way of granting access.

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/hnrobert/addy/internal/config"
)

var ErrSyncFailed = errors.New("repository sync failed")

// DefaultDir is where the local checkout lives.
const DefaultDir = "/var/lib/addy/repo"

type Repository struct {
	// Dir is the local checkout directory, created 0700 on first use.
	Dir string

	settings *config.Store
	log      *slog.Logger
}

func New(settings *config.Store, log *slog.Logger) *Repository {
	return &Repository{Dir: DefaultDir, settings: settings, log: log}
}

func (r *Repository) auth() (transport.AuthMethod, error) {
	keyPath, err := r.settings.SSHKeyPath()
	if err != nil {
		return nil, err
	}
	if keyPath == "" {
		return nil, nil
	}
	auth, err := gitssh.NewPublicKeysFromFile("git", keyPath, "")
	if err != nil {
		return nil, fmt.Errorf("load ssh key %s: %w", keyPath, err)
	}
	return auth, nil
}

// Sync clones the configured repository on first use, and afterwards
// fetches and hard-resets the checkout to origin/<branch>.
func (r *Repository) Sync() error {
	url, err := r.settings.GitRepo()
	if err != nil {
		return err
	}
	branch, err := r.settings.GitBranch()
	if err != nil {
		return err
	}
	auth, err := r.auth()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}

	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}

	r.log.Info("syncing repository", "url", url, "branch", branch)

	if _, err := os.Stat(filepath.Join(r.Dir, ".git")); errors.Is(err, os.ErrNotExist) {
		_, err := git.PlainClone(r.Dir, false, &git.CloneOptions{
			URL:           url,
			ReferenceName: plumbing.NewBranchReferenceName(branch),
			SingleBranch:  true,
			Auth:          auth,
		})
		if err != nil {
			return fmt.Errorf("%w: clone %s: %v", ErrSyncFailed, url, err)
		}
		return nil
	}

	repo, err := git.PlainOpen(r.Dir)
	if err != nil {
		return fmt.Errorf("%w: open checkout: %v", ErrSyncFailed, err)
	}
	err = repo.Fetch(&git.FetchOptions{RemoteName: "origin", Auth: auth, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: fetch: %v", ErrSyncFailed, err)
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return fmt.Errorf("%w: origin/%s: %v", ErrSyncFailed, branch, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: !branchExists(repo, branch),
		Force:  true,
		Hash:   checkoutHash(repo, branch, ref.Hash()),
	}); err != nil {
		return fmt.Errorf("%w: checkout %s: %v", ErrSyncFailed, branch, err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: ref.Hash()}); err != nil {
		return fmt.Errorf("%w: reset to origin/%s: %v", ErrSyncFailed, branch, err)
	}
	return nil
}

func branchExists(repo *git.Repository, branch string) bool {
	_, err := repo.Reference(plumbing.NewBranchReferenceName(branch), false)
	return err == nil
}

// checkoutHash returns a hash only when the local branch must be created,
// since go-git rejects Checkout options carrying both a branch to create
// and no start point.
func checkoutHash(repo *git.Repository, branch string, h plumbing.Hash) plumbing.Hash {
	if branchExists(repo, branch) {
		return plumbing.ZeroHash
	}
	return h
}

// PublicKey reads users/<username>.pub from the checkout. Missing,
// unreadable and empty files are errors; semantic key validation is the
// caller's job.
func (r *Repository) PublicKey(username string) (string, error) {
	rel := filepath.Join("users", username+".pub")
	b, err := os.ReadFile(filepath.Join(r.Dir, rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("public key not found: %s", rel)
		}
		return "", fmt.Errorf("read public key %s: %w", rel, err)
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("empty public key file: %s", rel)
	}
	return key, nil
}

// ListUsers returns the usernames with a key file in the repository.
func (r *Repository) ListUsers() ([]string, error) {
	usersDir := filepath.Join(r.Dir, "users")
	entries, err := os.ReadDir(usersDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasSuffix(name, ".pub") {
			out = append(out, strings.TrimSuffix(name, ".pub"))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Info describes the synced checkout.
type Info struct {
	URL           string
	Branch        string
	Commit        string
	CommitTime    time.Time
	CommitMessage string
}

// Info returns checkout metadata, or an error when the repository has
// never been synced.
func (r *Repository) Info() (Info, error) {
	url, err := r.settings.GitRepo()
	if err != nil {
		return Info{}, err
	}
	branch, err := r.settings.GitBranch()
	if err != nil {
		return Info{}, err
	}
	repo, err := git.PlainOpen(r.Dir)
	if err != nil {
		return Info{}, fmt.Errorf("repository not synced: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return Info{}, err
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return Info{}, err
	}
	return Info{
		URL:           url,
		Branch:        branch,
		Commit:        head.Hash().String()[:8],
		CommitTime:    commit.Committer.When,
		CommitMessage: strings.TrimSpace(commit.Message),
	}, nil
}
