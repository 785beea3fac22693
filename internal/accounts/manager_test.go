package accounts

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls     [][]string
	failOn    map[string]error
	onUseradd func(username string)
}

func (f *fakeRunner) Run(name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if err := f.failOn[name]; err != nil {
		return err
	}
	if name == "useradd" && f.onUseradd != nil {
		f.onUseradd(args[len(args)-1])
	}
	return nil
}

func (f *fakeRunner) invoked(name string) bool {
	for _, c := range f.calls {
		if c[0] == name {
			return true
		}
	}
	return false
}

type fixture struct {
	mgr    *Manager
	runner *fakeRunner
	root   string
}

// newFixture builds a Manager over a synthetic passwd file whose homes
// live under a temp dir and whose uids/gids match the test process, so
// chown calls are no-ops that succeed unprivileged.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	runner := &fakeRunner{failOn: map[string]error{}}
	mgr := NewManager(runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mgr.PasswdPath = filepath.Join(root, "passwd")
	require.NoError(t, os.WriteFile(mgr.PasswdPath, nil, 0o644))

	f := &fixture{mgr: mgr, runner: runner, root: root}
	runner.onUseradd = func(username string) { f.addEntry(t, username) }
	return f
}

// testIDs picks uid/gid values that both pass the non-system-account
// filter and keep chown working: as root any uid works, otherwise chown
// only succeeds for the test process's own ids.
func testIDs() (int, int) {
	uid, gid := os.Getuid(), os.Getgid()
	if uid == 0 {
		return 1000, 1000
	}
	return uid, gid
}

func (f *fixture) addEntry(t *testing.T, username string) string {
	t.Helper()
	home := filepath.Join(f.root, "home", username)
	require.NoError(t, os.MkdirAll(home, 0o755))
	uid, gid := testIDs()
	line := fmt.Sprintf("%s:x:%d:%d::%s:/bin/bash\n", username, uid, gid, home)
	existing, err := os.ReadFile(f.mgr.PasswdPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.mgr.PasswdPath, append(existing, line...), 0o644))
	return home
}

func (f *fixture) addSystemEntry(t *testing.T, username string, uid int) string {
	t.Helper()
	home := filepath.Join(f.root, "home", username)
	require.NoError(t, os.MkdirAll(home, 0o755))
	line := fmt.Sprintf("%s:x:%d:%d::%s:/bin/false\n", username, uid, uid, home)
	existing, err := os.ReadFile(f.mgr.PasswdPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.mgr.PasswdPath, append(existing, line...), 0o644))
	return home
}

func TestValidUsername(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"alice", true},
		{"alice-dev", true},
		{"a.b_c-d", true},
		{"0leg", true},
		{"", false},
		{"-alice", false},
		{".alice", false},
		{"al ice", false},
		{"alice!", false},
		{"abcdefghijklmnopqrstuvwxyz123456", true},  // 32 chars
		{"abcdefghijklmnopqrstuvwxyz1234567", false}, // 33 chars
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidUsername(tt.name), "username %q", tt.name)
	}
}

func TestExists(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.mgr.Exists("alice"))
	f.addEntry(t, "alice")
	assert.True(t, f.mgr.Exists("alice"))
}

func TestExistsLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.mgr.PasswdPath = filepath.Join(f.root, "no-such-file")
	assert.False(t, f.mgr.Exists("alice"))
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Create("alice"))

	assert.Equal(t, [][]string{{"useradd", "-m", "-s", "/bin/bash", "alice"}}, f.runner.calls)

	entry := f.mgr.lookup("alice")
	require.NotNil(t, entry)
	st, err := os.Stat(filepath.Join(entry.Home, ".ssh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())
}

func TestCreateIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, "alice")
	require.NoError(t, f.mgr.Create("alice"))
	assert.Empty(t, f.runner.calls)
}

func TestCreateUseraddFails(t *testing.T) {
	f := newFixture(t)
	f.runner.failOn["useradd"] = fmt.Errorf("permission denied")
	err := f.mgr.Create("alice")
	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.ErrorContains(t, err, "permission denied")
}

func TestCreateRollsBackOnSSHDirFailure(t *testing.T) {
	f := newFixture(t)
	// useradd "succeeds" but never lands in the database, so the .ssh
	// setup cannot resolve the new account.
	f.runner.onUseradd = nil

	err := f.mgr.Create("alice")
	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.True(t, f.runner.invoked("userdel"), "expected rollback userdel")
}

func TestCreateRollbackFailureSwallowed(t *testing.T) {
	f := newFixture(t)
	f.runner.onUseradd = nil
	f.runner.failOn["userdel"] = fmt.Errorf("busy")

	// The original creation error surfaces, not the rollback failure.
	err := f.mgr.Create("alice")
	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.NotContains(t, err.Error(), "busy")
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, "alice")
	require.NoError(t, f.mgr.Delete("alice"))
	assert.Equal(t, [][]string{{"userdel", "-r", "alice"}}, f.runner.calls)
}

func TestDeleteMissingAccountNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Delete("alice"))
	assert.Empty(t, f.runner.calls)
}

func TestDeleteFails(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, "alice")
	f.runner.failOn["userdel"] = fmt.Errorf("user busy")
	assert.ErrorIs(t, f.mgr.Delete("alice"), ErrDeleteFailed)
}

func TestInstallKey(t *testing.T) {
	f := newFixture(t)
	home := f.addEntry(t, "alice")

	key := "ssh-ed25519 AAAAtest alice@laptop"
	require.NoError(t, f.mgr.InstallKey("alice", key+"\n"))

	path := filepath.Join(home, ".ssh", "authorized_keys")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, key+"\n", string(b))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestInstallKeyIdempotent(t *testing.T) {
	f := newFixture(t)
	home := f.addEntry(t, "alice")
	key := "ssh-ed25519 AAAAtest alice@laptop"

	require.NoError(t, f.mgr.InstallKey("alice", key))
	path := filepath.Join(home, ".ssh", "authorized_keys")
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, f.mgr.InstallKey("alice", key))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "second install must be byte-identical")
}

func TestInstallKeyAppendsToExisting(t *testing.T) {
	f := newFixture(t)
	home := f.addEntry(t, "alice")
	sshDir := filepath.Join(home, ".ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0o700))
	existing := "ssh-rsa AAAAexisting other@host\n"
	path := filepath.Join(sshDir, "authorized_keys")
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o600))

	require.NoError(t, f.mgr.InstallKey("alice", "ssh-ed25519 AAAAnew alice@laptop"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, existing+"ssh-ed25519 AAAAnew alice@laptop\n", string(b))
}

func TestInstallKeyMissingAccount(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.InstallKey("ghost", "ssh-rsa AAAA"), ErrAccountNotFound)
}

func TestRemoveSSHAccess(t *testing.T) {
	f := newFixture(t)
	home := f.addEntry(t, "alice")
	require.NoError(t, f.mgr.InstallKey("alice", "ssh-rsa AAAA"))

	require.NoError(t, f.mgr.RemoveSSHAccess("alice"))
	_, err := os.Stat(filepath.Join(home, ".ssh", "authorized_keys"))
	assert.True(t, os.IsNotExist(err))

	// Missing file and missing account are both already-satisfied.
	require.NoError(t, f.mgr.RemoveSSHAccess("alice"))
	require.NoError(t, f.mgr.RemoveSSHAccess("ghost"))
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, "alice")

	info, ok := f.mgr.Info("alice")
	require.True(t, ok)
	assert.False(t, info.HasSSHAccess)
	assert.Equal(t, 0, info.SSHKeyCount)

	require.NoError(t, f.mgr.InstallKey("alice", "ssh-rsa AAAA one"))
	require.NoError(t, f.mgr.InstallKey("alice", "ssh-rsa BBBB two"))

	info, ok = f.mgr.Info("alice")
	require.True(t, ok)
	assert.True(t, info.HasSSHAccess)
	assert.Equal(t, 2, info.SSHKeyCount)
	assert.Equal(t, "/bin/bash", info.Shell)

	_, ok = f.mgr.Info("ghost")
	assert.False(t, ok)
}

func TestListWithSSHAccess(t *testing.T) {
	f := newFixture(t)
	f.addSystemEntry(t, "daemon", 2)
	sysHome := filepath.Join(f.root, "home", "daemon")
	require.NoError(t, os.MkdirAll(filepath.Join(sysHome, ".ssh"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(sysHome, ".ssh", "authorized_keys"), []byte("k\n"), 0o600))

	f.addEntry(t, "bob")
	f.addEntry(t, "alice")
	require.NoError(t, f.mgr.InstallKey("bob", "ssh-rsa AAAA"))
	require.NoError(t, f.mgr.InstallKey("alice", "ssh-rsa AAAA"))

	f.addEntry(t, "keyless")

	names, err := f.mgr.ListWithSSHAccess()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}
