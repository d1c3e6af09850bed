package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/nanome-ai/plugin-vault/internal/auth"
	vaultkeyring "github.com/nanome-ai/plugin-vault/internal/keyring"
)

// run executes vault-cli with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func localArgs(t *testing.T, vault string, args ...string) []string {
	t.Helper()
	return append([]string{"--local", vault, "--kdf-iterations", "1000"}, args...)
}

func TestLocalWorkflow(t *testing.T) {
	t.Setenv("VAULT_KEY", "")
	vault := filepath.Join(t.TempDir(), "vault")
	work := t.TempDir()
	src := filepath.Join(work, "1abc.pdb")
	require.NoError(t, os.WriteFile(src, []byte("ATOM"), 0644))

	mustRun := func(args ...string) string {
		t.Helper()
		out, _, err := run(t, localArgs(t, vault, args...)...)
		require.NoError(t, err, strings.Join(args, " "))
		return out
	}

	mustRun("mkdir", "proteins/raw")
	out := mustRun("put", "proteins", src)
	assert.Contains(t, out, "proteins/1abc.pdb")

	out = mustRun("ls", "proteins")
	assert.Contains(t, out, "raw/")
	assert.Contains(t, out, "1abc.pdb")

	mustRun("lock", "proteins", "--key", "k1")
	out = mustRun("ls")
	assert.Contains(t, out, "[locked]")

	_, _, err := run(t, localArgs(t, vault, "ls", "proteins")...)
	assert.Error(t, err)
	_, _, err = run(t, localArgs(t, vault, "verify", "proteins", "--key", "bad")...)
	assert.True(t, errors.Is(err, errInvalidKey))
	mustRun("verify", "proteins", "--key", "k1")

	dst := filepath.Join(work, "copy.pdb")
	mustRun("get", "proteins/1abc.pdb", "--key", "k1", "-o", dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "ATOM", string(data))

	out = mustRun("get", "proteins/1abc.pdb", "--key", "k1", "-o", "-")
	assert.Equal(t, "ATOM", out)

	mustRun("rename", "proteins/1abc.pdb", "2xyz.pdb", "--key", "k1")
	mustRun("mv", "proteins/2xyz.pdb", "proteins/raw", "--key", "k1")
	mustRun("unlock", "proteins", "--key", "k1")
	mustRun("mv", "proteins/raw/2xyz.pdb", "shared")

	out = mustRun("ls", "shared")
	assert.Contains(t, out, "2xyz.pdb")

	mustRun("rm", "proteins")
	_, _, err = run(t, localArgs(t, vault, "rm", "shared")...)
	assert.Error(t, err)
}

func TestLockRequiresKey(t *testing.T) {
	t.Setenv("VAULT_KEY", "")
	vault := filepath.Join(t.TempDir(), "vault")
	_, _, err := run(t, localArgs(t, vault, "mkdir", "docs")...)
	require.NoError(t, err)

	_, _, err = run(t, localArgs(t, vault, "lock", "docs")...)
	assert.ErrorContains(t, err, "folder key is required")
}

func TestAskKey(t *testing.T) {
	vault := filepath.Join(t.TempDir(), "vault")
	_, _, err := run(t, localArgs(t, vault, "mkdir", "docs")...)
	require.NoError(t, err)

	answers := []string{"k1", "k2"}
	readPassword = func(int) ([]byte, error) {
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
	t.Cleanup(func() { readPassword = defaultReadPassword })

	_, _, err = run(t, localArgs(t, vault, "lock", "docs", "--ask-key")...)
	assert.ErrorContains(t, err, "keys do not match")

	answers = []string{"k1", "k1"}
	_, stderr, err := run(t, localArgs(t, vault, "lock", "docs", "--ask-key")...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Folder key:")
	assert.Contains(t, stderr, "Repeat key:")

	answers = []string{"k1"}
	_, _, err = run(t, localArgs(t, vault, "verify", "docs", "--ask-key")...)
	assert.NoError(t, err)
}

func TestExtensions(t *testing.T) {
	vault := filepath.Join(t.TempDir(), "vault")
	out, _, err := run(t, localArgs(t, vault, "extensions")...)
	require.NoError(t, err)
	assert.Contains(t, out, "supported:")
	assert.Contains(t, out, "pdb")
}

func TestToken(t *testing.T) {
	out, _, err := run(t, "token", "user-0a1b2c3d", "--secret", "s3cret")
	require.NoError(t, err)

	claims, err := auth.New("s3cret", "").ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-0a1b2c3d", claims.Subject)

	_, _, err = run(t, "token", "alice", "--secret", "s3cret")
	assert.ErrorIs(t, err, auth.ErrInvalidAccount)

	t.Setenv("JWT_SECRET", "")
	_, _, err = run(t, "token", "user-0a1b2c3d")
	assert.ErrorContains(t, err, "signing secret is required")
}

func TestLoginLogout(t *testing.T) {
	keyring.MockInit()
	server := "http://vault.test:8080"

	_, _, err := run(t, "--server", server+"/", "login", "tok")
	require.NoError(t, err)
	token, err := vaultkeyring.GetToken(server)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	_, _, err = run(t, "--server", server, "logout")
	require.NoError(t, err)
	assert.False(t, vaultkeyring.HasToken(server))
}
