// Package cli implements the vault-cli commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nanome-ai/plugin-vault/internal/config"
	"github.com/nanome-ai/plugin-vault/internal/keyring"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/pkg/client"
)

var defaultReadPassword = term.ReadPassword

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = defaultReadPassword

type app struct {
	server        string
	local         string
	key           string
	askKey        bool
	apiKey        string
	kdfIterations int
	verbose       bool

	out    io.Writer
	errOut io.Writer
	vault  client.Vault
}

// NewRootCmd builds the vault-cli command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "vault-cli",
		Short:         "Manage files in a Nanome vault",
		Long:          `Lists, uploads, downloads and locks vault files, either through a vault server or directly on a local vault directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			if a.verbose {
				return logging.Init(logging.Config{Level: "debug", Format: "console", OutputPath: "stderr"})
			}
			logging.InitNop()
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.server, "server", envOr("VAULT_SERVER", "http://localhost:8080"), "vault server URL")
	pf.StringVar(&a.local, "local", "", "operate directly on the vault directory at this path")
	pf.StringVar(&a.key, "key", os.Getenv("VAULT_KEY"), "folder key (defaults to $VAULT_KEY)")
	pf.BoolVar(&a.askKey, "ask-key", false, "prompt for the folder key")
	pf.StringVar(&a.apiKey, "api-key", os.Getenv("VAULT_API_KEY"), "server API key")
	pf.IntVar(&a.kdfIterations, "kdf-iterations", config.DefaultKDFIterations, "PBKDF2 iterations for new locks in --local mode")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr instead of showing a spinner")
	pf.MarkHidden("kdf-iterations")

	root.AddCommand(
		newLsCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newMkdirCmd(a),
		newRmCmd(a),
		newRenameCmd(a),
		newMvCmd(a),
		newLockCmd(a),
		newUnlockCmd(a),
		newVerifyCmd(a),
		newExtensionsCmd(a),
		newTokenCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
	)
	return root
}

// Execute runs vault-cli and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failMark()+" "+err.Error())
		return 1
	}
	return 0
}

// client returns the vault the command operates on, opening it on first use.
func (a *app) client() (client.Vault, error) {
	if a.vault != nil {
		return a.vault, nil
	}
	if a.local != "" {
		v, err := client.OpenLocal(a.local, a.kdfIterations)
		if err != nil {
			return nil, fmt.Errorf("open local vault: %w", err)
		}
		a.vault = v
		return v, nil
	}

	cfg := client.Config{BaseURL: a.server, APIKey: a.apiKey}
	if token, err := keyring.GetToken(a.serverKey()); err == nil {
		cfg.AuthToken = token
	}
	a.vault = client.New(cfg)
	return a.vault, nil
}

func (a *app) serverKey() string {
	return strings.TrimRight(a.server, "/")
}

// folderKey returns the key from --key, or prompts for it with --ask-key.
func (a *app) folderKey() (string, error) {
	if !a.askKey {
		return a.key, nil
	}
	return a.prompt("Folder key: ")
}

// requireKey is folderKey for commands that cannot run without a key.
func (a *app) requireKey() (string, error) {
	key, err := a.folderKey()
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("a folder key is required (use --key, $VAULT_KEY or --ask-key)")
	}
	return key, nil
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.errOut, label)
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.errOut)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return string(secret), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
