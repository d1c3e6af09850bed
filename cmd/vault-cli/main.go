// vault-cli manages files in a Nanome vault, either through a vault server or
// directly on a local vault directory.
package main

import (
	"os"

	"github.com/nanome-ai/plugin-vault/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
