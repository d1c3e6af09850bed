package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nanome-ai/plugin-vault/pkg/client"
)

func newPutCmd(a *app) *cobra.Command {
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "put <folder> <file>...",
		Short: "Upload files into a folder",
		Long:  `Uploads local files into a vault folder. Against a server, files larger than --chunk-size are sent in chunks.`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, files := args[0], args[1:]
			key, err := a.folderKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}

			for _, file := range files {
				stop := a.startSpinner("Uploading " + file)
				stored, err := a.upload(cmd, v, folder, file, key, chunkSize)
				stop()
				if err != nil {
					return fmt.Errorf("upload %s: %w", file, err)
				}
				a.success("Uploaded %s to %s", file, stored)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", client.DefaultChunkSize, "chunk size in bytes for large uploads")
	return cmd
}

func (a *app) upload(cmd *cobra.Command, v client.Vault, folder, file, key string, chunkSize int) (string, error) {
	name := filepath.Base(file)
	if c, ok := v.(*client.Client); ok {
		f, err := os.Open(file)
		if err != nil {
			return "", err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		if info.Size() > int64(chunkSize) {
			return c.AddFileChunked(cmd.Context(), folder, name, f, info.Size(), key, chunkSize)
		}
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return v.AddFile(cmd.Context(), folder, name, data, key)
}
