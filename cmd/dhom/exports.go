package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ypeckstadt/dhom/internal/backup"
	"github.com/ypeckstadt/dhom/internal/crypto"
	"github.com/ypeckstadt/dhom/internal/ui"
)

func createExportsCommand() *cobra.Command {
	var flags storageFlags

	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Manage backups exported to offsite storage",
	}
	flags.register(cmd)

	cmd.AddCommand(createExportsListCommand(&flags))
	cmd.AddCommand(createExportsFetchCommand(&flags))
	cmd.AddCommand(createExportsDeleteCommand(&flags))
	return cmd
}

func createExportsListCommand(flags *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List exported files",
		Long:  "List exported files, optionally only those whose key starts with prefix (host or host/backup)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			backend, err := flags.backend(ctx)
			if err != nil {
				return err
			}

			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}
			objects, err := backend.List(ctx, prefix)
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				fmt.Println(ui.DimStyle.Render("No exports found"))
				return nil
			}

			rows := make([][]string, 0, len(objects))
			for _, o := range objects {
				encrypted := ""
				if o.Encrypted {
					encrypted = "yes"
				}
				rows = append(rows, []string{o.Key, ui.FormatSize(o.Size), encrypted, o.ExportedAt.Local().Format("2006-01-02 15:04:05")})
			}
			fmt.Println(ui.Table([]string{"key", "size", "encrypted", "exported"}, rows))
			return nil
		},
	}
}

func createExportsFetchCommand(flags *storageFlags) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "fetch <key> <output>",
		Short: "Download an exported file, decrypting it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := context.Background()
			key, output := args[0], args[1]

			backend, err := flags.backend(ctx)
			if err != nil {
				return err
			}

			rc, meta, err := backend.Retrieve(ctx, key)
			if err != nil {
				return err
			}
			defer rc.Close()

			out, err := os.Create(output) // #nosec G304 - path given by the user
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer func() {
				if closeErr := out.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			if !meta.Encrypted {
				var w io.Writer = out
				if showProgress() && meta.Size > 0 {
					pw := backup.NewProgressWriter(out, meta.Size, "📥 "+key)
					defer pw.Close()
					w = pw
				}
				if _, err := io.Copy(w, rc); err != nil {
					return fmt.Errorf("failed to download %s: %w", key, err)
				}
				return nil
			}

			if password == "" {
				if password, err = promptPassword("Enter decryption password: ", false); err != nil {
					return err
				}
			}
			var src io.Reader = rc
			if showProgress() && meta.Size > 0 {
				pr := backup.NewProgressReader(rc, meta.Size, "📥 "+key)
				defer pr.Close()
				src = pr
			}
			return decryptStream(src, out, password)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password for decryption (will prompt if encrypted and not provided)")
	return cmd
}

func createExportsDeleteCommand(flags *storageFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete exported files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			backend, err := flags.backend(ctx)
			if err != nil {
				return err
			}

			var errs []error
			for _, key := range args {
				if err := backend.Delete(ctx, key); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", key, err))
					continue
				}
				if !quiet {
					fmt.Printf("🗑️  Deleted %s\n", key)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// decryptFile decrypts an exported archive on the local filesystem.
func decryptFile(input, output, password string) (err error) {
	in, err := os.Open(input) // #nosec G304 - path given by the user
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", input, err)
	}
	defer in.Close()

	var src io.Reader = in
	if info, statErr := in.Stat(); statErr == nil && showProgress() && info.Size() > 0 {
		pr := backup.NewProgressReader(in, info.Size(), "🔓 "+strings.TrimSuffix(input, backup.EncryptedSuffix))
		defer pr.Close()
		src = pr
	}

	out, err := os.Create(output) // #nosec G304 - path given by the user
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return decryptStream(src, out, password)
}

func decryptStream(src io.Reader, dst io.Writer, password string) error {
	plain, err := crypto.Decrypt(src, password)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, plain); err != nil {
		return fmt.Errorf("failed to decrypt: %w", err)
	}
	return nil
}

func showProgress() bool {
	return !quiet && term.IsTerminal(int(os.Stderr.Fd()))
}
