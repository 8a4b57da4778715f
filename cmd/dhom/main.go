package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ypeckstadt/dhom/internal/backup"
	"github.com/ypeckstadt/dhom/internal/config"
	"github.com/ypeckstadt/dhom/internal/logging"
	"github.com/ypeckstadt/dhom/internal/target"
	"github.com/ypeckstadt/dhom/internal/ui"
	"github.com/ypeckstadt/dhom/pkg/version"
)

// Global variables for CLI flags
var (
	configPath            string
	verbose               bool
	quiet                 bool
	image                 string
	insecureIgnoreHostKey bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:           "dhom",
		Short:         "Docker Host Operations Manager - backup and restore Docker hosts",
		Long:          "DHOM (Docker Host Operations Manager) - backs up and restores the volumes and bind mounts of Docker hosts, locally or over SSH",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a .env or .toml host configuration (default: $DHOM_CONFIG, then .env in the working directory or its parents)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet output")
	rootCmd.PersistentFlags().StringVar(&image, "image", "", "Helper image for archive containers (default: alpine)")
	rootCmd.PersistentFlags().BoolVar(&insecureIgnoreHostKey, "insecure-ignore-host-key", false, "Do not verify SSH host keys")

	// Add commands
	rootCmd.AddCommand(createBackupCommand())
	rootCmd.AddCommand(createExportsCommand())
	rootCmd.AddCommand(createVolumesCommand())
	rootCmd.AddCommand(createHostsCommand())
	rootCmd.AddCommand(createDecryptCommand())
	rootCmd.AddCommand(createVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig finds and loads the host configuration. Without any file an
// empty configuration is returned, in which only localhost is known.
func loadConfig() (*config.Config, error) {
	defaults := config.Defaults{User: os.Getenv("USER")}
	if defaults.User == "" {
		defaults.User = os.Getenv("USERNAME")
	}
	if home, err := os.UserHomeDir(); err == nil {
		defaults.HomeDir = home
	}

	path := configPath
	if path == "" {
		path = os.Getenv("DHOM_CONFIG")
	}
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path, _ = config.Find(wd)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg = config.Empty(defaults)
	} else if cfg, err = config.Load(path, defaults); err != nil {
		return nil, err
	}

	if image != "" {
		cfg.Image = image
	}
	if insecureIgnoreHostKey {
		cfg.SSH.InsecureIgnoreHostKey = true
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	return logging.New(verbose, quiet)
}

func newResolver(cfg *config.Config, logger zerolog.Logger) *target.Resolver {
	dial := target.SSHDialer(cfg.SSH, os.Getenv("SSH_AUTH_SOCK"), promptPassphrase)
	return target.NewResolver(target.InterfaceAddresses, dial, logger)
}

// openHost loads the configuration and connects to the named host, or to
// localhost when no name is given. The caller closes the client.
func openHost(ctx context.Context, args []string) (*backup.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	name := config.LocalhostName
	if len(args) > 0 {
		name = args[0]
	}
	host, err := cfg.Host(name)
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	return backup.Open(ctx, newResolver(cfg, logger), host, backup.Options{
		Image:    cfg.Image,
		Verbose:  verbose && !quiet,
		Quiet:    quiet,
		Progress: showProgress(),
		Out:      os.Stdout,
		Logger:   logger,
	})
}

func closeClient(client *backup.Client) {
	if err := client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close connection: %v\n", err)
	}
}

// promptPassphrase asks for the passphrase of an encrypted SSH key.
func promptPassphrase(keyFile string) ([]byte, error) {
	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", keyFile)
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// promptPassword reads a password from the terminal, asking twice when
// confirm is set.
func promptPassword(prompt string, confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm password: ")
		again, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if string(again) != string(password) {
			return "", fmt.Errorf("passwords do not match")
		}
	}
	return string(password), nil
}

func createVolumesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "volumes [host]",
		Short: "List Docker volumes on a host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := openHost(ctx, args)
			if err != nil {
				return err
			}
			defer closeClient(client)

			volumes, err := client.Volumes(ctx)
			if err != nil {
				return err
			}
			if len(volumes) == 0 {
				fmt.Println(ui.DimStyle.Render("No volumes found"))
				return nil
			}

			fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("Volumes on %s (%d)", client.Target().DisplayAddress, len(volumes))))
			for _, v := range volumes {
				fmt.Printf("  %s\n", v)
			}
			return nil
		},
	}
}

func createHostsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List configured hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			names := cfg.HostNames()
			if len(names) == 0 {
				fmt.Println(ui.DimStyle.Render("No hosts configured; only localhost is available"))
				return nil
			}

			resolver := newResolver(cfg, newLogger())
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				host, err := cfg.Host(name)
				if err != nil {
					return err
				}

				address, err := host.ConnectTarget()
				if err != nil {
					address = "-"
				}
				mode := "ssh"
				if local, err := resolver.IsLocal(ctx, host); err == nil && local {
					mode = "local"
				}
				backupPath := host.BackupPath
				if backupPath == "" {
					backupPath = ui.WarnStyle.Render("not set")
				}
				rows = append(rows, []string{name, address, mode, backupPath})
			}

			if cfg.Path != "" {
				fmt.Println(ui.Field("config", cfg.Path))
			}
			fmt.Println(ui.Table([]string{"host", "address", "mode", "backup path"}, rows))
			return nil
		},
	}
}

func createDecryptCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "decrypt <input> <output>",
		Short: "Decrypt an exported archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = promptPassword("Enter decryption password: ", false); err != nil {
					return err
				}
			}
			return decryptFile(args[0], args[1], password)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password for decryption (will prompt if not provided)")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}
}

func hostArg(args []string) string {
	if len(args) > 0 {
		return strings.ToLower(args[0])
	}
	return config.LocalhostName
}
