package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ypeckstadt/dhom/internal/backup"
	"github.com/ypeckstadt/dhom/internal/models"
	"github.com/ypeckstadt/dhom/internal/storage"
	"github.com/ypeckstadt/dhom/internal/ui"
)

func createBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and export host backups",
	}

	cmd.AddCommand(createBackupCreateCommand())
	cmd.AddCommand(createBackupListCommand())
	cmd.AddCommand(createBackupRestoreCommand())
	cmd.AddCommand(createBackupExportCommand())
	return cmd
}

func createBackupCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create [host]",
		Short: "Back up every volume and bind mount of a host",
		Long:  "Stop the running containers of a host, archive its volumes and directory bind mounts into a new timestamped directory under the host's backup path, then restart the containers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := openHost(ctx, args)
			if err != nil {
				return err
			}
			defer closeClient(client)

			report, err := client.Create(ctx)
			return finishReport(report, err)
		},
	}
}

func createBackupListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list [host]",
		Short: "List the backups of a host, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := openHost(ctx, args)
			if err != nil {
				return err
			}
			defer closeClient(client)

			entries, err := client.List(ctx, limit)
			if err != nil {
				return err
			}
			printBackups(client, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many backups (0 for all)")
	return cmd
}

func createBackupRestoreCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "restore [host]",
		Short: "Restore the volumes of a host from a backup",
		Long:  "Restore every archive of a backup into the volume of the same name, replacing its contents. Without --backup the available backups are listed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			client, err := openHost(ctx, args)
			if err != nil {
				return err
			}
			defer closeClient(client)

			if name == "" {
				entries, err := client.List(ctx, 0)
				if err != nil {
					return err
				}
				printBackups(client, entries)
				if len(entries) > 0 {
					fmt.Printf("\nTo restore, run: dhom backup restore %s --backup %s\n", hostArg(args), entries[0].Name)
				}
				return nil
			}

			report, err := client.Restore(ctx, name)
			return finishReport(report, err)
		},
	}

	cmd.Flags().StringVarP(&name, "backup", "b", "", "Name of the backup to restore (YYYYMMDD_HHMMSS)")
	return cmd
}

func createBackupExportCommand() *cobra.Command {
	var (
		name     string
		encrypt  bool
		password string
		force    bool
		flags    storageFlags
	)

	cmd := &cobra.Command{
		Use:   "export [host]",
		Short: "Copy a backup to offsite storage",
		Long:  "Copy the archives and manifest of one backup to local, S3 or GCS storage, optionally encrypted with AES-256",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if name == "" {
				return fmt.Errorf("--backup is required to specify which backup to export")
			}
			if encrypt && password == "" {
				var err error
				if password, err = promptPassword("Enter encryption password: ", true); err != nil {
					return err
				}
			}

			backend, err := flags.backend(ctx)
			if err != nil {
				return err
			}

			client, err := openHost(ctx, args)
			if err != nil {
				return err
			}
			defer closeClient(client)

			result, err := client.Export(ctx, backup.ExportOptions{
				Backup:   name,
				Backend:  backend,
				Password: password,
				Force:    force,
			})
			if result != nil && !quiet {
				fmt.Printf("\n%s exported, %d skipped, %d failed\n",
					ui.SuccessStyle.Render(strconv.Itoa(result.Objects.Succeeded())),
					len(result.Skipped), result.Objects.Failed())
			}
			if err != nil {
				return err
			}
			if failed := result.Objects.Failed(); failed > 0 {
				return fmt.Errorf("export completed with %d failures: %w", failed, result.Objects.Err())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "backup", "b", "", "Name of the backup to export (YYYYMMDD_HHMMSS)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the exported files with AES-256")
	cmd.Flags().StringVar(&password, "password", "", "Password for encryption (will prompt if not provided)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-upload files that were already exported")
	flags.register(cmd)
	return cmd
}

// finishReport prints the report and turns per-item failures into a non-zero
// exit.
func finishReport(report *backup.Report, err error) error {
	if report != nil && (report.BackupDir != "" || len(report.Stopped) > 0) && !quiet {
		fmt.Print(report.Render())
	}
	if err != nil {
		return err
	}
	if failed := report.Artifacts().Failed() + report.Starts.Failed(); failed > 0 {
		return fmt.Errorf("%s completed with %d failures", report.Operation, failed)
	}
	return nil
}

func printBackups(client *backup.Client, entries []models.BackupEntry) {
	address := client.Target().DisplayAddress
	if len(entries) == 0 {
		fmt.Println(ui.DimStyle.Render("No backups found on " + address))
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		date := "-"
		if !e.Time.IsZero() {
			date = e.Time.Format("2006-01-02 15:04:05")
		}
		volumes := "-"
		if e.Manifest != nil {
			volumes = strconv.Itoa(len(e.Manifest.Volumes))
		}
		rows = append(rows, []string{e.Name, date, strconv.Itoa(len(e.Archives)), volumes, ui.FormatSize(e.TotalSize())})
	}

	fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("Backups on %s (%d)", address, len(entries))))
	fmt.Println(ui.Table([]string{"backup", "date", "archives", "volumes", "size"}, rows))
}

// storageFlags selects an offsite storage backend.
type storageFlags struct {
	storageType  string
	path         string
	gcsBucket    string
	gcsProject   string
	gcsCredsFile string
	s3Bucket     string
	s3Region     string
	s3Endpoint   string
	s3AccessKey  string
	s3SecretKey  string
}

func (f *storageFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.storageType, "storage", storage.TypeLocal, "Storage backend type (local, gcs, s3)")
	flags.StringVar(&f.path, "storage-path", "./exports", "Directory to export to (for local storage)")

	// GCS flags
	flags.StringVar(&f.gcsBucket, "gcs-bucket", "", "GCS bucket name")
	flags.StringVar(&f.gcsProject, "gcs-project", "", "GCS project ID")
	flags.StringVar(&f.gcsCredsFile, "gcs-creds", "", "Path to GCS credentials file")

	// S3 flags
	flags.StringVar(&f.s3Bucket, "s3-bucket", "", "S3 bucket name")
	flags.StringVar(&f.s3Region, "s3-region", "us-east-1", "S3 region")
	flags.StringVar(&f.s3Endpoint, "s3-endpoint", "", "S3 endpoint (for S3-compatible services)")
	flags.StringVar(&f.s3AccessKey, "s3-access-key", "", "S3 access key")
	flags.StringVar(&f.s3SecretKey, "s3-secret-key", "", "S3 secret key")
}

func (f *storageFlags) config() (*storage.Config, error) {
	cfg := &storage.Config{Type: f.storageType}

	switch f.storageType {
	case storage.TypeLocal:
		cfg.Local = &storage.LocalConfig{BasePath: f.path}
	case storage.TypeGCS:
		if f.gcsBucket == "" {
			return nil, fmt.Errorf("GCS bucket is required when using GCS storage")
		}
		cfg.GCS = &storage.GCSConfig{
			Bucket:      f.gcsBucket,
			ProjectID:   f.gcsProject,
			Credentials: f.gcsCredsFile,
		}
	case storage.TypeS3:
		if f.s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required when using S3 storage")
		}
		cfg.S3 = &storage.S3Config{
			Bucket:    f.s3Bucket,
			Region:    f.s3Region,
			Endpoint:  f.s3Endpoint,
			AccessKey: f.s3AccessKey,
			SecretKey: f.s3SecretKey,
		}
	}
	return cfg, nil
}

func (f *storageFlags) backend(ctx context.Context) (storage.Backend, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	return storage.NewBackend(ctx, cfg)
}
