package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/y0f/probeboard/internal/backup"
	"github.com/y0f/probeboard/internal/config"
)

var (
	backupFile string
	backupKey  string
	s3Flags    config.S3Config
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a backup of all service definitions",
	Long: `Write every service definition, credentials included, as a JSON backup.
The backup goes to --file, or to S3 when a bucket is configured and --file
is not given. Without either it is printed to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		a, err := newApp(ctx, cfg, setupLogger(cfg.Logging))
		if err != nil {
			return err
		}
		defer a.Close()

		doc := backup.New(a.registry.List(ctx))
		s3cfg := mergeS3(cfg.Backup.S3)

		switch {
		case backupFile == "-" || (backupFile == "" && s3cfg.Bucket == ""):
			return doc.Encode(os.Stdout)
		case backupFile != "":
			return writeBackupFile(backupFile, doc)
		}

		store, err := backup.NewS3Store(s3cfg)
		if err != nil {
			return err
		}
		key := backupKey
		if key == "" {
			key = backup.DefaultKey(doc)
		}
		uri, err := store.Put(ctx, key, doc)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "exported %d services to %s\n", len(doc.Services), uri)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Restore service definitions from a backup",
	Long: `Restore a backup written by export or GET /api/v1/export. Services whose id
exists are updated, the rest are added. Nothing is written if any service in
the backup is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		doc, err := readBackup(ctx, cfg)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, setupLogger(cfg.Logging))
		if err != nil {
			return err
		}
		defer a.Close()

		created, updated, err := backup.Apply(ctx, a.registry, doc.Services)
		if err != nil {
			return fmt.Errorf("import stopped after %d services: %w", created+updated, err)
		}
		fmt.Fprintf(os.Stderr, "imported %d services (%d created, %d updated)\n", created+updated, created, updated)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().StringVarP(&backupFile, "file", "f", "", `backup file path, "-" for stdout/stdin`)
		c.Flags().StringVar(&backupKey, "s3-key", "", "object key inside the bucket prefix")
		c.Flags().StringVar(&s3Flags.Bucket, "s3-bucket", "", "S3 bucket (overrides backup.s3.bucket)")
		c.Flags().StringVar(&s3Flags.Prefix, "s3-prefix", "", "S3 key prefix (overrides backup.s3.prefix)")
		c.Flags().StringVar(&s3Flags.Region, "s3-region", "", "S3 region (overrides backup.s3.region)")
		c.Flags().StringVar(&s3Flags.Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")
		rootCmd.AddCommand(c)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// mergeS3 lets command-line flags override the configured bucket settings.
func mergeS3(base config.S3Config) backup.S3Config {
	out := backup.S3Config{
		Bucket:   base.Bucket,
		Prefix:   base.Prefix,
		Region:   base.Region,
		Endpoint: base.Endpoint,
	}
	if s3Flags.Bucket != "" {
		out.Bucket = s3Flags.Bucket
	}
	if s3Flags.Prefix != "" {
		out.Prefix = s3Flags.Prefix
	}
	if s3Flags.Region != "" {
		out.Region = s3Flags.Region
	}
	if s3Flags.Endpoint != "" {
		out.Endpoint = s3Flags.Endpoint
	}
	return out
}

func readBackup(ctx context.Context, cfg *config.Config) (*backup.Document, error) {
	s3cfg := mergeS3(cfg.Backup.S3)
	switch {
	case backupFile == "-":
		return backup.Decode(os.Stdin)
	case backupFile != "":
		f, err := os.Open(backupFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return backup.Decode(f)
	case s3cfg.Bucket != "" && backupKey != "":
		store, err := backup.NewS3Store(s3cfg)
		if err != nil {
			return nil, err
		}
		return store.Get(ctx, backupKey)
	}
	return nil, fmt.Errorf("import needs --file, or --s3-key with a configured bucket")
}

func writeBackupFile(path string, doc *backup.Document) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := doc.Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d services to %s\n", len(doc.Services), path)
	return nil
}
