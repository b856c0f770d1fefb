package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/config"
	"github.com/y0f/probeboard/internal/healthcheck"
	"github.com/y0f/probeboard/internal/logging"
	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "probeboard",
	Short: "Health checks for SOAP and REST services",
	Long: `probeboard registers SOAP and REST services, probes them on demand and
validates every response against declarative rules.

Commands:
  serve    - Run the HTTP API and live check stream
  check    - Check registered services once and exit non-zero on failure
  wsdl     - Inspect a WSDL or call one of its operations
  export   - Back up service definitions to a file or S3
  import   - Restore service definitions from a backup`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("probeboard %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(wsdlCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config. The default path may be missing, in which case
// the built-in defaults apply.
func loadConfig() (*config.Config, error) {
	optional := !rootCmd.PersistentFlags().Changed("config")
	return config.Load(configPath, optional)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	return logging.New(os.Stderr, cfg.Level, cfg.Format)
}

// app holds the components shared by serve and check.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStore
	soap     *checker.SOAPChecker
	registry *registry.Registry
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database opened", "path", cfg.Database.Path)

	transport := cfg.Transport()
	checkers := checker.DefaultRegistry(transport)
	executor := healthcheck.NewExecutor(checkers, cfg.Checks.Timeout, logger)
	reg := registry.New(store, executor, cfg.Checks.Workers, logger)
	if err := reg.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		soap:     &checker.SOAPChecker{Transport: transport, Timeout: cfg.Checks.Timeout},
		registry: reg,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
}
