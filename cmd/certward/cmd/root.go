package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jmcleod/certward/config"
	"github.com/jmcleod/certward/internal/logging"
	"github.com/jmcleod/certward/journal"
	"github.com/jmcleod/certward/reconcile"
	"github.com/jmcleod/certward/storage/filesystem"
)

var (
	cfgFile   string
	outDir    string
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "certward",
	Short: "CertWard provisions and reconciles a private certificate authority",
	Long: `A private CA manager that reconciles a declared network of sites against
persisted key material, regenerating only what drifted or is near expiry.
Complete documentation is available at https://github.com/jmcleod/certward`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "certward.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&outDir, "out", "", "Output directory for key material (overrides output_dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", true, "Human-readable log output")
}

// loadConfig loads the configuration file and applies flag overrides.
// The pretty flag only overrides the file when set explicitly.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if outDir != "" {
		cfg.OutputDir = outDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if rootCmd.PersistentFlags().Changed("pretty") {
		cfg.Log.Pretty = logPretty
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
}

// newDriver builds a reconciliation driver over the configured output
// directory, with a journal attached when one is configured. The
// returned cleanup func closes the journal.
func newDriver(cfg *config.Config, logger zerolog.Logger) (*reconcile.Driver, func(), error) {
	store, err := filesystem.New(cfg.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	driver := reconcile.NewDriver(store, cfg.Policy(), logger)
	cleanup := func() {}
	if cfg.Journal != "" {
		jnl, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		driver.WithJournal(jnl)
		cleanup = func() { jnl.Close() }
	}
	return driver, cleanup, nil
}
