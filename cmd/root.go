// Package cmd implements the textflow command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/textflow/internal/config"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	v       *viper.Viper
	// cfgErr is reported by commands that need configuration.
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "textflow",
	Short: "Durable text analysis workflows",
	Long: `textflow runs durable text analysis workflows. Each analysis scores
sentiment, summarizes and extracts topics in parallel, then returns one
aggregated result. Run 'textflow daemon' to serve the engine, and the
analyze, start, status and cancel commands to drive it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .textflow/config.yaml, then ~/.config/textflow/config.yaml)")
}

func initConfig() {
	v = viper.New()
	if cfgErr = config.Prepare(v, cfgFile); cfgErr != nil {
		return
	}
	cfg, cfgErr = config.Load(v)
}

// requireConfig is a PersistentPreRunE for commands that need a valid config.
func requireConfig(_ *cobra.Command, _ []string) error {
	if cfgErr != nil {
		return fmt.Errorf("loading config: %w", cfgErr)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

// SetVersion sets the version string shown by --version.
func SetVersion(ver string) {
	version = ver
	rootCmd.Version = ver
}
