package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wipecert/internal/config"
	"wipecert/internal/logging"
	"wipecert/internal/reporting"
)

const (
	Version = "1.0.0"
	AppName = "wipecert"

	// Exit codes
	EXIT_SUCCESS = 0
	EXIT_ERROR   = 1
	EXIT_WARNING = 2
)

var (
	cfg        *config.Config
	logger     *logging.EnterpriseLogger
	verbose    bool
	configPath string
	profile    string
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:           AppName,
	Short:         "Secure device erasure with tamper-evident certificates",
	Long:          "wipecert overwrites storage devices, verifies the result and records every session in a signed, hash-linked certificate chain.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		if profile != "" {
			if err := config.ApplyProfile(cfg, profile); err != nil {
				return fmt.Errorf("error applying profile %s: %w", profile, err)
			}
		}
		logger, err = logging.NewEnterpriseLogger(cfg, verbose)
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		if profile != "" {
			logger.Log("INFO", "profile applied", "profile", profile)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	reporting.Version = Version

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose console output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Performance profile (safe/balanced/fast)")

	rootCmd.AddCommand(newWipeCmd(), newVerifyCmd(), newChainCmd(), newKeygenCmd(), newServeCmd(),
		newDiagnoseCmd(), newDevicesCmd())
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(EXIT_SUCCESS)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(EXIT_ERROR)
}
