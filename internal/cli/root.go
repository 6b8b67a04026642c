// Package cli implements the appstatus command line.
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// ErrDiscrepancies is returned by commands run with --fail-on-diff when the
// report is not empty.
var ErrDiscrepancies = errors.New("network file does not match the ledger")

var (
	cfgFile string
	server  string
	apiKey  string
)

// Execute runs the CLI
func Execute(version string) error {
	rootCmd := &cobra.Command{
		Use:           "appstatus",
		Short:         "Compare a zos network file with the app deployed on chain",
		Long:          `appstatus reconciles a zos.<network>.json network file against the application state recorded on the ledger and reports every discrepancy.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: appstatus.toml or .appstatus.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "status server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the status server")

	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createRunsCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd.Execute()
}

// getServer returns the server URL from flag, env, config file, or global config
func getServer() string {
	if server != "" {
		return server
	}

	if env := os.Getenv("APPSTATUS_SERVER"); env != "" {
		return env
	}

	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	if global := loadGlobalConfig(); global != nil && global.Server != "" {
		return global.Server
	}

	return "http://localhost:8080"
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}

	if env := os.Getenv("APPSTATUS_API_KEY"); env != "" {
		return env
	}

	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}
