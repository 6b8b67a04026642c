package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"appstatus.toml", ".appstatus.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server      string  `toml:"server"`
	Network     string  `toml:"network,omitempty"`
	Dir         string  `toml:"dir,omitempty"`
	Match       string  `toml:"match,omitempty"`
	From        string  `toml:"from,omitempty"`
	FromBlock   uint64  `toml:"from_block,omitempty"`
	Concurrency int     `toml:"concurrency,omitempty"`
	RPS         float64 `toml:"rps,omitempty"`
	// Networks maps network names to RPC endpoints
	Networks map[string]string `toml:"networks,omitempty"`
}

// GlobalConfig is the user configuration stored in ~/.appstatus/config.yaml
type GlobalConfig struct {
	Server string `yaml:"server"`
	// Networks maps network names to RPC endpoints shared by all projects
	Networks map[string]string `yaml:"networks,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var network string
	var rpcURL string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create an appstatus.toml configuration file in the current directory.

The file stores the status server URL, the default network and the RPC
endpoint of each network.

EXAMPLES:
  # Create config for a local node
  appstatus config init --network dev --rpc http://localhost:8545

  # Overwrite existing config
  appstatus config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), "appstatus.toml", serverURL, network, rpcURL, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "status server URL")
	cmd.Flags().StringVar(&network, "network", "", "default network")
	cmd.Flags().StringVar(&rpcURL, "rpc", "", "RPC endpoint of the default network")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows the project config (appstatus.toml), the global config in
~/.appstatus/config.yaml and the stored credentials.

EXAMPLES:
  appstatus config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigInit(out io.Writer, configPath, serverURL, network, rpcURL string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}
	if rpcURL != "" && network == "" {
		return fmt.Errorf("--rpc needs --network")
	}

	config := ProjectConfig{
		Server:  serverURL,
		Network: network,
		Dir:     ".",
		Match:   "scan",
	}
	if rpcURL != "" {
		config.Networks = map[string]string{network: rpcURL}
	}

	f, err := os.OpenFile(configPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# appstatus project configuration")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Add the RPC endpoint of each network under [networks] in %s\n", configPath)
	fmt.Fprintln(out, "  2. Run 'appstatus status --network <name>' to compare zos.<name>.json with the ledger")

	return nil
}

func runConfigShow(out io.Writer) error {
	fmt.Fprintln(out, "Configuration sources (in order of precedence):")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "   --server, --api-key, --config, --rpc, --network")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "2. Environment variables")
	for _, name := range []string{"APPSTATUS_SERVER", "APPSTATUS_API_KEY", "APPSTATUS_NETWORK", "APPSTATUS_RPC_URL"} {
		value := os.Getenv(name)
		switch {
		case value == "":
			value = "(not set)"
		case name == "APPSTATUS_API_KEY":
			value = maskAPIKey(value)
		}
		fmt.Fprintf(out, "   %s=%s\n", name, value)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "3. Project config (appstatus.toml or .appstatus.toml)")
	projectConfig, configPath, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	default:
		fmt.Fprintf(out, "   Loaded from: %s\n", configPath)
		printField(out, "server", projectConfig.Server)
		printField(out, "network", projectConfig.Network)
		printField(out, "dir", projectConfig.Dir)
		printField(out, "match", projectConfig.Match)
		printField(out, "from", projectConfig.From)
		printNetworks(out, projectConfig.Networks)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "4. Global config (~/.appstatus/config.yaml)")
	if global := loadGlobalConfig(); global == nil {
		fmt.Fprintln(out, "   (not found)")
	} else {
		printField(out, "server", global.Server)
		printNetworks(out, global.Networks)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "5. Credentials (~/.appstatus/credentials)")
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	case len(creds.Servers) == 0:
		fmt.Fprintln(out, "   (no credentials stored)")
	default:
		for _, s := range sortedKeys(creds.Servers) {
			fmt.Fprintf(out, "   %s: %s\n", s, maskAPIKey(creds.Servers[s].APIKey))
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Effective configuration:")
	fmt.Fprintf(out, "   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Fprintf(out, "   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Fprintln(out, "   API Key: (not set)")
	}

	return nil
}

func printField(out io.Writer, name, value string) {
	if value != "" {
		fmt.Fprintf(out, "   %s: %s\n", name, value)
	}
}

func printNetworks(out io.Writer, networks map[string]string) {
	for _, name := range sortedKeys(networks) {
		fmt.Fprintf(out, "   networks.%s: %s\n", name, networks[name])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return config, cfgFile, nil
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return config, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Parse failures are reported on stderr.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}

// loadGlobalConfig returns nil when the global config is missing or unreadable.
func loadGlobalConfig() *GlobalConfig {
	data, err := os.ReadFile(filepath.Join(credentialsDir(), "config.yaml"))
	if err != nil {
		return nil
	}
	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to parse global config: %v\n", err)
		return nil
	}
	return &config
}
