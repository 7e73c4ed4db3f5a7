package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/verifier/internal/foundry"
)

// projectConfigFile is the project-level config file name
const projectConfigFile = "verifier.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server          string `toml:"server"`
	Language        string `toml:"language,omitempty"`
	CompilerVersion string `toml:"compiler_version,omitempty"`
	ChainID         string `toml:"chain_id,omitempty"`
	// Foundry points at a Foundry project whose build-info supplies inputs
	Foundry string `toml:"foundry,omitempty"`
}

// GlobalConfig is the user configuration (stored in ~/.verifier/config.yaml)
type GlobalConfig struct {
	Server string `yaml:"server"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())
	cmd.AddCommand(createConfigSetServerCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var compilerVersion string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a verifier.toml configuration file in the current directory.

This file stores project defaults such as the server URL and compiler
version, so they don't need to be passed on every verify call.

EXAMPLES:
  # Create config with default server
  verifier config init

  # Pin a compiler version
  verifier config init --compiler v0.8.28+commit.7893614a

  # Overwrite existing config
  verifier config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(projectConfigFile, serverURL, compilerVersion, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server URL")
	cmd.Flags().StringVar(&compilerVersion, "compiler", "", "default compiler version")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows both the local project config (verifier.toml) and the global config from ~/.verifier/config.yaml.

EXAMPLES:
  verifier config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func createConfigSetServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-server <url>",
		Short: "Store the default server in the global config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := saveGlobalConfig(&GlobalConfig{Server: args[0]}); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Printf("✅ Default server set to %s\n", args[0])
			fmt.Printf("   Saved to %s\n", globalConfigPath())
			return nil
		},
	}
}

func runConfigInit(configPath, serverURL, compilerVersion string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	config := ProjectConfig{
		Server:          serverURL,
		Language:        "solidity",
		CompilerVersion: compilerVersion,
	}
	if ok, _ := foundry.Detect("."); ok {
		config.Foundry = "."
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# verifier project configuration")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Server:   %s\n", serverURL)
	if config.Foundry != "" {
		fmt.Println("  Foundry:  detected, inputs are read from out/build-info")
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to customize settings\n", configPath)
	fmt.Println("  2. Run 'verifier verify --contract Name --runtime-code 0x...' to verify")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	// 1. Command line flags
	fmt.Println("1. Command line flags")
	fmt.Println("   --server, --config, --output")
	fmt.Println()

	// 2. Environment variables
	fmt.Println("2. Environment variables")
	if serverEnv := os.Getenv("VERIFIER_SERVER"); serverEnv != "" {
		fmt.Printf("   VERIFIER_SERVER=%s\n", serverEnv)
	} else {
		fmt.Println("   VERIFIER_SERVER=(not set)")
	}
	fmt.Println()

	// 3. Local project config
	fmt.Printf("3. Local project config (%s)\n", projectConfigFile)
	projectConfig, configPath, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", configPath)
		if projectConfig.Server != "" {
			fmt.Printf("   server: %s\n", projectConfig.Server)
		}
		if projectConfig.Language != "" {
			fmt.Printf("   language: %s\n", projectConfig.Language)
		}
		if projectConfig.CompilerVersion != "" {
			fmt.Printf("   compiler_version: %s\n", projectConfig.CompilerVersion)
		}
		if projectConfig.ChainID != "" {
			fmt.Printf("   chain_id: %s\n", projectConfig.ChainID)
		}
		if projectConfig.Foundry != "" {
			fmt.Printf("   foundry: %s\n", projectConfig.Foundry)
		}
	}
	fmt.Println()

	// 4. Global config
	fmt.Println("4. Global config (~/.verifier/config.yaml)")
	global, err := loadGlobalConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else if global.Server != "" {
		fmt.Printf("   server: %s\n", global.Server)
	}
	fmt.Println()

	// Effective config
	fmt.Println("Effective configuration:")
	fmt.Printf("   Server:  %s\n", getServer())

	return nil
}

// loadProjectConfig loads the project config from --config or verifier.toml.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := projectConfigFile
	if cfgFile != "" {
		path = cfgFile
	}
	config, err := loadProjectConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
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
// Returns nil if the file doesn't exist, but warns on parse failures.
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

// Global config helpers

func globalConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".verifier"
	}
	return filepath.Join(home, ".verifier")
}

func globalConfigPath() string {
	return filepath.Join(globalConfigDir(), "config.yaml")
}

func loadGlobalConfig() (*GlobalConfig, error) {
	data, err := os.ReadFile(globalConfigPath())
	if err != nil {
		return nil, err
	}

	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func saveGlobalConfig(config *GlobalConfig) error {
	if err := os.MkdirAll(globalConfigDir(), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(globalConfigPath(), data, 0600)
}
