package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/verifier/pkg/client"
)

const defaultServer = "http://localhost:8050"

var (
	cfgFile      string
	server       string
	outputFormat string
	cliVersion   = "dev"
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cliVersion = version

	rootCmd := &cobra.Command{
		Use:     "verifier",
		Short:   "Smart contract source verification CLI",
		Long:    `verifier submits contract sources to a verifier server, compares them with deployed bytecode, and looks up verified sources for on-chain code.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateOutputFormat(outputFormat)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: verifier.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")

	// Add subcommands
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createSearchCmd())
	rootCmd.AddCommand(createCompilersCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, project config, or global config
func getServer() string {
	// 1. Command line flag
	if server != "" {
		return server
	}

	// 2. Environment variable
	if env := os.Getenv("VERIFIER_SERVER"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	// 4. Global config file (YAML)
	if global, err := loadGlobalConfig(); err == nil && global.Server != "" {
		return global.Server
	}

	// 5. Default
	return defaultServer
}

func newClient() *client.Client {
	return client.New(getServer(), client.WithUserAgent("verifier-cli/"+cliVersion))
}
