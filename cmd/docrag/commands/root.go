// Package commands defines all Cobra CLI commands for the docrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag/internal/audit"
	"github.com/54b3r/docrag/internal/config"
	"github.com/54b3r/docrag/internal/logging"
)

var (
	// configPath holds the --config flag value.
	configPath string
	// envFile holds the --env-file flag value.
	envFile string
	// loadedConfigPath stores the resolved config file path for audit logging.
	loadedConfigPath string
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "docrag answers questions from the documents you upload",
		Long: `docrag indexes an uploaded document (PDF, DOCX, markdown, text) into a
vector store and answers natural language questions from its contents,
citing the passages it used.

Settings come from the environment, a .env file, and an optional YAML file
(~/.docrag/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env first so LOG_LEVEL and friends apply to the logger below.
			dotenv, err := config.LoadDotEnv(envFile)
			if err != nil {
				return err
			}
			log := logging.New()
			if dotenv {
				log.Debug("config: loaded .env file", "path", envFile)
			}

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docrag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
