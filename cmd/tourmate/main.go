// Command tourmate is a cultural tour companion: stage a photo of a
// landmark or artwork and ask about it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/culturaltourmate/tourmate/internal/logging"
	"github.com/culturaltourmate/tourmate/pkg/config"
	metrics "github.com/culturaltourmate/tourmate/pkg/observability"
)

// Version information (set via ldflags)
var Version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	provider   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tourmate",
		Short: "Your cultural companion on tour",
		Long: `tourmate answers questions about photos of landmarks, artifacts and artworks.

Stage an image, ask a question, and follow up on the answer. Credentials are
read from the environment, a .env file or the config file:

  GOOGLE_API_KEY (or API_KEY)   Gemini
  GOOGLE_CLOUD_PROJECT          Vertex AI
  OPENAI_API_KEY                OpenAI

Quick Start:
  tourmate chat                                  # interactive session
  tourmate ask --image temple.jpg "What is this?"
  tourmate serve                                 # HTTP API + metrics`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", os.Getenv("TOURMATE_CONFIG"), "Config file (YAML)")
	flags.StringVar(&o.envFile, "env-file", ".env", "Dotenv file with credentials")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&o.provider, "provider", "p", "", "Generation service (gemini, vertexai, openai, mock)")

	cmd.SetVersionTemplate(`{{printf "tourmate %s\n" .Version}}`)

	cmd.AddCommand(
		newChatCmd(o),
		newAskCmd(o),
		newServeCmd(o),
		newHistoryCmd(o),
		newConfigCmd(o),
		newVersionCmd(),
	)
	return cmd
}

// load reads .env, the config file and flag overrides, then installs the
// logger.
func (o *rootOptions) load() error {
	if o.envFile != "" {
		config.LoadDotEnv(o.envFile)
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.provider != "" {
		cfg.Provider = o.provider
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	metrics.SetVersion(Version)

	o.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
