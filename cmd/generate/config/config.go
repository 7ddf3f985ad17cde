package config

import (
	"fmt"
	"os"

	"github.com/Mmx233/ChatRelay/examples"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string

	Cmd = &cobra.Command{
		Use:   "config",
		Short: "Generate configuration files",
		Args:  cobra.NoArgs,
	}

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "Generate server configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTemplate("server", examples.ServerConfig, configFile)
		},
	}

	ClientCmd = &cobra.Command{
		Use:   "client",
		Short: "Generate client configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeTemplate("client", examples.ClientConfig, configFile)
		},
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "output config file path")
	Cmd.AddCommand(ServerCmd)
	Cmd.AddCommand(ClientCmd)
}

// writeTemplate writes an embedded template to path, refusing to overwrite.
func writeTemplate(kind string, load func() ([]byte, error), path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	}

	content, err := load()
	if err != nil {
		return fmt.Errorf("load %s config template: %w", kind, err)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	log.Info().Str("com", "generate").Str("file", path).Msgf("generated %s configuration", kind)
	return nil
}
