package run

import (
	"github.com/Mmx233/ChatRelay/config"
	"github.com/Mmx233/ChatRelay/tools"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string

	Cmd = &cobra.Command{
		Use:   "run",
		Short: "Run chatrelay server or client",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Root().PersistentPreRun != nil {
				cmd.Root().PersistentPreRun(cmd, args)
			}
			return loadEnv(cmd)
		},
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path of config file, or "+config.EnvPrefix+"CONFIG")
	Cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	Cmd.AddCommand(serverCmd)
	Cmd.AddCommand(clientCmd)
}

// loadEnv reads the dotenv file, then resolves the config path from the
// environment unless --config was given.
func loadEnv(cmd *cobra.Command) error {
	if err := godotenv.Load(envFile); err != nil {
		if cmd.Flags().Changed("env-file") {
			return err
		}
		log.Debug().Err(err).Str("file", envFile).Msg("no dotenv file loaded")
	}
	if !cmd.Flags().Changed("config") {
		configFile = tools.GetenvDefault(config.EnvPrefix+"CONFIG", configFile)
	}
	return nil
}
