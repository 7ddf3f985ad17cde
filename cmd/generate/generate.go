package generate

import (
	"github.com/Mmx233/ChatRelay/cmd/generate/config"
	"github.com/Mmx233/ChatRelay/cmd/generate/secret"
	"github.com/spf13/cobra"
)

var (
	Cmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate resources",
		Args:  cobra.NoArgs,
	}
)

func init() {
	Cmd.AddCommand(config.Cmd)
	Cmd.AddCommand(secret.Cmd)
}
