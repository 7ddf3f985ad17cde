package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/Mmx233/ChatRelay/config"
	"github.com/spf13/cobra"
)

var (
	size int
	Cmd  = &cobra.Command{
		Use:   "secret",
		Short: "Generate a JWT signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := Generate(size)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), secret)
			return err
		},
	}
)

func init() {
	Cmd.Flags().IntVarP(&size, "bytes", "b", 48, "random bytes before encoding")
}

// Generate returns n random bytes encoded as URL-safe base64. n must reach
// the minimum secret size accepted by the server config.
func Generate(n int) (string, error) {
	if n < config.MinJWTSecretSize {
		return "", fmt.Errorf("secret must be at least %d bytes, got %d", config.MinJWTSecretSize, n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
