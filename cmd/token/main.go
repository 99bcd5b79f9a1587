// Command token mints an operator JWT for the protected /sync endpoints.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	jwtmw "price_history/internal/platform/jwt"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Print a signed operator token (JWT_SECRET must be set)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env が無い場合は無視する
			_ = godotenv.Load()

			gen := jwtmw.NewGenerator(os.Getenv(jwtmw.EnvKeyJWTSecret), ttl)
			token, err := gen.GenerateToken(subject, scopes...)
			if err != nil {
				return fmt.Errorf("%s: %w", jwtmw.EnvKeyJWTSecret, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "operator", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{jwtmw.ScopeSync}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
