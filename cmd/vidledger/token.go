package main

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/VideoAccessLedger/internal/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	tokenRole   string
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <principal>",
	Short: "Mint a principal token with the gateway's shared secret (operators only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("token_secret")
		}
		issuer, err := identity.NewPrincipalIssuer(secret, tokenIssuer, tokenTTL)
		if err != nil {
			return fmt.Errorf("token: %w (set --secret or token_secret)", err)
		}
		tok, err := issuer.Issue(args[0], tokenRole)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(map[string]string{"principal": args[0], "role": tokenRole, "token": tok})
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", identity.RoleUser, "Token role: user or observer")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 secret (default token_secret from config)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "vidledger", "Token issuer; must match the gateway's auth.issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
