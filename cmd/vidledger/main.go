package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/jmerrifield20/VideoAccessLedger/internal/ingest"
	"github.com/jmerrifield20/VideoAccessLedger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	gatewayURL   string
	token        string
	ipfsGateway  string
	outputFormat string
	cfgFile      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vidledger",
	Short: "Video access ledger CLI",
	Long: `vidledger lists paid video assets, buys access to them and inspects
the access ledger's event journal through a vidledger gateway.

Settings are read from ~/.vidledger/config.yaml (gateway_url, token,
ipfs_gateway, token_secret) and VIDLEDGER_* environment variables; flags
take precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.vidledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("vidledger")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if gatewayURL == "" {
			gatewayURL = viper.GetString("gateway_url")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
		if ipfsGateway == "" {
			ipfsGateway = viper.GetString("ipfs_gateway")
		}
		if outputFormat != "text" && outputFormat != "json" {
			return fmt.Errorf("--format must be text or json, got %q", outputFormat)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.vidledger/config.yaml)")
	pf.StringVar(&gatewayURL, "gateway", "", "gateway base URL (default http://localhost:8080)")
	pf.StringVar(&token, "token", "", "principal token")
	pf.StringVar(&ipfsGateway, "ipfs-gateway", "", "URL template for rendering locators (default "+ingest.DefaultGatewayTemplate+")")
	pf.StringVar(&outputFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vidledger CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vidledger %s\n", version)
	},
}

func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(gatewayURL, opts...)
}

// parsePrice accepts a non-negative integer amount in the smallest
// currency unit. Decimal amounts are rejected rather than rounded.
func parsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, ".,eE") {
		return 0, fmt.Errorf("price %q must be an integer in the smallest currency unit", s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("price must not be negative, got %d", v)
	}
	return v, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid listing id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}
