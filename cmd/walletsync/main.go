package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"walletsync/pkg/client"
	"walletsync/pkg/config"
	"walletsync/pkg/macmodal"
	"walletsync/pkg/model"
	"walletsync/pkg/telemetry"
	"walletsync/pkg/version"
)

var (
	configFlag   string
	caFlag       string
	certFlag     string
	keyFlag      string
	insecureFlag bool
	walletFlag   string
	enterFlag    bool
	noCacheFlag  bool
	broadcastFlg bool
	onceFlag     bool

	rootCmd = &cobra.Command{
		Use:           "walletsync",
		Short:         "walletsync - send wallet widget events and watch for admin pushes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Build,
	}

	sendKeyCmd = &cobra.Command{
		Use:   "send-key <user-id> <keys>",
		Short: "Deliver a key event over both the API and the socket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			kt := model.KeyTypeChar
			if enterFlag {
				kt = model.KeyTypeEnter
			}
			res := c.SendKeyToBackend(cmd.Context(), args[0], kt, args[1], walletFlag)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("delivery failed: %s", res.Error)
			}
			return nil
		},
	}

	walletTypesCmd = &cobra.Command{
		Use:   "wallet-types <user-id>",
		Short: "List the wallet types configured for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			if noCacheFlag {
				c.ClearWalletTypesCache(args[0])
			}
			return printJSON(c.GetUserWalletTypes(cmd.Context(), args[0]))
		},
	}

	locationCmd = &cobra.Command{
		Use:   "location",
		Short: "Resolve this machine's public IP and location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			return printJSON(c.GetIPAndLocation(cmd.Context()))
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch <user-id>",
		Short: "Mount the modal trigger for a user and print every time it opens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, c, args[0])
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&caFlag, "ca", "", "CA file for backend TLS (optional)")
	rootCmd.PersistentFlags().StringVar(&certFlag, "cert", "", "client TLS certificate (for mTLS)")
	rootCmd.PersistentFlags().StringVar(&keyFlag, "key", "", "client TLS key (for mTLS)")
	rootCmd.PersistentFlags().BoolVar(&insecureFlag, "insecure", false, "skip TLS verify for backend (not recommended)")

	sendKeyCmd.Flags().StringVarP(&walletFlag, "wallet", "w", "", "wallet short key")
	sendKeyCmd.Flags().BoolVar(&enterFlag, "enter", false, "send an enter event instead of characters")
	walletTypesCmd.Flags().BoolVar(&noCacheFlag, "no-cache", false, "drop the cached list before fetching")
	watchCmd.Flags().BoolVar(&broadcastFlg, "broadcast", false, "also open on pushes without a user id")
	watchCmd.Flags().BoolVar(&onceFlag, "once", false, "exit after the first trigger")

	rootCmd.AddCommand(sendKeyCmd, walletTypesCmd, locationCmd, watchCmd)
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		telemetry.Flush()
		return 1
	}
	telemetry.Flush()
	return 0
}

// newClient loads configuration (defaults, then --config, then environment)
// and starts telemetry when a DSN is configured.
func newClient() (*client.Client, error) {
	cfg := config.New()
	if configFlag != "" {
		if err := cfg.LoadFile(configFlag); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	if err := telemetry.Init(cfg.Get().SentryDSN, version.Build); err != nil {
		log.Printf("sentry init failed: %v", err)
	}
	tc, err := buildTLSConfig(caFlag, certFlag, keyFlag, insecureFlag)
	if err != nil {
		return nil, err
	}
	c := client.New(cfg, &http.Client{Transport: &http.Transport{TLSClientConfig: tc}})
	c.Socket.SetTLSConfig(tc)
	return c, nil
}

func buildTLSConfig(caFile, certFile, keyFile string, insecure bool) (*tls.Config, error) {
	tc := &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec
	if caFile != "" {
		pool := x509.NewCertPool()
		data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
		tc.RootCAs = pool
	}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func watch(ctx context.Context, c *client.Client, userID string) error {
	fired := make(chan macmodal.Trigger, 1)
	for {
		eng := c.MountMacModal(ctx, userID, func(t macmodal.Trigger) { fired <- t }, broadcastFlg)
		select {
		case <-ctx.Done():
			eng.Unmount()
			return nil
		case t := <-fired:
			if err := printJSON(map[string]interface{}{
				"at":          time.Now().UTC().Format(time.RFC3339),
				"firedBy":     t.By.String(),
				"displayName": t.DisplayName,
				"push":        t.Push,
			}); err != nil {
				return err
			}
		}
		eng.Unmount()
		if onceFlag {
			return nil
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
