// Command tokensieve flags honeypot ERC-20 tokens by simulating transfers and
// swaps on a local fork of the chain. Nothing is ever broadcast.
//
// Usage:
//
//	tokensieve scan --config config.yaml
//	tokensieve token <pool address>
//	tokensieve serve
//	tokensieve verdicts --status honeypot
//	tokensieve gmx short --amount 0.01 --size 100 --symbol ETH
//	tokensieve init
//
// Required environment variables:
//
//	RPC_URL, unless rpc_url is set in the config or --rpc-url is passed.
//	GMX_RPC_URL for the gmx commands, unless gmx.rpc_url is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
)

var (
	flags config.Flags
	debug bool
)

func main() {
	root := &cobra.Command{
		Use:           "tokensieve",
		Short:         "Honeypot token classifier running on a forked chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.Register(root.PersistentFlags())
	root.PersistentFlags().BoolVar(&debug, "debug", false, "human readable debug logs")

	root.AddCommand(
		scanCmd(),
		tokenCmd(),
		serveCmd(),
		verdictsCmd(),
		gmxCmd(),
		initCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug || isatty.IsTerminal(os.Stderr.Fd()) {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// loadConfig reads the config named by the persistent flags of cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return flags.Get(cmd.Flags())
}
