package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal"
	"github.com/vadiminshakov/tokensieve/internal/clients"
	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/report"
	"github.com/vadiminshakov/tokensieve/internal/services/gmx"
	"github.com/vadiminshakov/tokensieve/internal/services/pricer"
	"github.com/vadiminshakov/tokensieve/internal/setup"
	"github.com/vadiminshakov/tokensieve/internal/storage/verdicts"
	"github.com/vadiminshakov/tokensieve/pkg/retrier"
)

// withScanner runs fn with a scanner wired from the command flags.
func withScanner(cmd *cobra.Command, fn func(s *internal.Scanner) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	client, err := clients.DialEth(ctx, cfg.RPCURL, cfg.RequestsPerSecond, logRetries(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	scanner, err := internal.NewScanner(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := scanner.Close(); err != nil {
			logger.Warn("failed to close verdict journal", zap.Error(err))
		}
	}()

	return fn(scanner)
}

func logRetries(logger *zap.Logger) retrier.Option {
	return retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		logger.Debug("rpc call failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})
}

func scanCmd() *cobra.Command {
	var tradable bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Classify the tokens of every configured pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScanner(cmd, func(s *internal.Scanner) error {
				result, err := s.Scan(cmd.Context())
				if perr := report.Print(cmd.OutOrStdout(), result); perr != nil {
					return perr
				}
				if err != nil {
					return err
				}
				if !tradable {
					return nil
				}
				return printTradable(cmd, s)
			})
		},
	}
	cmd.Flags().BoolVar(&tradable, "tradable", false, "also list pools whose both tokens are trusted")
	return cmd
}

func printTradable(cmd *cobra.Command, s *internal.Scanner) error {
	list := make([]domain.Pool, 0)
	for _, v := range s.Verdicts() {
		list = append(list, domain.Pool{Address: v.Pool, Token0: v.Token.Address, Token1: v.Reference})
	}
	pools, err := s.Tradable(list)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d tradable pools\n", len(pools))
	for _, p := range pools {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s/%s\n", p.Address.Hex(), p.Token0.Hex(), p.Token1.Hex())
	}
	return nil
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <pool address>",
		Short: "Classify the token traded in one pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return errors.Errorf("invalid pool address %q", args[0])
			}
			pool := common.HexToAddress(args[0])
			return withScanner(cmd, func(s *internal.Scanner) error {
				v, err := s.Token(cmd.Context(), pool)
				if err != nil {
					return err
				}
				return report.Print(cmd.OutOrStdout(), []domain.Verdict{v})
			})
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Scan, serve verdicts over HTTP and rescan when the pools file changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScanner(cmd, func(s *internal.Scanner) error {
				return s.Serve(cmd.Context())
			})
		},
	}
}

func verdictsCmd() *cobra.Command {
	var (
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "verdicts",
		Short: "Print the journaled verdicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := verdicts.NewWALStore(cfg.WALDir)
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.Verdicts()
			if err != nil {
				return err
			}
			out := all[:0]
			for _, v := range all {
				if status == "" || string(v.Status) == status {
					out = append(out, v)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return report.Print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only verdicts with this status: safe, honeypot or inconclusive")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func gmxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gmx",
		Short: "Simulate GMX v2 orders on a fork",
	}
	cmd.AddCommand(gmxShortCmd())
	return cmd
}

func gmxShortCmd() *cobra.Command {
	var (
		owner  string
		amount string
		size   string
		symbol string
	)
	cmd := &cobra.Command{
		Use:   "short",
		Short: "Build a WETH collateral short order and simulate it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.GMX.RPCURL == "" {
				return errors.New("gmx rpc url is not set: use 'gmx.rpc_url' in yaml config or the GMX_RPC_URL env variable")
			}
			req, err := shortRequest(cfg.GMX, owner, amount, size, symbol)
			if err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			client, err := clients.DialEth(cmd.Context(), cfg.GMX.RPCURL, cfg.RequestsPerSecond, logRetries(logger))
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := internal.SimulateShort(cmd.Context(), cfg.GMX, client, req, logger)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "to:       %s\n", res.Order.To.Hex())
			fmt.Fprintf(w, "value:    %s\n", res.Order.Value)
			fmt.Fprintf(w, "calldata: %s\n", hexutil.Encode(res.Order.Calldata))
			for i, r := range res.Results {
				fmt.Fprintf(w, "result %d: %s\n", i, hexutil.Encode(r))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", config.DefaultSender.Hex(), "position owner and order sender")
	cmd.Flags().StringVar(&amount, "amount", "0.01", "WETH collateral in whole tokens")
	cmd.Flags().StringVar(&size, "size", "100", "position size in USD")
	cmd.Flags().StringVar(&symbol, "symbol", "ETH", "index token symbol pricing the order, empty accepts any price")
	return cmd
}

func shortRequest(cfg config.GMX, owner, amount, size, symbol string) (gmx.ShortRequest, error) {
	if !common.IsHexAddress(owner) {
		return gmx.ShortRequest{}, errors.Errorf("invalid owner address %q", owner)
	}
	collateral, err := decimal.NewFromString(amount)
	if err != nil || !collateral.IsPositive() {
		return gmx.ShortRequest{}, errors.Errorf("invalid --amount %q", amount)
	}
	sizeUSD, err := decimal.NewFromString(size)
	if err != nil || !sizeUSD.IsPositive() {
		return gmx.ShortRequest{}, errors.Errorf("invalid --size %q", size)
	}

	var decimals int32
	if symbol != "" {
		d, ok := pricer.DefaultDecimals[symbol]
		if !ok {
			return gmx.ShortRequest{}, errors.Errorf("unknown index symbol %q", symbol)
		}
		decimals = d
	}

	return gmx.ShortRequest{
		Owner:            common.HexToAddress(owner),
		Collateral:       cfg.WETH,
		CollateralAmount: collateral.Shift(18).BigInt(),
		SizeUSD:          sizeUSD,
		IndexSymbol:      symbol,
		IndexDecimals:    decimals,
	}, nil
}

func initCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := setup.RunTUI(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", setup.DefaultFile, "file to write")
	return cmd
}
