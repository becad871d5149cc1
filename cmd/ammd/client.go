package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/defistate/defistate-amm/rpcapi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

// --- VISUAL CONSTANTS ---
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Green = "\033[32m"
	Cyan  = "\033[36m"
	Gray  = "\033[37m"

	watchBufferSize = 100
)

// header prints a styled section header
func header(w io.Writer, title string) {
	fmt.Fprintln(w, "\n"+Bold+Cyan+":: "+title+" ::"+Reset)
}

type quoteOptions struct {
	Amount   string
	Path     []string
	ExactOut bool
	Best     bool
	MaxHops  int
}

func newQuoteCommand(root *rootOptions) *cobra.Command {
	opts := &quoteOptions{}
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a swap along a path against live reserves",
		Example: `  ammd quote --amount 10e18 --path 0xA...,0xB...
  ammd quote --amount 5000000 --path 0xA...,0xC... --best`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(opts.Amount)
			if err != nil {
				return err
			}
			path, err := parsePath(opts.Path)
			if err != nil {
				return err
			}
			if opts.Best && opts.ExactOut {
				return errors.New("--best only supports exact-input quotes")
			}

			ctx := commandContext(cmd)
			client, err := rpcapi.Dial(ctx, root.RPCURL)
			if err != nil {
				return err
			}
			defer client.Close()

			var amounts []*big.Int
			switch {
			case opts.Best:
				path, amounts, err = client.BestPath(ctx, amount, path[0], path[len(path)-1], opts.MaxHops)
			case opts.ExactOut:
				amounts, err = client.GetAmountsIn(ctx, amount, path)
			default:
				amounts, err = client.GetAmountsOut(ctx, amount, path)
			}
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), path, amounts)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Amount, "amount", "a", "", "amount in base units; decimal, 0x hex or scientific like 10e18")
	cmd.Flags().StringSliceVarP(&opts.Path, "path", "p", nil, "comma separated token addresses")
	cmd.Flags().BoolVar(&opts.ExactOut, "exact-out", false, "treat --amount as the desired output")
	cmd.Flags().BoolVar(&opts.Best, "best", false, "search for the best route between the first and last token")
	cmd.Flags().IntVar(&opts.MaxHops, "max-hops", 0, "route search depth for --best (0 uses the server default)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func printQuote(out io.Writer, path []common.Address, amounts []*big.Int) {
	header(out, "QUOTE")
	w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "STEP\tTOKEN\tAMOUNT\t")
	fmt.Fprintln(w, "----\t-----\t------\t")
	for i, token := range path {
		fmt.Fprintf(w, "%d\t%s\t%s\t\n", i, token.Hex(), amounts[i].String())
	}
	w.Flush()
}

func newPoolsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "pools",
		Short:        "List every pool with its reserves",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := rpcapi.Dial(ctx, root.RPCURL)
			if err != nil {
				return err
			}
			defer client.Close()

			count, err := client.PoolCount(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			header(out, "POOLS")
			w := tabwriter.NewWriter(out, 0, 0, 4, ' ', 0)
			fmt.Fprintln(w, "#\tPOOL\tTOKEN0\tTOKEN1\tRESERVE0\tRESERVE1\tSTATUS\t")
			fmt.Fprintln(w, "-\t----\t------\t------\t--------\t--------\t------\t")
			for i := uint64(0); i < count; i++ {
				info, err := client.PoolAt(ctx, i)
				if err != nil {
					return err
				}
				status := Green + "ACTIVE" + Reset
				if info.TotalShares.ToInt().Sign() == 0 {
					status = Gray + "EMPTY" + Reset
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
					i, info.Address.Hex(), info.Token0.Hex(), info.Token1.Hex(),
					info.Reserve0.ToInt(), info.Reserve1.ToInt(), status)
			}
			w.Flush()
			fmt.Fprintf(out, "\n%sPools: %d%s\n", Bold, count, Reset)
			return nil
		},
	}
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:          "watch",
		Short:        "Stream logs from a running ammd over WebSocket",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			url := root.RPCURL
			if strings.HasPrefix(url, "http") {
				url = "ws" + strings.TrimPrefix(url, "http") + "/ws"
			}
			stream, err := rpcapi.NewLogStream(ctx, rpcapi.StreamConfig{
				URL:        url,
				Logger:     slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)),
				BufferSize: watchBufferSize,
			})
			if err != nil {
				return err
			}

			filter := make(map[string]bool, len(events))
			for _, e := range events {
				filter[e] = true
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, Green+"Starting Live Watch... (Ctrl+C to stop)"+Reset)
			for {
				select {
				case msg := <-stream.Logs():
					if len(filter) > 0 && !filter[string(msg.Name)] {
						continue
					}
					fmt.Fprintf(out, "%s#%d%s %s %s%s%s %s %s\n",
						Bold, msg.Seq, Reset,
						msg.Time.Format(time.TimeOnly),
						Cyan, msg.Name, Reset,
						msg.Emitter.Hex(),
						string(msg.Event),
					)
				case err := <-stream.Err():
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&events, "event", nil, "only print these event names")
	return cmd
}

// parseAmount accepts decimal, 0x-prefixed hex and mantissa-exponent forms like 1.5e18.
func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount is required")
	}
	if mantissa, exp, ok := strings.Cut(strings.ToLower(s), "e"); ok && !strings.HasPrefix(s, "0x") {
		r, ok := new(big.Rat).SetString(mantissa)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		e, ok := new(big.Int).SetString(exp, 10)
		if !ok || e.Sign() < 0 || e.Cmp(big.NewInt(77)) > 0 {
			return nil, fmt.Errorf("invalid exponent in amount %q", s)
		}
		r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), e, nil)))
		if !r.IsInt() {
			return nil, fmt.Errorf("amount %q is not a whole number of base units", s)
		}
		return r.Num(), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parsePath(tokens []string) ([]common.Address, error) {
	if len(tokens) < 2 {
		return nil, errors.New("path needs at least two tokens")
	}
	path := make([]common.Address, len(tokens))
	for i, t := range tokens {
		t = strings.TrimSpace(t)
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("path[%d] is not an address: %q", i, t)
		}
		path[i] = common.HexToAddress(t)
	}
	return path, nil
}
