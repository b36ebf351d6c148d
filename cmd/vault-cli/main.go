package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"stablevault/internal/cli"
	"stablevault/internal/config"
	"stablevault/internal/svc"
	"stablevault/pkg/fixedpoint"
	"stablevault/pkg/oracle"
	"stablevault/pkg/vault"
)

var configFile = flag.String("f", "etc/config.yaml", "config file path")

func usage() {
	fmt.Fprintf(os.Stderr, `usage: vault-cli [-f config.yaml] <command> [args]

commands:
  status                        protocol state and oracle prices
  positions                     the connected identity's positions with risk metrics
  price <series>                latest observation for one price series
  open <amount>                 open a position with collateral
  add <position> <amount>       add collateral to a position
  mint <position> <amount>      mint stable units against a position
  burn <position> <amount>      repay stable debt
  withdraw <position> [amount]  withdraw collateral; no amount withdraws all
  history                       recent recorded operations (needs Postgres)
`)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if svcCtx.Prices != nil {
		svcCtx.Prices.Start(ctx)
		defer svcCtx.Prices.Stop()
	}

	if err := run(ctx, svcCtx, args); err != nil {
		logx.Errorf("%s failed: %v", args[0], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svcCtx *svc.ServiceContext, args []string) error {
	switch args[0] {
	case "status":
		return showStatus(ctx, svcCtx)
	case "positions":
		return showPositions(ctx, svcCtx)
	case "price":
		if len(args) < 2 {
			return fmt.Errorf("price requires a series name")
		}
		return showPrice(svcCtx, args[1])
	case "open":
		if len(args) < 2 {
			return fmt.Errorf("open requires an amount")
		}
		return mutate(ctx, svcCtx, func(o *vault.Orchestrator) (*vault.Result, error) {
			return o.OpenPosition(ctx, args[1])
		})
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("add requires a position id and an amount")
		}
		return mutate(ctx, svcCtx, func(o *vault.Orchestrator) (*vault.Result, error) {
			return o.AddCollateral(ctx, args[1], args[2])
		})
	case "mint":
		if len(args) < 3 {
			return fmt.Errorf("mint requires a position id and an amount")
		}
		return mutate(ctx, svcCtx, func(o *vault.Orchestrator) (*vault.Result, error) {
			return o.Mint(ctx, args[1], args[2])
		})
	case "burn":
		if len(args) < 3 {
			return fmt.Errorf("burn requires a position id and an amount")
		}
		return mutate(ctx, svcCtx, func(o *vault.Orchestrator) (*vault.Result, error) {
			return o.Burn(ctx, args[1], args[2])
		})
	case "withdraw":
		if len(args) < 2 {
			return fmt.Errorf("withdraw requires a position id")
		}
		return mutate(ctx, svcCtx, func(o *vault.Orchestrator) (*vault.Result, error) {
			if len(args) >= 3 {
				return o.WithdrawPartial(ctx, args[1], args[2])
			}
			return o.WithdrawAll(ctx, args[1])
		})
	case "history":
		return showHistory(ctx, svcCtx)
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func owner(svcCtx *svc.ServiceContext) string {
	if svcCtx.Submitter == nil {
		return ""
	}
	return svcCtx.Submitter.Address()
}

func showStatus(ctx context.Context, svcCtx *svc.ServiceContext) error {
	if err := svcCtx.Cache.RefreshAll(ctx, owner(svcCtx)); err != nil {
		logx.Errorf("refresh: %v", err)
	}

	state, ok := svcCtx.Cache.ProtocolState()
	if !ok {
		return fmt.Errorf("protocol state unavailable")
	}
	decimals := svcCtx.Config.Ledger.Value.Deployment.Decimals
	fmt.Printf("Total supply:      %s\n", fixedpoint.Format(state.TotalSupply, decimals))
	fmt.Printf("Collateral value:  %s\n", fixedpoint.Format(state.TotalCollateralValue, decimals))
	fmt.Printf("Min ratio:         %.1f%%\n", float64(state.MinRatioBps)/100)
	fmt.Printf("Liquidation ratio: %.1f%%\n", float64(state.LiquidationRatioBps)/100)
	fmt.Printf("Paused:            %v\n", state.Paused)

	if svcCtx.Prices != nil {
		for _, series := range []string{oracle.SeriesCollateralUSD, oracle.SeriesPegUSD} {
			if data, ok := svcCtx.Prices.Latest(series); ok {
				fmt.Printf("%-18s %.6f (source=%s stale=%v)\n", series+":", data.Price, data.Source, data.Stale)
			}
		}
	}

	if balances, ok := svcCtx.Cache.Balances(); ok {
		fmt.Printf("Stable balance:    %s\n", fixedpoint.Format(balances.Stable, decimals))
		fmt.Printf("Native balance:    %s\n", fixedpoint.Format(balances.Native, decimals))
	}
	return nil
}

func showPositions(ctx context.Context, svcCtx *svc.ServiceContext) error {
	addr := owner(svcCtx)
	if addr == "" {
		return fmt.Errorf("no connected wallet identity")
	}
	if err := svcCtx.Cache.RefreshAll(ctx, addr); err != nil {
		logx.Errorf("refresh: %v", err)
	}

	positions := svcCtx.Cache.Positions()
	if len(positions) == 0 {
		fmt.Println("no positions")
		return nil
	}

	dep := svcCtx.Config.Ledger.Value.Deployment
	state, _ := svcCtx.Cache.ProtocolState()
	for i := range positions {
		pos := &positions[i]
		fmt.Printf("%s\n", pos.ID)
		fmt.Printf("  collateral: %s\n", fixedpoint.Format(pos.Collateral, dep.Decimals))
		fmt.Printf("  debt:       %s\n", fixedpoint.Format(pos.Debt, dep.Decimals))
		if svcCtx.Prices == nil || state == nil {
			continue
		}
		collateralUSD, okColl := svcCtx.Prices.Latest(oracle.SeriesCollateralUSD)
		pegUSD, okPeg := svcCtx.Prices.Latest(oracle.SeriesPegUSD)
		if !okColl || !okPeg {
			continue
		}
		metrics := pos.ComputeMetrics(collateralUSD, pegUSD, state.LiquidationRatioBps, dep.Decimals)
		fmt.Printf("  ratio:      %.1f%%\n", metrics.Ratio)
		fmt.Printf("  liq. price: %.6f\n", metrics.LiquidationPrice)
		if metrics.CollateralPriceStale || metrics.PegPriceStale {
			fmt.Printf("  (stale price data)\n")
		}
	}
	return nil
}

func showPrice(svcCtx *svc.ServiceContext, series string) error {
	if svcCtx.Prices == nil {
		return fmt.Errorf("oracle not configured")
	}
	data, ok := svcCtx.Prices.Latest(series)
	if !ok {
		return fmt.Errorf("no observation for series %q", series)
	}
	fmt.Printf("%s: %.6f ±%.6f (source=%s published=%s stale=%v)\n",
		series, data.Price, data.Confidence, data.Source,
		data.PublishTime.Format(time.RFC3339), data.Stale)
	return nil
}

func mutate(ctx context.Context, svcCtx *svc.ServiceContext, op func(*vault.Orchestrator) (*vault.Result, error)) error {
	if svcCtx.Orchestrator == nil {
		return fmt.Errorf("read-only mode: no signing identity configured")
	}
	result, err := op(svcCtx.Orchestrator)
	persistOutcome(ctx, svcCtx, result, err)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s", result.Operation, result.Status)
	if result.Tx != nil {
		fmt.Printf(" digest=%s", result.Tx.Digest)
	}
	fmt.Println()
	return nil
}

// persistOutcome mirrors the file journal into Postgres when configured.
func persistOutcome(ctx context.Context, svcCtx *svc.ServiceContext, result *vault.Result, opErr error) {
	if svcCtx.Operations == nil || result == nil {
		return
	}
	rec := &vault.OperationRecord{
		Timestamp: time.Now(),
		Operation: string(result.Operation),
		Owner:     owner(svcCtx),
		Status:    string(result.Status),
	}
	if result.Tx != nil {
		rec.Digest = result.Tx.Digest
		rec.RevertReason = result.Tx.Error
	}
	if opErr != nil {
		rec.ErrorMessage = opErr.Error()
	}
	if err := svcCtx.Operations.Insert(ctx, rec); err != nil {
		logx.Errorf("persist operation record: %v", err)
	}
}

func showHistory(ctx context.Context, svcCtx *svc.ServiceContext) error {
	if svcCtx.Operations == nil {
		return fmt.Errorf("postgres not configured")
	}
	addr := owner(svcCtx)
	if addr == "" {
		return fmt.Errorf("no connected wallet identity")
	}
	rows, err := svcCtx.Operations.RecentByOwner(ctx, addr, 50)
	if err != nil {
		return err
	}
	for _, row := range rows {
		line := fmt.Sprintf("%s %-16s %s", time.UnixMilli(row.CreatedAtMs).Format(time.RFC3339), row.Operation, row.Status)
		if row.Digest != nil {
			line += " digest=" + *row.Digest
		}
		if row.RevertReason != nil {
			line += " revert=" + *row.RevertReason
		}
		fmt.Println(line)
	}
	return nil
}
