package cmd

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbloop/flasharb/config"
	"github.com/arbloop/flasharb/dex"
	"github.com/arbloop/flasharb/flashloan"
	pooladapter "github.com/arbloop/flasharb/flashloan/pool"
	"github.com/arbloop/flasharb/lender"
	"github.com/arbloop/flasharb/ledger"
	"github.com/arbloop/flasharb/utils"
	"github.com/arbloop/flasharb/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a demo two-hop flash loan arbitrage on a local ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = config.GetEnvWithDefault(config.EnvConfigPath, "")
		}

		var cfg *config.Config
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				log.Error("Failed to load config", zap.Error(err))
				return err
			}
			cfg = loaded
		} else {
			cfg = config.NewConfig(common.HexToAddress("0x000000000000000000000000000000000000aB1e"))
		}

		l := ledger.New(log)

		weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
		dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

		// Two pairs with skewed prices: 2000 DAI/WETH vs 2200 DAI/WETH.
		pairCheap, err := dex.NewPair(common.HexToAddress("0x0000000000000000000000000000000000000a01"), weth, dai, l, log)
		if err != nil {
			return err
		}
		pairRich, err := dex.NewPair(common.HexToAddress("0x0000000000000000000000000000000000000a02"), weth, dai, l, log)
		if err != nil {
			return err
		}
		for pair, daiReserve := range map[*dex.Pair]int64{pairCheap: 2_000_000_000, pairRich: 2_200_000_000} {
			if err := l.Mint(weth, pair.Address(), big.NewInt(1_000_000)); err != nil {
				return err
			}
			if err := l.Mint(dai, pair.Address(), big.NewInt(daiReserve)); err != nil {
				return err
			}
		}

		// The two hops go through different pairs, so each hop needs its
		// own registry view of the WETH/DAI pair.
		sellRegistry, err := dex.NewRegistry(0)
		if err != nil {
			return err
		}
		sellRegistry.Register(pairRich)
		buyRegistry, err := dex.NewRegistry(0)
		if err != nil {
			return err
		}
		buyRegistry.Register(pairCheap)

		pool := lender.NewLendingPool(common.HexToAddress("0x0000000000000000000000000000000000000b01"), 9, l, log)
		if err := l.Mint(weth, pool.Address(), big.NewInt(100_000)); err != nil {
			return err
		}

		adapter, err := pooladapter.NewAdapter(cfg, l, pool,
			common.HexToAddress("0x0000000000000000000000000000000000000c01"), log)
		if err != nil {
			return err
		}

		manager := flashloan.NewManager(cfg, l, 0, log)
		manager.Register(adapter, pool)

		initiator := common.HexToAddress("0x0000000000000000000000000000000000000d01")
		workflows := []workflow.Workflow{
			dex.NewSwapWorkflow(sellRegistry, log),
			dex.NewSwapWorkflow(buyRegistry, log),
		}
		data := []workflow.StepData{
			{TokenOut: dai, MinAmountOut: big.NewInt(1)},
			{TokenOut: weth, MinAmountOut: big.NewInt(1)},
		}

		settlement, err := manager.Execute(cmd.Context(), initiator, weth, big.NewInt(10_000), workflows, data)
		if err != nil {
			log.Error("Arbitrage failed", zap.Error(err))
			return err
		}

		log.Info("Arbitrage settled",
			zap.String("op_id", settlement.OperationID.String()),
			zap.String("principal", settlement.Principal.String()),
			zap.String("gross_profit", settlement.GrossProfit.String()),
			zap.String("fee", settlement.Fee.String()),
			zap.String("net_profit", settlement.NetProfit.String()),
			zap.String("initiator_balance", l.BalanceOf(weth, initiator).String()))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
