package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arbloop/flasharb/workflow"
)

// SwapWorkflow performs one token-to-token conversion through a
// registered pair. It implements the workflow capability consumed by the
// chain executor.
type SwapWorkflow struct {
	registry *Registry
	logger   *zap.Logger
}

// NewSwapWorkflow creates a workflow backed by the pair registry
func NewSwapWorkflow(registry *Registry, logger *zap.Logger) *SwapWorkflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwapWorkflow{registry: registry, logger: logger}
}

// Execute swaps amountIn of tokenIn into data.TokenOut on behalf of
// account. Fails when the output lands below data.MinAmountOut.
func (w *SwapWorkflow) Execute(ctx context.Context, account common.Address,
	tokenIn common.Address, amountIn *big.Int, data workflow.StepData) (*big.Int, error) {

	pair, err := w.registry.Lookup(tokenIn, data.TokenOut)
	if err != nil {
		return nil, err
	}

	amountOut, err := pair.SwapExactIn(ctx, account, tokenIn, amountIn)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(data.MinAmountOut) < 0 {
		return nil, fmt.Errorf("output %s below minimum %s", amountOut.String(), data.MinAmountOut.String())
	}

	w.logger.Debug("Swap executed",
		zap.String("token_in", tokenIn.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("token_out", data.TokenOut.Hex()),
		zap.String("amount_out", amountOut.String()))

	return amountOut, nil
}
