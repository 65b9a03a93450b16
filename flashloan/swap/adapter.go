package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arbloop/flasharb/config"
	"github.com/arbloop/flasharb/engine"
	"github.com/arbloop/flasharb/flashloan"
	"github.com/arbloop/flasharb/ledger"
	"github.com/arbloop/flasharb/workflow"
)

// maxApproval is the unlimited allowance granted to the pool for the
// owed token before the chain runs
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Adapter is the swap-style borrow adapter: it initiates a cross-asset
// flash swap, resolves the received and owed assets from the pool's
// signed deltas, runs the workflow chain from the received asset to the
// owed one, and settles. Unlike the pool-style adapter, the repayment
// asset can differ from the borrowed one and the owed amount is dictated
// by the pool's pricing at callback time.
type Adapter struct {
	cfg      *config.Config
	eng      *engine.Engine
	executor *workflow.Executor
	ledger   *ledger.Ledger
	account  common.Address

	session    flashloan.Session
	activePool flashloan.SwapPool
	settlement *flashloan.Settlement

	logger  *zap.Logger
	metrics struct {
		swapCount     prometheus.Counter
		swapVolume    prometheus.Counter
		feesCollected prometheus.Counter
		latency       prometheus.Histogram
		errors        prometheus.CounterVec
	}
}

// NewAdapter creates a swap-style borrow adapter with its own ledger account
func NewAdapter(cfg *config.Config, l *ledger.Ledger, account common.Address, logger *zap.Logger) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if l == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if account == (common.Address{}) {
		return nil, flashloan.ErrZeroAddress
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Adapter{
		cfg:      cfg,
		eng:      engine.New(cfg),
		executor: workflow.NewExecutor(logger),
		ledger:   l,
		account:  account,
		logger:   logger,
	}

	a.metrics.swapCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_swap_loans_total",
		Help: "Total number of flash swaps settled",
	})
	a.metrics.swapVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_swap_volume",
		Help: "Total principal borrowed through flash swaps",
	})
	a.metrics.feesCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_swap_fees",
		Help: "Total platform fees retained from flash swaps",
	})
	a.metrics.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_swap_latency_seconds",
		Help:    "Latency of flash swap operations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	a.metrics.errors = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_swap_errors_total",
		Help: "Number of flash swap failures by type",
	}, []string{"error_type"})

	return a, nil
}

// Account returns the adapter's ledger account
func (a *Adapter) Account() common.Address {
	return a.account
}

// ExecuteFlashSwap borrows amountIn of tokenIn from pool via an
// exact-output flash swap and runs the workflow chain from tokenIn to
// tokenOut, which is the asset the pool must be repaid in.
func (a *Adapter) ExecuteFlashSwap(ctx context.Context, initiator common.Address,
	pool flashloan.SwapPool, tokenIn, tokenOut common.Address, amountIn *big.Int,
	workflows []workflow.Workflow, data []workflow.StepData) (*flashloan.Settlement, error) {

	start := time.Now()
	defer func() {
		a.metrics.latency.Observe(time.Since(start).Seconds())
	}()

	if a.cfg.IsPaused() {
		a.metrics.errors.WithLabelValues("paused").Inc()
		return nil, flashloan.ErrPaused
	}
	if pool == nil {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, fmt.Errorf("%w: nil pool", flashloan.ErrZeroAddress)
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, flashloan.ErrZeroAmount
	}
	if tokenIn == (common.Address{}) || tokenOut == (common.Address{}) || initiator == (common.Address{}) {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, flashloan.ErrZeroAddress
	}
	if len(workflows) == 0 {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, fmt.Errorf("%w: empty chain", workflow.ErrInvalidWorkflowChain)
	}
	if len(workflows) != len(data) {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, fmt.Errorf("%w: %d workflows, %d step data", workflow.ErrWorkflowChainMismatch,
			len(workflows), len(data))
	}

	// The named pool must actually trade the pair, in either order.
	t0, t1 := pool.Token0(), pool.Token1()
	if !(tokenIn == t0 && tokenOut == t1) && !(tokenIn == t1 && tokenOut == t0) {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, fmt.Errorf("%w: pool trades %s/%s", flashloan.ErrInvalidPoolTokens, t0.Hex(), t1.Hex())
	}

	// The single-slot session is the reentrancy guard: a second entry,
	// whether from another goroutine or from a workflow reentering
	// mid-chain, fails here instead of blocking.
	op := flashloan.NewOperation(initiator, tokenIn, tokenOut, amountIn, workflows, data)
	if err := a.session.Begin(op); err != nil {
		a.metrics.errors.WithLabelValues("reentry").Inc()
		return nil, err
	}
	defer func() {
		a.session.Clear()
		a.activePool = nil
	}()

	a.activePool = pool
	a.settlement = nil
	snap := a.ledger.Snapshot()

	// zeroForOne: the pool receives token0 and pays token1. We want the
	// pool to pay tokenIn.
	zeroForOne := tokenIn == t1

	if err := pool.Swap(ctx, a, zeroForOne, amountIn, op.ID); err != nil {
		a.ledger.Restore(snap)
		a.metrics.errors.WithLabelValues("swap").Inc()
		a.logger.Debug("Flash swap aborted",
			zap.String("op_id", op.ID.String()),
			zap.Error(err))
		return nil, err
	}
	if a.settlement == nil {
		a.ledger.Restore(snap)
		a.metrics.errors.WithLabelValues("swap").Inc()
		return nil, errors.New("pool returned without invoking callback")
	}

	settlement := a.settlement
	a.settlement = nil

	a.metrics.swapCount.Inc()
	a.metrics.swapVolume.Add(float64(amountIn.Uint64()))
	a.metrics.feesCollected.Add(float64(settlement.Fee.Uint64()))
	a.logger.Info("Flash swap settled",
		zap.String("op_id", settlement.OperationID.String()),
		zap.String("received_token", tokenIn.Hex()),
		zap.String("owed_token", tokenOut.Hex()),
		zap.String("principal", settlement.Principal.String()),
		zap.String("net_profit", settlement.NetProfit.String()),
		zap.String("fee", settlement.Fee.String()))

	return settlement, nil
}

// OnSwap is invoked by the pool mid-swap with the two signed per-token
// deltas: negative for the token the pool sent us, positive for the
// token it will pull. The pool performs the actual pull after this
// returns.
func (a *Adapter) OnSwap(ctx context.Context, caller common.Address,
	amount0Delta, amount1Delta *big.Int, opID uuid.UUID) error {

	pool := a.activePool
	if pool == nil {
		return flashloan.ErrOperationNotInitialized
	}
	if caller != pool.Address() {
		return flashloan.ErrOnlyPool
	}
	op, err := a.session.Active()
	if err != nil {
		return err
	}
	if opID != op.ID {
		return flashloan.ErrOperationMismatch
	}
	if err := op.MarkExecuted(); err != nil {
		return err
	}
	if amount0Delta == nil || amount1Delta == nil {
		return fmt.Errorf("%w: nil delta", flashloan.ErrOperationMismatch)
	}

	var receivedToken, owedToken common.Address
	var receivedAmount, owedAmount *big.Int
	switch {
	case amount0Delta.Sign() < 0 && amount1Delta.Sign() > 0:
		receivedToken, receivedAmount = pool.Token0(), new(big.Int).Neg(amount0Delta)
		owedToken, owedAmount = pool.Token1(), new(big.Int).Set(amount1Delta)
	case amount1Delta.Sign() < 0 && amount0Delta.Sign() > 0:
		receivedToken, receivedAmount = pool.Token1(), new(big.Int).Neg(amount1Delta)
		owedToken, owedAmount = pool.Token0(), new(big.Int).Set(amount0Delta)
	default:
		return fmt.Errorf("%w: deltas %s/%s", flashloan.ErrOperationMismatch,
			amount0Delta.String(), amount1Delta.String())
	}

	if receivedToken != op.BorrowedToken || owedToken != op.RepaymentToken {
		return flashloan.ErrOperationMismatch
	}

	// Approve the pool's pull of the owed token before the chain has a
	// chance to fail. Under-repayment is still caught by the pool's own
	// balance check after the pull.
	if err := a.ledger.Approve(owedToken, a.account, caller, maxApproval); err != nil {
		return fmt.Errorf("failed to authorize repayment: %w", err)
	}

	final, err := a.executor.Run(ctx, a.account, op.Workflows, op.Data, receivedToken, receivedAmount, owedToken)
	if err != nil {
		return err
	}

	if final.Cmp(owedAmount) < 0 {
		return fmt.Errorf("%w: chain returned %s, owed %s", flashloan.ErrInsufficientRepayment,
			final.String(), owedAmount.String())
	}

	// Profit is measured in the owed token; the minimum-profit floor is
	// taken against the originally received amount as principal base.
	grossProfit := new(big.Int).Sub(final, owedAmount)
	fee := a.eng.Fee(grossProfit)
	netProfit := a.eng.NetProfit(grossProfit, fee)
	if err := a.eng.ValidateProfit(netProfit, receivedAmount); err != nil {
		return err
	}

	if netProfit.Sign() > 0 {
		if err := a.ledger.Transfer(owedToken, a.account, op.Initiator, netProfit); err != nil {
			return fmt.Errorf("failed to pay out profit: %w", err)
		}
	}

	a.settlement = &flashloan.Settlement{
		OperationID: op.ID,
		Initiator:   op.Initiator,
		Token:       owedToken,
		Principal:   receivedAmount,
		Owed:        owedAmount,
		GrossProfit: grossProfit,
		Fee:         fee,
		NetProfit:   netProfit,
	}
	return nil
}
