package pool

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

// Adapter is the pool-style borrow adapter: it initiates a same-asset
// flash loan, receives the lender callback mid-borrow, runs the workflow
// chain back to the borrowed token, and settles principal, premium,
// platform fee and profit. A failed operation restores every ledger
// balance touched since the entry point.
type Adapter struct {
	cfg      *config.Config
	eng      *engine.Engine
	executor *workflow.Executor
	ledger   *ledger.Ledger
	lender   flashloan.PoolLender
	account  common.Address

	session    flashloan.Session
	settlement *flashloan.Settlement

	logger  *zap.Logger
	metrics struct {
		loanCount     prometheus.Counter
		loanVolume    prometheus.Counter
		feesCollected prometheus.Counter
		latency       prometheus.Histogram
		errors        prometheus.CounterVec
	}
}

// NewAdapter creates a pool-style borrow adapter with its own ledger account
func NewAdapter(cfg *config.Config, l *ledger.Ledger, lender flashloan.PoolLender,
	account common.Address, logger *zap.Logger) (*Adapter, error) {

	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if l == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if lender == nil {
		return nil, errors.New("lender cannot be nil")
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
		lender:   lender,
		account:  account,
		logger:   logger,
	}

	a.metrics.loanCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_pool_loans_total",
		Help: "Total number of pool-style flash loans settled",
	})
	a.metrics.loanVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_pool_volume",
		Help: "Total principal borrowed through pool-style loans",
	})
	a.metrics.feesCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_pool_fees",
		Help: "Total platform fees retained from pool-style loans",
	})
	a.metrics.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_pool_latency_seconds",
		Help:    "Latency of pool-style flash loan operations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	a.metrics.errors = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_pool_errors_total",
		Help: "Number of pool-style flash loan failures by type",
	}, []string{"error_type"})

	return a, nil
}

// Account returns the adapter's ledger account
func (a *Adapter) Account() common.Address {
	return a.account
}

// ExecuteFlashLoan borrows amount of token, runs the workflow chain, and
// settles. The chain must return to the borrowed token. On success the
// net profit has been transferred to the initiator and the platform fee
// retained in the adapter's account.
func (a *Adapter) ExecuteFlashLoan(ctx context.Context, initiator, token common.Address,
	amount *big.Int, workflows []workflow.Workflow, data []workflow.StepData) (*flashloan.Settlement, error) {

	start := time.Now()
	defer func() {
		a.metrics.latency.Observe(time.Since(start).Seconds())
	}()

	if a.cfg.IsPaused() {
		a.metrics.errors.WithLabelValues("paused").Inc()
		return nil, flashloan.ErrPaused
	}
	if amount == nil || amount.Sign() == 0 {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, flashloan.ErrZeroAmount
	}
	if amount.Sign() < 0 {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, fmt.Errorf("%w: negative amount", flashloan.ErrZeroAmount)
	}
	if token == (common.Address{}) || initiator == (common.Address{}) {
		a.metrics.errors.WithLabelValues("params").Inc()
		return nil, flashloan.ErrZeroAddress
	}

	// The single-slot session is the reentrancy guard: a second entry,
	// whether from another goroutine or from a workflow reentering
	// mid-chain, fails here instead of blocking.
	op := flashloan.NewOperation(initiator, token, token, amount, workflows, data)
	if err := a.session.Begin(op); err != nil {
		a.metrics.errors.WithLabelValues("reentry").Inc()
		return nil, err
	}
	defer a.session.Clear()

	a.settlement = nil
	snap := a.ledger.Snapshot()

	if err := a.lender.FlashLoan(ctx, a, token, amount, op.ID); err != nil {
		a.ledger.Restore(snap)
		a.metrics.errors.WithLabelValues("loan").Inc()
		a.logger.Debug("Flash loan aborted",
			zap.String("op_id", op.ID.String()),
			zap.Error(err))
		return nil, err
	}
	if a.settlement == nil {
		a.ledger.Restore(snap)
		a.metrics.errors.WithLabelValues("loan").Inc()
		return nil, errors.New("lender returned without invoking callback")
	}

	settlement := a.settlement
	a.settlement = nil

	a.metrics.loanCount.Inc()
	a.metrics.loanVolume.Add(float64(amount.Uint64()))
	a.metrics.feesCollected.Add(float64(settlement.Fee.Uint64()))
	a.logger.Info("Flash loan settled",
		zap.String("op_id", settlement.OperationID.String()),
		zap.String("token", token.Hex()),
		zap.String("principal", settlement.Principal.String()),
		zap.String("net_profit", settlement.NetProfit.String()),
		zap.String("fee", settlement.Fee.String()))

	return settlement, nil
}

// OnFlashLoan is invoked by the lender mid-borrow, exactly once per
// operation. It runs the workflow chain and prepares repayment; the
// lender performs the actual pull of principal+premium after this
// returns.
func (a *Adapter) OnFlashLoan(ctx context.Context, caller, token common.Address,
	amount, premium *big.Int, opID uuid.UUID) error {

	if caller != a.lender.Address() {
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
	if amount == nil || premium == nil || premium.Sign() < 0 {
		return fmt.Errorf("%w: invalid loan terms", flashloan.ErrOperationMismatch)
	}
	if token != op.BorrowedToken || amount.Cmp(op.Amount) != 0 {
		return flashloan.ErrOperationMismatch
	}

	// Pool-style loans always return to the borrowed token.
	final, err := a.executor.Run(ctx, a.account, op.Workflows, op.Data, token, amount, token)
	if err != nil {
		return err
	}

	totalOwed := new(big.Int).Add(amount, premium)
	if final.Cmp(totalOwed) < 0 {
		return fmt.Errorf("%w: chain returned %s, owed %s", flashloan.ErrInsufficientRepayment,
			final.String(), totalOwed.String())
	}

	grossProfit := new(big.Int).Sub(final, totalOwed)
	fee := a.eng.Fee(grossProfit)
	netProfit := a.eng.NetProfit(grossProfit, fee)
	if err := a.eng.ValidateProfit(netProfit, amount); err != nil {
		return err
	}

	if err := a.ledger.Approve(token, a.account, caller, totalOwed); err != nil {
		return fmt.Errorf("failed to authorize repayment: %w", err)
	}
	if netProfit.Sign() > 0 {
		if err := a.ledger.Transfer(token, a.account, op.Initiator, netProfit); err != nil {
			return fmt.Errorf("failed to pay out profit: %w", err)
		}
	}

	a.settlement = &flashloan.Settlement{
		OperationID: op.ID,
		Initiator:   op.Initiator,
		Token:       token,
		Principal:   new(big.Int).Set(amount),
		Owed:        totalOwed,
		GrossProfit: grossProfit,
		Fee:         fee,
		NetProfit:   netProfit,
	}
	return nil
}
