package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arbloop/flasharb/config"
	"github.com/arbloop/flasharb/ledger"
	"github.com/arbloop/flasharb/workflow"
)

// PoolBorrower is the pool-style adapter surface the manager drives
type PoolBorrower interface {
	Account() common.Address
	ExecuteFlashLoan(ctx context.Context, initiator, token common.Address, amount *big.Int,
		workflows []workflow.Workflow, data []workflow.StepData) (*Settlement, error)
}

// registration pairs an adapter with the lender it borrows from
type registration struct {
	adapter PoolBorrower
	lender  PoolLender
}

// Manager coordinates pool-style flash loan operations across lenders,
// selecting the cheapest premium for each borrow. It also carries the
// owner-gated fee withdrawal surface.
type Manager struct {
	mu      sync.RWMutex
	cfg     *config.Config
	ledger  *ledger.Ledger
	entries []registration
	limiter *rate.Limiter
	logger  *zap.Logger

	metrics struct {
		lenderSelections prometheus.CounterVec
		executionLatency prometheus.Histogram
		successRate      prometheus.Gauge
		successCount     prometheus.Counter
		totalCount       prometheus.Counter
		errors           prometheus.CounterVec
	}
}

// NewManager creates a flash loan manager. opsPerSecond bounds how many
// operations the manager admits; zero disables the limit.
func NewManager(cfg *config.Config, l *ledger.Ledger, opsPerSecond float64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if opsPerSecond > 0 {
		limit = rate.Limit(opsPerSecond)
	}

	m := &Manager{
		cfg:     cfg,
		ledger:  l,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}

	m.metrics.lenderSelections = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_lender_selections_total",
		Help: "Number of times each lender was selected",
	}, []string{"lender"})
	m.metrics.executionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_manager_latency_seconds",
		Help:    "Latency of managed flash loan execution",
		Buckets: prometheus.DefBuckets,
	})
	m.metrics.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_manager_success_rate",
		Help: "Success rate of managed flash loan executions",
	})
	m.metrics.successCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_manager_success_count",
		Help: "Number of successful managed executions",
	})
	m.metrics.totalCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_manager_total_count",
		Help: "Total number of managed executions",
	})
	m.metrics.errors = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_manager_errors_total",
		Help: "Number of managed execution errors by type",
	}, []string{"error_type"})

	return m
}

// Register adds an adapter/lender pair to the manager
func (m *Manager) Register(adapter PoolBorrower, lender PoolLender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, registration{adapter: adapter, lender: lender})
}

// Execute runs a flash loan through the lender with the lowest premium
func (m *Manager) Execute(ctx context.Context, initiator, token common.Address, amount *big.Int,
	workflows []workflow.Workflow, data []workflow.StepData) (*Settlement, error) {

	start := time.Now()
	defer func() {
		m.metrics.executionLatency.Observe(time.Since(start).Seconds())
	}()

	if err := m.limiter.Wait(ctx); err != nil {
		m.metrics.errors.WithLabelValues("rate_limit").Inc()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	entry, err := m.selectCheapestLender()
	if err != nil {
		m.metrics.errors.WithLabelValues("lender_selection").Inc()
		return nil, err
	}
	m.metrics.lenderSelections.WithLabelValues(entry.lender.Address().Hex()).Inc()

	m.metrics.totalCount.Inc()
	settlement, err := entry.adapter.ExecuteFlashLoan(ctx, initiator, token, amount, workflows, data)
	if err != nil {
		m.metrics.errors.WithLabelValues("execution").Inc()
		m.updateSuccessRate()
		return nil, err
	}

	m.metrics.successCount.Inc()
	m.updateSuccessRate()
	return settlement, nil
}

// WithdrawFees transfers accumulated platform fees from an adapter's
// account to recipient. Owner only.
func (m *Manager) WithdrawFees(caller, token, adapterAccount, recipient common.Address, amount *big.Int) error {
	if caller != m.cfg.Owner() {
		return config.ErrNotOwner
	}
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		amount = m.ledger.BalanceOf(token, adapterAccount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := m.ledger.Transfer(token, adapterAccount, recipient, amount); err != nil {
		return fmt.Errorf("fee withdrawal failed: %w", err)
	}

	m.logger.Info("Fees withdrawn",
		zap.String("token", token.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// selectCheapestLender picks the registered lender with the lowest premium
func (m *Manager) selectCheapestLender() (registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return registration{}, errors.New("no lenders registered")
	}

	best := m.entries[0]
	for _, entry := range m.entries[1:] {
		if entry.lender.PremiumBps() < best.lender.PremiumBps() {
			best = entry
		}
	}
	return best, nil
}

// updateSuccessRate recomputes the success-rate gauge from the counters
func (m *Manager) updateSuccessRate() {
	success := counterValue(m.metrics.successCount)
	total := counterValue(m.metrics.totalCount)
	if total > 0 {
		m.metrics.successRate.Set(success / total)
	}
}

func counterValue(c prometheus.Counter) float64 {
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	metric := <-ch
	if metric == nil {
		return 0
	}
	out := &dto.Metric{}
	if err := metric.Write(out); err != nil || out.Counter == nil {
		return 0
	}
	return out.Counter.GetValue()
}
