package workflow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Executor sequences a chain of workflow steps, enforcing the token
// continuity invariants: the chain starts on the borrowed token and its
// last step must land on the required repayment token. Step-to-step
// identity is advanced using each step's declared output token; amounts
// use the value the workflow actually returned.
type Executor struct {
	logger  *zap.Logger
	metrics struct {
		stepsExecuted prometheus.Counter
		chainFailures prometheus.CounterVec
		chainLatency  prometheus.Histogram
	}
}

// NewExecutor creates a new chain executor
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{logger: logger}

	e.metrics.stepsExecuted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_chain_steps_total",
		Help: "Total number of workflow steps executed",
	})
	e.metrics.chainFailures = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_chain_failures_total",
		Help: "Number of chain failures by reason",
	}, []string{"reason"})
	e.metrics.chainLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_chain_latency_seconds",
		Help:    "Latency of full chain execution",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	return e
}

// Run executes the chain for account, starting with startAmount of
// startToken and requiring the final step to land on endToken. It returns
// the final amount. Any failure aborts the whole chain; there is no
// partial commit.
func (e *Executor) Run(
	ctx context.Context,
	account common.Address,
	workflows []Workflow,
	data []StepData,
	startToken common.Address,
	startAmount *big.Int,
	endToken common.Address,
) (*big.Int, error) {
	start := time.Now()
	defer func() {
		e.metrics.chainLatency.Observe(time.Since(start).Seconds())
	}()

	if len(workflows) == 0 {
		e.metrics.chainFailures.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("%w: empty chain", ErrInvalidWorkflowChain)
	}
	if len(workflows) != len(data) {
		e.metrics.chainFailures.WithLabelValues("length_mismatch").Inc()
		return nil, fmt.Errorf("%w: %d workflows, %d step data", ErrWorkflowChainMismatch,
			len(workflows), len(data))
	}

	currentToken := startToken
	currentAmount := new(big.Int).Set(startAmount)
	last := len(workflows) - 1

	for i, wf := range workflows {
		step := data[i]
		if wf == nil || !step.Valid() {
			e.metrics.chainFailures.WithLabelValues("malformed_step").Inc()
			return nil, fmt.Errorf("%w: malformed step %d", ErrInvalidWorkflowChain, i)
		}
		if i == last && step.TokenOut != endToken {
			e.metrics.chainFailures.WithLabelValues("end_token_mismatch").Inc()
			return nil, fmt.Errorf("%w: last step declares %s, repayment requires %s",
				ErrInvalidWorkflowChain, step.TokenOut.Hex(), endToken.Hex())
		}

		out, err := wf.Execute(ctx, account, currentToken, currentAmount, step)
		if err != nil {
			e.metrics.chainFailures.WithLabelValues("execution").Inc()
			return nil, fmt.Errorf("%w: step %d: %v", ErrWorkflowExecutionFailed, i, err)
		}
		if out == nil || out.Sign() < 0 {
			e.metrics.chainFailures.WithLabelValues("execution").Inc()
			return nil, fmt.Errorf("%w: step %d returned invalid amount", ErrWorkflowExecutionFailed, i)
		}

		e.metrics.stepsExecuted.Inc()
		e.logger.Debug("Workflow step executed",
			zap.Int("step", i),
			zap.String("token_in", currentToken.Hex()),
			zap.String("amount_in", currentAmount.String()),
			zap.String("token_out", step.TokenOut.Hex()),
			zap.String("amount_out", out.String()))

		// Advance on the declared output token; the workflow's own output
		// identity is not re-derived.
		currentToken = step.TokenOut
		currentAmount = out
	}

	if currentToken != endToken {
		e.metrics.chainFailures.WithLabelValues("end_token_mismatch").Inc()
		return nil, fmt.Errorf("%w: chain ended on %s, repayment requires %s",
			ErrInvalidWorkflowChain, currentToken.Hex(), endToken.Hex())
	}

	return currentAmount, nil
}
