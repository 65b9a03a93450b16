package workflow

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidWorkflowChain covers structural chain defects: empty
	// chains, malformed step data, and boundary token mismatches.
	ErrInvalidWorkflowChain = errors.New("invalid workflow chain")

	// ErrWorkflowChainMismatch is returned when the workflow list and the
	// step-data list differ in length.
	ErrWorkflowChainMismatch = errors.New("workflow chain length mismatch")

	// ErrWorkflowExecutionFailed is returned when a workflow reports
	// failure mid-chain.
	ErrWorkflowExecutionFailed = errors.New("workflow execution failed")
)

// StepData describes one step of a workflow chain. TokenOut and
// MinAmountOut are read by the chain executor for boundary validation;
// Payload is private to the workflow implementation.
type StepData struct {
	TokenOut     common.Address
	MinAmountOut *big.Int
	Payload      []byte
}

// Valid reports whether the step data carries the fields the executor
// needs to sequence the chain
func (d StepData) Valid() bool {
	return d.TokenOut != (common.Address{}) && d.MinAmountOut != nil && d.MinAmountOut.Sign() >= 0
}

// Workflow is a pluggable unit performing one token-to-token conversion
// on behalf of account. Implementations move the account's funds on the
// shared ledger and return the output amount, or an error to abort the
// whole chain.
type Workflow interface {
	Execute(ctx context.Context, account common.Address, tokenIn common.Address, amountIn *big.Int, data StepData) (*big.Int, error)
}
