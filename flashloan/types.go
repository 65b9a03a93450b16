package flashloan

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/arbloop/flasharb/workflow"
)

var (
	ErrPaused                   = errors.New("operations are paused")
	ErrZeroAmount               = errors.New("amount is zero")
	ErrZeroAddress              = errors.New("zero address")
	ErrOnlyPool                 = errors.New("caller is not the pool")
	ErrOperationNotInitialized  = errors.New("operation not initialized")
	ErrOperationAlreadyExecuted = errors.New("operation already executed")
	ErrOperationInFlight        = errors.New("operation already in flight")
	ErrOperationMismatch        = errors.New("operation id mismatch")
	ErrInsufficientRepayment    = errors.New("insufficient repayment")
	ErrInvalidPoolTokens        = errors.New("pool does not trade the given pair")
)

// Operation is the ephemeral record of one in-flight borrow. It is
// created by the adapter entry point, consumed by the lender callback,
// and cleared before the entry point returns.
type Operation struct {
	ID             uuid.UUID
	Initiator      common.Address
	BorrowedToken  common.Address
	RepaymentToken common.Address
	Amount         *big.Int
	Workflows      []workflow.Workflow
	Data           []workflow.StepData

	executed bool
}

// NewOperation allocates an operation record with a fresh id
func NewOperation(initiator, borrowed, repayment common.Address, amount *big.Int,
	workflows []workflow.Workflow, data []workflow.StepData) *Operation {
	return &Operation{
		ID:             uuid.New(),
		Initiator:      initiator,
		BorrowedToken:  borrowed,
		RepaymentToken: repayment,
		Amount:         new(big.Int).Set(amount),
		Workflows:      workflows,
		Data:           data,
	}
}

// MarkExecuted flips the one-shot executed flag. The second call fails,
// which rejects a duplicated callback within the same borrow.
func (op *Operation) MarkExecuted() error {
	if op.executed {
		return ErrOperationAlreadyExecuted
	}
	op.executed = true
	return nil
}

// Executed reports whether the callback has already consumed this record
func (op *Operation) Executed() bool {
	return op.executed
}

// Session holds the single-slot current operation of an adapter: Idle
// when empty, Active while a borrow is in flight. At most one operation
// can be active per adapter at a time, which doubles as the reentrancy
// guard for the public entry points.
type Session struct {
	mu sync.Mutex
	op *Operation
}

// Begin installs op as the active operation. Fails when another
// operation is already in flight.
func (s *Session) Begin(op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.op != nil {
		return ErrOperationInFlight
	}
	s.op = op
	return nil
}

// Active returns the in-flight operation, or ErrOperationNotInitialized
// when the session is idle
func (s *Session) Active() (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.op == nil {
		return nil, ErrOperationNotInitialized
	}
	return s.op, nil
}

// Clear returns the session to idle
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.op = nil
}

// Settlement summarizes a completed operation. Token names the asset the
// profit figures are denominated in: the borrowed token for a pool-style
// loan, the owed token for a swap-style borrow.
type Settlement struct {
	OperationID uuid.UUID
	Initiator   common.Address
	Token       common.Address
	Principal   *big.Int
	Owed        *big.Int
	GrossProfit *big.Int
	Fee         *big.Int
	NetProfit   *big.Int
}
