package lender

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbloop/flasharb/config"
	"github.com/arbloop/flasharb/flashloan"
	"github.com/arbloop/flasharb/ledger"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrRepaymentShortfall    = errors.New("flash loan not repaid in full")
)

// LendingPool is a simulated pool-style lender: it funds a same-asset
// flash loan, invokes the receiver callback once, and pulls principal
// plus premium back through the receiver's approval. It stands in for
// the external lending protocol at its interface boundary.
type LendingPool struct {
	account    common.Address
	premiumBps uint64
	ledger     *ledger.Ledger
	logger     *zap.Logger
}

// NewLendingPool creates a lending pool with the given ledger account and
// premium in basis points
func NewLendingPool(account common.Address, premiumBps uint64, l *ledger.Ledger, logger *zap.Logger) *LendingPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LendingPool{
		account:    account,
		premiumBps: premiumBps,
		ledger:     l,
		logger:     logger,
	}
}

// Address returns the pool's ledger account
func (p *LendingPool) Address() common.Address {
	return p.account
}

// PremiumBps returns the pool's flash loan premium in basis points
func (p *LendingPool) PremiumBps() uint64 {
	return p.premiumBps
}

// Liquidity returns the pool's available balance for token
func (p *LendingPool) Liquidity(token common.Address) *big.Int {
	return p.ledger.BalanceOf(token, p.account)
}

// FlashLoan delivers amount of token to the receiver, invokes its
// callback, and pulls amount+premium back. Any failure, including a
// repayment shortfall, aborts the loan.
func (p *LendingPool) FlashLoan(ctx context.Context, receiver flashloan.FlashLoanReceiver,
	token common.Address, amount *big.Int, opID uuid.UUID) error {

	liquidity := p.ledger.BalanceOf(token, p.account)
	if liquidity.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s have %s want %s", ErrInsufficientLiquidity,
			token.Hex(), liquidity.String(), amount.String())
	}

	premium := new(big.Int).Mul(amount, new(big.Int).SetUint64(p.premiumBps))
	premium.Div(premium, big.NewInt(config.BpsDenominator))
	totalOwed := new(big.Int).Add(amount, premium)

	if err := p.ledger.Transfer(token, p.account, receiver.Account(), amount); err != nil {
		return fmt.Errorf("failed to fund flash loan: %w", err)
	}

	if err := receiver.OnFlashLoan(ctx, p.account, token, amount, premium, opID); err != nil {
		return fmt.Errorf("flash loan callback failed: %w", err)
	}

	if err := p.ledger.TransferFrom(token, p.account, receiver.Account(), p.account, totalOwed); err != nil {
		return fmt.Errorf("%w: %v", ErrRepaymentShortfall, err)
	}

	p.logger.Debug("Flash loan settled",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", premium.String()),
		zap.String("op_id", opID.String()))

	return nil
}
