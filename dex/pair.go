package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbloop/flasharb/flashloan"
	"github.com/arbloop/flasharb/ledger"
)

var (
	ErrUnknownToken      = errors.New("token not traded by pair")
	ErrInsufficientInput = errors.New("insufficient input amount")
	ErrExcessiveOutput   = errors.New("requested output exceeds reserves")
	ErrSwapNotRepaid     = errors.New("swap input not provided")
)

// Pair is a constant-product two-token pool backed by the shared ledger.
// Reserves are the pair account's ledger balances, so a rolled-back
// operation also rolls back the reserves. Swaps charge the standard
// 30 bps input fee (997/1000).
type Pair struct {
	account common.Address
	token0  common.Address
	token1  common.Address
	ledger  *ledger.Ledger
	logger  *zap.Logger
}

// NewPair creates a pair for the given tokens. Tokens are stored in the
// order given; callers seed liquidity by minting to the pair account.
func NewPair(account, token0, token1 common.Address, l *ledger.Ledger, logger *zap.Logger) (*Pair, error) {
	if account == (common.Address{}) || token0 == (common.Address{}) || token1 == (common.Address{}) {
		return nil, ledger.ErrZeroAddress
	}
	if token0 == token1 {
		return nil, errors.New("identical tokens")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pair{
		account: account,
		token0:  token0,
		token1:  token1,
		ledger:  l,
		logger:  logger,
	}, nil
}

// Address returns the pair's ledger account
func (p *Pair) Address() common.Address {
	return p.account
}

// Token0 returns the address of token0
func (p *Pair) Token0() common.Address {
	return p.token0
}

// Token1 returns the address of token1
func (p *Pair) Token1() common.Address {
	return p.token1
}

// GetReserves returns the current reserves of the pair
func (p *Pair) GetReserves() (reserve0, reserve1 *big.Int) {
	return p.ledger.BalanceOf(p.token0, p.account), p.ledger.BalanceOf(p.token1, p.account)
}

// GetAmountOut calculates the output amount for a given input amount
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(1000)), amountInWithFee)

	return new(big.Int).Div(numerator, denominator)
}

// GetAmountIn calculates the input amount for a given output amount
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), big.NewInt(1000))
	denominator := new(big.Int).Mul(new(big.Int).Sub(reserveOut, amountOut), big.NewInt(997))

	amountIn := new(big.Int).Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}

// SwapExactIn trades amountIn of tokenIn from trader against the pair and
// pays the computed output back to trader
func (p *Pair) SwapExactIn(ctx context.Context, trader, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	tokenOut, err := p.counterpart(tokenIn)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInput
	}

	reserveIn := p.ledger.BalanceOf(tokenIn, p.account)
	reserveOut := p.ledger.BalanceOf(tokenOut, p.account)
	amountOut := GetAmountOut(amountIn, reserveIn, reserveOut)
	if amountOut.Sign() <= 0 {
		return nil, ErrInsufficientInput
	}

	if err := p.ledger.Transfer(tokenIn, trader, p.account, amountIn); err != nil {
		return nil, fmt.Errorf("failed to collect swap input: %w", err)
	}
	if err := p.ledger.Transfer(tokenOut, p.account, trader, amountOut); err != nil {
		return nil, fmt.Errorf("failed to pay swap output: %w", err)
	}

	return amountOut, nil
}

// Swap delivers an exact amountOut of the output token to the receiver
// before collecting its input: the receiver callback runs between payout
// and collection, which is what makes the swap a flash swap. Deltas are
// signed per token: negative for the amount sent to the receiver,
// positive for the amount the pool pulls afterwards.
func (p *Pair) Swap(ctx context.Context, receiver flashloan.SwapReceiver, zeroForOne bool,
	amountOut *big.Int, opID uuid.UUID) error {

	if amountOut == nil || amountOut.Sign() <= 0 {
		return ErrInsufficientInput
	}

	tokenIn, tokenOut := p.token0, p.token1
	if !zeroForOne {
		tokenIn, tokenOut = p.token1, p.token0
	}

	reserveIn := p.ledger.BalanceOf(tokenIn, p.account)
	reserveOut := p.ledger.BalanceOf(tokenOut, p.account)
	if amountOut.Cmp(reserveOut) >= 0 {
		return ErrExcessiveOutput
	}

	requiredIn := GetAmountIn(amountOut, reserveIn, reserveOut)
	if requiredIn.Sign() <= 0 {
		return ErrInsufficientInput
	}

	if err := p.ledger.Transfer(tokenOut, p.account, receiver.Account(), amountOut); err != nil {
		return fmt.Errorf("failed to pay swap output: %w", err)
	}

	delta0 := new(big.Int).Neg(amountOut)
	delta1 := new(big.Int).Set(requiredIn)
	if zeroForOne {
		delta0, delta1 = delta1, delta0
	}

	if err := receiver.OnSwap(ctx, p.account, delta0, delta1, opID); err != nil {
		return fmt.Errorf("swap callback failed: %w", err)
	}

	if err := p.ledger.TransferFrom(tokenIn, p.account, receiver.Account(), p.account, requiredIn); err != nil {
		return fmt.Errorf("%w: %v", ErrSwapNotRepaid, err)
	}

	p.logger.Debug("Flash swap settled",
		zap.String("token_out", tokenOut.Hex()),
		zap.String("amount_out", amountOut.String()),
		zap.String("token_in", tokenIn.Hex()),
		zap.String("amount_in", requiredIn.String()),
		zap.String("op_id", opID.String()))

	return nil
}

func (p *Pair) counterpart(token common.Address) (common.Address, error) {
	switch token {
	case p.token0:
		return p.token1, nil
	case p.token1:
		return p.token0, nil
	default:
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
}
