package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/arbloop/flasharb/config"
)

// ErrInsufficientProfit is returned when an operation's net profit falls
// below the configured minimum relative to its principal.
var ErrInsufficientProfit = errors.New("insufficient profit")

// Engine computes platform fees and validates profit floors. It is pure
// computation: the only state it touches is the live fee configuration,
// which it reads at settlement time so that a config change applies to
// every operation settled after it.
//
// All arithmetic is on big.Int, so the checked-multiply overflow concern
// of fixed-width fee math does not arise. Division truncates toward zero,
// which rounds in favor of fee collection and against the caller reaching
// the minimum profit floor.
type Engine struct {
	cfg *config.Config
}

// New creates a fee engine bound to the given configuration
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Fee returns floor(amount * feeBps / 10000) at the current fee setting
func (e *Engine) Fee(amount *big.Int) *big.Int {
	return feeAt(amount, e.cfg.FeeBpsValue())
}

// NetProfit returns grossProfit - fee, floored at zero
func (e *Engine) NetProfit(grossProfit, fee *big.Int) *big.Int {
	if grossProfit.Cmp(fee) <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(grossProfit, fee)
}

// MinProfit returns the profit floor for the given principal at the
// current minimum-profit setting
func (e *Engine) MinProfit(principal *big.Int) *big.Int {
	return feeAt(principal, e.cfg.MinProfitBpsValue())
}

// ValidateProfit fails with ErrInsufficientProfit when netProfit is below
// floor(principal * minProfitBps / 10000)
func (e *Engine) ValidateProfit(netProfit, principal *big.Int) error {
	floor := e.MinProfit(principal)
	if netProfit.Cmp(floor) < 0 {
		return fmt.Errorf("%w: net %s below floor %s (principal %s, min %d bps)",
			ErrInsufficientProfit, netProfit.String(), floor.String(),
			principal.String(), e.cfg.MinProfitBpsValue())
	}
	return nil
}

func feeAt(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, big.NewInt(config.BpsDenominator))
}
