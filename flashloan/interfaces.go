package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PoolLender is the pool-style lending capability: a single-asset flash
// loan with a same-asset premium. FlashLoan transfers amount of token to
// the receiver's account, invokes OnFlashLoan exactly once, and then
// pulls amount+premium back through the receiver's approval. A shortfall
// fails the whole call.
type PoolLender interface {
	Address() common.Address
	PremiumBps() uint64
	FlashLoan(ctx context.Context, receiver FlashLoanReceiver, token common.Address, amount *big.Int, opID uuid.UUID) error
}

// FlashLoanReceiver is implemented by the pool-style borrow adapter
type FlashLoanReceiver interface {
	Account() common.Address
	OnFlashLoan(ctx context.Context, caller, token common.Address, amount, premium *big.Int, opID uuid.UUID) error
}

// SwapPool is the swap-style exchange capability: a two-token pool that
// can deliver an exact output amount before collecting its input. Swap
// transfers the requested output to the receiver's account, invokes
// OnSwap with the two signed per-token deltas (positive owed to the pool,
// negative received from it), then pulls the owed token through the
// receiver's approval and verifies its own pricing invariant.
type SwapPool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address
	Swap(ctx context.Context, receiver SwapReceiver, zeroForOne bool, amountOut *big.Int, opID uuid.UUID) error
}

// SwapReceiver is implemented by the swap-style borrow adapter
type SwapReceiver interface {
	Account() common.Address
	OnSwap(ctx context.Context, caller common.Address, amount0Delta, amount1Delta *big.Int, opID uuid.UUID) error
}
