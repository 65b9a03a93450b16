package swap

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arbloop/flasharb/config"
	"github.com/arbloop/flasharb/dex"
	"github.com/arbloop/flasharb/engine"
	"github.com/arbloop/flasharb/flashloan"
	"github.com/arbloop/flasharb/ledger"
	"github.com/arbloop/flasharb/workflow"
)

var (
	owner     = common.HexToAddress("0x0a0a")
	initiator = common.HexToAddress("0x1b1b")
	tokenA    = common.HexToAddress("0xaaaa")
	tokenB    = common.HexToAddress("0xbbbb")
	tokenC    = common.HexToAddress("0xcccc")
)

type fixture struct {
	cfg       *config.Config
	ledger    *ledger.Ledger
	flashPair *dex.Pair
	adapter   *Adapter
}

// newFixture builds a flash pair A/B with balanced 10000/10000 reserves.
// The chain venue is configured per test.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)

	cfg := config.NewConfig(owner)
	require.NoError(t, cfg.SetFeeBps(owner, 50))
	require.NoError(t, cfg.SetMinProfitBps(owner, 10))

	l := ledger.New(log)
	flashPair, err := dex.NewPair(common.HexToAddress("0x2f2f"), tokenA, tokenB, l, log)
	require.NoError(t, err)
	require.NoError(t, l.Mint(tokenA, flashPair.Address(), big.NewInt(10000)))
	require.NoError(t, l.Mint(tokenB, flashPair.Address(), big.NewInt(10000)))

	adapter, err := NewAdapter(cfg, l, common.HexToAddress("0x4e4e"), log)
	require.NoError(t, err)

	return &fixture{cfg: cfg, ledger: l, flashPair: flashPair, adapter: adapter}
}

// venueChain registers a single A/B trading venue with the given reserves
// and returns a one-step chain converting A into B through it.
func (f *fixture) venueChain(t *testing.T, reserveA, reserveB int64) ([]workflow.Workflow, []workflow.StepData) {
	t.Helper()
	log := zaptest.NewLogger(t)

	venue, err := dex.NewPair(common.HexToAddress("0x3f3f"), tokenA, tokenB, f.ledger, log)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Mint(tokenA, venue.Address(), big.NewInt(reserveA)))
	require.NoError(t, f.ledger.Mint(tokenB, venue.Address(), big.NewInt(reserveB)))

	registry, err := dex.NewRegistry(0)
	require.NoError(t, err)
	registry.Register(venue)

	wfs := []workflow.Workflow{dex.NewSwapWorkflow(registry, log)}
	data := []workflow.StepData{{TokenOut: tokenB, MinAmountOut: big.NewInt(0)}}
	return wfs, data
}

func TestExecuteFlashSwapProfitable(t *testing.T) {
	// Borrow 100 A from the flash pair; it prices the repayment at
	// GetAmountIn(100, 10000, 10000) = 102 B. The venue trades A at a
	// better rate (10000/20000): 100 A -> 197 B, leaving 95 B profit.
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 20000)

	settlement, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		f.flashPair, tokenA, tokenB, big.NewInt(100), wfs, data)
	require.NoError(t, err)

	assert.Equal(t, tokenB, settlement.Token, "settlement denominated in the owed token")
	assert.Equal(t, "100", settlement.Principal.String())
	assert.Equal(t, "102", settlement.Owed.String())
	assert.Equal(t, "95", settlement.GrossProfit.String())
	assert.Equal(t, "0", settlement.Fee.String())
	assert.Equal(t, "95", settlement.NetProfit.String())

	assert.Equal(t, "95", f.ledger.BalanceOf(tokenB, initiator).String())
	assert.Equal(t, "0", f.ledger.BalanceOf(tokenA, f.adapter.Account()).String())
	assert.Equal(t, "0", f.ledger.BalanceOf(tokenB, f.adapter.Account()).String())

	r0, r1 := f.flashPair.GetReserves()
	assert.Equal(t, "9900", r0.String(), "flash pair paid out 100 A")
	assert.Equal(t, "10102", r1.String(), "flash pair pulled 102 B")
}

func TestExecuteFlashSwapReversedDirection(t *testing.T) {
	// Borrowing token1 of the pair exercises the opposite delta signs.
	f := newFixture(t)
	log := zaptest.NewLogger(t)

	venue, err := dex.NewPair(common.HexToAddress("0x3f3f"), tokenA, tokenB, f.ledger, log)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Mint(tokenA, venue.Address(), big.NewInt(20000)))
	require.NoError(t, f.ledger.Mint(tokenB, venue.Address(), big.NewInt(10000)))

	registry, err := dex.NewRegistry(0)
	require.NoError(t, err)
	registry.Register(venue)
	wfs := []workflow.Workflow{dex.NewSwapWorkflow(registry, log)}
	data := []workflow.StepData{{TokenOut: tokenA, MinAmountOut: big.NewInt(0)}}

	settlement, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		f.flashPair, tokenB, tokenA, big.NewInt(100), wfs, data)
	require.NoError(t, err)

	assert.Equal(t, tokenA, settlement.Token)
	assert.Equal(t, "102", settlement.Owed.String())
	assert.Equal(t, "95", settlement.NetProfit.String())
	assert.Equal(t, "95", f.ledger.BalanceOf(tokenA, initiator).String())
}

func TestExecuteFlashSwapInsufficientRepayment(t *testing.T) {
	// The venue's rate (10000/5000) turns 100 A into 49 B, well under
	// the 102 B the flash pair demands. Everything must roll back.
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 5000)

	_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		f.flashPair, tokenA, tokenB, big.NewInt(100), wfs, data)
	require.ErrorIs(t, err, flashloan.ErrInsufficientRepayment)

	assert.Equal(t, "0", f.ledger.BalanceOf(tokenB, initiator).String())
	assert.Equal(t, "0", f.ledger.BalanceOf(tokenA, f.adapter.Account()).String())
	r0, r1 := f.flashPair.GetReserves()
	assert.Equal(t, "10000", r0.String(), "flash pair reserves restored")
	assert.Equal(t, "10000", r1.String())
}

func TestExecuteFlashSwapProfitFloor(t *testing.T) {
	// Floor at 9600 bps of the 100 A principal is 96, above the 95 B the
	// chain nets.
	f := newFixture(t)
	require.NoError(t, f.cfg.SetMinProfitBps(owner, 9600))
	wfs, data := f.venueChain(t, 10000, 20000)

	_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		f.flashPair, tokenA, tokenB, big.NewInt(100), wfs, data)
	require.ErrorIs(t, err, engine.ErrInsufficientProfit)
	assert.Equal(t, "0", f.ledger.BalanceOf(tokenB, initiator).String())
}

func TestExecuteFlashSwapParamValidation(t *testing.T) {
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 20000)

	t.Run("NilPool", func(t *testing.T) {
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			nil, tokenA, tokenB, big.NewInt(100), wfs, data)
		require.ErrorIs(t, err, flashloan.ErrZeroAddress)
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			f.flashPair, tokenA, tokenB, big.NewInt(0), wfs, data)
		require.ErrorIs(t, err, flashloan.ErrZeroAmount)
	})

	t.Run("ZeroInitiator", func(t *testing.T) {
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), common.Address{},
			f.flashPair, tokenA, tokenB, big.NewInt(100), wfs, data)
		require.ErrorIs(t, err, flashloan.ErrZeroAddress)
	})

	t.Run("EmptyChain", func(t *testing.T) {
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			f.flashPair, tokenA, tokenB, big.NewInt(100), nil, nil)
		require.ErrorIs(t, err, workflow.ErrInvalidWorkflowChain)
	})

	t.Run("ChainLengthMismatch", func(t *testing.T) {
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			f.flashPair, tokenA, tokenB, big.NewInt(100), wfs, nil)
		require.ErrorIs(t, err, workflow.ErrWorkflowChainMismatch)
	})

	t.Run("TokenNotInPair", func(t *testing.T) {
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			f.flashPair, tokenA, tokenC, big.NewInt(100), wfs, data)
		require.ErrorIs(t, err, flashloan.ErrInvalidPoolTokens)
	})

	t.Run("Paused", func(t *testing.T) {
		require.NoError(t, f.cfg.Pause(owner))
		defer func() { require.NoError(t, f.cfg.Unpause(owner)) }()
		_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			f.flashPair, tokenA, tokenB, big.NewInt(100), wfs, data)
		require.ErrorIs(t, err, flashloan.ErrPaused)
	})
}

func TestOnSwapDirectInvocationRejected(t *testing.T) {
	f := newFixture(t)
	err := f.adapter.OnSwap(context.Background(), f.flashPair.Address(),
		big.NewInt(-100), big.NewInt(102), uuid.New())
	require.ErrorIs(t, err, flashloan.ErrOperationNotInitialized)
}

// reentrantWorkflow attempts a second flash swap on the same adapter
// mid-chain, then delegates to the real venue step
type reentrantWorkflow struct {
	adapter  *Adapter
	pool     flashloan.SwapPool
	delegate workflow.Workflow
	innerErr error
}

func (w *reentrantWorkflow) Execute(ctx context.Context, account common.Address,
	tokenIn common.Address, amountIn *big.Int, data workflow.StepData) (*big.Int, error) {

	_, w.innerErr = w.adapter.ExecuteFlashSwap(ctx, account, w.pool, tokenA, tokenB,
		big.NewInt(10), []workflow.Workflow{w.delegate},
		[]workflow.StepData{{TokenOut: tokenB, MinAmountOut: big.NewInt(0)}})

	return w.delegate.Execute(ctx, account, tokenIn, amountIn, data)
}

func TestExecuteFlashSwapReentrancyRejected(t *testing.T) {
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 20000)
	wf := &reentrantWorkflow{adapter: f.adapter, pool: f.flashPair, delegate: wfs[0]}

	var settlement *flashloan.Settlement
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		settlement, err = f.adapter.ExecuteFlashSwap(context.Background(), initiator,
			f.flashPair, tokenA, tokenB, big.NewInt(100), []workflow.Workflow{wf}, data)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reentrant borrow blocked instead of failing")
	}

	// The inner borrow is rejected and the outer one settles normally.
	require.ErrorIs(t, wf.innerErr, flashloan.ErrOperationInFlight)
	require.NoError(t, err)
	assert.Equal(t, "95", settlement.NetProfit.String())
}

// doubleCallPool invokes the callback twice to probe the one-shot guard
type doubleCallPool struct {
	account   common.Address
	t0, t1    common.Address
	l         *ledger.Ledger
	secondErr error
}

func (d *doubleCallPool) Address() common.Address { return d.account }
func (d *doubleCallPool) Token0() common.Address  { return d.t0 }
func (d *doubleCallPool) Token1() common.Address  { return d.t1 }

func (d *doubleCallPool) Swap(ctx context.Context, receiver flashloan.SwapReceiver,
	zeroForOne bool, amountOut *big.Int, opID uuid.UUID) error {

	if err := d.l.Transfer(d.t0, d.account, receiver.Account(), amountOut); err != nil {
		return err
	}
	delta0 := new(big.Int).Neg(amountOut)
	delta1 := new(big.Int).Add(amountOut, big.NewInt(2))

	if err := receiver.OnSwap(ctx, d.account, delta0, delta1, opID); err != nil {
		return err
	}
	d.secondErr = receiver.OnSwap(ctx, d.account, delta0, delta1, opID)
	return d.secondErr
}

func TestOnSwapOneShot(t *testing.T) {
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 20000)

	pool := &doubleCallPool{account: common.HexToAddress("0x7f7f"), t0: tokenA, t1: tokenB, l: f.ledger}
	require.NoError(t, f.ledger.Mint(tokenA, pool.account, big.NewInt(1000)))

	_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		pool, tokenA, tokenB, big.NewInt(100), wfs, data)
	require.Error(t, err)
	require.ErrorIs(t, pool.secondErr, flashloan.ErrOperationAlreadyExecuted)

	// The duplicated callback aborted the whole borrow.
	assert.Equal(t, "0", f.ledger.BalanceOf(tokenB, initiator).String())
	assert.Equal(t, "1000", f.ledger.BalanceOf(tokenA, pool.account).String())
}

// spoofingPool implements a pool that delivers a mismatched operation id
type spoofingPool struct {
	account common.Address
	t0, t1  common.Address
}

func (s *spoofingPool) Address() common.Address { return s.account }
func (s *spoofingPool) Token0() common.Address  { return s.t0 }
func (s *spoofingPool) Token1() common.Address  { return s.t1 }

func (s *spoofingPool) Swap(ctx context.Context, receiver flashloan.SwapReceiver,
	zeroForOne bool, amountOut *big.Int, opID uuid.UUID) error {
	return receiver.OnSwap(ctx, s.account, new(big.Int).Neg(amountOut), big.NewInt(1), uuid.New())
}

func TestOnSwapRejectsSpoofedOperation(t *testing.T) {
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 20000)
	pool := &spoofingPool{account: common.HexToAddress("0x5f5f"), t0: tokenA, t1: tokenB}

	_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		pool, tokenA, tokenB, big.NewInt(100), wfs, data)
	require.ErrorIs(t, err, flashloan.ErrOperationMismatch)
}

// sameSignPool reports deltas that do not describe a swap
type sameSignPool struct {
	account common.Address
	t0, t1  common.Address
}

func (s *sameSignPool) Address() common.Address { return s.account }
func (s *sameSignPool) Token0() common.Address  { return s.t0 }
func (s *sameSignPool) Token1() common.Address  { return s.t1 }

func (s *sameSignPool) Swap(ctx context.Context, receiver flashloan.SwapReceiver,
	zeroForOne bool, amountOut *big.Int, opID uuid.UUID) error {
	return receiver.OnSwap(ctx, s.account, big.NewInt(100), big.NewInt(102), opID)
}

func TestOnSwapRejectsMalformedDeltas(t *testing.T) {
	f := newFixture(t)
	wfs, data := f.venueChain(t, 10000, 20000)
	pool := &sameSignPool{account: common.HexToAddress("0x6f6f"), t0: tokenA, t1: tokenB}

	_, err := f.adapter.ExecuteFlashSwap(context.Background(), initiator,
		pool, tokenA, tokenB, big.NewInt(100), wfs, data)
	require.ErrorIs(t, err, flashloan.ErrOperationMismatch)
}
