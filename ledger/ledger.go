package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrZeroAddress           = errors.New("zero address")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is an in-memory token ledger tracking balances and allowances
// per token. Every mutation is fallible and returns an explicit error;
// callers must never ignore a transfer result.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	logger     *zap.Logger
}

// Snapshot is a deep copy of the ledger state, used to unwind every
// balance change made by a failed operation.
type Snapshot struct {
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
}

// New creates a new empty ledger
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		logger:     logger,
	}
}

// Mint credits amount of token to holder
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) error {
	if token == (common.Address{}) || holder == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(token, holder, amount)
	return nil
}

// BalanceOf returns the balance of holder for token. The returned value
// is a copy and safe to mutate.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if holders, ok := l.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Transfer moves amount of token from one holder to another
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if token == (common.Address{}) || from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	l.credit(token, to, amount)
	return nil
}

// Approve sets the allowance of spender over owner's token balance.
// Setting a new allowance overwrites the previous one.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if token == (common.Address{}) || owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	owners, ok := l.allowances[token]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*big.Int)
		l.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		owners[owner] = spenders
	}
	spenders[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining allowance of spender over owner's token balance
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if owners, ok := l.allowances[token]; ok {
		if spenders, ok := owners[owner]; ok {
			if a, ok := spenders[spender]; ok {
				return new(big.Int).Set(a)
			}
		}
	}
	return new(big.Int)
}

// TransferFrom moves amount of token from owner to recipient on behalf of
// spender, consuming allowance
func (l *Ledger) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	if token == (common.Address{}) || spender == (common.Address{}) || owner == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowance(token, owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s owner %s spender %s", ErrInsufficientAllowance,
			token.Hex(), owner.Hex(), spender.Hex())
	}
	if err := l.debit(token, owner, amount); err != nil {
		return err
	}
	l.credit(token, to, amount)
	if owners, ok := l.allowances[token]; ok {
		if spenders, ok := owners[owner]; ok {
			spenders[spender] = allowance.Sub(allowance, amount)
		}
	}
	return nil
}

// Snapshot captures the full ledger state
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &Snapshot{
		balances:   make(map[common.Address]map[common.Address]*big.Int, len(l.balances)),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int, len(l.allowances)),
	}
	for token, holders := range l.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		snap.balances[token] = copied
	}
	for token, owners := range l.allowances {
		copiedOwners := make(map[common.Address]map[common.Address]*big.Int, len(owners))
		for owner, spenders := range owners {
			copied := make(map[common.Address]*big.Int, len(spenders))
			for spender, a := range spenders {
				copied[spender] = new(big.Int).Set(a)
			}
			copiedOwners[owner] = copied
		}
		snap.allowances[token] = copiedOwners
	}
	return snap
}

// Restore rewinds the ledger to a previously captured snapshot
func (l *Ledger) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[common.Address]map[common.Address]*big.Int, len(snap.balances))
	for token, holders := range snap.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copied[holder] = new(big.Int).Set(bal)
		}
		l.balances[token] = copied
	}
	l.allowances = make(map[common.Address]map[common.Address]map[common.Address]*big.Int, len(snap.allowances))
	for token, owners := range snap.allowances {
		copiedOwners := make(map[common.Address]map[common.Address]*big.Int, len(owners))
		for owner, spenders := range owners {
			copied := make(map[common.Address]*big.Int, len(spenders))
			for spender, a := range spenders {
				copied[spender] = new(big.Int).Set(a)
			}
			copiedOwners[owner] = copied
		}
		l.allowances[token] = copiedOwners
	}
}

func (l *Ledger) credit(token, holder common.Address, amount *big.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	bal.Add(bal, amount)
}

func (l *Ledger) debit(token, holder common.Address, amount *big.Int) error {
	holders, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("%w: token %s holder %s", ErrInsufficientBalance, token.Hex(), holder.Hex())
	}
	bal, ok := holders[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s holder %s", ErrInsufficientBalance, token.Hex(), holder.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}

func (l *Ledger) allowance(token, owner, spender common.Address) *big.Int {
	if owners, ok := l.allowances[token]; ok {
		if spenders, ok := owners[owner]; ok {
			if a, ok := spenders[spender]; ok {
				return a
			}
		}
	}
	return new(big.Int)
}
