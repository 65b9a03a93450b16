package dex

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultRegistrySize bounds the number of pairs the registry tracks
const DefaultRegistrySize = 1024

var ErrPairNotFound = errors.New("no pair registered for token pair")

// Registry indexes pairs by their token pair, order-independent. Backed
// by an LRU cache so the tracked set stays bounded.
type Registry struct {
	pairs *lru.Cache
}

// NewRegistry creates a pair registry with the given capacity
func NewRegistry(size int) (*Registry, error) {
	if size <= 0 {
		size = DefaultRegistrySize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair cache: %w", err)
	}
	return &Registry{pairs: cache}, nil
}

// Register adds a pair to the registry
func (r *Registry) Register(p *Pair) {
	r.pairs.Add(pairKey(p.Token0(), p.Token1()), p)
}

// Lookup returns the registered pair for the two tokens, in either order
func (r *Registry) Lookup(a, b common.Address) (*Pair, error) {
	if v, ok := r.pairs.Get(pairKey(a, b)); ok {
		return v.(*Pair), nil
	}
	return nil, fmt.Errorf("%w: %s / %s", ErrPairNotFound, a.Hex(), b.Hex())
}

func pairKey(a, b common.Address) uint64 {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	h := xxhash.New()
	h.Write(a.Bytes())
	h.Write(b.Bytes())
	return h.Sum64()
}
