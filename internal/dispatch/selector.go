package dispatch

import (
	"errors"
	"math/rand/v2"

	"mediashuffler/internal/inventory"
)

// ErrExhausted means no unsent record matched: the inventory is used up
// (or filtered down to nothing) until the next scan adds files.
var ErrExhausted = errors.New("no unsent media available")

// Selector picks the next record uniformly at random, so repeated picks over
// a session favor no position of the (key-ordered) candidate list.
type Selector struct {
	rng *rand.Rand
}

func NewSelector() *Selector {
	return &Selector{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSelectorSeeded pins the random source, for tests.
func NewSelectorSeeded(seed uint64) *Selector {
	return &Selector{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Pick returns one of the candidates, optionally restricted to the given
// media types. Fails with ErrExhausted when nothing matches.
func (s *Selector) Pick(candidates []inventory.Record, types ...inventory.MediaType) (inventory.Record, error) {
	pool := candidates
	if len(types) > 0 {
		pool = pool[:0:0]
		for _, rec := range candidates {
			if matchesType(rec.Type, types) {
				pool = append(pool, rec)
			}
		}
	}
	if len(pool) == 0 {
		return inventory.Record{}, ErrExhausted
	}
	return pool[s.rng.IntN(len(pool))], nil
}

func matchesType(t inventory.MediaType, types []inventory.MediaType) bool {
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}
