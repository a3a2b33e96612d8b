package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	numberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numberLength   = 6
	numberSpace    = 2176782336 // 36^6
)

// NumberGenerator issues VG-<year>-<6 chars> order numbers. Each value is an affine permutation
// of a counter over the 36^6 space, with multiplier, offset and start drawn from crypto/rand,
// so one process never repeats a suffix. Across processes the orders.order_number unique
// constraint decides.
type NumberGenerator struct {
	mu      sync.Mutex
	mult    uint64
	offset  uint64
	counter uint64
	now     func() time.Time
}

func NewNumberGenerator() (*NumberGenerator, error) {
	g := &NumberGenerator{now: time.Now}
	var err error
	for {
		if g.mult, err = randomBelow(numberSpace); err != nil {
			return nil, err
		}
		// Koprima dengan 36^6 (tidak habis dibagi 2 atau 3) supaya tetap bijektif
		if g.mult%2 != 0 && g.mult%3 != 0 {
			break
		}
	}
	if g.offset, err = randomBelow(numberSpace); err != nil {
		return nil, err
	}
	if g.counter, err = randomBelow(numberSpace); err != nil {
		return nil, err
	}
	return g, nil
}

func randomBelow(n int64) (uint64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("order number entropy: %w", err)
	}
	return v.Uint64(), nil
}

func (g *NumberGenerator) Next() string {
	g.mu.Lock()
	v := (g.mult*g.counter + g.offset) % numberSpace
	g.counter = (g.counter + 1) % numberSpace
	year := g.now().Year()
	g.mu.Unlock()

	var suffix [numberLength]byte
	for i := numberLength - 1; i >= 0; i-- {
		suffix[i] = numberAlphabet[v%36]
		v /= 36
	}
	return fmt.Sprintf("VG-%d-%s", year, suffix[:])
}
