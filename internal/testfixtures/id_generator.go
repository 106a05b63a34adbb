package testfixtures

import (
	"sync"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
)

// IDGenerator produces deterministic, strictly increasing identifiers. The
// n-th identifier encodes base + n milliseconds, so generation order equals
// identifier order.
type IDGenerator struct {
	mu      sync.Mutex
	base    time.Time
	counter uint64
}

// NewIDGenerator constructs a generator anchored at base. When base is the
// zero value, ReferenceTime is used.
func NewIDGenerator(base time.Time) *IDGenerator {
	if base.IsZero() {
		base = ReferenceTime()
	}
	return &IDGenerator{base: base}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() ids.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return ids.At(g.base.Add(time.Duration(g.counter)*time.Millisecond), 0)
}

// NextN returns the next n identifiers in ascending order.
func (g *IDGenerator) NextN(n int) []ids.ID {
	out := make([]ids.ID, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

// NextFunc exposes Next as an ids.Generator suitable for dependency injection.
func (g *IDGenerator) NextFunc() ids.Generator {
	if g == nil {
		return ids.New
	}
	return func() (ids.ID, error) { return g.Next(), nil }
}

// SetCounter overrides the internal counter, enabling deterministic resets.
func (g *IDGenerator) SetCounter(counter uint64) {
	g.mu.Lock()
	g.counter = counter
	g.mu.Unlock()
}
