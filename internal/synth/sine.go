package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SineGenerator produces random single-lead sine recordings shaped like the
// demo data annotators see on a fresh install.
type SineGenerator struct {
	sampleRate   int
	seconds      int
	maxAmplitude float64
	maxOffset    int
	rng          *rand.Rand
}

// NewSineGenerator builds a generator. The same seed always yields the same
// sequence of windows.
func NewSineGenerator(sampleRate, seconds int, maxAmplitude float64, maxOffset int, seed uint64) *SineGenerator {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if seconds <= 0 {
		seconds = DefaultWindowSeconds
	}
	if maxAmplitude <= 0 {
		maxAmplitude = 4
	}
	if maxOffset <= 0 {
		maxOffset = 200
	}
	return &SineGenerator{
		sampleRate:   sampleRate,
		seconds:      seconds,
		maxAmplitude: maxAmplitude,
		maxOffset:    maxOffset,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Windows returns n synthetic windows on channel "I". Each window starts at a
// random whole second within the first maxOffset seconds of its case.
func (g *SineGenerator) Windows(n int) []Window {
	windows := make([]Window, n)
	samples := g.sampleRate * g.seconds
	for i := range windows {
		amplitude := g.rng.Float64() * g.maxAmplitude
		phase := g.rng.Float64()
		period := g.rng.Float64() * math.Pi / float64(g.sampleRate)

		signal := make([]float64, samples)
		for x := range signal {
			signal[x] = amplitude * math.Sin(period*float64(x)+phase)
		}

		start := (g.rng.IntN(g.maxOffset) + 1) * g.sampleRate
		windows[i] = Window{
			CaseID:   fmt.Sprintf("synthetic-%04d", i+1),
			StartIdx: start,
			StopIdx:  start + samples,
			Signals:  map[string][]float64{"I": signal},
		}
	}
	return windows
}
