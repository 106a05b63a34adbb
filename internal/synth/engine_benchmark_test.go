package synth

import "testing"

func BenchmarkEngineWindows(b *testing.B) {
	engine := NewEngine(DefaultWindowSeconds, 0)
	hour := DefaultSampleRate * 60 * 60
	rec := Recording{
		CaseID:     "bench",
		SampleRate: DefaultSampleRate,
		Channels:   map[string][]float64{"I": make([]float64, hour), "II": make([]float64, hour)},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		windows, err := engine.Windows(rec, WindowOptions{KeepPartial: true})
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(windows) == 0 {
			b.Fatal("expected windows to be generated")
		}
	}
}
