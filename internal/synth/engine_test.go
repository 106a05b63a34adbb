package synth

import (
	"errors"
	"testing"
)

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestEngine_Windows(t *testing.T) {
	t.Parallel()

	engine := NewEngine(2, 0)
	rec := Recording{CaseID: "case-1", SampleRate: 4, Channels: map[string][]float64{"I": ramp(20), "II": ramp(20)}}

	t.Run("cuts full windows and drops the tail", func(t *testing.T) {
		t.Parallel()
		windows, err := engine.Windows(rec, WindowOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(windows) != 2 {
			t.Fatalf("expected 2 windows, got %d", len(windows))
		}
		if windows[1].StartIdx != 8 || windows[1].StopIdx != 16 || windows[1].ZeroPadded {
			t.Fatalf("unexpected second window %+v", windows[1])
		}
		if got := windows[1].Signals["II"][0]; got != 9 {
			t.Fatalf("expected window to start at sample 9, got %v", got)
		}
	})

	t.Run("pads the trailing window", func(t *testing.T) {
		t.Parallel()
		windows, err := engine.Windows(rec, WindowOptions{KeepPartial: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		last := windows[len(windows)-1]
		if len(windows) != 3 || !last.ZeroPadded || last.StartIdx != 16 || last.StopIdx != 24 {
			t.Fatalf("unexpected padded window %+v", last)
		}
		signal := last.Signals["I"]
		if signal[3] != 20 || signal[4] != 0 || signal[7] != 0 {
			t.Fatalf("expected zeros after the recording, got %v", signal)
		}
	})

	t.Run("clips to the requested range", func(t *testing.T) {
		t.Parallel()
		windows, err := engine.Windows(rec, WindowOptions{RangeStart: 4, RangeEnd: 12})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(windows) != 1 || windows[0].StartIdx != 4 || windows[0].StopIdx != 12 {
			t.Fatalf("unexpected windows %+v", windows)
		}
	})

	t.Run("overlapping stride", func(t *testing.T) {
		t.Parallel()
		windows, err := NewEngine(2, 1).Windows(rec, WindowOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(windows) != 4 || windows[1].StartIdx != 4 {
			t.Fatalf("unexpected windows %+v", windows)
		}
	})

	t.Run("copies samples", func(t *testing.T) {
		t.Parallel()
		local := Recording{SampleRate: 1, Channels: map[string][]float64{"I": ramp(20)}}
		windows, err := NewEngine(10, 0).Windows(local, WindowOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		windows[0].Signals["I"][0] = -1
		if local.Channels["I"][0] != 1 {
			t.Fatalf("window must not alias the recording")
		}
	})
}

func TestEngine_WindowsRejectsBadInput(t *testing.T) {
	t.Parallel()

	engine := NewEngine(0, 0)
	cases := []struct {
		name string
		rec  Recording
		opts WindowOptions
		want error
	}{
		{"no rate", Recording{Channels: map[string][]float64{"I": ramp(4)}}, WindowOptions{}, ErrInvalidSampleRate},
		{"no channels", Recording{SampleRate: 240}, WindowOptions{}, ErrEmptyRecording},
		{"empty channel", Recording{SampleRate: 240, Channels: map[string][]float64{"I": {}}}, WindowOptions{}, ErrEmptyRecording},
		{"ragged", Recording{SampleRate: 240, Channels: map[string][]float64{"I": ramp(4), "II": ramp(5)}}, WindowOptions{}, ErrRaggedChannels},
		{"range past end", Recording{SampleRate: 240, Channels: map[string][]float64{"I": ramp(4)}}, WindowOptions{RangeEnd: 5}, ErrInvalidRange},
		{"start past end", Recording{SampleRate: 240, Channels: map[string][]float64{"I": ramp(4)}}, WindowOptions{RangeStart: 4}, ErrInvalidRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Windows(tc.rec, tc.opts); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSineGeneratorIsDeterministic(t *testing.T) {
	t.Parallel()

	a := NewSineGenerator(0, 0, 0, 0, 42).Windows(3)
	b := NewSineGenerator(0, 0, 0, 0, 42).Windows(3)
	for i := range a {
		if a[i].StartIdx != b[i].StartIdx || a[i].Signals["I"][100] != b[i].Signals["I"][100] {
			t.Fatalf("window %d differs between identical seeds", i)
		}
		if a[i].StopIdx-a[i].StartIdx != DefaultSampleRate*DefaultWindowSeconds || len(a[i].Signals["I"]) != 2400 {
			t.Fatalf("unexpected window size %+v", a[i].StopIdx-a[i].StartIdx)
		}
		if a[i].StartIdx%DefaultSampleRate != 0 || a[i].StartIdx < DefaultSampleRate {
			t.Fatalf("expected start on a whole second, got %d", a[i].StartIdx)
		}
		for _, v := range a[i].Signals["I"] {
			if v > 4 || v < -4 {
				t.Fatalf("sample %v exceeds the amplitude bound", v)
			}
		}
	}
}
