// Package synth cuts multi-channel recordings into fixed-length annotation
// windows and produces synthetic recordings for seeding.
package synth

import (
	"errors"
	"sort"
)

// DefaultSampleRate is the sampling rate of recordings in hertz.
const DefaultSampleRate = 240

// DefaultWindowSeconds is the length of one annotation window.
const DefaultWindowSeconds = 10

// Recording is a multi-channel signal sampled at SampleRate. Every channel
// holds the same number of samples.
type Recording struct {
	CaseID     string
	SampleRate int
	Channels   map[string][]float64
}

// WindowOptions bounds the part of a recording that is cut into windows.
// Indexes are sample offsets; a zero RangeEnd means the end of the recording.
type WindowOptions struct {
	RangeStart int
	RangeEnd   int
	// KeepPartial keeps a trailing window that runs past the end of the
	// recording, padding it with zeros.
	KeepPartial bool
}

// Window is one annotation window cut from a recording.
type Window struct {
	CaseID     string
	StartIdx   int
	StopIdx    int
	ZeroPadded bool
	Signals    map[string][]float64
}

// Engine cuts recordings into windows of a fixed duration.
type Engine struct {
	seconds int
	stride  int
}

// NewEngine constructs an Engine producing windows of seconds length that
// advance by strideSeconds. Non-positive values select DefaultWindowSeconds
// and a stride equal to the window length.
func NewEngine(seconds, strideSeconds int) *Engine {
	if seconds <= 0 {
		seconds = DefaultWindowSeconds
	}
	if strideSeconds <= 0 {
		strideSeconds = seconds
	}
	return &Engine{seconds: seconds, stride: strideSeconds}
}

// ErrInvalidSampleRate indicates the recording has no usable sampling rate.
var ErrInvalidSampleRate = errors.New("synth: sample rate must be positive")

// ErrEmptyRecording indicates the recording holds no channels or samples.
var ErrEmptyRecording = errors.New("synth: recording has no samples")

// ErrRaggedChannels indicates channels of one recording differ in length.
var ErrRaggedChannels = errors.New("synth: channels differ in length")

// ErrInvalidRange indicates the requested range is outside the recording.
var ErrInvalidRange = errors.New("synth: window range is outside the recording")

// Windows cuts rec into windows in ascending sample order.
//
// The engine enforces the following semantics:
//   - Windows start at RangeStart and advance by the stride.
//   - A window must end at or before RangeEnd unless KeepPartial is set, in
//     which case the single trailing window is zero padded past the recording.
//   - Every channel of a window is an independent copy of the samples.
func (e *Engine) Windows(rec Recording, opts WindowOptions) ([]Window, error) {
	if rec.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	samples, err := recordingLength(rec)
	if err != nil {
		return nil, err
	}

	upperBound := samples
	if opts.RangeEnd > 0 {
		if opts.RangeEnd > samples {
			return nil, ErrInvalidRange
		}
		upperBound = opts.RangeEnd
	}
	if opts.RangeStart < 0 || opts.RangeStart >= upperBound {
		return nil, ErrInvalidRange
	}

	length := e.seconds * rec.SampleRate
	stride := e.stride * rec.SampleRate
	channels := channelNames(rec.Channels)
	windows := make([]Window, 0, (upperBound-opts.RangeStart)/stride+1)

	for start := opts.RangeStart; start < upperBound; start += stride {
		stop := start + length
		padded := stop > upperBound
		if padded && !opts.KeepPartial {
			break
		}

		window := Window{
			CaseID:     rec.CaseID,
			StartIdx:   start,
			StopIdx:    stop,
			ZeroPadded: padded,
			Signals:    make(map[string][]float64, len(channels)),
		}
		for _, name := range channels {
			window.Signals[name] = cut(rec.Channels[name], start, stop, upperBound)
		}
		windows = append(windows, window)

		if padded {
			break
		}
	}

	return windows, nil
}

func recordingLength(rec Recording) (int, error) {
	if len(rec.Channels) == 0 {
		return 0, ErrEmptyRecording
	}
	samples := -1
	for _, signal := range rec.Channels {
		if samples == -1 {
			samples = len(signal)
			continue
		}
		if len(signal) != samples {
			return 0, ErrRaggedChannels
		}
	}
	if samples == 0 {
		return 0, ErrEmptyRecording
	}
	return samples, nil
}

func channelNames(channels map[string][]float64) []string {
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cut copies signal[start:stop], filling positions at or past limit with zeros.
func cut(signal []float64, start, stop, limit int) []float64 {
	out := make([]float64, stop-start)
	end := stop
	if end > limit {
		end = limit
	}
	copy(out, signal[start:end])
	return out
}
