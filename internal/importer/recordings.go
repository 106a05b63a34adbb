package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/synth"
)

// RecordingFile is the JSON document accepted by the seed command.
type RecordingFile struct {
	Recordings []RecordingEntry `json:"recordings"`
}

// RecordingEntry is one recording in a RecordingFile. PoolRef is classified
// into a native, external or opaque pool reference.
type RecordingEntry struct {
	CaseID     string               `json:"case_id"`
	PoolRef    string               `json:"pool_ref"`
	SampleRate int                  `json:"sample_rate"`
	Channels   map[string][]float64 `json:"channels"`
}

// ReadRecordings decodes a recording document, rejecting unknown fields.
func ReadRecordings(r io.Reader) (RecordingFile, error) {
	var file RecordingFile
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return RecordingFile{}, fmt.Errorf("importer: decode recordings: %w", err)
	}
	if len(file.Recordings) == 0 {
		return RecordingFile{}, fmt.Errorf("importer: no recordings in file")
	}
	return file, nil
}

// Segments cuts every recording into windows and returns them as segment
// inputs in file order.
func (f RecordingFile) Segments(engine *synth.Engine, opts synth.WindowOptions) ([]application.SegmentInput, error) {
	var inputs []application.SegmentInput
	for i, entry := range f.Recordings {
		rate := entry.SampleRate
		if rate == 0 {
			rate = synth.DefaultSampleRate
		}
		windows, err := engine.Windows(synth.Recording{
			CaseID:     strings.TrimSpace(entry.CaseID),
			SampleRate: rate,
			Channels:   entry.Channels,
		}, opts)
		if err != nil {
			return nil, fmt.Errorf("importer: recording %d (%s): %w", i, entry.CaseID, err)
		}
		pool := ids.ClassifyPoolRef(entry.PoolRef)
		for _, window := range windows {
			input, err := SegmentInput(window, pool)
			if err != nil {
				return nil, fmt.Errorf("importer: recording %d (%s): %w", i, entry.CaseID, err)
			}
			inputs = append(inputs, input)
		}
	}
	return inputs, nil
}

// SegmentInput converts a window into a segment input, encoding every channel
// as a JSON array of samples.
func SegmentInput(window synth.Window, pool ids.PoolRef) (application.SegmentInput, error) {
	signals := make(map[string]json.RawMessage, len(window.Signals))
	for channel, samples := range window.Signals {
		raw, err := json.Marshal(samples)
		if err != nil {
			return application.SegmentInput{}, fmt.Errorf("encode channel %s: %w", channel, err)
		}
		signals[channel] = raw
	}
	return application.SegmentInput{
		CaseID:     window.CaseID,
		Pool:       pool,
		StartIdx:   window.StartIdx,
		StopIdx:    window.StopIdx,
		ZeroPadded: window.ZeroPadded,
		Signals:    signals,
	}, nil
}
