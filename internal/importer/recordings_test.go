package importer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/synth"
)

func TestRecordingFileSegments(t *testing.T) {
	t.Parallel()

	doc := `{"recordings":[
		{"case_id":"case-7","pool_ref":"5f2b8c1e9d3a4b7c8e6f0a12","sample_rate":2,"channels":{"I":[1,2,3,4,5],"II":[5,4,3,2,1]}}
	]}`
	file, err := ReadRecordings(strings.NewReader(doc))
	require.NoError(t, err)

	inputs, err := file.Segments(synth.NewEngine(1, 0), synth.WindowOptions{KeepPartial: true})
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	require.Equal(t, "case-7", inputs[0].CaseID)
	require.Equal(t, ids.PoolRefOpaque, inputs[0].Pool.Kind())
	require.Equal(t, 2, inputs[1].StartIdx)
	require.Equal(t, 4, inputs[1].StopIdx)
	require.False(t, inputs[1].ZeroPadded)
	require.True(t, inputs[2].ZeroPadded)

	var samples []float64
	require.NoError(t, json.Unmarshal(inputs[2].Signals["I"], &samples))
	require.Equal(t, []float64{5, 0}, samples)
}

func TestReadRecordingsRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	_, err := ReadRecordings(strings.NewReader(`{"recordings":[]}`))
	require.Error(t, err)

	_, err = ReadRecordings(strings.NewReader(`{"recordings":[{"case":"x"}]}`))
	require.Error(t, err)

	file, err := ReadRecordings(strings.NewReader(`{"recordings":[{"case_id":"x","channels":{"I":[1],"II":[1,2]}}]}`))
	require.NoError(t, err)
	_, err = file.Segments(synth.NewEngine(0, 0), synth.WindowOptions{})
	require.ErrorIs(t, err, synth.ErrRaggedChannels)
}
