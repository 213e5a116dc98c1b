package pulse3d

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	meta := json.RawMessage(`{
		"version": "1.0.2",
		"name_override": "plate-42",
		"analysis_params": {
			"twitch_widths": [10, 50, 90],
			"start_time": 1.5,
			"normalize_y_axis": false,
			"include_stim_protocols": true
		}
	}`)

	version, params, override, err := ParseMeta(meta)
	require.NoError(t, err)
	require.Equal(t, "1.0.2", version)
	require.Equal(t, "plate-42", override)
	require.Equal(t, []int{10, 50, 90}, params.TwitchWidths)
	require.NotNil(t, params.StartTime)
	require.Equal(t, 1.5, *params.StartTime)
	require.NotNil(t, params.NormalizeYAxis)
	require.False(t, *params.NormalizeYAxis)
	require.True(t, params.IncludeStimProtocols)

	// unset knobs stay unset rather than defaulting to zero
	require.Nil(t, params.EndTime)
	require.Nil(t, params.MaxY)
	require.Nil(t, params.StiffnessFactor)
}

func TestParseMetaRejectsBadInput(t *testing.T) {
	for name, meta := range map[string]json.RawMessage{
		"empty":      nil,
		"not json":   json.RawMessage(`nope`),
		"no version": json.RawMessage(`{"analysis_params":{}}`),
	} {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := ParseMeta(meta)
			require.Error(t, err)
		})
	}
}

func TestWorkbookName(t *testing.T) {
	require.Equal(t, "recording.xlsx", workbookName("recording.zip", ""))
	require.Equal(t, "custom.xlsx", workbookName("recording.zip", "custom"))
	require.Equal(t, "noext.xlsx", workbookName("noext", ""))
}
