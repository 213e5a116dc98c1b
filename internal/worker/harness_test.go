package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeMeta(t *testing.T) {
	t.Run("overlay wins on conflicts", func(t *testing.T) {
		base := json.RawMessage(`{"analysis_params":{"twitch_widths":[50]},"version":"1.0.0"}`)
		overlay := json.RawMessage(`{"version":"1.0.1","peaks_valleys":true}`)

		merged, err := MergeMeta(base, overlay)
		require.NoError(t, err)

		var got map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(merged, &got))
		require.JSONEq(t, `"1.0.1"`, string(got["version"]))
		require.JSONEq(t, `{"twitch_widths":[50]}`, string(got["analysis_params"]))
		require.JSONEq(t, `true`, string(got["peaks_valleys"]))
	})

	t.Run("empty overlay keeps base", func(t *testing.T) {
		base := json.RawMessage(`{"a":1}`)
		merged, err := MergeMeta(base, nil)
		require.NoError(t, err)
		require.Equal(t, base, merged)
	})

	t.Run("empty base takes overlay", func(t *testing.T) {
		overlay := json.RawMessage(`{"b":2}`)
		merged, err := MergeMeta(nil, overlay)
		require.NoError(t, err)
		require.Equal(t, overlay, merged)
	})

	t.Run("malformed meta errors", func(t *testing.T) {
		_, err := MergeMeta(json.RawMessage(`not json`), json.RawMessage(`{}`))
		require.Error(t, err)
	})
}

func TestErrorMeta(t *testing.T) {
	require.JSONEq(t, `{"error":"Ran out of time/memory"}`, string(errorMeta(PoisonError)))
}
