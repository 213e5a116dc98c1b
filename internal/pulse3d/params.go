package pulse3d

import (
	"encoding/json"
	"fmt"
)

// AnalysisParams are the per-job analysis knobs carried in queue meta
// under analysis_params. Pointers distinguish "not set" from zero; the
// worker image applies its own version-specific defaults for unset
// fields.
type AnalysisParams struct {
	TwitchWidths             []int     `json:"twitch_widths,omitempty"`
	StartTime                *float64  `json:"start_time,omitempty"`
	EndTime                  *float64  `json:"end_time,omitempty"`
	BaselineWidthsToUse      []int     `json:"baseline_widths_to_use,omitempty"`
	ProminenceFactors        []float64 `json:"prominence_factors,omitempty"`
	WidthFactors             []float64 `json:"width_factors,omitempty"`
	MaxY                     *float64  `json:"max_y,omitempty"`
	NormalizeYAxis           *bool     `json:"normalize_y_axis,omitempty"`
	IncludeStimProtocols     bool      `json:"include_stim_protocols,omitempty"`
	StiffnessFactor          *int      `json:"stiffness_factor,omitempty"`
	InvertedPostMagnetWells  []string  `json:"inverted_post_magnet_wells,omitempty"`
	WellsWithFlippedWaveform []string  `json:"wells_with_flipped_waveforms,omitempty"`
	PeaksValleys             bool      `json:"peaks_valleys,omitempty"`
}

// jobMeta is the queue meta envelope a pulse3d item carries.
type jobMeta struct {
	Version        string         `json:"version"`
	AnalysisParams AnalysisParams `json:"analysis_params"`
	NameOverride   string         `json:"name_override,omitempty"`
}

// ParseMeta extracts the worker version and analysis parameters from an
// item's meta blob.
func ParseMeta(meta json.RawMessage) (version string, params AnalysisParams, nameOverride string, err error) {
	if len(meta) == 0 {
		return "", AnalysisParams{}, "", fmt.Errorf("item meta is empty")
	}
	var m jobMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return "", AnalysisParams{}, "", fmt.Errorf("parse item meta: %w", err)
	}
	if m.Version == "" {
		return "", AnalysisParams{}, "", fmt.Errorf("item meta has no version")
	}
	return m.Version, m.AnalysisParams, m.NameOverride, nil
}
