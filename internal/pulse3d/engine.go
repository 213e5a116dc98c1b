package pulse3d

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
)

// AnalysisInput points the engine at a downloaded recording.
type AnalysisInput struct {
	RecordingDir  string
	PreProcessZip string // empty when no cached pre-process exists
	OutputDir     string
	Params        AnalysisParams
}

// AnalysisOutput names what the engine produced.
type AnalysisOutput struct {
	WorkbookPath  string `json:"workbook_path"`
	PreProcessZip string `json:"pre_process_zip,omitempty"`
	PeaksValleys  string `json:"peaks_valleys,omitempty"`
}

// Engine runs the version-specific analysis. The worker image carries
// one engine binary matching its queue version.
type Engine interface {
	Analyze(ctx context.Context, in AnalysisInput) (*AnalysisOutput, error)
}

// ExecEngine shells out to the analysis binary baked into the worker
// image. Parameters go in as JSON on stdin, the result manifest comes
// back on stdout.
type ExecEngine struct {
	Bin string
}

func (e *ExecEngine) Analyze(ctx context.Context, in AnalysisInput) (*AnalysisOutput, error) {
	paramsJSON, err := json.Marshal(in.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis params: %w", err)
	}

	args := []string{
		"--recording-dir", in.RecordingDir,
		"--output-dir", in.OutputDir,
	}
	if in.PreProcessZip != "" {
		args = append(args, "--pre-process-zip", in.PreProcessZip)
	}

	cmd := exec.CommandContext(ctx, e.Bin, args...)
	cmd.Stdin = bytes.NewReader(paramsJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("analysis failed: %w: %s", err, stderr.String())
	}

	var out AnalysisOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse analysis output: %w", err)
	}
	if out.WorkbookPath == "" {
		return nil, fmt.Errorf("analysis produced no workbook")
	}
	if !filepath.IsAbs(out.WorkbookPath) {
		out.WorkbookPath = filepath.Join(in.OutputDir, out.WorkbookPath)
	}
	return &out, nil
}
