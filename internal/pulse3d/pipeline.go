package pulse3d

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/objectkey"
	"github.com/curibio/cloud-core/internal/storage"
	"github.com/curibio/cloud-core/internal/worker"
)

// Pipeline turns one claimed queue item into an analysis workbook. It is
// handed to the worker harness, which owns the claim transaction.
type Pipeline struct {
	db      *pgxpool.Pool
	store   storage.Storage
	engine  Engine
	bucket  string
	version string
}

func NewPipeline(db *pgxpool.Pool, store storage.Storage, engine Engine, bucket, version string) *Pipeline {
	return &Pipeline{db: db, store: store, engine: engine, bucket: bucket, version: version}
}

func (p *Pipeline) Process(ctx context.Context, item *models.QueuedItem) (*worker.Result, error) {
	version, params, nameOverride, err := ParseMeta(item.Meta)
	if err != nil {
		return nil, err
	}
	if version != p.version {
		return nil, fmt.Errorf("item version %s does not match worker version %s", version, p.version)
	}
	if item.UploadID == nil {
		return nil, errors.New("pulse3d item has no upload")
	}

	var upload models.Upload
	err = p.db.QueryRow(ctx,
		`SELECT id, customer_id, user_id, prefix, filename FROM uploads WHERE id = $1`,
		*item.UploadID,
	).Scan(&upload.ID, &upload.CustomerID, &upload.UserID, &upload.Prefix, &upload.Filename)
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}

	workDir, err := os.MkdirTemp("", "pulse3d-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	recordingDir := filepath.Join(workDir, "recording")
	if err := os.Mkdir(recordingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	recordingKey := objectkey.Upload(upload.CustomerID, upload.UserID, upload.ID, upload.Filename)
	recordingPath := filepath.Join(recordingDir, upload.Filename)
	if err := p.fetch(ctx, recordingKey, recordingPath); err != nil {
		return nil, err
	}

	// a cached pre-process archive for this version skips the most
	// expensive stage; its absence is not an error
	preProcessKey := objectkey.PreProcess(upload.Prefix, p.version)
	preProcessPath := filepath.Join(workDir, "pre-process.zip")
	if err := p.fetch(ctx, preProcessKey, preProcessPath); err != nil {
		preProcessPath = ""
	}

	outDir := filepath.Join(workDir, "out")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out, err := p.engine.Analyze(ctx, AnalysisInput{
		RecordingDir:  recordingDir,
		PreProcessZip: preProcessPath,
		OutputDir:     outDir,
		Params:        params,
	})
	if err != nil {
		return nil, err
	}

	if preProcessPath == "" && out.PreProcessZip != "" {
		if err := p.push(ctx, out.PreProcessZip, preProcessKey, "application/zip"); err != nil {
			return nil, err
		}
	}

	workbookName := workbookName(upload.Filename, nameOverride)
	artifactKey := objectkey.JobArtifact(upload.Prefix, item.ID, workbookName)
	if err := p.push(ctx, out.WorkbookPath, artifactKey,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
		return nil, err
	}

	meta := resultMeta(out)
	return &worker.Result{
		Status:    models.JobStatusFinished,
		ObjectKey: &artifactKey,
		Meta:      meta,
	}, nil
}

func (p *Pipeline) fetch(ctx context.Context, key, dest string) error {
	body, err := p.store.Download(ctx, p.bucket, key)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

func (p *Pipeline) push(ctx context.Context, src, key, contentType string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	return p.store.Upload(ctx, p.bucket, key, f, contentType)
}

func workbookName(filename, override string) string {
	if override != "" {
		return override + ".xlsx"
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return base + ".xlsx"
}

func resultMeta(out *AnalysisOutput) json.RawMessage {
	m := map[string]string{}
	if out.PeaksValleys != "" {
		m["peaks_valleys"] = out.PeaksValleys
	}
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	return b
}
