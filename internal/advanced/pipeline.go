// Package advanced runs multi-source aggregation jobs. A job's sources
// are finished pulse3d results; the pipeline pulls their workbooks,
// feeds them to the aggregation engine and stores one combined workbook.
package advanced

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/objectkey"
	"github.com/curibio/cloud-core/internal/pulse3d"
	"github.com/curibio/cloud-core/internal/storage"
	"github.com/curibio/cloud-core/internal/worker"
)

type Pipeline struct {
	db      *pgxpool.Pool
	store   storage.Storage
	engine  pulse3d.Engine
	bucket  string
	version string
}

func NewPipeline(db *pgxpool.Pool, store storage.Storage, engine pulse3d.Engine, bucket, version string) *Pipeline {
	return &Pipeline{db: db, store: store, engine: engine, bucket: bucket, version: version}
}

func (p *Pipeline) Process(ctx context.Context, item *models.QueuedItem) (*worker.Result, error) {
	version, _, outputName, err := pulse3d.ParseMeta(item.Meta)
	if err != nil {
		return nil, err
	}
	if version != p.version {
		return nil, fmt.Errorf("item version %s does not match worker version %s", version, p.version)
	}
	if len(item.Sources) == 0 {
		return nil, errors.New("advanced analysis item has no sources")
	}

	var (
		customerID uuid.UUID
		userID     uuid.UUID
	)
	err = p.db.QueryRow(ctx,
		`SELECT customer_id, user_id FROM advanced_analysis_result WHERE id = $1`,
		item.ID,
	).Scan(&customerID, &userID)
	if err != nil {
		return nil, fmt.Errorf("load result row: %w", err)
	}

	workDir, err := os.MkdirTemp("", "advanced-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	sourceDir := filepath.Join(workDir, "sources")
	if err := os.Mkdir(sourceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir: %w", err)
	}

	// every source must be a finished job with an artifact; a missing
	// one fails the whole aggregation
	rows, err := p.db.Query(ctx,
		`SELECT job_id, object_key FROM jobs_result
		 WHERE job_id = ANY($1) AND status = 'finished' AND object_key IS NOT NULL`,
		item.Sources)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var (
			jobID uuid.UUID
			key   string
		)
		if err := rows.Scan(&jobID, &key); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		dest := filepath.Join(sourceDir, jobID.String()+".xlsx")
		if err := p.fetch(ctx, key, dest); err != nil {
			return nil, err
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found != len(item.Sources) {
		return nil, fmt.Errorf("only %d of %d sources are finished with artifacts", found, len(item.Sources))
	}

	outDir := filepath.Join(workDir, "out")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out, err := p.engine.Analyze(ctx, pulse3d.AnalysisInput{
		RecordingDir: sourceDir,
		OutputDir:    outDir,
	})
	if err != nil {
		return nil, err
	}

	if outputName == "" {
		outputName = "aggregate"
	}
	artifactKey := objectkey.AdvancedAnalysis(customerID, userID, item.ID, outputName)
	if err := p.push(ctx, out.WorkbookPath, artifactKey,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
		return nil, err
	}

	return &worker.Result{
		Status:    models.JobStatusFinished,
		ObjectKey: &artifactKey,
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
