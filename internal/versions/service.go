package versions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/cache"
	"github.com/curibio/cloud-core/internal/models"
)

var (
	ErrUnknownVersion    = errors.New("unknown analysis version")
	ErrDeprecatedVersion = errors.New("analysis version is deprecated")
)

const cacheTTL = 5 * time.Minute

// Service answers which worker-image versions exist per product and
// whether a version may still accept new jobs. Lookups are hot on every
// job submission, so results sit in redis briefly.
type Service struct {
	db    *pgxpool.Pool
	cache *cache.Cache
}

func NewService(db *pgxpool.Pool, c *cache.Cache) *Service {
	return &Service{db: db, cache: c}
}

// List returns the versions of a product visible to external users,
// meaning external plus deprecated ones still inside their grace window.
func (s *Service) List(ctx context.Context, product string) ([]models.AnalysisVersion, error) {
	key := "versions:" + product

	var cached []models.AnalysisVersion
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("version cache read failed", "error", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT version, product, state, end_of_life_date FROM analysis_versions
		 WHERE product = $1
		   AND (state = 'external'
		        OR (state = 'deprecated' AND (end_of_life_date IS NULL OR end_of_life_date > NOW())))
		 ORDER BY created_at`, product)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []models.AnalysisVersion
	for rows.Next() {
		var v models.AnalysisVersion
		if err := rows.Scan(&v.Version, &v.Product, &v.State, &v.EndOfLifeDate); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, out, cacheTTL); err != nil {
		slog.Warn("version cache write failed", "error", err)
	}
	return out, nil
}

// Get returns one version row without visibility filtering.
func (s *Service) Get(ctx context.Context, product, version string) (*models.AnalysisVersion, error) {
	var v models.AnalysisVersion
	err := s.db.QueryRow(ctx,
		`SELECT version, product, state, end_of_life_date FROM analysis_versions
		 WHERE product = $1 AND version = $2`, product, version,
	).Scan(&v.Version, &v.Product, &v.State, &v.EndOfLifeDate)
	if err != nil {
		return nil, ErrUnknownVersion
	}
	return &v, nil
}

// CheckUsable rejects job submissions against versions past their life.
// Deprecated versions keep working until their end-of-life date passes.
func (s *Service) CheckUsable(ctx context.Context, product, version string) error {
	v, err := s.Get(ctx, product, version)
	if err != nil {
		return err
	}
	if v.State == models.VersionStateDeprecated {
		if v.EndOfLifeDate == nil || !v.EndOfLifeDate.After(time.Now()) {
			return ErrDeprecatedVersion
		}
	}
	return nil
}

// SetState moves a version through its lifecycle and drops the cached
// listing so the change is visible immediately.
func (s *Service) SetState(ctx context.Context, product, version string, state models.VersionState) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE analysis_versions SET state = $1 WHERE product = $2 AND version = $3`,
		state, product, version)
	if err != nil {
		return fmt.Errorf("set version state: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrUnknownVersion
	}
	if err := s.cache.Delete(ctx, "versions:"+product); err != nil {
		slog.Warn("version cache invalidation failed", "error", err)
	}
	return nil
}
