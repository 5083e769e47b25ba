package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" database/sql driver
	"gorm.io/gorm"

	"github.com/memcortex/fabric/internal/types"
)

// ModelRating is one row of the auto-tuner's per-model rating rollup.
type ModelRating struct {
	Model         string
	AvgRating     float64
	FeedbackCount int64
}

// AutoTunerStatsRepository answers the three 30-day rollups the auto-tuner's
// analyzers run over: cache quality, model routing, and context-limit
// complaint frequency.
type AutoTunerStatsRepository interface {
	Sync(ctx context.Context, since time.Time) error
	CacheQualityStats(ctx context.Context, since time.Time) (avgRating float64, count int64, err error)
	ModelPerformanceStats(ctx context.Context, since time.Time, minSamples int64) ([]ModelRating, error)
	ContextPatternStats(ctx context.Context, since time.Time) (tooMany, tooFew, total int64, err error)
	LogTuningDecision(ctx context.Context, entry *types.AutoTuningLogEntry) error
}

// duckdbAutoTunerStatsRepository runs the three rolling-window rollups
// against a local DuckDB mirror of query_feedback/query_metrics instead of
// against Postgres directly: the auto-tuner only runs hourly and only
// needs a 30-day window, so a columnar local copy refreshed by Sync is
// cheaper than re-scanning the live OLTP tables on every run. The
// tuning-decision audit trail itself still writes straight to Postgres via
// gorm, since that table is the durable record other components read.
type duckdbAutoTunerStatsRepository struct {
	duck *sql.DB
	pg   *gorm.DB
}

// NewAutoTunerStatsRepository opens (or attaches to) the local DuckDB file
// used as the auto-tuner's analytical mirror and creates its tables if
// they don't exist yet. pg is the Postgres handle Sync pulls from and
// LogTuningDecision writes to.
func NewAutoTunerStatsRepository(pg *gorm.DB, duckdbPath string) (AutoTunerStatsRepository, error) {
	if duckdbPath == "" {
		duckdbPath = ":memory:"
	}
	duck, err := sql.Open("duckdb", duckdbPath)
	if err != nil {
		return nil, fmt.Errorf("autotuner: opening duckdb mirror: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS feedback_mirror (
			feedback_id VARCHAR, query_id VARCHAR, response_source VARCHAR,
			rating INTEGER, comment VARCHAR, created_at TIMESTAMP
		);
	`
	if _, err := duck.Exec(schema); err != nil {
		return nil, fmt.Errorf("autotuner: creating duckdb schema: %w", err)
	}

	return &duckdbAutoTunerStatsRepository{duck: duck, pg: pg}, nil
}

// Sync refreshes the DuckDB mirror with every feedback row created since
// `since`, replacing any prior copy of those rows. internal/jobs calls this
// on a schedule tighter than the tuner's own hourly cadence isn't needed —
// once before each AnalyzeAndApply run is enough to keep the 30-day window
// current.
func (r *duckdbAutoTunerStatsRepository) Sync(ctx context.Context, since time.Time) error {
	var rows []types.Feedback
	if err := r.pg.WithContext(ctx).Where("created_at > ?", since).Find(&rows).Error; err != nil {
		return wrapRelationalErr(err)
	}

	if _, err := r.duck.ExecContext(ctx, "DELETE FROM feedback_mirror WHERE created_at > ?", since); err != nil {
		return fmt.Errorf("autotuner: clearing duckdb mirror window: %w", err)
	}

	stmt, err := r.duck.PrepareContext(ctx, `
		INSERT INTO feedback_mirror (feedback_id, query_id, response_source, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("autotuner: preparing duckdb insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.FeedbackID.String(), row.QueryID.String(), string(row.ResponseSource), row.Rating, row.Comment, row.CreatedAt); err != nil {
			return fmt.Errorf("autotuner: inserting mirrored feedback row: %w", err)
		}
	}
	return nil
}

func (r *duckdbAutoTunerStatsRepository) CacheQualityStats(ctx context.Context, since time.Time) (float64, int64, error) {
	var avgRating sql.NullFloat64
	var count int64
	err := r.duck.QueryRowContext(ctx, `
		SELECT AVG(rating), COUNT(*) FROM feedback_mirror
		WHERE response_source = ? AND rating > 0 AND created_at > ?
	`, string(types.ResponseSourceSemanticCache), since).Scan(&avgRating, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("autotuner: cache quality query: %w", err)
	}
	return avgRating.Float64, count, nil
}

func (r *duckdbAutoTunerStatsRepository) ModelPerformanceStats(ctx context.Context, since time.Time, minSamples int64) ([]ModelRating, error) {
	rows, err := r.duck.QueryContext(ctx, `
		SELECT response_source, AVG(rating), COUNT(*) FROM feedback_mirror
		WHERE response_source NOT IN (?, ?, ?) AND rating > 0 AND created_at > ?
		GROUP BY response_source
		HAVING COUNT(*) >= ?
		ORDER BY AVG(rating) DESC
	`, string(types.ResponseSourceSemanticCache), string(types.ResponseSourcePending), string(types.ResponseSourceError), since, minSamples)
	if err != nil {
		return nil, fmt.Errorf("autotuner: model performance query: %w", err)
	}
	defer rows.Close()

	var out []ModelRating
	for rows.Next() {
		var m ModelRating
		if err := rows.Scan(&m.Model, &m.AvgRating, &m.FeedbackCount); err != nil {
			return nil, fmt.Errorf("autotuner: scanning model rating row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *duckdbAutoTunerStatsRepository) ContextPatternStats(ctx context.Context, since time.Time) (int64, int64, int64, error) {
	var tooMany, tooFew, total int64
	err := r.duck.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE comment ILIKE '%too many%'),
			COUNT(*) FILTER (WHERE comment ILIKE '%too few%'),
			COUNT(*)
		FROM feedback_mirror
		WHERE comment IS NOT NULL AND comment != '' AND created_at > ?
	`, since).Scan(&tooMany, &tooFew, &total)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("autotuner: context pattern query: %w", err)
	}
	return tooMany, tooFew, total, nil
}

func (r *duckdbAutoTunerStatsRepository) LogTuningDecision(ctx context.Context, entry *types.AutoTuningLogEntry) error {
	if err := r.pg.WithContext(ctx).Create(entry).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}
