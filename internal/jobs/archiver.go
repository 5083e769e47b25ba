package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/memcortex/fabric/internal/types"
)

// Archiver writes rows to cold-storage Parquet files before a retention
// job's repository.PurgeBefore call deletes them from Postgres. Every
// archive is a new, timestamped file; nothing is ever overwritten or
// appended to in place, so a partially-written file from a crashed run
// never corrupts an earlier one.
type Archiver struct {
	dir string
	now func() time.Time
}

// NewArchiver builds an Archiver rooted at dir, creating it if necessary.
// An empty dir disables archival: ArchiveQueryMetrics/ArchiveAuditEvents
// become no-ops so a deployment without cold storage configured can still
// run retention cleanup, it just skips the pre-delete archive step.
func NewArchiver(dir string) (*Archiver, error) {
	if dir == "" {
		return &Archiver{now: time.Now().UTC}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: creating archive dir %q: %w", dir, err)
	}
	return &Archiver{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (a *Archiver) enabled() bool { return a.dir != "" }

type archivedQueryMetric struct {
	QueryID    string    `parquet:"query_id"`
	TenantID   string    `parquet:"tenant_id"`
	UserID     string    `parquet:"user_id"`
	QueryText  string    `parquet:"query_text"`
	AgentUsed  string    `parquet:"agent_used"`
	Confidence float64   `parquet:"confidence"`
	EstCostUSD float64   `parquet:"est_cost_usd"`
	CreatedAt  time.Time `parquet:"created_at,timestamp"`
}

// ArchiveQueryMetrics writes rows to a new Parquet file under
// <dir>/query_metrics/. A nil/empty dir (archival disabled) or an empty
// rows slice is a no-op.
func (a *Archiver) ArchiveQueryMetrics(rows []types.QueryMetrics) error {
	if !a.enabled() || len(rows) == 0 {
		return nil
	}
	out := make([]archivedQueryMetric, len(rows))
	for i, r := range rows {
		out[i] = archivedQueryMetric{
			QueryID:    r.QueryID.String(),
			TenantID:   r.TenantID,
			UserID:     r.UserID.String(),
			QueryText:  r.QueryText,
			AgentUsed:  r.AgentUsed,
			Confidence: r.Confidence,
			EstCostUSD: r.EstCostUSD,
			CreatedAt:  r.CreatedAt,
		}
	}
	return a.writeParquet("query_metrics", out)
}

type archivedAuditEvent struct {
	EventID     string    `parquet:"event_id"`
	Kind        string    `parquet:"kind"`
	Source      string    `parquet:"source"`
	Operation   string    `parquet:"operation"`
	Destination string    `parquet:"destination"`
	ItemCount   int       `parquet:"item_count"`
	Timestamp   time.Time `parquet:"timestamp,timestamp"`
}

// ArchiveAuditEvents mirrors ArchiveQueryMetrics for audit_logs rows.
func (a *Archiver) ArchiveAuditEvents(rows []types.AuditEvent) error {
	if !a.enabled() || len(rows) == 0 {
		return nil
	}
	out := make([]archivedAuditEvent, len(rows))
	for i, r := range rows {
		out[i] = archivedAuditEvent{
			EventID:     r.EventID.String(),
			Kind:        string(r.Kind),
			Source:      r.Source,
			Operation:   r.Operation,
			Destination: r.Destination,
			ItemCount:   r.ItemCount,
			Timestamp:   r.Timestamp,
		}
	}
	return a.writeParquet("audit_logs", out)
}

func (a *Archiver) writeParquet(subdir string, rows any) error {
	dir := filepath.Join(a.dir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jobs: creating archive subdir %q: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.parquet", a.now().Format("20060102T150405.000000000")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("jobs: creating archive file %q: %w", path, err)
	}
	defer f.Close()

	switch v := rows.(type) {
	case []archivedQueryMetric:
		return writeRows(f, v)
	case []archivedAuditEvent:
		return writeRows(f, v)
	default:
		return fmt.Errorf("jobs: archiver: unsupported row type %T", rows)
	}
}

func writeRows[T any](f *os.File, rows []T) error {
	w := parquet.NewGenericWriter[T](f)
	if _, err := w.Write(rows); err != nil {
		w.Close()
		return fmt.Errorf("jobs: writing parquet rows: %w", err)
	}
	return w.Close()
}
