package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/migrations"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLRepository implements SnapshotRepository on SQLite or PostgreSQL.
// Queries are written with ? placeholders and rebound per driver.
type SQLRepository struct {
	db *sqlx.DB
}

var _ SnapshotRepository = (*SQLRepository)(nil)

// Open connects to the database. For sqlite dsn is a file path or ":memory:".
func Open(driver, dsn string) (*SQLRepository, error) {
	switch driver {
	case DriverSQLite:
		db, err := sqlx.Connect(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
		}
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
		return &SQLRepository{db: db}, nil
	case DriverPostgres:
		db, err := sqlx.Connect(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		return &SQLRepository{db: db}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Close closes the database connection
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate runs every embedded migration in file name order. Migrations are
// idempotent (IF NOT EXISTS), so running them on each start is safe.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
		}
	}
	return nil
}

// splitStatements splits a migration on ';' and drops comment-only pieces.
func splitStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}

func (r *SQLRepository) SaveSnapshot(ctx context.Context, s *models.ResourceMapSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`
		INSERT INTO resource_map_snapshots (id, cluster_id, view, generation, node_count, edge_count, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	return instrumentQuery("save_snapshot", func() error {
		_, err := r.db.ExecContext(ctx, query,
			s.ID, s.ClusterID, s.View, s.Generation, s.NodeCount, s.EdgeCount, s.Data, s.CreatedAt)
		return err
	})
}

func (r *SQLRepository) GetSnapshot(ctx context.Context, clusterID, id string) (*models.ResourceMapSnapshot, error) {
	var s models.ResourceMapSnapshot
	query := r.db.Rebind(`SELECT * FROM resource_map_snapshots WHERE cluster_id = ? AND id = ?`)
	err := instrumentQuery("get_snapshot", func() error {
		return r.db.GetContext(ctx, &s, query, clusterID, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SQLRepository) ListSnapshots(ctx context.Context, clusterID string, limit int) ([]*models.ResourceMapSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	snapshots := []*models.ResourceMapSnapshot{}
	query := r.db.Rebind(`
		SELECT id, cluster_id, view, generation, node_count, edge_count, '' AS data, created_at
		FROM resource_map_snapshots
		WHERE cluster_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`)
	err := instrumentQuery("list_snapshots", func() error {
		return r.db.SelectContext(ctx, &snapshots, query, clusterID, limit)
	})
	return snapshots, err
}

func (r *SQLRepository) GetLatestSnapshot(ctx context.Context, clusterID, view string) (*models.ResourceMapSnapshot, error) {
	var s models.ResourceMapSnapshot
	query := r.db.Rebind(`
		SELECT * FROM resource_map_snapshots
		WHERE cluster_id = ? AND view = ?
		ORDER BY created_at DESC
		LIMIT 1
	`)
	err := instrumentQuery("get_latest_snapshot", func() error {
		return r.db.GetContext(ctx, &s, query, clusterID, view)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SQLRepository) DeleteOldSnapshots(ctx context.Context, clusterID string, olderThan time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM resource_map_snapshots WHERE cluster_id = ? AND created_at < ?`)
	var n int64
	err := instrumentQuery("delete_old_snapshots", func() error {
		res, err := r.db.ExecContext(ctx, query, clusterID, olderThan.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
