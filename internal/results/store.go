package results

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/depthrig/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one odometry run over a sensor log.
type Run struct {
	RunID       string          `json:"run_id"`
	LogPath     string          `json:"log_path"`
	CameraOrder []string        `json:"camera_order"`
	ConfigJSON  json.RawMessage `json:"config_json,omitempty"`
	StartedAt   int64           `json:"started_at"`
	FinishedAt  int64           `json:"finished_at,omitempty"`
	Cycles      int             `json:"cycles"`
}

// PoseRecord is one stored trajectory sample.
type PoseRecord struct {
	RunID string `json:"run_id"`
	Cycle int    `json:"cycle"`
	TUMPose
}

// TrajectoryStore persists runs and their poses in sqlite.
type TrajectoryStore struct {
	db *sql.DB
}

// OpenTrajectoryStore opens (creating if needed) the database at path and
// applies pending migrations.
func OpenTrajectoryStore(path string) (*TrajectoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory store: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &TrajectoryStore{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// newMigrate creates a migrate instance over the embedded migrations.
func (s *TrajectoryStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = monitoring.MigrateLogger{}
	return m, nil
}

// migrateUp runs all pending migrations. Already being at the latest
// version is not an error.
func (s *TrajectoryStore) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrationVersion returns the applied schema version.
func (s *TrajectoryStore) MigrationVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// StartRun persists a new run. If RunID is empty, a UUID is generated.
func (s *TrajectoryStore) StartRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}

	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	_, err := s.db.Exec(`
		INSERT INTO odometry_runs (run_id, log_path, camera_order, config_json, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.LogPath, strings.Join(run.CameraOrder, ","), cfg, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AppendPose stores the pose of one cycle of a run.
func (s *TrajectoryStore) AppendPose(runID string, cycle int, p TUMPose) error {
	_, err := s.db.Exec(`
		INSERT INTO odometry_poses (run_id, cycle, timestamp_ns, x, y, z, qx, qy, qz, qw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, cycle, p.TimestampNs, p.X, p.Y, p.Z, p.QX, p.QY, p.QZ, p.QW,
	)
	if err != nil {
		return fmt.Errorf("insert pose %s/%d: %w", runID, cycle, err)
	}
	return nil
}

// FinishRun records the end of a run.
func (s *TrajectoryStore) FinishRun(runID string, cycles int, finishedAt int64) error {
	result, err := s.db.Exec(`
		UPDATE odometry_runs SET finished_at = ?, cycles = ? WHERE run_id = ?`,
		finishedAt, cycles, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun returns a single run by ID.
func (s *TrajectoryStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, log_path, camera_order, config_json, started_at, finished_at, cycles
		FROM odometry_runs
		WHERE run_id = ?`, runID)

	var r Run
	var order string
	var cfg sql.NullString
	var finished sql.NullInt64
	err := row.Scan(&r.RunID, &r.LogPath, &order, &cfg, &r.StartedAt, &finished, &r.Cycles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if order != "" {
		r.CameraOrder = strings.Split(order, ",")
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	if finished.Valid {
		r.FinishedAt = finished.Int64
	}
	return &r, nil
}

// ListPoses returns a run's poses in cycle order.
func (s *TrajectoryStore) ListPoses(runID string) ([]PoseRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, cycle, timestamp_ns, x, y, z, qx, qy, qz, qw
		FROM odometry_poses
		WHERE run_id = ?
		ORDER BY cycle`, runID)
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		var p PoseRecord
		if err := rows.Scan(&p.RunID, &p.Cycle, &p.TimestampNs,
			&p.X, &p.Y, &p.Z, &p.QX, &p.QY, &p.QZ, &p.QW); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *TrajectoryStore) Close() error {
	return s.db.Close()
}
