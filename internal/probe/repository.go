package probe

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/logger"
)

const (
	schemaVersion  = 1
	defaultDirPerm = 0o755

	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
	    version     INTEGER PRIMARY KEY,
	    applied_at  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS benchmark_results (
	    id               INTEGER PRIMARY KEY AUTOINCREMENT,
	    run_id           TEXT NOT NULL,
	    test_name        TEXT NOT NULL,
	    gpu_index        INTEGER NOT NULL CHECK (typeof(gpu_index) = 'integer'),
	    started_at       INTEGER NOT NULL,
	    duration_seconds REAL NOT NULL,
	    gflops           REAL,
	    bandwidth_gbps   REAL,
	    success          INTEGER NOT NULL CHECK (success IN (0, 1)),
	    error_message    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS benchmark_results_run_id ON benchmark_results (run_id);`

	insertResultSQL = `
	INSERT INTO benchmark_results (
	    run_id, test_name, gpu_index, started_at,
	    duration_seconds, gflops, bandwidth_gbps,
	    success, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectRecentSQL = `
	SELECT run_id, test_name, gpu_index, started_at,
	       duration_seconds, gflops, bandwidth_gbps,
	       success, error_message
	FROM benchmark_results
	ORDER BY id DESC
	LIMIT ?`
)

// Repository persists benchmark results in SQLite.
type Repository struct {
	db  *sql.DB
	log logger.Logger
}

func NewRepository(path string, log logger.Logger) (*Repository, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  path,
			Error: err.Error(),
		})
	}

	dsn := path + "?_journal=WAL&_auto_vacuum=2"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ensureSchema(db, log); err != nil {
		db.Close()

		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("schema_version", schemaVersion).
		Msg("Benchmark repository initialized")

	return &Repository{db: db, log: log}, nil
}

// Save writes a batch of results in a single transaction.
func (r *Repository) Save(results []Result) error {
	if len(results) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertResultSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.log.Error().Err(err).Msg("Failed to roll back transaction")
		}

		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for i := range results {
		result := &results[i]

		if _, err := stmt.Exec(
			result.RunID,
			result.TestName,
			result.DeviceIndex,
			result.StartedAt.Unix(),
			result.Duration.Seconds(),
			nullFloat(result.GFLOPS),
			nullFloat(result.BandwidthGBps),
			boolToInt(result.Success),
			result.Error,
		); err != nil {
			if err := tx.Rollback(); err != nil {
				r.log.Error().Err(err).Msg("Failed to roll back transaction")
			}

			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.log.Debug().Int("records", len(results)).Msg("Saved benchmark results")

	return nil
}

// Recent returns up to limit results, newest first.
func (r *Repository) Recent(limit int) ([]Result, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(selectRecentSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var results []Result

	for rows.Next() {
		var (
			result    Result
			startedAt int64
			seconds   float64
			gflops    sql.NullFloat64
			bandwidth sql.NullFloat64
			success   int
		)

		if err := rows.Scan(
			&result.RunID,
			&result.TestName,
			&result.DeviceIndex,
			&startedAt,
			&seconds,
			&gflops,
			&bandwidth,
			&success,
			&result.Error,
		); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}

		result.StartedAt = time.Unix(startedAt, 0).UTC()
		result.Duration = time.Duration(seconds * float64(time.Second))
		result.Success = success == 1

		if gflops.Valid {
			result.GFLOPS = &gflops.Float64
		}

		if bandwidth.Valid {
			result.BandwidthGBps = &bandwidth.Float64
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return results, nil
}

// Close checkpoints the WAL and closes the database.
func (r *Repository) Close() error {
	errFactory := errors.New()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	return nil
}

func ensureSchema(db *sql.DB, log logger.Logger) error {
	version, err := currentSchemaVersion(db)
	if err != nil {
		return err
	}

	switch {
	case version == schemaVersion:
		return nil
	case version == 0:
		return initSchema(db, log)
	default:
		return errors.New().WithData(ErrSchemaVersionMismatch, struct {
			Found    int
			Expected int
		}{
			Found:    version,
			Expected: schemaVersion,
		})
	}
}

func initSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false

	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`,
		schemaVersion,
	); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed = true

	log.Info().Int("version", schemaVersion).Msg("Schema initialized")

	return nil
}

func currentSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var exists bool
	if err := db.QueryRow(`
	    SELECT EXISTS (
	        SELECT 1 FROM sqlite_master
	        WHERE type='table' AND name='schema_versions'
	    )
	`).Scan(&exists); err != nil {
		return 0, errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if !exists {
		return 0, nil
	}

	var version int

	err := db.QueryRow(`SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	return version, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
