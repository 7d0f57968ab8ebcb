package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Sriram-PR/crawl-plan/pkg/models"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

const (
	planDBFile = "plan.db"

	// plan_meta holds a single row once a plan has been saved; its absence means no plan
	sqliteSchema = `
CREATE TABLE IF NOT EXISTS plan_meta (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	extra TEXT
);
CREATE TABLE IF NOT EXISTS plan_pages (
	seq    INTEGER PRIMARY KEY,
	url    TEXT NOT NULL UNIQUE,
	record TEXT NOT NULL
);`
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// SQLiteStore implements PlanStore with one row per page in a SQLite database
// Save replaces every row inside one transaction
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *logrus.Entry
}

// NewSQLiteStore opens (or creates) <stateDir>/<siteKey>_plan.db
func NewSQLiteStore(stateDir, siteKey string, logger *logrus.Entry) (*SQLiteStore, error) {
	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+planDBFile)
	logger = logger.WithField("plan_db", dbPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, stateDir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	// A single connection keeps pragmas applied and serializes writers
	db.SetMaxOpenConns(1)

	for _, p := range append(sqlitePragmas, sqliteSchema) {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: initializing %s: %w", utils.ErrDatabase, dbPath, err)
		}
	}
	logger.Debug("Plan database opened.")
	return &SQLiteStore{db: db, path: dbPath, log: logger}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string { return s.path }

// Load implements PlanStore
func (s *SQLiteStore) Load(ctx context.Context) (*models.CrawlPlan, error) {
	var extra sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT extra FROM plan_meta WHERE id = 1").Scan(&extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan database holds no plan yet", utils.ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading plan metadata: %w", utils.ErrDatabase, err)
	}

	plan := models.NewCrawlPlan()
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &plan.Extra); err != nil {
			return nil, fmt.Errorf("%w: JSON plan metadata: %w", utils.ErrParsing, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT url, record FROM plan_pages ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("%w: querying plan pages: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var url, record string
		if err := rows.Scan(&url, &record); err != nil {
			return nil, fmt.Errorf("%w: scanning plan page: %w", utils.ErrDatabase, err)
		}
		var rec models.PageRecord
		if err := json.Unmarshal([]byte(record), &rec); err != nil {
			if errors.Is(err, utils.ErrParsing) {
				return nil, fmt.Errorf("page row '%s': %w", url, err)
			}
			return nil, fmt.Errorf("%w: JSON page row '%s': %w", utils.ErrParsing, url, err)
		}
		if err := plan.AddRecord(&rec); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating plan pages: %w", utils.ErrDatabase, err)
	}
	s.log.Debugf("Loaded plan with %d pages", plan.Len())
	return plan, nil
}

// Save implements PlanStore
func (s *SQLiteStore) Save(ctx context.Context, plan *models.CrawlPlan) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning plan transaction: %w", utils.ErrDatabase, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM plan_pages"); err != nil {
		return fmt.Errorf("%w: clearing plan pages: %w", utils.ErrDatabase, err)
	}

	var extra sql.NullString
	if len(plan.Extra) > 0 {
		meta, merr := json.Marshal(plan.Extra)
		if merr != nil {
			return fmt.Errorf("%w: JSON plan metadata: %w", utils.ErrParsing, merr)
		}
		extra = sql.NullString{String: string(meta), Valid: true}
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO plan_meta (id, extra) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET extra = excluded.extra",
		extra); err != nil {
		return fmt.Errorf("%w: writing plan metadata: %w", utils.ErrDatabase, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO plan_pages (seq, url, record) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: preparing page insert: %w", utils.ErrDatabase, err)
	}
	defer stmt.Close()

	for i, p := range plan.Pages {
		val, merr := json.Marshal(p)
		if merr != nil {
			return fmt.Errorf("%w: JSON page '%s': %w", utils.ErrParsing, p.URL, merr)
		}
		if _, err = stmt.ExecContext(ctx, i, p.URL, string(val)); err != nil {
			return fmt.Errorf("%w: writing page '%s': %w", utils.ErrDatabase, p.URL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing plan: %w", utils.ErrDatabase, err)
	}
	s.log.Debugf("Saved plan with %d pages", plan.Len())
	return nil
}

// ExportJSON implements Exporter
func (s *SQLiteStore) ExportJSON(ctx context.Context, filePath string) error {
	plan, err := s.Load(ctx)
	if err != nil {
		return err
	}
	data, err := plan.Document()
	if err != nil {
		return err
	}
	return WriteFileAtomic(filePath, data, 0644)
}

// Close implements PlanStore
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("%w: closing plan database: %w", utils.ErrDatabase, err)
	}
	return nil
}
