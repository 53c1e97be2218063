// Package sqlstore is a status store shared between processes through a SQL
// database (postgres, or sqlite3 for single-host deployments).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	pingAttempts = 5
)

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	dbLogger = logger.Get("DB")

	columns = []string{
		"id", "url", "platform", "status", "message", "progress", "total",
		"title", "thumbnail", "file_name", "file_size", "download_link",
		"strategy", "output_path", "created_at", "updated_at",
	}
)

type (
	// SqlLogger forwards sqldb-logger output to the DB logger.
	SqlLogger struct {
		logger logger.Logger
	}

	Store struct {
		db *sqlx.DB
		sb sq.StatementBuilderType
	}

	jobRow struct {
		ID           string    `db:"id"`
		URL          string    `db:"url"`
		Platform     string    `db:"platform"`
		Status       string    `db:"status"`
		Message      string    `db:"message"`
		Progress     int64     `db:"progress"`
		Total        int64     `db:"total"`
		Title        string    `db:"title"`
		Thumbnail    string    `db:"thumbnail"`
		FileName     string    `db:"file_name"`
		FileSize     int64     `db:"file_size"`
		DownloadLink string    `db:"download_link"`
		Strategy     string    `db:"strategy"`
		OutputPath   string    `db:"output_path"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}
)

// Open connects to the database, runs the embedded migrations and returns
// a ready store.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var placeholders sq.PlaceholderFormat = sq.Question
	switch driver {
	case DriverPostgres:
		placeholders = sq.Dollar
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	drv := raw.Driver()
	raw.Close()

	conn := sqldblogger.OpenDriver(dsn, drv, &SqlLogger{dbLogger})
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err := ping(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := migrate(conn, driver); err != nil {
		conn.Close()
		return nil, err
	}

	dbLogger.Emit(logger.SUCCESS, "Status store connected (%s)\n", driver)
	return &Store{
		db: sqlx.NewDb(conn, driver),
		sb: sq.StatementBuilder.PlaceholderFormat(placeholders),
	}, nil
}

func ping(ctx context.Context, conn *sql.DB) error {
	for attempt := 1; ; attempt++ {
		err := conn.PingContext(ctx)
		if err == nil {
			return nil
		}
		if attempt >= pingAttempts {
			dbLogger.Emit(logger.ERROR, "All attempts FAILED!\n")
			return fmt.Errorf("failed to reach database: %w", err)
		}

		dbLogger.Emit(logger.WARNING, "Attempt (%v/%v) failed... Retrying in 3s\n", attempt, pingAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func migrate(conn *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(dbLogger)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set upserts the full record for job.ID.
func (s *Store) Set(ctx context.Context, job *domain.Job) error {
	r := toRow(job)
	query, args, err := s.sb.Insert("jobs").
		Columns(columns...).
		Values(r.ID, r.URL, r.Platform, r.Status, r.Message, r.Progress, r.Total,
			r.Title, r.Thumbnail, r.FileName, r.FileSize, r.DownloadLink,
			r.Strategy, r.OutputPath, r.CreatedAt, r.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url, platform = EXCLUDED.platform, status = EXCLUDED.status,
			message = EXCLUDED.message, progress = EXCLUDED.progress, total = EXCLUDED.total,
			title = EXCLUDED.title, thumbnail = EXCLUDED.thumbnail, file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size, download_link = EXCLUDED.download_link,
			strategy = EXCLUDED.strategy, output_path = EXCLUDED.output_path,
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads the record for jobID, or returns domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query, args, err := s.sb.Select(columns...).From("jobs").Where(sq.Eq{"id": jobID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	var r jobRow
	if err := s.db.GetContext(ctx, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return r.toJob(), nil
}

func toRow(j *domain.Job) jobRow {
	return jobRow{
		ID: j.ID, URL: j.URL, Platform: string(j.Platform), Status: string(j.Status),
		Message: j.Message, Progress: j.Progress, Total: j.Total,
		Title: j.Title, Thumbnail: j.Thumbnail, FileName: j.FileName, FileSize: j.FileSize,
		DownloadLink: j.DownloadLink, Strategy: j.Strategy, OutputPath: j.OutputPath,
		CreatedAt: j.CreatedAt.UTC(), UpdatedAt: j.UpdatedAt.UTC(),
	}
}

func (r jobRow) toJob() *domain.Job {
	return &domain.Job{
		ID: r.ID, URL: r.URL, Platform: domain.Platform(r.Platform), Status: domain.JobStatus(r.Status),
		Message: r.Message, Progress: r.Progress, Total: r.Total,
		Title: r.Title, Thumbnail: r.Thumbnail, FileName: r.FileName, FileSize: r.FileSize,
		DownloadLink: r.DownloadLink, Strategy: r.Strategy, OutputPath: r.OutputPath,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (l *SqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	template := "%s - %v\n"
	switch level {
	case sqldblogger.LevelTrace:
		l.logger.Verbosef(template, msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		if query, ok := data["query"]; ok {
			l.logger.Verbosef("%s [%vms] -- %s\n", msg, data["duration"], query)
		} else {
			l.logger.Verbosef("%s [%vms]\n", msg, data["duration"])
		}
	case sqldblogger.LevelError:
		l.logger.Errorf(template, msg, data)
	}
}
