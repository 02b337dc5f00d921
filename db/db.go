// Package db persists share sessions in PostgreSQL
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/snaplook/scraper/models"
)

const sessionsTable = "share_sessions"

var sessionColumns = []string{
	"id", "source_url", "platform", "status", "image_path",
	"message", "search_id", "result_count", "created_at", "updated_at",
}

// psql builds queries with $n placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ErrSessionNotFound is returned when no session matches
var ErrSessionNotFound = errors.New("share session not found")

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection and applies pending migrations
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// Ping checks the connection, used by health checks
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SaveSession inserts a session or replaces every field but created_at
func (db *DB) SaveSession(ctx context.Context, s *models.ShareSession) error {
	query, args, err := saveSessionQuery(s, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func saveSessionQuery(s *models.ShareSession, now time.Time) (string, []any, error) {
	created := s.CreatedAt
	if created.IsZero() {
		created = now
	}
	return psql.Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(
			s.ID,
			nullable(s.SourceURL),
			string(s.Platform),
			string(s.Status),
			nullable(s.ImagePath),
			nullable(s.Message),
			nullable(s.SearchID),
			s.ResultCount,
			created,
			now,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			source_url = excluded.source_url,
			platform = excluded.platform,
			status = excluded.status,
			image_path = excluded.image_path,
			message = excluded.message,
			search_id = excluded.search_id,
			result_count = excluded.result_count,
			updated_at = excluded.updated_at`).
		ToSql()
}

// UpdateStatus sets the status of an existing session
func (db *DB) UpdateStatus(ctx context.Context, id string, status models.HandoffStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	query, args, err := updateStatusQuery(id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func updateStatusQuery(id string, status models.HandoffStatus, now time.Time) (string, []any, error) {
	return psql.Update(sessionsTable).
		Set("status", string(status)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		ToSql()
}

// GetSession retrieves a session by id
func (db *DB) GetSession(ctx context.Context, id string) (*models.ShareSession, error) {
	query, args, err := psql.Select(sessionColumns...).
		From(sessionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.getOne(ctx, query, args)
}

// GetBySourceURL returns the most recent session for a shared URL
func (db *DB) GetBySourceURL(ctx context.Context, sourceURL string) (*models.ShareSession, error) {
	query, args, err := latestBySourceQuery(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.getOne(ctx, query, args)
}

func latestBySourceQuery(sourceURL string) (string, []any, error) {
	return psql.Select(sessionColumns...).
		From(sessionsTable).
		Where(sq.Eq{"source_url": sourceURL}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
}

// ListSessions returns sessions newest first
func (db *DB) ListSessions(ctx context.Context, limit, offset int) ([]*models.ShareSession, error) {
	query, args, err := listSessionsQuery(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ShareSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sessions, nil
}

func listSessionsQuery(limit, offset int) (string, []any, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return psql.Select(sessionColumns...).
		From(sessionsTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
}

// Count returns the total number of sessions
func (db *DB) Count(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From(sessionsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (db *DB) getOne(ctx context.Context, query string, args []any) (*models.ShareSession, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ShareSession, error) {
	var (
		s                                       models.ShareSession
		platform, status                        string
		sourceURL, imagePath, message, searchID sql.NullString
	)
	err := row.Scan(
		&s.ID, &sourceURL, &platform, &status, &imagePath,
		&message, &searchID, &s.ResultCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.SourceURL = sourceURL.String
	s.Platform = models.PlatformKind(platform)
	s.Status = models.HandoffStatus(status)
	s.ImagePath = imagePath.String
	s.Message = message.String
	s.SearchID = searchID.String
	return &s, nil
}

// nullable stores empty strings as NULL
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
