package devserver

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/parsekit/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on _User usernames
const currentSchemaVersion = 1

// ErrNoObject is returned when a class has no object with the given id.
var ErrNoObject = errors.New("no such object")

// Store keeps emulator objects, credentials and sessions in SQLite.
type Store struct {
	db *sql.DB
}

// Row is one stored object.
type Row struct {
	ClassName string
	ObjectID  string
	Data      value.Object
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Object returns the row as the service sends it: the data plus objectId,
// createdAt and updatedAt, with timestamps as plain ISO strings.
func (r Row) Object() value.Object {
	obj := make(value.Object, len(r.Data)+3)
	for k, v := range r.Data {
		obj[k] = v
	}
	obj["objectId"] = value.String(r.ObjectID)
	obj["createdAt"] = value.String(value.FormatDate(r.CreatedAt))
	obj["updatedAt"] = value.String(value.FormatDate(r.UpdatedAt))
	return obj
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes usernames, which login and signup look up.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_objects_username
		ON objects(json_extract(data, '$.username'))
		WHERE class = '_User'
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// schemaVersion returns PRAGMA user_version.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}

// Insert stores a new object.
func (s *Store) Insert(ctx context.Context, row Row) error {
	data, err := value.Encode(row.Data)
	if err != nil {
		return fmt.Errorf("insert %s: %w", row.ClassName, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (class, object_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		row.ClassName,
		row.ObjectID,
		string(data),
		value.FormatDate(row.CreatedAt),
		value.FormatDate(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", row.ClassName, err)
	}
	return nil
}

// Get returns one object, or ErrNoObject.
func (s *Store) Get(ctx context.Context, className, objectID string) (Row, error) {
	return s.get(ctx, s.db, className, objectID)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q querier, className, objectID string) (Row, error) {
	row := q.QueryRowContext(ctx, `
		SELECT class, object_id, data, created_at, updated_at
		FROM objects
		WHERE class = ? AND object_id = ?
	`, className, objectID)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("%s %s: %w", className, objectID, ErrNoObject)
	}
	if err != nil {
		return Row{}, fmt.Errorf("get %s %s: %w", className, objectID, err)
	}
	return r, nil
}

// Update merges fields into an object's data and sets its update time.
// Returns the updated row, or ErrNoObject.
func (s *Store) Update(ctx context.Context, className, objectID string, fields value.Object, at time.Time) (Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Row{}, fmt.Errorf("update: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	row, err := s.get(ctx, tx, className, objectID)
	if err != nil {
		return Row{}, err
	}
	for k, v := range fields {
		row.Data[k] = v
	}
	row.UpdatedAt = at

	data, err := value.Encode(row.Data)
	if err != nil {
		return Row{}, fmt.Errorf("update %s %s: %w", className, objectID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE objects SET data = ?, updated_at = ?
		WHERE class = ? AND object_id = ?
	`, string(data), value.FormatDate(at), className, objectID); err != nil {
		return Row{}, fmt.Errorf("update %s %s: %w", className, objectID, err)
	}

	if err := tx.Commit(); err != nil {
		return Row{}, fmt.Errorf("update: commit: %w", err)
	}
	return row, nil
}

// Delete removes an object, or returns ErrNoObject. Deleting a user also
// removes its credentials and sessions.
func (s *Store) Delete(ctx context.Context, className, objectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE class = ? AND object_id = ?`, className, objectID)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", className, objectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", className, objectID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", className, objectID, ErrNoObject)
	}

	if className == userClass {
		for _, stmt := range []string{
			`DELETE FROM credentials WHERE user_id = ?`,
			`DELETE FROM sessions WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, objectID); err != nil {
				return fmt.Errorf("delete %s %s: %w", className, objectID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete: commit: %w", err)
	}
	return nil
}

// Select returns the rows of a class matching a compiled filter, in the
// filter's order with insertion order as tiebreaker.
func (s *Store) Select(ctx context.Context, className string, f filter) ([]Row, error) {
	stmt := `SELECT class, object_id, data, created_at, updated_at FROM objects WHERE class = ?`
	args := []any{className}
	for _, clause := range f.where {
		stmt += " AND " + clause
	}
	args = append(args, f.args...)

	stmt += " ORDER BY "
	for _, o := range f.order {
		stmt += o + ", "
	}
	stmt += "seq ASC"
	args = append(args, f.orderArgs...)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", className, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", className, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", className, err)
	}
	return out, nil
}

// List returns every row of a class in insertion order.
func (s *Store) List(ctx context.Context, className string) ([]Row, error) {
	return s.Select(ctx, className, filter{})
}

// FindUser returns the user with the given username, or ErrNoObject.
func (s *Store) FindUser(ctx context.Context, username string) (Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT class, object_id, data, created_at, updated_at
		FROM objects
		WHERE class = ? AND json_extract(data, '$.username') = ?
		ORDER BY seq ASC
		LIMIT 1
	`, userClass, username)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("user %q: %w", username, ErrNoObject)
	}
	if err != nil {
		return Row{}, fmt.Errorf("find user %q: %w", username, err)
	}
	return r, nil
}

// SetPasswordHash stores the password hash of a user.
func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET password_hash = excluded.password_hash
	`, userID, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

// PasswordHash returns the password hash of a user, or ErrNoObject.
func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM credentials WHERE user_id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("credentials of %s: %w", userID, ErrNoObject)
	}
	if err != nil {
		return "", fmt.Errorf("password hash: %w", err)
	}
	return hash, nil
}

// CreateSession records a session token for a user.
func (s *Store) CreateSession(ctx context.Context, token, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)
	`, token, userID, value.FormatDate(at))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionUser returns the user id a session token belongs to, or
// ErrNoObject.
func (s *Store) SessionUser(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE token = ?`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("session: %w", ErrNoObject)
	}
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return userID, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var (
		r                    Row
		data                 string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&r.ClassName, &r.ObjectID, &data, &createdAt, &updatedAt); err != nil {
		return Row{}, err
	}

	obj, err := value.DecodeObject([]byte(data))
	if err != nil {
		return Row{}, fmt.Errorf("decode %s %s: %w", r.ClassName, r.ObjectID, err)
	}
	r.Data = obj

	created, err := value.ParseDate(createdAt)
	if err != nil {
		return Row{}, err
	}
	updated, err := value.ParseDate(updatedAt)
	if err != nil {
		return Row{}, err
	}
	r.CreatedAt = created.Time()
	r.UpdatedAt = updated.Time()
	return r, nil
}
