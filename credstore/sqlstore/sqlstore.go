// Package sqlstore is a [adminauth.CredentialStore] on database/sql. It
// runs on PostgreSQL through pgx and on SQLite through modernc.org/sqlite,
// with the schema managed by embedded goose migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/adminauth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// Dialect selects SQL placeholders, the driver and the migration set.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var (
	_ adminauth.CredentialStore = (*Store)(nil)
	_ adminauth.AccountCreator  = (*Store)(nil)
)

// goose keeps its dialect and filesystem in package globals.
var migrateMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Store implements the credential store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects with the driver of dialect, pings, and migrates the schema.
// For SQLite, dsn is a file path or ":memory:".
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	driver, err := driverName(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		// One writer; ":memory:" databases are per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			"PRAGMA foreign_keys = ON;",
			"PRAGMA busy_timeout = 5000;",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set pragma: %w", err)
			}
		}
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without migrating.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

func driverName(dialect Dialect) (string, error) {
	switch dialect {
	case DialectPostgres:
		return "pgx", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	gooseDialect := "pgx"
	dir := "migrations/postgres"
	if s.dialect == DialectSQLite {
		gooseDialect = "sqlite3"
		dir = "migrations/sqlite"
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.db, dir); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for tests and tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const selectAccount = `SELECT id, email, password_hash, totp_secret, totp_enabled, role, status, created_at, updated_at FROM accounts `

func scanAccount(row *sql.Row) (*adminauth.Account, error) {
	var (
		a         adminauth.Account
		enabled   int
		status    int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.TOTPSecret, &enabled, &a.Role, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, adminauth.ErrAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.TOTPEnabled = enabled == 1
	a.Status = adminauth.AccountStatus(status)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

// CreateAccount inserts account, assigning a UUID when ID is empty.
func (s *Store) CreateAccount(ctx context.Context, account adminauth.Account) (*adminauth.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Email = normalize(account.Email)
	now := s.now().UTC().Truncate(time.Second)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := s.rebind(`INSERT INTO accounts
		(id, email, password_hash, totp_secret, totp_enabled, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Email, account.PasswordHash, account.TOTPSecret,
		boolToInt(account.TOTPEnabled), account.Role, int(account.Status),
		account.CreatedAt.Unix(), account.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, adminauth.ErrEmailInUse
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &account, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*adminauth.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectAccount+`WHERE email = ?`), normalize(email))
	return scanAccount(row)
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (*adminauth.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectAccount+`WHERE id = ?`), accountID)
	return scanAccount(row)
}

func (s *Store) EmailInUse(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM accounts WHERE email = ?`), normalize(email)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	return s.exec(ctx, `UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, s.now().Unix(), accountID)
}

// UpdateEmail changes the address; a taken address yields
// [adminauth.ErrEmailInUse] through the unique index.
func (s *Store) UpdateEmail(ctx context.Context, accountID, newEmail string) error {
	return s.exec(ctx, `UPDATE accounts SET email = ?, updated_at = ? WHERE id = ?`,
		normalize(newEmail), s.now().Unix(), accountID)
}

func (s *Store) SetTOTP(ctx context.Context, accountID string, secret []byte, enabled bool) error {
	return s.exec(ctx, `UPDATE accounts SET totp_secret = ?, totp_enabled = ?, updated_at = ? WHERE id = ?`,
		secret, boolToInt(enabled), s.now().Unix(), accountID)
}

func (s *Store) ClearTOTP(ctx context.Context, accountID string) error {
	return s.exec(ctx, `UPDATE accounts SET totp_secret = NULL, totp_enabled = 0, updated_at = ? WHERE id = ?`,
		s.now().Unix(), accountID)
}

// SetStatus changes the lifecycle state of an account.
func (s *Store) SetStatus(ctx context.Context, accountID string, status adminauth.AccountStatus) error {
	return s.exec(ctx, `UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		int(status), s.now().Unix(), accountID)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return adminauth.ErrEmailInUse
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return adminauth.ErrAccountNotFound
	}
	return nil
}
