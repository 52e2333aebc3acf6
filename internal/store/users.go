package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS users (
        tg_id        BIGINT PRIMARY KEY,
        role         TEXT NOT NULL,
        username     TEXT,
        first_name   TEXT,
        last_name    TEXT,
        created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        is_active    BOOLEAN NOT NULL DEFAULT TRUE
    )`

const upsertUserSQL = `
    INSERT INTO users (tg_id, role, username, first_name, last_name, last_seen_at)
    VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT (tg_id) DO UPDATE
    SET
        username = excluded.username,
        first_name = excluded.first_name,
        last_name = excluded.last_name,
        last_seen_at = CURRENT_TIMESTAMP,
        is_active = TRUE
    RETURNING role`

const setRoleSQL = `
    INSERT INTO users (tg_id, role, username, first_name, last_name, is_active, last_seen_at)
    VALUES (?, ?, NULL, NULL, NULL, TRUE, CURRENT_TIMESTAMP)
    ON CONFLICT (tg_id) DO UPDATE
    SET
        role = excluded.role,
        is_active = TRUE,
        last_seen_at = CURRENT_TIMESTAMP`

const seedAdminSQL = `
    INSERT INTO users (tg_id, role, username, first_name, last_name)
    VALUES (?, 'admin', 'superadmin', 'Super', 'Admin')
    ON CONFLICT (tg_id) DO UPDATE
    SET role = excluded.role`

const getRoleSQL = `
    SELECT role
    FROM users
    WHERE tg_id = ?
      AND is_active = TRUE
    LIMIT 1`

const getUserSQL = `
    SELECT tg_id, role, username, first_name, last_name, created_at, last_seen_at, is_active
    FROM users
    WHERE tg_id = ?`

// UserRepo persists Telegram identities and their roles.
type UserRepo struct {
	db     *sql.DB
	driver string
}

func NewUserRepo(driver, dataSourceName string) (*UserRepo, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// SQLite serialises writers; a single connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &UserRepo{db: db, driver: driver}, nil
}

func (r *UserRepo) Close() error {
	return r.db.Close()
}

func (r *UserRepo) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database healthcheck failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("unexpected database healthcheck result %d", one)
	}
	return nil
}

// InitSchema creates the users table if it does not exist.
func (r *UserRepo) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SeedAdmin makes sure tgID exists and carries the admin role.
func (r *UserRepo) SeedAdmin(ctx context.Context, tgID int64) error {
	if _, err := r.db.ExecContext(ctx, r.rebind(seedAdminSQL), tgID); err != nil {
		return fmt.Errorf("failed to seed admin user %d: %w", tgID, err)
	}
	return nil
}

// UpsertAndGetRole creates the user with defaultRole on first sighting,
// otherwise refreshes name fields and activity. The role is never changed here.
func (r *UserRepo) UpsertAndGetRole(ctx context.Context, user TelegramUser, defaultRole string) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx, r.rebind(upsertUserSQL),
		user.TgID, defaultRole, nullString(user.Username), nullString(user.FirstName), nullString(user.LastName),
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return defaultRole, nil
		}
		return "", fmt.Errorf("failed to upsert user %d: %w", user.TgID, err)
	}
	return role, nil
}

// SetRole forcibly assigns role, creating a nameless row if tgID is unknown.
func (r *UserRepo) SetRole(ctx context.Context, tgID int64, role string) error {
	if _, err := r.db.ExecContext(ctx, r.rebind(setRoleSQL), tgID, role); err != nil {
		return fmt.Errorf("failed to set role for user %d: %w", tgID, err)
	}
	return nil
}

// GetRole looks up the role of an active user. found is false when there is none.
func (r *UserRepo) GetRole(ctx context.Context, tgID int64) (role string, found bool, err error) {
	err = r.db.QueryRowContext(ctx, r.rebind(getRoleSQL), tgID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query role for user %d: %w", tgID, err)
	}
	return role, true, nil
}

// GetUser returns the full row, or nil when tgID is unknown.
func (r *UserRepo) GetUser(ctx context.Context, tgID int64) (*User, error) {
	var user User
	var username, firstName, lastName sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(getUserSQL), tgID).Scan(
		&user.TgID, &user.Role, &username, &firstName, &lastName,
		&user.CreatedAt, &user.LastSeenAt, &user.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user %d: %w", tgID, err)
	}
	user.Username = nullableString(username)
	user.FirstName = nullableString(firstName)
	user.LastName = nullableString(lastName)
	return &user, nil
}

// rebind turns ? placeholders into $n for Postgres.
func (r *UserRepo) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
