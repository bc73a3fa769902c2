package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/ricart/storefront/internal/model"
)

const mysqlDuplicateEntry = 1062

const identitiesDDL = `CREATE TABLE IF NOT EXISTS identities (
	id                 CHAR(36)     NOT NULL PRIMARY KEY,
	email              VARCHAR(320) NOT NULL,
	password_hash      VARCHAR(100) NOT NULL,
	name               VARCHAR(200) NOT NULL,
	role               VARCHAR(16)  NOT NULL DEFAULT 'customer',
	refresh_token_hash CHAR(64)     NULL,
	created_at         DATETIME(3)  NOT NULL,
	updated_at         DATETIME(3)  NOT NULL,
	UNIQUE KEY uq_identities_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const identityColumns = "id,email,password_hash,name,role,refresh_token_hash,created_at,updated_at"

// MySQLIdentityStore mirrors the 'identities' table.  The refresh-token slot
// is a nullable column holding the SHA-256 digest of the live token.
type MySQLIdentityStore struct{ DB *sql.DB }

func NewMySQLIdentityStore(db *sql.DB) *MySQLIdentityStore { return &MySQLIdentityStore{DB: db} }

// EnsureSchema creates the identities table if it does not exist.
func (r *MySQLIdentityStore) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, identitiesDDL); err != nil {
		return classify("repository.mysql.EnsureSchema", err)
	}
	return nil
}

// Create inserts the identity with a fresh uuid.
func (r *MySQLIdentityStore) Create(ctx context.Context, id *model.Identity) error {
	const op = "repository.mysql.Create"

	now := time.Now().UTC()
	id.ID = uuid.NewString()
	id.Email = NormalizeEmail(id.Email)
	id.CreatedAt = now
	id.UpdatedAt = now

	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO identities ("+identityColumns+") VALUES (?,?,?,?,?,NULL,?,?)",
		id.ID, id.Email, id.PasswordHash, id.Name, string(id.Role), id.CreatedAt, id.UpdatedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrEmailExists
		}
		return classify(op, err)
	}
	return nil
}

// FindByID fetches an identity by id.
func (r *MySQLIdentityStore) FindByID(ctx context.Context, id string) (model.Identity, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id=? LIMIT 1", id)
	return scanIdentity("repository.mysql.FindByID", row)
}

// FindByEmail fetches an identity by normalized email.
func (r *MySQLIdentityStore) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE email=? LIMIT 1", NormalizeEmail(email))
	return scanIdentity("repository.mysql.FindByEmail", row)
}

// SetRefreshTokenHash overwrites the slot; an empty hash stores NULL.
func (r *MySQLIdentityStore) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	const op = "repository.mysql.SetRefreshTokenHash"

	var value sql.NullString
	if hash != "" {
		value = sql.NullString{String: hash, Valid: true}
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE identities SET refresh_token_hash=?, updated_at=? WHERE id=?",
		value, time.Now().UTC(), id)
	if err != nil {
		return classify(op, err)
	}
	// MySQL reports 0 affected rows when the value is unchanged, so only a
	// missing row is treated as not found.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists int
		err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM identities WHERE id=? LIMIT 1", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return classify(op, err)
		}
	}
	return nil
}

func (r *MySQLIdentityStore) Ping(ctx context.Context) error {
	if err := r.DB.PingContext(ctx); err != nil {
		return classify("repository.mysql.Ping", err)
	}
	return nil
}

func scanIdentity(op string, row *sql.Row) (model.Identity, error) {
	var (
		u       model.Identity
		role    string
		refresh sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &refresh, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, classify(op, err)
	}
	u.Role = model.Role(role)
	u.RefreshTokenHash = refresh.String
	return u, nil
}
