package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads user profile projections from the marketplace's
// users table. The table is owned by the auth/profile service; this side only
// selects from it.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// DirectoryOption configures PostgresDirectory behavior.
type DirectoryOption func(*PostgresDirectory) error

// WithDirectorySchema sets the DB schema used by the directory (default: "public").
func WithDirectorySchema(schema string) DirectoryOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a UserDirectory backed by PostgreSQL.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...DirectoryOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return d, nil
}

// Profile loads one user's profile projection.
func (d *PostgresDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	const op = "chat.Profile"

	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	users := pgIdent(d.schema, "users")

	var p Profile
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(avatar_url, '') FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Name, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, opErr(op, ErrNotFound, "user")
	}
	if err != nil {
		return Profile{}, storageErr(op, err)
	}
	return p, nil
}
