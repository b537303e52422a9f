package readmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/admincore/userd/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UpsertUser(ctx context.Context, row UserRow) error {
	// Upsert so that a redelivered creation event does not blow up on the
	// primary key.
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, role, is_active, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET username = EXCLUDED.username, role = EXCLUDED.role,
		     is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		row.ID, row.Username, row.DisplayName, row.Role, row.IsActive, row.IsDeleted, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetRole(ctx context.Context, id uuid.UUID, role string, at time.Time) error {
	return r.updateUser(ctx, id, `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, role, at)
}

func (r *PostgresRepository) SetProfile(ctx context.Context, id uuid.UUID, displayName string, at time.Time) error {
	return r.updateUser(ctx, id, `UPDATE users SET display_name = $2, updated_at = $3 WHERE id = $1`, displayName, at)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	return r.updateUser(ctx, id, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, active, at)
}

func (r *PostgresRepository) SetLastLogin(ctx context.Context, id uuid.UUID, loginAt time.Time, at time.Time) error {
	return r.updateUser(ctx, id, `UPDATE users SET last_login_at = $2, updated_at = $3 WHERE id = $1`, loginAt, at)
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	// soft delete only; rows stay queryable with include_deleted
	return r.updateUser(ctx, id, `UPDATE users SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`, at)
}

func (r *PostgresRepository) updateUser(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertAuthMethod(ctx context.Context, row AuthMethodRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_methods (user_id, identifier, type, secret, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, identifier, type) DO UPDATE
		 SET secret = EXCLUDED.secret, updated_at = EXCLUDED.updated_at`,
		row.UserID, row.Identifier, row.Type, row.Secret, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAuthMethodSecret(ctx context.Context, userID uuid.UUID, identifier, secret string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE auth_methods SET secret = $3, updated_at = $4 WHERE user_id = $1 AND identifier = $2`,
		userID, identifier, secret, at)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteAuthMethod(ctx context.Context, userID uuid.UUID, identifier string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_methods WHERE user_id = $1 AND identifier = $2`,
		userID, identifier)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (*UserRow, error) {
	row := &UserRow{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, role, is_active, is_deleted, created_at, updated_at, last_login_at
		 FROM users WHERE id = $1`,
		id).Scan(&row.ID, &row.Username, &row.DisplayName, &row.Role, &row.IsActive, &row.IsDeleted,
		&row.CreatedAt, &row.UpdatedAt, &row.LastLoginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return row, nil
}

func (r *PostgresRepository) AuthMethodsOf(ctx context.Context, userID uuid.UUID) ([]AuthMethodRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, identifier, type, secret, created_at, updated_at
		 FROM auth_methods WHERE user_id = $1
		 ORDER BY created_at ASC, identifier ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var methods []AuthMethodRow
	for rows.Next() {
		var m AuthMethodRow
		if err := rows.Scan(&m.UserID, &m.Identifier, &m.Type, &m.Secret, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error performing sql request: %w", err)
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return methods, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context, page, pageSize int, includeDeleted bool) ([]UserRow, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	filter := `WHERE NOT is_deleted`
	if includeDeleted {
		filter = ``
	}

	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users `+filter).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("error performing sql request: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, display_name, role, is_active, is_deleted, created_at, updated_at, last_login_at
		 FROM users `+filter+`
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var users []UserRow
	for rows.Next() {
		var u UserRow
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &u.IsActive, &u.IsDeleted,
			&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt); err != nil {
			return nil, 0, fmt.Errorf("error performing sql request: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error performing sql request: %w", err)
	}

	return users, total, nil
}

func (r *PostgresRepository) Checkpoint(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projection_checkpoints WHERE name = $1`,
		name).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("error performing sql request: %w", err)
	}
	return seq, nil
}

func (r *PostgresRepository) SetCheckpoint(ctx context.Context, name string, seq int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projection_checkpoints (name, last_sequence)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET last_sequence = EXCLUDED.last_sequence`,
		name, seq)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) TruncateAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `TRUNCATE auth_methods, users`)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}
