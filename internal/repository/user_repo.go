package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskdesk/internal/database"
	"taskdesk/internal/models"
)

// UserRepository handles database operations for accounts and password reset
// tokens. Lookups expect an already-normalized email; absent rows come back
// as (nil, nil).
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new account row
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, id, name, password_hash, created_at, failed_login_attempts, locked_until, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.Email,
		user.ID,
		user.Name,
		user.PasswordHash,
		user.CreatedAt,
		user.FailedLoginAttempts,
		nullableTime(user.LockedUntil),
		nullableTime(user.LastLogin),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByEmail retrieves an account by its normalized email address
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT email, id, name, password_hash, created_at, failed_login_attempts, locked_until, last_login
		FROM users
		WHERE email = ?
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByID retrieves an account by its opaque user ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT email, id, name, password_hash, created_at, failed_login_attempts, locked_until, last_login
		FROM users
		WHERE id = ?
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetAll retrieves all accounts; order is not significant
func (r *UserRepository) GetAll(ctx context.Context) ([]models.User, error) {
	query := `
		SELECT email, id, name, password_hash, created_at, failed_login_attempts, locked_until, last_login
		FROM users
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var lockedUntil, lastLogin sql.NullTime
		if err := rows.Scan(
			&user.Email,
			&user.ID,
			&user.Name,
			&user.PasswordHash,
			&user.CreatedAt,
			&user.FailedLoginAttempts,
			&lockedUntil,
			&lastLogin,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.LockedUntil = timePtr(lockedUntil)
		user.LastLogin = timePtr(lastLogin)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// Update overwrites the mutable fields of an existing account row
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET name = ?, password_hash = ?, failed_login_attempts = ?, locked_until = ?, last_login = ?
		WHERE email = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Name,
		user.PasswordHash,
		user.FailedLoginAttempts,
		nullableTime(user.LockedUntil),
		nullableTime(user.LastLogin),
		user.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Put upserts an account row keyed by email, overwriting on conflict
func (r *UserRepository) Put(ctx context.Context, user *models.User) error {
	err := r.Update(ctx, user)
	if err == sql.ErrNoRows {
		return r.Create(ctx, user)
	}
	return err
}

// Delete removes an account row; the bool reports whether a row existed
func (r *UserRepository) Delete(ctx context.Context, email string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE email = ?", email)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return rows > 0, nil
}

// Clear removes all account rows; used only by destructive reset flows
func (r *UserRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM users"); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	return nil
}

// Count returns the number of accounts
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// CreatePasswordResetToken stores a single-use reset token for a user
func (r *UserRepository) CreatePasswordResetToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	query := `
		INSERT INTO password_reset_tokens (token, user_id, expires_at, created_at, used)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, token, userID, expiresAt, time.Now(), false); err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// GetPasswordResetToken retrieves a reset token by its token string
func (r *UserRepository) GetPasswordResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	query := `
		SELECT token, user_id, expires_at, created_at, used
		FROM password_reset_tokens
		WHERE token = ?
	`
	reset := &models.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&reset.Token,
		&reset.UserID,
		&reset.ExpiresAt,
		&reset.CreatedAt,
		&reset.Used,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	return reset, nil
}

// MarkPasswordResetTokenUsed flags a reset token as consumed
func (r *UserRepository) MarkPasswordResetTokenUsed(ctx context.Context, token string) error {
	query := "UPDATE password_reset_tokens SET used = ? WHERE token = ?"
	if _, err := r.db.ExecContext(ctx, query, true, token); err != nil {
		return fmt.Errorf("failed to mark reset token as used: %w", err)
	}
	return nil
}

// DeleteUserPasswordResetTokens removes all reset tokens for a user
func (r *UserRepository) DeleteUserPasswordResetTokens(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM password_reset_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete user reset tokens: %w", err)
	}
	return nil
}

// ClearPasswordResetTokens removes all reset tokens
func (r *UserRepository) ClearPasswordResetTokens(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM password_reset_tokens"); err != nil {
		return fmt.Errorf("failed to clear reset tokens: %w", err)
	}
	return nil
}

// DeleteExpiredPasswordResetTokens removes all expired reset tokens
func (r *UserRepository) DeleteExpiredPasswordResetTokens(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM password_reset_tokens WHERE expires_at < ?", time.Now()); err != nil {
		return fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}
	return nil
}

// scanUser maps a single-row query result to a User
func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var lockedUntil, lastLogin sql.NullTime
	err := row.Scan(
		&user.Email,
		&user.ID,
		&user.Name,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.LockedUntil = timePtr(lockedUntil)
	user.LastLogin = timePtr(lastLogin)
	return user, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
