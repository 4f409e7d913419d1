package repository

import (
	"context"
	"database/sql"
	"fmt"

	"taskdesk/internal/database"
	"taskdesk/internal/models"
)

// TokenRepository handles database operations for remember-me tokens
type TokenRepository struct {
	db database.DBTX
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db database.DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

// Get retrieves a remember-me token by its token string
func (r *TokenRepository) Get(ctx context.Context, token string) (*models.RememberToken, error) {
	query := "SELECT token, user_id, expires FROM tokens WHERE token = ?"
	record := &models.RememberToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&record.Token, &record.UserID, &record.Expires)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return record, nil
}

// GetAll retrieves all remember-me tokens
func (r *TokenRepository) GetAll(ctx context.Context) ([]models.RememberToken, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT token, user_id, expires FROM tokens")
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.RememberToken
	for rows.Next() {
		var record models.RememberToken
		if err := rows.Scan(&record.Token, &record.UserID, &record.Expires); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}

	return tokens, nil
}

// Put upserts a remember-me token keyed by its token string
func (r *TokenRepository) Put(ctx context.Context, record *models.RememberToken) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE tokens SET user_id = ?, expires = ? WHERE token = ?",
		record.UserID, record.Expires, record.Token)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO tokens (token, user_id, expires) VALUES (?, ?, ?)",
		record.Token, record.UserID, record.Expires)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// Delete removes a remember-me token; the bool reports whether it existed
func (r *TokenRepository) Delete(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tokens WHERE token = ?", token)
	if err != nil {
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return rows > 0, nil
}

// DeleteByUserID removes all remember-me tokens belonging to a user
func (r *TokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}
	return nil
}

// Clear removes all remember-me tokens
func (r *TokenRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM tokens"); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// Count returns the number of stored remember-me tokens
func (r *TokenRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tokens").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return count, nil
}
