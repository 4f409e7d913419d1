package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"taskdesk/internal/database"
	"taskdesk/internal/localstate"
	"taskdesk/internal/models"
	"taskdesk/internal/repository"
)

// BackupData is the portable dump of the record store
type BackupData struct {
	Version    string        `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	Users      []UserBackup  `json:"users"`
	Tokens     []TokenBackup `json:"tokens"`
}

// UserBackup is an account row in a backup file
type UserBackup struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	PasswordHash        string     `json:"password_hash"`
	CreatedAt           time.Time  `json:"created_at"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

// TokenBackup is a remember-me token row in a backup file
type TokenBackup struct {
	Token   string    `json:"token"`
	UserID  string    `json:"user_id"`
	Expires time.Time `json:"expires"`
}

// StoreStatus summarizes both stores for diagnostics
type StoreStatus struct {
	Accounts        int
	LockedAccounts  int
	Tokens          int
	RememberedUsers int
	SessionActive   bool
}

// BackupService handles export, import and destructive reset of the identity
// store
type BackupService struct {
	db    *database.DB
	state *localstate.Store
	log   *logrus.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, state *localstate.Store, log *logrus.Logger) *BackupService {
	return &BackupService{db: db, state: state, log: log}
}

// Export writes a complete dump of the record store to outputPath
func (s *BackupService) Export(ctx context.Context, outputPath string) error {
	users, err := repository.NewUserRepository(s.db).GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to export accounts: %w", err)
	}
	tokens, err := repository.NewTokenRepository(s.db).GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to export tokens: %w", err)
	}

	backup := &BackupData{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Users:      make([]UserBackup, 0, len(users)),
		Tokens:     make([]TokenBackup, 0, len(tokens)),
	}
	for _, user := range users {
		backup.Users = append(backup.Users, UserBackup{
			ID:                  user.ID,
			Email:               user.Email,
			Name:                user.Name,
			PasswordHash:        user.PasswordHash,
			CreatedAt:           user.CreatedAt,
			FailedLoginAttempts: user.FailedLoginAttempts,
			LockedUntil:         user.LockedUntil,
			LastLogin:           user.LastLogin,
		})
	}
	for _, token := range tokens {
		backup.Tokens = append(backup.Tokens, TokenBackup{
			Token:   token.Token,
			UserID:  token.UserID,
			Expires: token.Expires,
		})
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":     outputPath,
		"accounts": len(backup.Users),
		"tokens":   len(backup.Tokens),
	}).Info("backup exported")
	return nil
}

// Import replaces the record store contents with a backup file. The whole
// restore runs in one transaction, so a bad file leaves the store untouched.
// The remembered-user cache may reference tokens the backup no longer holds;
// run reconciliation afterwards.
func (s *BackupService) Import(ctx context.Context, inputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	backup := &BackupData{}
	if err := json.Unmarshal(data, backup); err != nil {
		return fmt.Errorf("failed to parse backup file: %w", err)
	}
	if backup.Version != "1.0" {
		return fmt.Errorf("unsupported backup version %q", backup.Version)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	userRepo := repository.NewUserRepository(tx)
	tokenRepo := repository.NewTokenRepository(tx)

	if err := tokenRepo.Clear(ctx); err != nil {
		return err
	}
	if err := userRepo.ClearPasswordResetTokens(ctx); err != nil {
		return err
	}
	if err := userRepo.Clear(ctx); err != nil {
		return err
	}

	for _, u := range backup.Users {
		user := &models.User{
			ID:                  u.ID,
			Email:               models.NormalizeEmail(u.Email),
			Name:                u.Name,
			PasswordHash:        u.PasswordHash,
			CreatedAt:           u.CreatedAt,
			FailedLoginAttempts: u.FailedLoginAttempts,
			LockedUntil:         u.LockedUntil,
			LastLogin:           u.LastLogin,
		}
		if err := userRepo.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to restore account %s: %w", u.Email, err)
		}
	}
	for _, t := range backup.Tokens {
		record := &models.RememberToken{Token: t.Token, UserID: t.UserID, Expires: t.Expires}
		if err := tokenRepo.Put(ctx, record); err != nil {
			return fmt.Errorf("failed to restore token for user %s: %w", t.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}

	// Any session from before the restore no longer matches the store.
	if err := s.state.SetCurrentSession(""); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":     inputPath,
		"accounts": len(backup.Users),
		"tokens":   len(backup.Tokens),
	}).Info("backup imported")
	return nil
}

// Status reports counts across both stores
func (s *BackupService) Status(ctx context.Context) (*StoreStatus, error) {
	userRepo := repository.NewUserRepository(s.db)
	tokenRepo := repository.NewTokenRepository(s.db)

	users, err := userRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := tokenRepo.Count(ctx)
	if err != nil {
		return nil, err
	}

	locked := 0
	now := time.Now()
	for _, user := range users {
		if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
			locked++
		}
	}

	return &StoreStatus{
		Accounts:        len(users),
		LockedAccounts:  locked,
		Tokens:          tokens,
		RememberedUsers: len(s.state.RememberedUsers()),
		SessionActive:   s.state.CurrentSession() != "",
	}, nil
}

// Reset wipes both stores. Destructive and unrecoverable.
func (s *BackupService) Reset(ctx context.Context) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	userRepo := repository.NewUserRepository(tx)
	if err := repository.NewTokenRepository(tx).Clear(ctx); err != nil {
		return err
	}
	if err := userRepo.ClearPasswordResetTokens(ctx); err != nil {
		return err
	}
	if err := userRepo.Clear(ctx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	if err := s.state.Reset(); err != nil {
		return err
	}

	s.log.Warn("identity store reset")
	return nil
}
