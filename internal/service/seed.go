package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// demoAccounts are created by SeedDemoAccounts for local development
var demoAccounts = []struct {
	Name     string
	Email    string
	Password string
}{
	{"Ada Lovelace", "ada@taskdesk.local", "Analytical1!"},
	{"Grace Hopper", "grace@taskdesk.local", "Compiler42#"},
}

// SeedDemoAccounts creates the demo accounts when they do not exist yet.
// Intended for local development only, gated behind SEED_DEMO_USERS.
func SeedDemoAccounts(ctx context.Context, accounts *AccountService, log *logrus.Logger) error {
	for _, demo := range demoAccounts {
		_, err := accounts.Create(ctx, demo.Name, demo.Email, demo.Password)
		if errors.Is(err, ErrDuplicateAccount) {
			continue
		}
		if err != nil {
			return err
		}
		log.WithField("email", demo.Email).Info("demo account created")
	}
	return nil
}
