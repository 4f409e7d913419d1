package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"taskdesk/internal/config"
	"taskdesk/internal/database"
	"taskdesk/internal/localstate"
	"taskdesk/internal/repository"
	"taskdesk/internal/service"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	app, err := newApp(cfg, log)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer app.db.Close()

	ctx := context.Background()

	if cfg.SeedDemoUsers {
		if err := service.SeedDemoAccounts(ctx, app.accounts, log); err != nil {
			log.Fatalf("Failed to seed demo accounts: %v", err)
		}
	}

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Fatalf("%v", err)
	}
}

// app wires the services behind the CLI subcommands
type app struct {
	db       *database.DB
	state    *localstate.Store
	accounts *service.AccountService
	remember *service.RememberService
	sessions *service.SessionService
	backup   *service.BackupService
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	state, err := localstate.Open(cfg.StatePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}

	email, err := service.NewEmailService(cfg.SESRegion, cfg.SESFromEmail, cfg.SESFromName, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize email service: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	accounts := service.NewAccountService(userRepo, email, log)
	remember := service.NewRememberService(tokenRepo, userRepo, state, log)
	sessions, err := service.NewSessionService(accounts, remember, state, cfg.SessionSecret, cfg.SessionTTL, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session service: %w", err)
	}

	return &app{
		db:       db,
		state:    state,
		accounts: accounts,
		remember: remember,
		sessions: sessions,
		backup:   service.NewBackupService(db, state, log),
	}, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "login-token":
		return a.loginToken(ctx, args)
	case "logout":
		return a.sessions.Logout(ctx)
	case "whoami":
		return a.whoami()
	case "remembered":
		return a.remembered()
	case "reconcile":
		return a.reconcile(ctx)
	case "revoke":
		return a.revoke(ctx, args)
	case "delete":
		return a.deleteAccount(ctx, args)
	case "check-password":
		return a.checkPassword(args)
	case "reset-request":
		return a.resetRequest(ctx, args)
	case "reset":
		return a.reset(ctx, args)
	case "status":
		return a.status(ctx)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "Display name (required)")
	email := fs.String("email", "", "Email address (required)")
	password := fs.String("password", "", "Password (required)")
	fs.Parse(args)

	if *name == "" || *email == "" || *password == "" {
		fs.PrintDefaults()
		return fmt.Errorf("register: -name, -email and -password are required")
	}

	user, err := a.accounts.Create(ctx, *name, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("Account created for %s (%s)\n", user.Name, user.Email)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address (required)")
	password := fs.String("password", "", "Password (required)")
	remember := fs.Bool("remember", false, "Stay signed in on this device")
	fs.Parse(args)

	if *email == "" || *password == "" {
		fs.PrintDefaults()
		return fmt.Errorf("login: -email and -password are required")
	}

	result, err := a.sessions.Login(ctx, *email, *password, *remember)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("login failed: %s", result.Message)
	}
	fmt.Println("Signed in.")
	return nil
}

func (a *app) loginToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login-token", flag.ExitOnError)
	token := fs.String("token", "", "Remember-me token (default: the stored current token)")
	fs.Parse(args)

	t := *token
	if t == "" {
		t = a.state.CurrentToken()
	}
	if t == "" {
		return fmt.Errorf("login-token: no token given and none stored")
	}

	result, err := a.sessions.LoginWithToken(ctx, t)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("login failed: %s", result.Message)
	}
	fmt.Println("Signed in.")
	return nil
}

func (a *app) whoami() error {
	user, err := a.sessions.CurrentUser()
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s>\n", user.Name, user.Email)
	return nil
}

func (a *app) remembered() error {
	cached := a.remember.ListCached()
	if len(cached) == 0 {
		fmt.Println("No remembered accounts.")
		return nil
	}
	for _, user := range cached {
		note := ""
		if user.IsExpired() {
			note = " (expired, run reconcile)"
		}
		fmt.Printf("%-4s %-30s expires %s%s\n", user.Initials, user.Email, user.ExpiresAt.Format(time.RFC3339), note)
	}
	return nil
}

func (a *app) reconcile(ctx context.Context) error {
	removedTokens, removedEntries, err := a.remember.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired tokens and %d stale cache entries.\n", removedTokens, removedEntries)
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	token := fs.String("token", "", "Revoke a single remember-me token")
	email := fs.String("email", "", "Revoke every token for an account")
	fs.Parse(args)

	switch {
	case *token != "":
		return a.remember.Revoke(ctx, *token)
	case *email != "":
		return a.remember.RevokeByEmail(ctx, *email)
	default:
		fs.PrintDefaults()
		return fmt.Errorf("revoke: -token or -email is required")
	}
}

func (a *app) deleteAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	email := fs.String("email", "", "Email of the account to delete (required)")
	confirm := fs.Bool("confirm", false, "Required to actually delete")
	fs.Parse(args)

	if *email == "" {
		fs.PrintDefaults()
		return fmt.Errorf("delete: -email is required")
	}
	if !*confirm {
		return fmt.Errorf("delete: pass -confirm to delete %s and everything attached to it", *email)
	}

	if err := a.sessions.DeleteAccount(ctx, *email); err != nil {
		return err
	}
	fmt.Printf("Account %s deleted.\n", *email)
	return nil
}

func (a *app) checkPassword(args []string) error {
	fs := flag.NewFlagSet("check-password", flag.ExitOnError)
	password := fs.String("password", "", "Password to evaluate (required)")
	fs.Parse(args)

	if *password == "" {
		fs.PrintDefaults()
		return fmt.Errorf("check-password: -password is required")
	}

	strength := a.accounts.CheckPasswordStrength(*password)
	fmt.Printf("Score: %d/4  Valid: %v\n", strength.Score, strength.IsValid)
	rules := []struct {
		ok   bool
		text string
	}{
		{strength.Feedback.HasMinLength, "at least 8 characters"},
		{strength.Feedback.HasUppercase, "an uppercase letter"},
		{strength.Feedback.HasLowercase, "a lowercase letter"},
		{strength.Feedback.HasNumber, "a number"},
		{strength.Feedback.HasSpecialChar, "a special character"},
		{strength.Feedback.StartsWithUppercase, "starts with an uppercase letter"},
	}
	for _, rule := range rules {
		mark := "✗"
		if rule.ok {
			mark = "✓"
		}
		fmt.Printf("  %s %s\n", mark, rule.text)
	}
	return nil
}

func (a *app) resetRequest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-request", flag.ExitOnError)
	email := fs.String("email", "", "Email address (required)")
	fs.Parse(args)

	if *email == "" {
		fs.PrintDefaults()
		return fmt.Errorf("reset-request: -email is required")
	}

	if _, err := a.accounts.RequestPasswordReset(ctx, *email); err != nil {
		return err
	}
	fmt.Println("If that email has an account, a reset code has been sent.")
	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	token := fs.String("token", "", "Reset code (required)")
	password := fs.String("password", "", "New password (required)")
	fs.Parse(args)

	if *token == "" || *password == "" {
		fs.PrintDefaults()
		return fmt.Errorf("reset: -token and -password are required")
	}

	if err := a.accounts.ResetPassword(ctx, *token, *password); err != nil {
		return err
	}
	fmt.Println("Password updated.")
	return nil
}

func (a *app) status(ctx context.Context) error {
	status, err := a.backup.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Accounts:          %d\n", status.Accounts)
	fmt.Printf("Locked accounts:   %d\n", status.LockedAccounts)
	fmt.Printf("Remember tokens:   %d\n", status.Tokens)
	fmt.Printf("Remembered users:  %d\n", status.RememberedUsers)
	fmt.Printf("Session active:    %v\n", status.SessionActive)
	return nil
}

func printUsage() {
	fmt.Println("TaskDesk identity tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  identity register -name NAME -email EMAIL -password PASSWORD")
	fmt.Println("  identity login -email EMAIL -password PASSWORD [-remember]")
	fmt.Println("  identity login-token [-token TOKEN]")
	fmt.Println("  identity logout")
	fmt.Println("  identity whoami")
	fmt.Println("  identity remembered")
	fmt.Println("  identity reconcile")
	fmt.Println("  identity revoke -token TOKEN | -email EMAIL")
	fmt.Println("  identity delete -email EMAIL -confirm")
	fmt.Println("  identity check-password -password PASSWORD")
	fmt.Println("  identity reset-request -email EMAIL")
	fmt.Println("  identity reset -token TOKEN -password PASSWORD")
	fmt.Println("  identity status")
}
