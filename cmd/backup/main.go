package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
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
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	resetCmd := flag.NewFlagSet("reset", flag.ExitOnError)

	exportOutput := exportCmd.String("output", "", "Output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	importInput := importCmd.String("input", "", "Input file path (required)")
	resetConfirm := resetCmd.Bool("confirm", false, "Required to actually wipe the store")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	state, err := localstate.Open(cfg.StatePath)
	if err != nil {
		log.Fatalf("Failed to open state file: %v", err)
	}

	backupService := service.NewBackupService(db, state, log)
	ctx := context.Background()

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		handleExport(ctx, backupService, *exportOutput, log)

	case "import":
		importCmd.Parse(os.Args[2:])
		if *importInput == "" {
			fmt.Println("Error: -input flag is required")
			importCmd.PrintDefaults()
			os.Exit(1)
		}
		handleImport(ctx, backupService, db, state, *importInput, log)

	case "status":
		handleStatus(ctx, backupService, log)

	case "reset":
		resetCmd.Parse(os.Args[2:])
		if !*resetConfirm {
			fmt.Println("Error: pass -confirm to wipe every account, token and the local state")
			os.Exit(1)
		}
		if err := backupService.Reset(ctx); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		fmt.Println("Store reset.")

	default:
		printUsage()
		os.Exit(1)
	}
}

func handleExport(ctx context.Context, backupService *service.BackupService, outputPath string, log *logrus.Logger) {
	if outputPath == "" {
		timestamp := time.Now().Format("20060102_150405")
		outputPath = fmt.Sprintf("backup_%s.json", timestamp)
	}

	dir := filepath.Dir(outputPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	if err := backupService.Export(ctx, outputPath); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	fmt.Printf("Backup written to %s\n", outputPath)
}

func handleImport(ctx context.Context, backupService *service.BackupService, db *database.DB, state *localstate.Store, inputPath string, log *logrus.Logger) {
	if err := backupService.Import(ctx, inputPath); err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	// The restored tokens decide which cache entries survive.
	remember := service.NewRememberService(
		repository.NewTokenRepository(db),
		repository.NewUserRepository(db),
		state, log)
	if _, _, err := remember.ReconcileAll(ctx); err != nil {
		log.Fatalf("Reconciliation after import failed: %v", err)
	}

	fmt.Printf("Backup restored from %s\n", inputPath)
}

func handleStatus(ctx context.Context, backupService *service.BackupService, log *logrus.Logger) {
	status, err := backupService.Status(ctx)
	if err != nil {
		log.Fatalf("Status failed: %v", err)
	}
	fmt.Printf("Accounts:          %d (%d locked)\n", status.Accounts, status.LockedAccounts)
	fmt.Printf("Remember tokens:   %d\n", status.Tokens)
	fmt.Printf("Remembered users:  %d\n", status.RememberedUsers)
	fmt.Printf("Session active:    %v\n", status.SessionActive)
}

func printUsage() {
	fmt.Println("TaskDesk backup tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  backup export [-output FILE]")
	fmt.Println("  backup import -input FILE")
	fmt.Println("  backup status")
	fmt.Println("  backup reset -confirm")
}
