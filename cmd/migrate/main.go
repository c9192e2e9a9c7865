package main

import (
	"fmt"
	"os"

	"github.com/pratik-mahalle/wsaudit/internal/config"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
	"github.com/pratik-mahalle/wsaudit/migrations"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})

	// Connect to database
	db, err := sqlstore.New(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", db.Driver)

	migrationsFS, err := migrations.GetFS(db.Driver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load migrations: %v\n", err)
		os.Exit(1)
	}

	applied, err := sqlstore.RunMigrations(db, migrationsFS)
	if err != nil {
		log.ErrorWithErr(err, "Migration failed")
		db.Close()
		os.Exit(1)
	}

	if applied == 0 {
		fmt.Println("Database is up to date")
		return
	}
	fmt.Printf("\nApplied %d migration(s) successfully!\n", applied)
}
