// Command importer loads clue hunt activities from YAML files into the store.
//
//	importer [-driver sqlite|postgres] [-db path] [-database-url url] file.yaml...
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/cluehunt/internal/config"
	"github.com/ashureev/cluehunt/internal/seed"
	"github.com/ashureev/cluehunt/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	driver := flag.String("driver", envOr("DB_DRIVER", config.DriverSQLite), "database driver: sqlite or postgres")
	dbPath := flag.String("db", envOr("DB_PATH", "./data/cluehunt.db"), "SQLite database path")
	dbURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	dryRun := flag.Bool("dry-run", false, "validate files without writing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.yaml...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	files := make([]*seed.File, 0, flag.NArg())
	for _, path := range flag.Args() {
		f, err := seed.Load(path)
		if err != nil {
			slog.Error("Invalid definition file", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("Definition file valid", "path", path, "activities", len(f.Activities))
		files = append(files, f)
	}
	if *dryRun {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, strings.ToLower(*driver), *dbPath, *dbURL, store.DefaultRetryPolicy)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	total := 0
	for i, f := range files {
		imported, err := seed.Import(ctx, repo, f, time.Now())
		for _, a := range imported {
			slog.Info("Activity imported", "activity_id", a.ActivityID, "question_id", a.QuestionID, "name", a.Name, "clues", a.Clues)
		}
		total += len(imported)
		if err != nil {
			slog.Error("Import failed", "path", flag.Arg(i), "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Import complete", "activities", total)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
