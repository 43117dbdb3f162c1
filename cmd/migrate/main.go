package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/poi-importer/internal/pkg/distlock"
	"github.com/ignite/poi-importer/internal/pkg/logger"
)

const migrationLockKey = "poi-importer:migrate"

func main() {
	log := logger.New("Migrate")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Error("ping", "error", err)
		os.Exit(1)
	}
	log.Info("connected to database")

	if listOnly {
		if err := listTables(ctx, db); err != nil {
			log.Error("list tables", "error", err)
			os.Exit(1)
		}
		return
	}

	files, err := migrationFiles(dir)
	if err != nil {
		log.Error("read migrations dir", "dir", dir, "error", err)
		os.Exit(1)
	}

	// Two replicas starting together must not apply the same files concurrently.
	var okCount, errCount int
	err = distlock.Run(ctx, distlock.NewAdvisoryLock(db, migrationLockKey), func(ctx context.Context) error {
		okCount, errCount = apply(ctx, db, dir, files, log)
		return nil
	})
	if errors.Is(err, distlock.ErrNotAcquired) {
		log.Warn("another process is running migrations; skipping")
		return
	}
	if err != nil {
		log.Error("migration lock", "error", err)
		os.Exit(1)
	}

	log.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}

// migrationFiles returns the .sql files in dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// apply runs each file in its own transaction. A failing file is rolled back
// and the rest still run.
func apply(ctx context.Context, db *sql.DB, dir string, files []string, log *logger.Logger) (okCount, errCount int) {
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("read migration", "file", path, "error", err)
			errCount++
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			log.Error("begin", "file", f, "error", err)
			errCount++
			continue
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			log.Error("migration failed", "file", f, "error", err)
			errCount++
			continue
		}
		if err := tx.Commit(); err != nil {
			log.Error("commit", "file", f, "error", err)
			errCount++
			continue
		}
		log.Info("applied", "file", f)
		okCount++
	}
	return okCount, errCount
}

func listTables(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT tablename FROM pg_tables WHERE schemaname='public' ORDER BY tablename")
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}
