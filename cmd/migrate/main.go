package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

func fatal(msg string, kv ...interface{}) {
	logger.Error(msg, kv...)
	_ = logger.Sync()
	os.Exit(1)
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

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fatal("DATABASE_URL is required")
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
		fatal("connect", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fatal("ping", "error", err)
	}
	logger.Info("connected to database")

	if listOnly {
		rows, err := db.QueryContext(ctx, `
			SELECT tablename FROM pg_tables
			WHERE schemaname = 'public'
			  AND tablename IN ('email_audiences', 'email_audience_subscribers', 'subscribers', 'profiles', 'email_opens', 'admins')
			ORDER BY tablename`)
		if err != nil {
			fatal("list tables", "error", err)
		}
		defer rows.Close()
		n := 0
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				fatal("scan table name", "error", err)
			}
			fmt.Println(" ", t)
			n++
		}
		fmt.Printf("Total: %d tables\n", n)
		return
	}

	files, err := migrationFiles(dir)
	if err != nil {
		fatal("read migrations dir", "dir", dir, "error", err)
	}

	var okCount, errCount int
	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			fatal("read migration", "path", path, "error", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			logger.Error("begin failed", "file", f, "error", err)
			errCount++
			continue
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			logger.Error("migration failed", "file", f, "error", err)
			errCount++
			continue
		}
		if err := tx.Commit(); err != nil {
			logger.Error("commit failed", "file", f, "error", err)
			errCount++
			continue
		}
		logger.Info("migration applied", "file", f)
		okCount++
	}

	logger.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		_ = logger.Sync()
		os.Exit(1)
	}
}
