package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/migrate"
)

type flags struct {
	cmd     string
	dir     string
	name    string
	version string
}

// offline commands never open a database connection.
var offline = map[string]func(f flags) error{
	"create": func(f flags) error {
		if f.name == "" {
			return errors.New("missing -name for create")
		}
		dir := f.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, f.name, time.Now())
		if err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(f flags) error {
		if err := migrate.ValidateFS(migrate.Source(f.dir)); err != nil {
			return fmt.Errorf("validate migrations: %w", err)
		}
		fmt.Println("migration validation passed")
		return nil
	},
}

type onlineCmd func(ctx context.Context, sqlDB *sql.DB, source fs.FS, f flags) error

func goose(ctx context.Context, sqlDB *sql.DB, source fs.FS, f flags) error {
	return migrate.Run(ctx, sqlDB, source, f.cmd)
}

var online = map[string]onlineCmd{
	"up":     goose,
	"down":   goose,
	"status": goose,
	"redo":   goose,
	"version": func(ctx context.Context, sqlDB *sql.DB, source fs.FS, f flags) error {
		if f.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, source, f.version)
	},
}

func main() {
	var f flags
	flag.StringVar(&f.cmd, "cmd", "up", "migration command: up|down|status|redo|version|create|validate")
	flag.StringVar(&f.dir, "dir", "", "migrations directory; empty uses the set built into the binary")
	flag.StringVar(&f.name, "name", "", "migration name (for create)")
	flag.StringVar(&f.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	_ = godotenv.Load()

	if run, ok := offline[f.cmd]; ok {
		if err := run(f); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	run, ok := online[f.cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd value: %s\n", f.cmd)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	if err := execute(logg, f, run); err != nil {
		logg.Error(context.Background(), "migrate "+f.cmd+" failed", err)
		os.Exit(1)
	}
}

func execute(logg *logger.Logger, f flags, run onlineCmd) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": f.cmd,
		"dir": f.dir,
	})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if err := run(ctx, sqlDB, migrate.Source(f.dir), f); err != nil {
		return err
	}
	logg.Info(ctx, "migration command finished")
	return nil
}
