package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/instance"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory (empty uses the migrations built into this binary)")
	name := flag.String("name", "", "migration name (for -cmd=create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Environment: cfg.App.Env,
		Instance:    instance.ID(),
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	// create and validate only touch the filesystem.
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		if *dir == "" {
			fail("-dir is required for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fail("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateFS(migrate.Source(*dir)); err != nil {
			fail("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")
	if err := run(ctx, sqlDB, *cmd, *dir, *version); err != nil {
		fail("goose %s failed: %v", *cmd, err)
	}
	logg.Info(ctx, "migrate finished")
}

func run(ctx context.Context, sqlDB *sql.DB, cmd, dir, version string) error {
	source := migrate.Source(dir)
	var (
		reports []migrate.Report
		err     error
	)
	switch cmd {
	case "up", "down", "status":
		reports, err = migrate.Run(ctx, sqlDB, source, cmd)
	case "version":
		if version == "" {
			return fmt.Errorf("missing -version")
		}
		reports, err = migrate.MigrateToVersion(ctx, sqlDB, source, version)
	default:
		return fmt.Errorf("unknown -cmd value %q", cmd)
	}
	printReports(os.Stdout, reports)
	return err
}

func printReports(w io.Writer, reports []migrate.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range reports {
		when := ""
		switch {
		case !r.AppliedAt.IsZero():
			when = r.AppliedAt.UTC().Format(time.RFC3339)
		case r.Duration > 0:
			when = r.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Version, r.State, r.Path, when)
	}
	_ = tw.Flush()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
