package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where cmd/migrate creates new files; running binaries read the embedded copy.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Report is one migration touched or inspected by a command.
type Report struct {
	Version   int64
	Path      string
	State     string
	Duration  time.Duration
	AppliedAt time.Time
}

// Source picks the migrations for dir: the embedded set when dir is empty, the filesystem otherwise.
func Source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Run executes up, down or status against db and reports each migration involved.
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, command string) ([]Report, error) {
	provider, err := newProvider(db, fsys)
	if err != nil {
		return nil, err
	}
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		return fromResults(results), wrapPartial(command, err)
	case "down":
		result, err := provider.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil, nil
		}
		return fromResults([]*goose.MigrationResult{result}), wrapPartial(command, err)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("goose status: %w", err)
		}
		reports := make([]Report, 0, len(statuses))
		for _, st := range statuses {
			reports = append(reports, Report{
				Version:   st.Source.Version,
				Path:      st.Source.Path,
				State:     string(st.State),
				AppliedAt: st.AppliedAt,
			})
		}
		return reports, nil
	}
	return nil, fmt.Errorf("unsupported goose command %q", command)
}

// MigrateToVersion moves the schema up or down until it sits at targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, fsys fs.FS, targetVersion string) ([]Report, error) {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil || target < 0 {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", targetVersion)
	}
	provider, err := newProvider(db, fsys)
	if err != nil {
		return nil, err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err = provider.UpTo(ctx, target)
	default:
		results, err = provider.DownTo(ctx, target)
	}
	return fromResults(results), wrapPartial(fmt.Sprintf("migrate %d -> %d", current, target), err)
}

func newProvider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("migration source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

func fromResults(results []*goose.MigrationResult) []Report {
	reports := make([]Report, 0, len(results))
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		state := res.Direction
		if res.Empty {
			state += " (empty)"
		}
		reports = append(reports, Report{
			Version:  res.Source.Version,
			Path:     res.Source.Path,
			State:    state,
			Duration: res.Duration,
		})
	}
	return reports
}

// wrapPartial keeps goose's PartialError intact for callers that inspect the applied prefix.
func wrapPartial(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", what, err)
}
