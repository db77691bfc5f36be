package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orgplans-backend/pkg/config"
	"github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when running in dev with
// ORGPLANS_AUTO_MIGRATE set. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	source := Embedded()
	if err := ValidateFS(source); err != nil {
		return fmt.Errorf("validating migrations: %w", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	applied, err := Run(ctx, sqlDB, source, "up")
	for _, r := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"migration":   r.Path,
			"duration_ms": r.Duration.Milliseconds(),
		}), "migration applied")
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "dev auto-migrate complete")
	return nil
}
