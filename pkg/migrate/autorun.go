package migrate

import (
	"context"
	"fmt"

	"github.com/towline/towline-backend/pkg/config"
	"github.com/towline/towline-backend/pkg/db"
	"github.com/towline/towline-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot, but only in dev with
// TOWLINE_AUTO_MIGRATE set. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "service": cfg.Service.Kind})
	if err := Run(ctx, sqlDB, Embedded(), "up"); err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	logg.Info(ctx, "schema up to date")
	return nil
}
