package migration

import (
	"context"

	"github.com/railzwaylabs/waterbilling/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the database while the application starts.
var Module = fx.Module("migration",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				return Run(ctx, sqlDB, log)
			},
		})
	}),
)

// GateModule stops the application from starting on a stale schema. With
// database.auto_migrate set it migrates first.
var GateModule = fx.Module("migration.gate",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, cfg config.Config, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if cfg.Database.AutoMigrate {
					if err := Run(ctx, sqlDB, log); err != nil {
						return err
					}
				}
				return VerifySchema(ctx, sqlDB)
			},
		})
	}),
)
