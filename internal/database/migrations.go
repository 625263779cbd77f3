package database

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/logging"
)

// RunMigrations runs any pending database migrations using gormigrate
func RunMigrations(db *gorm.DB) error {
	logging.DebugWithComponent(logging.ComponentDatabase, "Running database migrations")

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Older databases stored the wizard step as 0 for "done"; the column is now NULL then.
			ID: "202601150000_null_completed_wizard_step",
			Migrate: func(tx *gorm.DB) error {
				return tx.Model(&Controller{}).
					Where("wizard_step = 0 OR (wizard_step IS NOT NULL AND status <> ?)", "draft").
					Update("wizard_step", nil).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},
		{
			ID: "202602010000_command_created_at_index",
			Migrate: func(tx *gorm.DB) error {
				if tx.Migrator().HasIndex(&ControllerCommand{}, "CreatedAt") {
					return nil
				}
				return tx.Migrator().CreateIndex(&ControllerCommand{}, "CreatedAt")
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropIndex(&ControllerCommand{}, "CreatedAt")
			},
		},
	})

	// Fresh databases get the current schema directly
	m.InitSchema(func(tx *gorm.DB) error {
		for _, model := range GetAllModels() {
			if err := tx.AutoMigrate(model); err != nil {
				return fmt.Errorf("failed to migrate %T: %w", model, err)
			}
		}
		return nil
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.DebugWithComponent(logging.ComponentDatabase, "Migrations completed")
	return nil
}
