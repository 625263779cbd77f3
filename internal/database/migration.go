package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/config"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// BootstrapAdmin creates the first super admin from ADMIN_USERNAME and
// ADMIN_PASSWORD when the users table is empty.
func BootstrapAdmin(db *gorm.DB) error {
	var userCount int64
	if err := db.Model(&User{}).Count(&userCount).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}

	if userCount > 0 {
		return nil
	}

	username := config.Get("ADMIN_USERNAME", "")
	password := config.Get("ADMIN_PASSWORD", "")
	email := config.Get("ADMIN_EMAIL", "")

	if username == "" || password == "" {
		logging.WarnWithComponent(logging.ComponentStartup, "No users exist and ADMIN_USERNAME/ADMIN_PASSWORD are not set; nobody can log in")
		return nil
	}

	if email == "" {
		email = username + "@localhost"
	}

	if _, err := NewUserService(db).CreateUser(username, email, password, RoleSuperAdmin, nil); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logging.InfoWithComponent(logging.ComponentStartup, "Created initial admin user", "username", username)
	return nil
}
