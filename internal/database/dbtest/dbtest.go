// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/database"
)

// New returns a migrated and seeded in-memory SQLite database. It also
// becomes database.DB for the duration of the test.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	cfg := &database.DatabaseConfig{
		Type: "sqlite",
		DSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString()),
	}
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	prev := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = prev
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Fixture holds a minimal enterprise/project/site tree.
type Fixture struct {
	Enterprise database.Enterprise
	Project    database.Project
	Site       database.Site
}

// SeedSite creates one enterprise with one project and one site.
func SeedSite(t testing.TB, db *gorm.DB, name string) Fixture {
	t.Helper()
	f := Fixture{Enterprise: database.Enterprise{Name: name}}
	must(t, db.Create(&f.Enterprise).Error)
	f.Project = database.Project{EnterpriseID: f.Enterprise.ID, Name: name + " project"}
	must(t, db.Create(&f.Project).Error)
	f.Site = database.Site{ProjectID: f.Project.ID, Name: name + " site"}
	must(t, db.Create(&f.Site).Error)
	return f
}

// CreateUser adds an active user with the given role and password.
func CreateUser(t testing.TB, db *gorm.DB, username, password string, role database.Role, enterpriseID *uuid.UUID) *database.User {
	t.Helper()
	u, err := database.NewUserService(db).CreateUser(username, username+"@example.com", password, role, enterpriseID)
	must(t, err)
	return u
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
