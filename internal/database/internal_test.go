package database

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestLowestFree(t *testing.T) {
	tests := []struct {
		used       []int
		start, end int
		want       int
	}{
		{nil, 10000, 10010, 10000},
		{[]int{10000, 10001}, 10000, 10010, 10002},
		{[]int{10001}, 10000, 10010, 10000},
		{[]int{10000, 10002}, 10000, 10010, 10001},
		{[]int{10000, 10001}, 10000, 10001, 0},
	}
	for _, tt := range tests {
		if got := lowestFree(tt.used, tt.start, tt.end); got != tt.want {
			t.Errorf("lowestFree(%v, %d, %d) = %d, want %d", tt.used, tt.start, tt.end, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("UNIQUE constraint failed: controllers.serial_number"), true},
		{errors.New(`ERROR: duplicate key value violates unique constraint "idx_serial" (SQLSTATE 23505)`), true},
		{errors.New("database is locked"), false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRoleHierarchy(t *testing.T) {
	if !RoleSuperAdmin.AtLeast(RoleAdmin) || !RoleAdmin.AtLeast(RoleEnterpriseAdmin) {
		t.Error("admins must outrank enterprise admins")
	}
	if RoleConfigurator.AtLeast(RoleEnterpriseAdmin) {
		t.Error("configurator must not outrank enterprise admin")
	}
	if Role("root").AtLeast(RoleViewer) {
		t.Error("unknown roles grant nothing")
	}
}
