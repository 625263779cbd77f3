package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserService provides user-related database operations
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateUser creates a new user with hashed password
func (s *UserService) CreateUser(username, email, password string, role Role, enterpriseID *uuid.UUID) (*User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	var existingUser User
	if err := s.db.Where("LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?)", username, email).First(&existingUser).Error; err == nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		Password:     string(hashedPassword),
		Role:         role,
		EnterpriseID: enterpriseID,
		IsActive:     true,
	}

	if err := s.db.Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// AuthenticateUser validates user credentials and returns user if valid
func (s *UserService) AuthenticateUser(username, password string) (*User, error) {
	var user User
	if err := s.db.Where("LOWER(username) = LOWER(?)", username).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	s.db.Model(&user).Update("last_login", now)

	return &user, nil
}

// VerifyPassword re-checks the password of an already authenticated user.
func (s *UserService) VerifyPassword(userID uuid.UUID, password string) error {
	var user User
	if err := s.db.Select("id", "password", "is_active").First(&user, "id = ?", userID).Error; err != nil {
		return ErrInvalidCredentials
	}
	if !user.IsActive {
		return ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// UpdateUserPassword updates a user's password
func (s *UserService) UpdateUserPassword(userID uuid.UUID, newPassword string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.db.Model(&User{}).Where("id = ?", userID).Update("password", string(hashedPassword)).Error
}

// GetUserByID returns an active user
func (s *UserService) GetUserByID(userID uuid.UUID) (*User, error) {
	var user User
	if err := s.db.First(&user, "id = ? AND is_active = ?", userID, true).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetAllUsers returns every user ordered by username
func (s *UserService) GetAllUsers() ([]User, error) {
	var users []User
	err := s.db.Order("username").Find(&users).Error
	return users, err
}

// SetRole changes a user's role and enterprise scope
func (s *UserService) SetRole(userID uuid.UUID, role Role, enterpriseID *uuid.UUID) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	res := s.db.Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"role":          role,
		"enterprise_id": enterpriseID,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateUser disables login without deleting the account
func (s *UserService) DeactivateUser(userID uuid.UUID) error {
	return s.db.Model(&User{}).Where("id = ?", userID).Update("is_active", false).Error
}

// RecordAttempt stores a login or step-up attempt. Failures are ignored.
func (s *UserService) RecordAttempt(attempt LoginAttempt) {
	s.db.Create(&attempt)
}

// CreateSession stores a login session keyed by the token id.
func (s *UserService) CreateSession(session *UserSession) error {
	return s.db.Create(session).Error
}

// SessionActive reports whether tokenID has an unexpired session.
func (s *UserService) SessionActive(tokenID string) bool {
	var count int64
	s.db.Model(&UserSession{}).Where("token_id = ? AND expires_at > ?", tokenID, time.Now().UTC()).Count(&count)
	return count > 0
}

// DeleteSession revokes one session.
func (s *UserService) DeleteSession(tokenID string) error {
	return s.db.Where("token_id = ?", tokenID).Delete(&UserSession{}).Error
}

// CleanupExpiredSessions removes expired sessions
func (s *UserService) CleanupExpiredSessions() error {
	return s.db.Where("expires_at < ?", time.Now().UTC()).Delete(&UserSession{}).Error
}

// DeleteUser removes a user and their sessions
func (s *UserService) DeleteUser(userID uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&UserSession{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&User{}, "id = ?", userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
