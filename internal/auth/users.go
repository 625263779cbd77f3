package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// CreateUserRequest represents an admin user creation request
type CreateUserRequest struct {
	Username     string        `json:"username" binding:"required,min=3,max=50"`
	Email        string        `json:"email" binding:"required,email"`
	Password     string        `json:"password" binding:"required,min=8"`
	Role         database.Role `json:"role" binding:"required"`
	EnterpriseID *uuid.UUID    `json:"enterprise_id"`
}

// UpdateRoleRequest changes a user's role and enterprise
type UpdateRoleRequest struct {
	Role         database.Role `json:"role" binding:"required"`
	EnterpriseID *uuid.UUID    `json:"enterprise_id"`
}

// UpdatePasswordRequest represents a password update request
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

func validateRoleScope(role database.Role, enterpriseID *uuid.UUID) error {
	if !role.Valid() {
		return errors.New("Unknown role")
	}
	if !role.AtLeast(database.RoleAdmin) && enterpriseID == nil {
		return errors.New("Enterprise is required for this role")
	}
	return nil
}

// GetUsersHandler returns all users (admin only)
func GetUsersHandler(c *gin.Context) {
	users, err := database.NewUserService(database.DB).GetAllUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve users"})
		return
	}

	response := make([]UserResponse, len(users))
	for i := range users {
		response[i] = userResponse(&users[i])
	}
	c.JSON(http.StatusOK, gin.H{"users": response})
}

// CreateUserHandler creates a user (admin only)
func CreateUserHandler(c *gin.Context) {
	current, ok := RequireUser(c)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErrorMessage(err)})
		return
	}
	if err := ValidateNewUsername(req.Username); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateRoleScope(req.Role, req.EnterpriseID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role.AtLeast(database.RoleSuperAdmin) && current.Role != database.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only a super admin can create super admins"})
		return
	}

	user, err := database.NewUserService(database.DB).CreateUser(req.Username, req.Email, req.Password, req.Role, req.EnterpriseID)
	if err != nil {
		if errors.Is(err, database.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	logging.LogfWithUser(current.Username, "Created user %s with role %s", user.Username, user.Role)
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": userResponse(user)})
}

// UpdateUserRoleHandler changes a user's role (admin only)
func UpdateUserRoleHandler(c *gin.Context) {
	current, ok := RequireUser(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErrorMessage(err)})
		return
	}
	if err := validateRoleScope(req.Role, req.EnterpriseID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if current.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot change your own role"})
		return
	}
	if req.Role.AtLeast(database.RoleSuperAdmin) && current.Role != database.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only a super admin can grant super admin"})
		return
	}

	if err := database.NewUserService(database.DB).SetRole(userID, req.Role, req.EnterpriseID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UpdatePasswordHandler changes the current user's password
func UpdatePasswordHandler(c *gin.Context) {
	user, ok := RequireUser(c)
	if !ok {
		return
	}

	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErrorMessage(err)})
		return
	}
	if !StepUp(c, req.CurrentPassword) {
		return
	}

	if err := database.NewUserService(database.DB).UpdateUserPassword(user.ID, req.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeactivateUserHandler deactivates a user (admin only)
func DeactivateUserHandler(c *gin.Context) {
	current, ok := RequireUser(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	// Prevent admin from deactivating themselves
	if current.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate yourself"})
		return
	}

	if err := database.NewUserService(database.DB).DeactivateUser(userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteUserHandler removes a user after step-up (admin only)
func DeleteUserHandler(c *gin.Context) {
	current, ok := RequireUser(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}
	if current.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}
	if !BindStepUp(c) {
		return
	}

	if err := database.NewUserService(database.DB).DeleteUser(userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}
	logging.LogfWithUser(current.Username, "Deleted user %s", userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
