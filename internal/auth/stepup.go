package auth

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

// PasswordRequest is the body of every step-up protected action.
type PasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

var (
	stepUpLimiters sync.Map
	stepUpRate     = rate.Every(time.Minute / 5)
)

func getStepUpLimiter(userID uuid.UUID) *rate.Limiter {
	limiter, _ := stepUpLimiters.LoadOrStore(userID, rate.NewLimiter(stepUpRate, 5))
	return limiter.(*rate.Limiter)
}

// StepUp re-verifies the current user's password before a destructive or
// sensitive action, regardless of how fresh the session is. On failure it
// writes the response and returns false; the caller must not act.
func StepUp(c *gin.Context, password string) bool {
	user, ok := RequireUser(c)
	if !ok {
		return false
	}

	if !getStepUpLimiter(user.ID).Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many password attempts, try again later"})
		return false
	}

	users := database.NewUserService(database.DB)
	err := users.VerifyPassword(user.ID, password)
	users.RecordAttempt(database.LoginAttempt{
		IPAddress: c.ClientIP(),
		Username:  user.Username,
		Purpose:   "stepup",
		Success:   err == nil,
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		metrics.StepUpFailures.Inc()
		logging.WarnWithComponent(logging.ComponentAuth, "Step-up verification failed", "username", user.Username, "path", c.FullPath())
		if errors.Is(err, database.ErrAccountDisabled) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Account disabled"})
			return false
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect password"})
		return false
	}
	return true
}

// BindStepUp binds a PasswordRequest and runs StepUp on it.
func BindStepUp(c *gin.Context) bool {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required"})
		return false
	}
	return StepUp(c, req.Password)
}
