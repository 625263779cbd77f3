package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

const (
	SerialHeader   = "X-Controller-Serial"
	PasscodeHeader = "X-Controller-Passcode"

	controllerKey = "controller"
)

// AgentAuth authenticates controller agents by serial number and passcode
// and stores the controller under "controller".
func AgentAuth(controllers *database.ControllerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		serial := c.GetHeader(SerialHeader)
		passcode := c.GetHeader(PasscodeHeader)
		if serial == "" || passcode == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Controller credentials required"})
			c.Abort()
			return
		}

		ctrl, err := controllers.AuthenticateAgent(c.Request.Context(), serial, passcode)
		if err != nil {
			if errors.Is(err, database.ErrInvalidCredentials) {
				logging.WarnWithComponent(logging.ComponentAgent, "Rejected agent credentials", "serial", serial, "ip", c.ClientIP())
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid controller credentials"})
			} else {
				logging.ErrorWithComponent(logging.ComponentAgent, "Agent authentication failed", "serial", serial, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to authenticate controller"})
			}
			c.Abort()
			return
		}

		c.Set(controllerKey, ctrl)
		c.Next()
	}
}

// Controller returns the agent authenticated by AgentAuth.
func Controller(c *gin.Context) *database.Controller {
	if v, ok := c.Get(controllerKey); ok {
		if ctrl, ok := v.(*database.Controller); ok {
			return ctrl
		}
	}
	return nil
}
