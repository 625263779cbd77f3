package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
	"github.com/byosamah/volteria-sub000/internal/middleware"
	"github.com/byosamah/volteria-sub000/internal/sse"
)

type AgentHeartbeatRequest struct {
	FirmwareVersion string `json:"firmware_version"`
	IPAddress       string `json:"ip_address"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// AgentHeartbeatHandler ingests a heartbeat. The row is stamped with the
// server clock; the agent's own clock is never trusted.
func AgentHeartbeatHandler(c *gin.Context) {
	ctrl := middleware.Controller(c)
	if ctrl == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Controller credentials required"})
		return
	}

	var req AgentHeartbeatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid heartbeat payload"})
			return
		}
	}
	if req.IPAddress == "" {
		req.IPAddress = c.ClientIP()
	}

	ctx := c.Request.Context()
	hb, err := database.NewHeartbeatService(database.GetDB()).Record(ctx, ctrl.ID, database.HeartbeatInput{
		FirmwareVersion: req.FirmwareVersion,
		IPAddress:       req.IPAddress,
		UptimeSeconds:   req.UptimeSeconds,
	})
	if err != nil {
		respondError(c, err, "Failed to record heartbeat")
		return
	}
	metrics.HeartbeatsIngested.Inc()

	if err := database.NewControllerService(database.GetDB()).RecordAgentFirmware(ctx, ctrl.ID, req.FirmwareVersion); err != nil {
		logging.WarnWithComponent(logging.ComponentAgent, "Failed to update firmware version", "controller_id", ctrl.ID, "error", err)
	}

	events().PublishHeartbeat(ctrl.EnterpriseID, sse.HeartbeatEvent{ControllerID: ctrl.ID, Timestamp: hb.Timestamp})
	logging.DebugWithComponent(logging.ComponentAgent, "Heartbeat", "serial", ctrl.SerialNumber)

	c.JSON(http.StatusOK, gin.H{"timestamp": hb.Timestamp, "pending_restart": ctrl.PendingRestart})
}

// AgentCommandsHandler hands pending commands to the agent
func AgentCommandsHandler(c *gin.Context) {
	ctrl := middleware.Controller(c)
	if ctrl == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Controller credentials required"})
		return
	}
	cmds, err := database.NewCommandService(database.GetDB()).ClaimPending(c.Request.Context(), ctrl.ID)
	if err != nil {
		respondError(c, err, "Failed to fetch commands")
		return
	}
	if cmds == nil {
		cmds = []database.ControllerCommand{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}

type AckRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AgentAckHandler records the outcome of a command
func AgentAckHandler(c *gin.Context) {
	ctrl := middleware.Controller(c)
	if ctrl == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Controller credentials required"})
		return
	}
	cmdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid command ID"})
		return
	}
	var req AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid acknowledgement"})
		return
	}

	cmd, err := database.NewCommandService(database.GetDB()).Ack(c.Request.Context(), ctrl.ID, cmdID, req.Success, req.Message)
	if err != nil {
		respondError(c, err, "Failed to acknowledge command")
		return
	}
	logging.InfoWithComponent(logging.ComponentAgent, "Command acknowledged",
		"serial", ctrl.SerialNumber, "type", cmd.Type, "success", req.Success)
	c.JSON(http.StatusOK, gin.H{"command": cmd})
}
