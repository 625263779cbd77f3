package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/diagnostics"
	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// ControllerView is a controller plus its derived connectivity.
type ControllerView struct {
	database.Controller
	Connectivity connectivity.Status `json:"connectivity"`
}

func controllerView(c database.Controller, last *time.Time) ControllerView {
	return ControllerView{Controller: c, Connectivity: connectivity.Classify(last, opts.Now())}
}

// GetControllersHandler lists controllers visible to the user
func GetControllersHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}

	filter := database.ControllerFilter{Query: c.Query("q")}
	if s := c.Query("status"); s != "" {
		status, err := lifecycle.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Status = status
	}

	scope := auth.EnterpriseScope(user)
	switch {
	case scope != nil:
		filter.EnterpriseID = scope
	case c.Query("enterprise_id") != "":
		id, err := uuid.Parse(c.Query("enterprise_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid enterprise ID"})
			return
		}
		filter.EnterpriseID = &id
	case c.Query("unassigned") == "true":
		filter.Unassigned = true
	}

	ctx := c.Request.Context()
	controllers, err := database.NewControllerService(database.GetDB()).List(ctx, filter)
	if err != nil {
		respondError(c, err, "Failed to fetch controllers")
		return
	}
	latest, err := database.NewHeartbeatService(database.GetDB()).LatestMap(ctx, scope)
	if err != nil {
		// Listing still works; every row just reads offline.
		logging.WarnWithComponent(logging.ComponentHeartbeat, "Failed to load heartbeats for controller list", "error", err)
		latest = nil
	}

	views := make([]ControllerView, len(controllers))
	for i, ctrl := range controllers {
		var last *time.Time
		if ts, ok := latest[ctrl.ID]; ok {
			last = &ts
		}
		views[i] = controllerView(ctrl, last)
	}
	c.JSON(http.StatusOK, gin.H{"controllers": views})
}

// GetControllerHandler returns one controller with connectivity
func GetControllerHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	var last *time.Time
	if hb, err := database.NewHeartbeatService(database.GetDB()).Latest(c.Request.Context(), ctrl.ID); err == nil {
		last = &hb.Timestamp
	}
	c.JSON(http.StatusOK, gin.H{"controller": controllerView(*ctrl, last)})
}

type RegisterRequest struct {
	SerialNumber    string `json:"serial_number"`
	HardwareTypeID  string `json:"hardware_type_id"`
	FirmwareVersion string `json:"firmware_version"`
	Notes           string `json:"notes"`
}

// RegisterControllerHandler creates a draft controller or resumes the
// in-progress draft with the same serial number.
func RegisterControllerHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := database.NewControllerService(database.GetDB()).Register(c.Request.Context(), database.RegisterInput{
		SerialNumber:    req.SerialNumber,
		HardwareTypeID:  req.HardwareTypeID,
		FirmwareVersion: req.FirmwareVersion,
		Notes:           req.Notes,
	})
	if err != nil {
		respondError(c, err, "Failed to register controller")
		return
	}

	code := http.StatusCreated
	if res.Resumed {
		code = http.StatusOK
	}
	logging.LogfWithUser(user.Username, "Registration of %s (resumed=%t)", res.Controller.SerialNumber, res.Resumed)
	c.JSON(code, gin.H{
		"controller": res.Controller,
		"resumed":    res.Resumed,
		"passcode":   res.Controller.Passcode,
	})
}

type WizardStepRequest struct {
	Step int `json:"step" binding:"required"`
}

// UpdateWizardStepHandler persists wizard progress
func UpdateWizardStepHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	var req WizardStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": database.ErrInvalidWizardStep.Error()})
		return
	}
	if err := database.NewControllerService(database.GetDB()).UpdateWizardStep(c.Request.Context(), ctrl.ID, req.Step); err != nil {
		respondError(c, err, "Failed to save wizard progress")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "wizard_step": req.Step})
}

type CompleteWizardRequest struct {
	Passed *bool `json:"passed" binding:"required"`
}

// CompleteWizardHandler finishes provisioning as ready or failed
func CompleteWizardHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	var req CompleteWizardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passed is required"})
		return
	}
	updated, err := database.NewControllerService(database.GetDB()).CompleteWizard(c.Request.Context(), ctrl.ID, *req.Passed)
	if err != nil {
		respondError(c, err, "Failed to complete wizard")
		return
	}
	c.JSON(http.StatusOK, gin.H{"controller": updated})
}

type UpdateControllerRequest struct {
	SerialNumber    *string `json:"serial_number"`
	HardwareTypeID  *string `json:"hardware_type_id"`
	FirmwareVersion *string `json:"firmware_version"`
	Notes           *string `json:"notes"`
}

// UpdateControllerHandler edits descriptive fields
func UpdateControllerHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	var req UpdateControllerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	updated, err := database.NewControllerService(database.GetDB()).Update(c.Request.Context(), ctrl.ID, database.ControllerUpdate{
		SerialNumber:    req.SerialNumber,
		HardwareTypeID:  req.HardwareTypeID,
		FirmwareVersion: req.FirmwareVersion,
		Notes:           req.Notes,
	})
	if err != nil {
		respondError(c, err, "Failed to update controller")
		return
	}
	c.JSON(http.StatusOK, gin.H{"controller": updated})
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatusHandler applies a lifecycle move
func UpdateStatusHandler(c *gin.Context) {
	user, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	to, err := lifecycle.Parse(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Re-running the wizard is a provisioning action.
	if to == lifecycle.Draft && !user.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient privileges"})
		return
	}

	updated, err := database.NewControllerService(database.GetDB()).Transition(c.Request.Context(), ctrl.ID, to)
	if err != nil {
		respondError(c, err, "Failed to update status")
		return
	}
	logging.LogfWithUser(user.Username, "Controller %s moved %s -> %s", ctrl.SerialNumber, ctrl.Status, updated.Status)
	c.JSON(http.StatusOK, gin.H{"controller": updated})
}

type ClaimRequest struct {
	SerialNumber string     `json:"serial_number" binding:"required"`
	Passcode     string     `json:"passcode" binding:"required"`
	EnterpriseID *uuid.UUID `json:"enterprise_id"`
}

// ClaimControllerHandler assigns a ready controller to an enterprise
func ClaimControllerHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "serial_number and passcode are required"})
		return
	}

	enterpriseID := req.EnterpriseID
	if enterpriseID == nil {
		enterpriseID = user.EnterpriseID
	}
	if enterpriseID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enterprise_id is required"})
		return
	}
	if !auth.RequireEnterpriseAccess(c, user, enterpriseID) {
		return
	}
	if _, err := database.NewReferenceService(database.GetDB()).GetEnterprise(c.Request.Context(), *enterpriseID); err != nil {
		respondError(c, err, "Failed to claim controller")
		return
	}

	ctrl, err := database.NewControllerService(database.GetDB()).Claim(c.Request.Context(), req.SerialNumber, req.Passcode, *enterpriseID)
	if err != nil {
		respondError(c, err, "Failed to claim controller")
		return
	}
	logging.LogfWithUser(user.Username, "Claimed controller %s", ctrl.SerialNumber)
	c.JSON(http.StatusOK, gin.H{"controller": ctrl})
}

// DeleteControllerHandler permanently removes a controller after step-up
func DeleteControllerHandler(c *gin.Context) {
	user, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	if !auth.BindStepUp(c) {
		return
	}

	report, err := database.NewControllerService(database.GetDB()).Delete(c.Request.Context(), ctrl.ID)
	if err != nil {
		respondError(c, err, "Failed to delete controller")
		return
	}
	logging.LogfWithUser(user.Username, "Deleted controller %s", ctrl.SerialNumber)
	c.JSON(http.StatusOK, gin.H{"success": true, "dependent_failures": report.DependentFailures})
}

// DeactivateControllerHandler removes a controller from service after
// step-up. Sites still using it are returned as warnings.
func DeactivateControllerHandler(c *gin.Context) {
	user, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	if !auth.BindStepUp(c) {
		return
	}

	controllers := database.NewControllerService(database.GetDB())
	usage, err := controllers.Usage(c.Request.Context(), ctrl.ID)
	if err != nil {
		logging.WarnWithComponent(logging.ComponentController, "Usage lookup failed before deactivation", "controller_id", ctrl.ID, "error", err)
		usage = nil
	}

	updated, err := controllers.Transition(c.Request.Context(), ctrl.ID, lifecycle.Deactivated)
	if err != nil {
		respondError(c, err, "Failed to deactivate controller")
		return
	}
	logging.LogfWithUser(user.Username, "Deactivated controller %s", ctrl.SerialNumber)
	c.JSON(http.StatusOK, gin.H{"controller": updated, "warnings": usage})
}

// ControllerUsageHandler lists the sites that reference a controller
func ControllerUsageHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	usage, err := database.NewControllerService(database.GetDB()).Usage(c.Request.Context(), ctrl.ID)
	if err != nil {
		respondError(c, err, "Failed to look up usage")
		return
	}
	if usage == nil {
		usage = []database.UsageEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

// RevealSSHCredentialsHandler returns tunnel credentials after step-up
func RevealSSHCredentialsHandler(c *gin.Context) {
	user, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	if !auth.BindStepUp(c) {
		return
	}
	if opts.SSHPassword == "" || opts.SSHTunnelHost == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SSH access is not configured"})
		return
	}
	if ctrl.SSHPort == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "SSH tunnel not set up for this controller"})
		return
	}

	logging.WarnWithComponent(logging.ComponentAuth, "SSH credentials revealed", "user", user.Username, "controller_id", ctrl.ID)
	c.JSON(http.StatusOK, gin.H{
		"username": opts.SSHUsername,
		"password": opts.SSHPassword,
		"host":     opts.SSHTunnelHost,
		"port":     *ctrl.SSHPort,
	})
}

// RestartControllerHandler queues a restart for the agent
func RestartControllerHandler(c *gin.Context) {
	user, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	cmd, err := database.NewControllerService(database.GetDB()).RequestRestart(c.Request.Context(), ctrl.ID, &user.ID)
	if err != nil {
		respondError(c, err, "Failed to request restart")
		return
	}
	logging.LogfWithUser(user.Username, "Requested restart of %s", ctrl.SerialNumber)
	c.JSON(http.StatusAccepted, gin.H{"command": cmd, "pending_restart": true})
}

// SSHSetupHandler allocates the reverse tunnel port, idempotently
func SSHSetupHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	port, already, err := database.NewControllerService(database.GetDB()).SetupSSH(c.Request.Context(), ctrl.ID, opts.SSHPortStart, opts.SSHPortEnd)
	if err != nil {
		respondError(c, err, "Failed to set up SSH tunnel")
		return
	}
	c.JSON(http.StatusOK, gin.H{"already_configured": already, "port": port})
}

// RunTestsHandler runs the diagnostics suite and stores the report
func RunTestsHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	db := database.GetDB()

	target := diagnostics.Target{ControllerID: ctrl.ID.String(), SSHPort: ctrl.SSHPort}
	if hb, err := database.NewHeartbeatService(db).Latest(ctx, ctrl.ID); err == nil {
		target.LastHeartbeat = &hb.Timestamp
	} else if !errors.Is(err, database.ErrNotFound) {
		respondError(c, err, "Failed to load heartbeat")
		return
	}
	if cmd, err := database.NewCommandService(db).Latest(ctx, ctrl.ID, database.CommandSyncConfig); err == nil {
		target.LastSyncState = cmd.Status
	} else if !errors.Is(err, database.ErrNotFound) {
		respondError(c, err, "Failed to load sync state")
		return
	}

	report, err := opts.Diagnostics.Run(ctx, target)
	if err != nil {
		respondError(c, err, "Failed to run tests")
		return
	}

	raw, err := json.Marshal(report)
	if err == nil {
		err = database.NewControllerService(db).SaveTestResults(ctx, ctrl.ID, datatypes.JSON(raw))
	}
	if err != nil {
		// The client still gets the report it waited for.
		logging.ErrorWithComponent(logging.ComponentDiagnostics, "Failed to store test results", "controller_id", ctrl.ID, "error", err)
	}
	c.JSON(http.StatusOK, report)
}
