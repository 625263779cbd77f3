package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

type NameRequest struct {
	Name string `json:"name"`
}

// GetEnterprisesHandler lists enterprises visible to the user
func GetEnterprisesHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	list, err := database.NewReferenceService(database.GetDB()).ListEnterprises(c.Request.Context(), auth.EnterpriseScope(user))
	if err != nil {
		respondError(c, err, "Failed to fetch enterprises")
		return
	}
	c.JSON(http.StatusOK, gin.H{"enterprises": list})
}

// CreateEnterpriseHandler creates an enterprise (admin only)
func CreateEnterpriseHandler(c *gin.Context) {
	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	e, err := database.NewReferenceService(database.GetDB()).CreateEnterprise(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err, "Failed to create enterprise")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"enterprise": e})
}

// GetProjectsHandler lists projects
func GetProjectsHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	scope := auth.EnterpriseScope(user)
	if scope == nil && c.Query("enterprise_id") != "" {
		id, err := uuid.Parse(c.Query("enterprise_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid enterprise ID"})
			return
		}
		scope = &id
	}
	list, err := database.NewReferenceService(database.GetDB()).ListProjects(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err, "Failed to fetch projects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

type CreateProjectRequest struct {
	EnterpriseID uuid.UUID `json:"enterprise_id" binding:"required"`
	Name         string    `json:"name"`
}

// CreateProjectHandler creates a project in the user's enterprise
func CreateProjectHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enterprise_id is required"})
		return
	}
	if !auth.RequireEnterpriseAccess(c, user, &req.EnterpriseID) {
		return
	}
	p, err := database.NewReferenceService(database.GetDB()).CreateProject(c.Request.Context(), req.EnterpriseID, req.Name)
	if err != nil {
		respondError(c, err, "Failed to create project")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

// GetSitesHandler lists sites, optionally for one project
func GetSitesHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	var projectID *uuid.UUID
	if q := c.Query("project_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID"})
			return
		}
		projectID = &id
	}
	list, err := database.NewReferenceService(database.GetDB()).ListSites(c.Request.Context(), auth.EnterpriseScope(user), projectID)
	if err != nil {
		respondError(c, err, "Failed to fetch sites")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sites": list})
}

type CreateSiteRequest struct {
	ProjectID uuid.UUID `json:"project_id" binding:"required"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
}

// CreateSiteHandler creates a site under a project
func CreateSiteHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	var req CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	refs := database.NewReferenceService(database.GetDB())
	project, err := refs.GetProject(c.Request.Context(), req.ProjectID)
	if err != nil {
		respondError(c, err, "Failed to create site")
		return
	}
	if !auth.RequireEnterpriseAccess(c, user, &project.EnterpriseID) {
		return
	}
	site, err := refs.CreateSite(c.Request.Context(), project.ID, req.Name, req.Location)
	if err != nil {
		respondError(c, err, "Failed to create site")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"site": site})
}

// SyncSiteHandler queues a config sync for the site's controller. The
// caller does not wait for the agent.
func SyncSiteHandler(c *gin.Context) {
	user, site, ok := loadSite(c, "id")
	if !ok {
		return
	}
	cmd, err := database.NewCommandService(database.GetDB()).TriggerSiteSync(c.Request.Context(), site.ID, &user.ID)
	if err != nil {
		respondError(c, err, "Failed to trigger sync")
		return
	}
	logging.LogfWithUser(user.Username, "Queued config sync for site %s", site.Name)
	c.JSON(http.StatusAccepted, gin.H{"command": cmd})
}

type MasterDeviceRequest struct {
	DeviceType       string          `json:"device_type"`
	ControllerID     *uuid.UUID      `json:"controller_id"`
	GatewayName      string          `json:"gateway_name"`
	ModbusProtocol   string          `json:"modbus_protocol"`
	ModbusHost       string          `json:"modbus_host"`
	ModbusPort       int             `json:"modbus_port"`
	ModbusSlaveID    int             `json:"modbus_slave_id"`
	ModbusBaudRate   int             `json:"modbus_baud_rate"`
	CalculatedFields json.RawMessage `json:"calculated_fields"`
	AlarmConfig      json.RawMessage `json:"alarm_config"`
	TemplateID       *uuid.UUID      `json:"template_id"`
}

func (r MasterDeviceRequest) input() database.MasterDeviceInput {
	in := database.MasterDeviceInput{
		DeviceType:     r.DeviceType,
		ControllerID:   r.ControllerID,
		GatewayName:    r.GatewayName,
		ModbusProtocol: r.ModbusProtocol,
		ModbusHost:     r.ModbusHost,
		ModbusPort:     r.ModbusPort,
		ModbusSlaveID:  r.ModbusSlaveID,
		ModbusBaudRate: r.ModbusBaudRate,
		TemplateID:     r.TemplateID,
	}
	if len(r.CalculatedFields) > 0 {
		in.CalculatedFields = datatypes.JSON(r.CalculatedFields)
	}
	if len(r.AlarmConfig) > 0 {
		in.AlarmConfig = datatypes.JSON(r.AlarmConfig)
	}
	return in
}

// checkCalculatedFields rejects ids without a definition.
func checkCalculatedFields(c *gin.Context, raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "calculated_fields must be a list of field ids"})
		return false
	}
	missing, err := database.NewReferenceService(database.GetDB()).UnknownCalculatedFields(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err, "Failed to check calculated fields")
		return false
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown calculated fields", "unknown": missing})
		return false
	}
	return true
}

// GetMasterDevicesHandler lists a site's master devices
func GetMasterDevicesHandler(c *gin.Context) {
	_, site, ok := loadSite(c, "id")
	if !ok {
		return
	}
	list, err := database.NewMasterDeviceService(database.GetDB()).List(c.Request.Context(), site.ID)
	if err != nil {
		respondError(c, err, "Failed to fetch master devices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"master_devices": list})
}

// CreateMasterDeviceHandler adds a controller or gateway to a site.
// Assigning a controller deploys it.
func CreateMasterDeviceHandler(c *gin.Context) {
	user, site, ok := loadSite(c, "id")
	if !ok {
		return
	}
	var req MasterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !checkCalculatedFields(c, req.CalculatedFields) {
		return
	}

	ctx := c.Request.Context()
	if req.DeviceType == database.DeviceTypeController && req.ControllerID != nil {
		ctrl, err := database.NewControllerService(database.GetDB()).Get(ctx, *req.ControllerID)
		if err != nil {
			respondError(c, err, "Failed to create master device")
			return
		}
		siteEnterprise, err := database.NewReferenceService(database.GetDB()).SiteEnterprise(ctx, site.ID)
		if err != nil {
			respondError(c, err, "Failed to create master device")
			return
		}
		if ctrl.EnterpriseID != nil && *ctrl.EnterpriseID != siteEnterprise {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Controller is claimed by another enterprise"})
			return
		}
	}

	dev, err := database.NewMasterDeviceService(database.GetDB()).Create(ctx, site.ID, req.input())
	if err != nil {
		respondError(c, err, "Failed to create master device")
		return
	}
	logging.LogfWithUser(user.Username, "Added %s master device to site %s", dev.DeviceType, site.Name)
	c.JSON(http.StatusCreated, gin.H{"master_device": dev})
}

// loadMasterDevice resolves :id and checks access through its site.
func loadMasterDevice(c *gin.Context) (*database.SiteMasterDevice, bool) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return nil, false
	}
	id, ok := parseID(c, "id", "master device")
	if !ok {
		return nil, false
	}
	dev, err := database.NewMasterDeviceService(database.GetDB()).Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch master device")
		return nil, false
	}
	enterpriseID, err := database.NewReferenceService(database.GetDB()).SiteEnterprise(c.Request.Context(), dev.SiteID)
	if err != nil {
		respondError(c, err, "Failed to fetch master device")
		return nil, false
	}
	if !auth.RequireEnterpriseAccess(c, user, &enterpriseID) {
		return nil, false
	}
	return dev, true
}

// UpdateMasterDeviceHandler edits transport and field settings
func UpdateMasterDeviceHandler(c *gin.Context) {
	dev, ok := loadMasterDevice(c)
	if !ok {
		return
	}
	var req MasterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !checkCalculatedFields(c, req.CalculatedFields) {
		return
	}
	updated, err := database.NewMasterDeviceService(database.GetDB()).Update(c.Request.Context(), dev.ID, req.input())
	if err != nil {
		respondError(c, err, "Failed to update master device")
		return
	}
	c.JSON(http.StatusOK, gin.H{"master_device": updated})
}

// DeleteMasterDeviceHandler removes a master device; a controller goes
// back to claimed
func DeleteMasterDeviceHandler(c *gin.Context) {
	dev, ok := loadMasterDevice(c)
	if !ok {
		return
	}
	if err := database.NewMasterDeviceService(database.GetDB()).Delete(c.Request.Context(), dev.ID); err != nil {
		respondError(c, err, "Failed to delete master device")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
