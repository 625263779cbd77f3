package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

type TemplateRequest struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Scope            string          `json:"scope"`
	EnterpriseID     *uuid.UUID      `json:"enterprise_id"`
	HardwareTypeID   string          `json:"hardware_type_id"`
	Registers        json.RawMessage `json:"registers"`
	CalculatedFields json.RawMessage `json:"calculated_fields"`
	Alarms           json.RawMessage `json:"alarms"`
}

func rawJSON(r json.RawMessage) datatypes.JSON {
	if len(r) == 0 || string(r) == "null" {
		return nil
	}
	return datatypes.JSON(r)
}

func (r TemplateRequest) input() database.TemplateInput {
	return database.TemplateInput{
		Name:             r.Name,
		Description:      r.Description,
		Scope:            r.Scope,
		EnterpriseID:     r.EnterpriseID,
		HardwareTypeID:   r.HardwareTypeID,
		Registers:        rawJSON(r.Registers),
		CalculatedFields: rawJSON(r.CalculatedFields),
		Alarms:           rawJSON(r.Alarms),
	}
}

// authorizeTemplateWrite enforces who may write which scope. Non-admins
// only write custom templates of their own enterprise.
func authorizeTemplateWrite(c *gin.Context, user *database.User, in *database.TemplateInput) bool {
	if user.IsAdmin() {
		return true
	}
	if in.Scope == "" || in.Scope == database.ScopePublic {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only admins can manage public templates"})
		return false
	}
	if in.EnterpriseID == nil {
		in.EnterpriseID = user.EnterpriseID
	}
	return auth.RequireEnterpriseAccess(c, user, in.EnterpriseID)
}

// loadTemplate resolves :id; custom templates are only visible to their enterprise.
func loadTemplate(c *gin.Context) (*database.User, *database.ControllerTemplate, bool) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return nil, nil, false
	}
	id, ok := parseID(c, "id", "template")
	if !ok {
		return nil, nil, false
	}
	t, err := database.NewTemplateService(database.GetDB()).Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch template")
		return nil, nil, false
	}
	if t.Scope == database.ScopeCustom && !auth.RequireEnterpriseAccess(c, user, t.EnterpriseID) {
		return nil, nil, false
	}
	return user, t, true
}

// GetTemplatesHandler lists templates visible to the user
func GetTemplatesHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	list, err := database.NewTemplateService(database.GetDB()).List(c.Request.Context(), user.EnterpriseID, user.IsAdmin())
	if err != nil {
		respondError(c, err, "Failed to fetch templates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

// GetTemplateHandler returns one template
func GetTemplateHandler(c *gin.Context) {
	_, t, ok := loadTemplate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": t})
}

// CreateTemplateHandler creates a template
func CreateTemplateHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	in := req.input()
	if !authorizeTemplateWrite(c, user, &in) {
		return
	}
	t, err := database.NewTemplateService(database.GetDB()).Create(c.Request.Context(), in, &user.ID)
	if err != nil {
		respondError(c, err, "Failed to create template")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"template": t})
}

// UpdateTemplateHandler edits a template in place
func UpdateTemplateHandler(c *gin.Context) {
	user, t, ok := loadTemplate(c)
	if !ok {
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	current := database.TemplateInput{Scope: t.Scope, EnterpriseID: t.EnterpriseID}
	if !authorizeTemplateWrite(c, user, &current) {
		return
	}
	in := req.input()
	if !authorizeTemplateWrite(c, user, &in) {
		return
	}
	updated, err := database.NewTemplateService(database.GetDB()).Update(c.Request.Context(), t.ID, in)
	if err != nil {
		respondError(c, err, "Failed to update template")
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": updated})
}

// DeleteTemplateHandler removes a template; master devices using it are unlinked
func DeleteTemplateHandler(c *gin.Context) {
	user, t, ok := loadTemplate(c)
	if !ok {
		return
	}
	current := database.TemplateInput{Scope: t.Scope, EnterpriseID: t.EnterpriseID}
	if !authorizeTemplateWrite(c, user, &current) {
		return
	}
	if err := database.NewTemplateService(database.GetDB()).Delete(c.Request.Context(), t.ID); err != nil {
		respondError(c, err, "Failed to delete template")
		return
	}
	logging.LogfWithUser(user.Username, "Deleted template %s", t.Name)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(name string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "template"
	}
	return s
}

// ExportTemplateHandler downloads a template as YAML
func ExportTemplateHandler(c *gin.Context) {
	_, t, ok := loadTemplate(c)
	if !ok {
		return
	}
	out, err := database.ExportYAML(t)
	if err != nil {
		respondError(c, err, "Failed to export template")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.yaml"`, slug(t.Name)))
	c.Data(http.StatusOK, "application/x-yaml", out)
}

// ImportTemplateHandler creates a template from a YAML document body
func ImportTemplateHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read template"})
		return
	}
	in, err := database.ParseYAML(body)
	if err != nil {
		respondError(c, err, "Failed to import template")
		return
	}
	if q := c.Query("enterprise_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid enterprise ID"})
			return
		}
		in.EnterpriseID = &id
	}
	if !authorizeTemplateWrite(c, user, &in) {
		return
	}
	t, err := database.NewTemplateService(database.GetDB()).Create(c.Request.Context(), in, &user.ID)
	if err != nil {
		respondError(c, err, "Failed to import template")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"template": t})
}

// GetCalculatedFieldsHandler lists calculated field definitions
func GetCalculatedFieldsHandler(c *gin.Context) {
	list, err := database.NewReferenceService(database.GetDB()).ListCalculatedFields(c.Request.Context(), c.Query("category"))
	if err != nil {
		respondError(c, err, "Failed to fetch calculated fields")
		return
	}
	c.JSON(http.StatusOK, gin.H{"calculated_fields": list})
}

// GetHardwareTypesHandler lists supported controller hardware
func GetHardwareTypesHandler(c *gin.Context) {
	list, err := database.NewReferenceService(database.GetDB()).ListHardwareTypes(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch hardware types")
		return
	}
	c.JSON(http.StatusOK, gin.H{"hardware_types": list})
}
