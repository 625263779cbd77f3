package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/diagnostics"
	"github.com/byosamah/volteria-sub000/internal/pollers"
	"github.com/byosamah/volteria-sub000/internal/sse"
	"github.com/byosamah/volteria-sub000/internal/version"
)

// Options carries the runtime settings handlers need beyond the database.
type Options struct {
	SSHTunnelHost string
	SSHUsername   string
	// SSHPassword is the fleet-wide controller password revealed after step-up.
	SSHPassword  string
	SSHPortStart int
	SSHPortEnd   int

	Diagnostics *diagnostics.Runner
	Events      *sse.Service
	Jobs        JobReporter
	Now         func() time.Time
}

// JobReporter exposes background job state on /health.
type JobReporter interface {
	Status() []pollers.JobStatus
}

var opts = Options{
	SSHUsername:  "volteria",
	SSHPortStart: 10000,
	SSHPortEnd:   10999,
	Now:          time.Now,
}

// Configure installs runtime options. Zero fields keep their defaults.
func Configure(o Options) {
	if o.SSHUsername == "" {
		o.SSHUsername = opts.SSHUsername
	}
	if o.SSHPortStart == 0 {
		o.SSHPortStart = opts.SSHPortStart
	}
	if o.SSHPortEnd == 0 {
		o.SSHPortEnd = opts.SSHPortEnd
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Events == nil {
		o.Events = sse.GetSSEService()
	}
	if o.Diagnostics == nil {
		o.Diagnostics = diagnostics.NewRunner(nil, o.SSHTunnelHost)
	}
	opts = o
}

func events() *sse.Service {
	if opts.Events == nil {
		return sse.GetSSEService()
	}
	return opts.Events
}

// HealthHandler reports liveness and database reachability
func HealthHandler(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if sqlDB, err := database.GetDB().DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = "database unavailable"
		code = http.StatusServiceUnavailable
	}
	resp := gin.H{"status": status, "version": version.String()}
	if opts.Jobs != nil {
		resp["jobs"] = opts.Jobs.Status()
	}
	c.JSON(code, resp)
}

// ConfigHandler returns the thresholds clients must use to classify connectivity
func ConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"heartbeat_interval_seconds": int(connectivity.HeartbeatInterval.Seconds()),
		"online_threshold_seconds":   int(connectivity.OnlineThreshold.Seconds()),
		"ssh_tunnel_configured":      opts.SSHTunnelHost != "",
		"version":                    version.String(),
	})
}

func parseID(c *gin.Context, param, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + label + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

// loadController fetches :id and enforces enterprise visibility.
func loadController(c *gin.Context) (*database.User, *database.Controller, bool) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return nil, nil, false
	}
	id, ok := parseID(c, "id", "controller")
	if !ok {
		return nil, nil, false
	}
	ctrl, err := database.NewControllerService(database.GetDB()).Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch controller")
		return nil, nil, false
	}
	if !auth.RequireEnterpriseAccess(c, user, ctrl.EnterpriseID) {
		return nil, nil, false
	}
	return user, ctrl, true
}

// loadSite does the same for a site addressed by param.
func loadSite(c *gin.Context, param string) (*database.User, *database.Site, bool) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return nil, nil, false
	}
	id, ok := parseID(c, param, "site")
	if !ok {
		return nil, nil, false
	}
	refs := database.NewReferenceService(database.GetDB())
	site, err := refs.GetSite(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to fetch site")
		return nil, nil, false
	}
	enterpriseID, err := refs.SiteEnterprise(c.Request.Context(), site.ID)
	if err != nil {
		respondError(c, err, "Failed to fetch site")
		return nil, nil, false
	}
	if !auth.RequireEnterpriseAccess(c, user, &enterpriseID) {
		return nil, nil, false
	}
	return user, site, true
}
