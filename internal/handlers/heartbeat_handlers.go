package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// GetHeartbeatsHandler returns controllerID -> latest heartbeat for the
// controllers the user can see. The heartbeat poller calls this every 30s.
func GetHeartbeatsHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	latest, err := database.NewHeartbeatService(database.GetDB()).LatestMap(c.Request.Context(), auth.EnterpriseScope(user))
	if err != nil {
		respondError(c, err, "Failed to fetch heartbeats")
		return
	}
	c.JSON(http.StatusOK, latest)
}

// GetControllerHeartbeatHandler returns the latest heartbeat with connectivity
func GetControllerHeartbeatHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	hb, err := database.NewHeartbeatService(database.GetDB()).Latest(c.Request.Context(), ctrl.ID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"heartbeat": nil, "connectivity": connectivity.Classify(nil, opts.Now())})
		return
	}
	if err != nil {
		respondError(c, err, "Failed to fetch heartbeat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"heartbeat": hb, "connectivity": connectivity.Classify(&hb.Timestamp, opts.Now())})
}

// GetHeartbeatHistoryHandler returns recent heartbeats, newest first
func GetHeartbeatHistoryHandler(c *gin.Context) {
	_, ctrl, ok := loadController(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := database.NewHeartbeatService(database.GetDB()).History(c.Request.Context(), ctrl.ID, limit)
	if err != nil {
		respondError(c, err, "Failed to fetch heartbeats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"heartbeats": rows})
}

// HeartbeatStreamHandler pushes heartbeats as server-sent events
func HeartbeatStreamHandler(c *gin.Context) {
	user, ok := auth.RequireUser(c)
	if !ok {
		return
	}
	svc := events()
	client := svc.AddClient(user.ID, auth.EnterpriseScope(user))
	defer svc.RemoveClient(client.ID)

	if err := svc.Stream(c.Request.Context(), c.Writer, client); err != nil {
		logging.DebugWithComponent(logging.ComponentSSE, "Stream ended", "client_id", client.ID, "error", err)
	}
}
