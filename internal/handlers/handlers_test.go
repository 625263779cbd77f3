package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/database/dbtest"
	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/middleware"
	"github.com/byosamah/volteria-sub000/internal/sse"
)

const testPassword = "correct-horse-battery"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	events *sse.Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.New(t)
	events := sse.NewService()
	prev := opts
	Configure(Options{Events: events})
	t.Cleanup(func() { opts = prev })

	r := gin.New()
	api := r.Group("/api", auth.AuthMiddleware())
	api.GET("/controllers", GetControllersHandler)
	api.POST("/controllers/register", RegisterControllerHandler)
	api.GET("/controllers/heartbeats", GetHeartbeatsHandler)
	api.GET("/controllers/:id", GetControllerHandler)
	api.DELETE("/controllers/:id", DeleteControllerHandler)
	api.POST("/controllers/:id/status", UpdateStatusHandler)
	api.POST("/controllers/:id/deactivate", DeactivateControllerHandler)
	api.POST("/controllers/:id/ssh-credentials", RevealSSHCredentialsHandler)
	api.POST("/sites/:id/sync", SyncSiteHandler)
	api.POST("/sites/:id/master-devices", CreateMasterDeviceHandler)
	api.GET("/templates", GetTemplatesHandler)
	api.POST("/templates", CreateTemplateHandler)
	api.GET("/templates/:id", GetTemplateHandler)
	api.GET("/templates/:id/export", ExportTemplateHandler)
	api.POST("/templates/import", ImportTemplateHandler)

	agent := r.Group("/agent", middleware.AgentAuth(database.NewControllerService(db)))
	agent.POST("/heartbeat", AgentHeartbeatHandler)
	agent.GET("/commands", AgentCommandsHandler)
	agent.POST("/commands/:id/ack", AgentAckHandler)

	return &testEnv{db: db, router: r, events: events}
}

func (e *testEnv) user(t *testing.T, name string, role database.Role, enterpriseID *uuid.UUID) string {
	t.Helper()
	u := dbtest.CreateUser(t, e.db, name, testPassword, role, enterpriseID)
	token, _, err := auth.IssueToken(u, "127.0.0.1", "test")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) claimed(t *testing.T, serial string, enterpriseID uuid.UUID) *database.Controller {
	t.Helper()
	svc := database.NewControllerService(e.db)
	ctx := context.Background()
	res, err := svc.Register(ctx, database.RegisterInput{SerialNumber: serial, HardwareTypeID: "rpi5"})
	require.NoError(t, err)
	_, err = svc.CompleteWizard(ctx, res.Controller.ID, true)
	require.NoError(t, err)
	ctrl, err := svc.Claim(ctx, serial, res.Controller.Passcode, enterpriseID)
	require.NoError(t, err)
	ctrl.Passcode = res.Controller.Passcode
	return ctrl
}

func TestRegisterCreateThenResume(t *testing.T) {
	env := newEnv(t)
	admin := env.user(t, "admin", database.RoleAdmin, nil)

	w := env.do(http.MethodPost, "/api/controllers/register", admin, gin.H{"serial_number": "VT-100", "hardware_type_id": "rpi5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, false, first["resumed"])
	assert.Len(t, first["passcode"], 8)
	id := first["controller"].(map[string]any)["id"]

	w = env.do(http.MethodPost, "/api/controllers/register", admin, gin.H{"serial_number": "VT-100", "hardware_type_id": "rpi4"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	again := decode(t, w)
	assert.Equal(t, true, again["resumed"])
	assert.Equal(t, id, again["controller"].(map[string]any)["id"])

	var n int64
	env.db.Model(&database.Controller{}).Count(&n)
	assert.EqualValues(t, 1, n)
}

func TestRegisterErrors(t *testing.T) {
	env := newEnv(t)
	admin := env.user(t, "admin", database.RoleAdmin, nil)

	w := env.do(http.MethodPost, "/api/controllers/register", admin, gin.H{"serial_number": " ", "hardware_type_id": "rpi5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/controllers/register", admin, gin.H{"serial_number": "VT-1", "hardware_type_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f := dbtest.SeedSite(t, env.db, "acme")
	env.claimed(t, "VT-DONE", f.Enterprise.ID)
	w = env.do(http.MethodPost, "/api/controllers/register", admin, gin.H{"serial_number": "VT-DONE", "hardware_type_id": "rpi5"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(lifecycle.Claimed), decode(t, w)["status"])
}

func (e *testEnv) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestDeleteRequiresPassword(t *testing.T) {
	env := newEnv(t)
	admin := env.user(t, "admin", database.RoleAdmin, nil)
	f := dbtest.SeedSite(t, env.db, "acme")
	ctrl := env.claimed(t, "VT-DEL", f.Enterprise.ID)
	path := "/api/controllers/" + ctrl.ID.String()

	ctx := context.Background()
	_, err := database.NewHeartbeatService(env.db).Record(ctx, ctrl.ID, database.HeartbeatInput{FirmwareVersion: "1.0.0"})
	require.NoError(t, err)
	_, err = database.NewMasterDeviceService(env.db).Create(ctx, f.Site.ID, database.MasterDeviceInput{
		DeviceType:   database.DeviceTypeController,
		ControllerID: &ctrl.ID,
	})
	require.NoError(t, err)

	w := env.do(http.MethodDelete, path, admin, gin.H{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Incorrect password", decode(t, w)["error"])

	assert.EqualValues(t, 1, env.count(t, &database.Controller{}, "id = ?", ctrl.ID))
	assert.EqualValues(t, 1, env.count(t, &database.ControllerHeartbeat{}, "controller_id = ?", ctrl.ID))
	assert.EqualValues(t, 1, env.count(t, &database.SiteMasterDevice{}, "controller_id = ?", ctrl.ID))

	w = env.do(http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodDelete, path, admin, gin.H{"password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Zero(t, env.count(t, &database.Controller{}, "id = ?", ctrl.ID))
	assert.Zero(t, env.count(t, &database.ControllerHeartbeat{}, "controller_id = ?", ctrl.ID))
}

func TestDeactivateRequiresPassword(t *testing.T) {
	env := newEnv(t)
	admin := env.user(t, "admin", database.RoleAdmin, nil)
	f := dbtest.SeedSite(t, env.db, "acme")
	ctrl := env.claimed(t, "VT-DEACT", f.Enterprise.ID)
	path := "/api/controllers/" + ctrl.ID.String() + "/deactivate"

	w := env.do(http.MethodPost, path, admin, gin.H{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Incorrect password", decode(t, w)["error"])

	var got database.Controller
	require.NoError(t, env.db.First(&got, "id = ?", ctrl.ID).Error)
	assert.Equal(t, lifecycle.Claimed, got.Status)

	w = env.do(http.MethodPost, path, admin, gin.H{"password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var after database.Controller
	require.NoError(t, env.db.First(&after, "id = ?", ctrl.ID).Error)
	assert.Equal(t, lifecycle.Deactivated, after.Status)
}

func TestRevealSSHCredentialsRequiresPassword(t *testing.T) {
	env := newEnv(t)
	opts.SSHTunnelHost = "tunnel.example.com"
	opts.SSHPassword = "fleet-shared-secret"
	admin := env.user(t, "admin", database.RoleAdmin, nil)
	f := dbtest.SeedSite(t, env.db, "acme")
	ctrl := env.claimed(t, "VT-SSH", f.Enterprise.ID)
	port, _, err := database.NewControllerService(env.db).SetupSSH(context.Background(), ctrl.ID, 10000, 10010)
	require.NoError(t, err)
	path := "/api/controllers/" + ctrl.ID.String() + "/ssh-credentials"

	w := env.do(http.MethodPost, path, admin, gin.H{"password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "fleet-shared-secret")
	assert.Equal(t, "Incorrect password", decode(t, w)["error"])

	w = env.do(http.MethodPost, path, admin, gin.H{"password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "fleet-shared-secret", body["password"])
	assert.EqualValues(t, port, body["port"])
}

func TestControllersAreScopedToEnterprise(t *testing.T) {
	env := newEnv(t)
	acme := dbtest.SeedSite(t, env.db, "acme")
	globex := dbtest.SeedSite(t, env.db, "globex")
	mine := env.claimed(t, "VT-A", acme.Enterprise.ID)
	theirs := env.claimed(t, "VT-G", globex.Enterprise.ID)

	hb := database.NewHeartbeatService(env.db)
	_, err := hb.Record(context.Background(), mine.ID, database.HeartbeatInput{})
	require.NoError(t, err)
	_, err = hb.Record(context.Background(), theirs.ID, database.HeartbeatInput{})
	require.NoError(t, err)

	viewer := env.user(t, "viewer", database.RoleViewer, &acme.Enterprise.ID)

	w := env.do(http.MethodGet, "/api/controllers/heartbeats", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode(t, w)
	assert.Contains(t, latest, mine.ID.String())
	assert.NotContains(t, latest, theirs.ID.String())

	w = env.do(http.MethodGet, "/api/controllers", viewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["controllers"].([]any)
	require.Len(t, list, 1)
	row := list[0].(map[string]any)
	assert.Equal(t, mine.ID.String(), row["id"])
	assert.Equal(t, true, row["connectivity"].(map[string]any)["online"])

	w = env.do(http.MethodGet, "/api/controllers/"+theirs.ID.String(), viewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusDraftNeedsAdmin(t *testing.T) {
	env := newEnv(t)
	f := dbtest.SeedSite(t, env.db, "acme")
	ctrl := env.claimed(t, "VT-S", f.Enterprise.ID)
	boss := env.user(t, "boss", database.RoleEnterpriseAdmin, &f.Enterprise.ID)

	w := env.do(http.MethodPost, "/api/controllers/"+ctrl.ID.String()+"/status", boss, gin.H{"status": "draft"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/controllers/"+ctrl.ID.String()+"/status", boss, gin.H{"status": "deactivated"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "deactivated", decode(t, w)["controller"].(map[string]any)["status"])

	w = env.do(http.MethodPost, "/api/controllers/"+ctrl.ID.String()+"/status", boss, gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func agentRequest(env *testEnv, method, path string, ctrl *database.Controller, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SerialHeader, ctrl.SerialNumber)
	req.Header.Set(middleware.PasscodeHeader, ctrl.Passcode)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestAgentHeartbeatAndCommands(t *testing.T) {
	env := newEnv(t)
	f := dbtest.SeedSite(t, env.db, "acme")
	ctrl := env.claimed(t, "VT-AGENT", f.Enterprise.ID)
	client := env.events.AddClient(uuid.New(), &f.Enterprise.ID)
	defer env.events.RemoveClient(client.ID)

	w := agentRequest(env, http.MethodPost, "/agent/heartbeat", ctrl, gin.H{"firmware_version": "2.4.1", "uptime_seconds": 42})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	latest, err := database.NewHeartbeatService(env.db).Latest(context.Background(), ctrl.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), latest.Timestamp, 5*time.Second)
	assert.EqualValues(t, 42, latest.UptimeSeconds)

	select {
	case ev := <-client.Events:
		assert.Equal(t, "heartbeat", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("heartbeat event not published")
	}

	bad := *ctrl
	bad.Passcode = "nope"
	w = agentRequest(env, http.MethodPost, "/agent/heartbeat", &bad, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, err = database.NewMasterDeviceService(env.db).Create(context.Background(), f.Site.ID, database.MasterDeviceInput{
		DeviceType:   database.DeviceTypeController,
		ControllerID: &ctrl.ID,
	})
	require.NoError(t, err)

	configurator := env.user(t, "cfg", database.RoleConfigurator, &f.Enterprise.ID)
	w = env.do(http.MethodPost, "/api/sites/"+f.Site.ID.String()+"/sync", configurator, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = agentRequest(env, http.MethodGet, "/agent/commands", ctrl, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cmds := decode(t, w)["commands"].([]any)
	require.Len(t, cmds, 1)
	cmdID := cmds[0].(map[string]any)["id"].(string)

	w = agentRequest(env, http.MethodGet, "/agent/commands", ctrl, nil)
	assert.Empty(t, decode(t, w)["commands"])

	w = agentRequest(env, http.MethodPost, "/agent/commands/"+cmdID+"/ack", ctrl, gin.H{"success": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSyncWithoutControllerConflicts(t *testing.T) {
	env := newEnv(t)
	f := dbtest.SeedSite(t, env.db, "acme")
	admin := env.user(t, "admin", database.RoleAdmin, nil)

	w := env.do(http.MethodPost, "/api/sites/"+f.Site.ID.String()+"/sync", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSecondSiteControllerConflicts(t *testing.T) {
	env := newEnv(t)
	f := dbtest.SeedSite(t, env.db, "acme")
	admin := env.user(t, "admin", database.RoleAdmin, nil)
	one := env.claimed(t, "VT-ONE", f.Enterprise.ID)
	two := env.claimed(t, "VT-TWO", f.Enterprise.ID)
	path := "/api/sites/" + f.Site.ID.String() + "/master-devices"

	w := env.do(http.MethodPost, path, admin, gin.H{"device_type": "controller", "controller_id": one.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodPost, path, admin, gin.H{"device_type": "controller", "controller_id": two.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, path, admin, gin.H{"device_type": "gateway", "gateway_name": "Meter bus", "calculated_fields": []string{"no_such_field"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []any{"no_such_field"}, decode(t, w)["unknown"])
}

func TestTemplateScopesAndYAMLRoundTrip(t *testing.T) {
	env := newEnv(t)
	acme := dbtest.SeedSite(t, env.db, "acme")
	admin := env.user(t, "admin", database.RoleAdmin, nil)
	cfg := env.user(t, "cfg", database.RoleConfigurator, &acme.Enterprise.ID)

	w := env.do(http.MethodPost, "/api/templates", cfg, gin.H{"name": "Shared", "scope": "public"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/templates", cfg, gin.H{
		"name":      "Acme Inverter",
		"scope":     "custom",
		"registers": []gin.H{{"address": 40001, "name": "active_power"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tmpl := decode(t, w)["template"].(map[string]any)
	assert.Equal(t, acme.Enterprise.ID.String(), tmpl["enterprise_id"])
	id := tmpl["id"].(string)

	w = env.do(http.MethodGet, "/api/templates/"+id+"/export", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "acme-inverter.yaml")
	doc := w.Body.String()
	assert.Contains(t, doc, "active_power")

	req := httptest.NewRequest(http.MethodPost, "/api/templates/import", strings.NewReader(strings.Replace(doc, "Acme Inverter", "Acme Inverter v2", 1)))
	req.Header.Set("Authorization", "Bearer "+cfg)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	imported := decode(t, rec)["template"].(map[string]any)
	assert.Equal(t, "Acme Inverter v2", imported["name"])
	assert.Equal(t, "custom", imported["scope"])

	req = httptest.NewRequest(http.MethodPost, "/api/templates/import", strings.NewReader("name: [unterminated"))
	req.Header.Set("Authorization", "Bearer "+cfg)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	other := dbtest.SeedSite(t, env.db, "globex")
	outsider := env.user(t, "outsider", database.RoleViewer, &other.Enterprise.ID)
	w = env.do(http.MethodGet, "/api/templates/"+id, outsider, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/templates", outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["templates"])
}
