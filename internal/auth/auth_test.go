package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/database/dbtest"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func resetLimiters() {
	for _, m := range []*sync.Map{&loginLimiters, &stepUpLimiters} {
		m.Range(func(k, _ any) bool {
			m.Delete(k)
			return true
		})
	}
}

func testRouter() *gin.Engine {
	r := gin.New()
	r.POST("/login", LoginHandler)
	r.POST("/logout", LogoutHandler)
	r.GET("/check", CheckAuthHandler)

	api := r.Group("/api", AuthMiddleware())
	api.GET("/me", CurrentUserHandler)
	api.POST("/danger", RequireRole(database.RoleAdmin), func(c *gin.Context) {
		if !BindStepUp(c) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"done": true})
	})
	return r
}

func doJSON(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler, username, password string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestLoginSessionLifecycle(t *testing.T) {
	resetLimiters()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "operator", "correct-horse", database.RoleAdmin, nil)
	r := testRouter()

	w := doJSON(r, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := login(t, r, "operator", "correct-horse")

	w = doJSON(r, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	w = doJSON(r, http.MethodPost, "/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "a revoked session must not authenticate even with a valid signature")
}

func TestLoginRejectsBadPassword(t *testing.T) {
	resetLimiters()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "operator", "correct-horse", database.RoleAdmin, nil)
	r := testRouter()

	w := doJSON(r, http.MethodPost, "/login", "", LoginRequest{Username: "operator", Password: "battery-staple"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var attempts []database.LoginAttempt
	require.NoError(t, db.Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, "login", attempts[0].Purpose)
}

func TestStepUp(t *testing.T) {
	resetLimiters()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "operator", "correct-horse", database.RoleAdmin, nil)
	r := testRouter()
	token := login(t, r, "operator", "correct-horse")

	before := testutil.ToFloat64(metrics.StepUpFailures)
	w := doJSON(r, http.MethodPost, "/api/danger", token, PasswordRequest{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Incorrect password"}`, w.Body.String())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StepUpFailures))

	w = doJSON(r, http.MethodPost, "/api/danger", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/danger", token, PasswordRequest{Password: "correct-horse"})
	assert.Equal(t, http.StatusOK, w.Code)

	var stepups int64
	db.Model(&database.LoginAttempt{}).Where("purpose = ?", "stepup").Count(&stepups)
	assert.EqualValues(t, 2, stepups)
}

func TestStepUpIsRateLimited(t *testing.T) {
	resetLimiters()
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "operator", "correct-horse", database.RoleAdmin, nil)
	r := testRouter()
	token := login(t, r, "operator", "correct-horse")

	codes := map[int]int{}
	for i := 0; i < 7; i++ {
		w := doJSON(r, http.MethodPost, "/api/danger", token, PasswordRequest{Password: "guess"})
		codes[w.Code]++
	}
	assert.Equal(t, 5, codes[http.StatusUnauthorized])
	assert.Equal(t, 2, codes[http.StatusTooManyRequests])
}

func TestRequireRole(t *testing.T) {
	resetLimiters()
	db := dbtest.New(t)
	fx := dbtest.SeedSite(t, db, "acme")
	dbtest.CreateUser(t, db, "viewer", "correct-horse", database.RoleViewer, &fx.Enterprise.ID)
	r := testRouter()
	token := login(t, r, "viewer", "correct-horse")

	w := doJSON(r, http.MethodPost, "/api/danger", token, PasswordRequest{Password: "correct-horse"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnterpriseScope(t *testing.T) {
	acme := dbtest.SeedSite(t, dbtest.New(t), "acme").Enterprise.ID
	admin := &database.User{Role: database.RoleAdmin}
	scoped := &database.User{Role: database.RoleEnterpriseAdmin, EnterpriseID: &acme}
	orphan := &database.User{Role: database.RoleViewer}

	assert.Nil(t, EnterpriseScope(admin))
	assert.Equal(t, &acme, EnterpriseScope(scoped))
	require.NotNil(t, EnterpriseScope(orphan))
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", EnterpriseScope(orphan).String())
}

func TestValidateNewUsername(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"ops", false},
		{"field.engineer-2", false},
		{"ab", true},
		{"-leading", true},
		{"has space", true},
	}
	for _, tt := range tests {
		if err := ValidateNewUsername(tt.name); (err != nil) != tt.wantErr {
			t.Errorf("ValidateNewUsername(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
