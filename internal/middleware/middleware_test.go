package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/database/dbtest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAgentAuthAndRateLimit(t *testing.T) {
	db := dbtest.New(t)
	controllers := database.NewControllerService(db)
	res, err := controllers.Register(context.Background(), database.RegisterInput{SerialNumber: "AG-1", HardwareTypeID: "rpi5"})
	require.NoError(t, err)
	ctrl := res.Controller

	limiter := NewAgentRateLimiter(2)
	r := gin.New()
	r.POST("/agent", AgentAuth(controllers), limiter.RateLimit(), func(c *gin.Context) {
		c.String(http.StatusOK, Controller(c).SerialNumber)
	})

	send := func(serial, passcode string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/agent", nil)
		req.Header.Set(SerialHeader, serial)
		req.Header.Set(PasscodeHeader, passcode)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, send("", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send("AG-1", "WRONGPAS").Code)

	w := send("AG-1", ctrl.Passcode)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AG-1", w.Body.String())
	assert.Equal(t, http.StatusOK, send("AG-1", ctrl.Passcode).Code)
	assert.Equal(t, http.StatusTooManyRequests, send("AG-1", ctrl.Passcode).Code)
}

func TestAgentRateLimiterCleanup(t *testing.T) {
	l := NewAgentRateLimiter(10)
	l.Allow("a")
	l.Allow("b")
	l.idleAfter = 0
	assert.Equal(t, 2, l.Cleanup())
	assert.True(t, l.Allow("a"))
}

func TestRequestSizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/", RequestSizeLimit(16), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 32))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
