package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/byosamah/volteria-sub000/internal/config"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

const cookieName = "auth_token"

var jwtSecret []byte
var (
	loginLimiters sync.Map
	loginRate     = rate.Every(time.Minute / 5) // 5 requests per minute
)

// Default session timeout is 24 hours, can be overridden via SESSION_TIMEOUT env var.
var sessionTimeout = 24 * time.Hour

func init() {
	if secret := config.Get("JWT_SECRET", ""); secret != "" {
		jwtSecret = []byte(secret)
	} else {
		jwtSecret = make([]byte, 32)
		rand.Read(jwtSecret)
	}
	sessionTimeout = config.GetDuration("SESSION_TIMEOUT", 24*time.Hour)
}

func getLoginLimiter(ip string) *rate.Limiter {
	val, ok := loginLimiters.Load(ip)
	if ok {
		return val.(*rate.Limiter)
	}
	limiter, _ := loginLimiters.LoadOrStore(ip, rate.NewLimiter(loginRate, 5))
	return limiter.(*rate.Limiter)
}

func allowInsecure() bool {
	return config.GetBool("ALLOW_INSECURE", false)
}

// Claims is the JWT payload. ID (jti) names the server-side session row.
type Claims struct {
	UserID   string        `json:"user_id"`
	Username string        `json:"username"`
	Role     database.Role `json:"role"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is a user as returned by the API
type UserResponse struct {
	ID           uuid.UUID     `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email"`
	Role         database.Role `json:"role"`
	EnterpriseID *uuid.UUID    `json:"enterprise_id,omitempty"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	LastLogin    *time.Time    `json:"last_login,omitempty"`
}

func userResponse(u *database.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         u.Role,
		EnterpriseID: u.EnterpriseID,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

func newTokenID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// IssueToken signs a token for user and records the matching session.
func IssueToken(user *database.User, ip, userAgent string) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(sessionTimeout)
	tokenID := newTokenID()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	err = database.NewUserService(database.DB).CreateSession(&database.UserSession{
		UserID:    user.ID,
		TokenID:   tokenID,
		ExpiresAt: expires,
		UserAgent: userAgent,
		IPAddress: ip,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expires, nil
}

func parseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// tokenFromRequest reads the session cookie, falling back to a Bearer header
// for the CLI.
func tokenFromRequest(c *gin.Context) string {
	if tokenString, err := c.Cookie(cookieName); err == nil && tokenString != "" {
		return tokenString
	}
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// userFromRequest resolves the token to an active user with a live session.
func userFromRequest(c *gin.Context) (*database.User, *Claims) {
	tokenString := tokenFromRequest(c)
	if tokenString == "" {
		return nil, nil
	}
	claims, err := parseToken(tokenString)
	if err != nil {
		return nil, nil
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, nil
	}

	users := database.NewUserService(database.DB)
	if !users.SessionActive(claims.ID) {
		return nil, nil
	}
	user, err := users.GetUserByID(userID)
	if err != nil {
		return nil, nil
	}
	return user, claims
}

// LoginHandler exchanges username and password for a session. The token is
// set as an HTTP-only cookie and also returned for Bearer use.
func LoginHandler(c *gin.Context) {
	ip := c.ClientIP()
	if !getLoginLimiter(ip).Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts, try again later"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErrorMessage(err)})
		return
	}

	users := database.NewUserService(database.DB)
	user, err := users.AuthenticateUser(req.Username, req.Password)
	users.RecordAttempt(database.LoginAttempt{
		IPAddress: ip,
		Username:  req.Username,
		Purpose:   "login",
		Success:   err == nil,
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		logging.WarnWithComponent(logging.ComponentAuth, "Login failed", "username", req.Username, "ip", ip)
		if errors.Is(err, database.ErrAccountDisabled) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Account disabled"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	tokenString, expires, err := IssueToken(user, ip, c.GetHeader("User-Agent"))
	if err != nil {
		logging.ErrorWithComponent(logging.ComponentAuth, "Failed to issue token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, tokenString, int(sessionTimeout.Seconds()), "/", "", !allowInsecure(), true)

	logging.InfoWithComponent(logging.ComponentAuth, "User logged in", "username", user.Username)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      tokenString,
		"expires_at": expires,
		"user":       userResponse(user),
	})
}

// LogoutHandler revokes the current session and clears the cookie.
func LogoutHandler(c *gin.Context) {
	if claims, err := parseToken(tokenFromRequest(c)); err == nil {
		if err := database.NewUserService(database.DB).DeleteSession(claims.ID); err != nil {
			logging.WarnWithComponent(logging.ComponentAuth, "Failed to delete session", "error", err)
		}
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, "", -1, "/", "", !allowInsecure(), true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CheckAuthHandler reports whether the request carries a live session.
func CheckAuthHandler(c *gin.Context) {
	user, _ := userFromRequest(c)
	if user == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": userResponse(user)})
}

// CurrentUserHandler returns the authenticated user.
func CurrentUserHandler(c *gin.Context) {
	user, ok := RequireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, userResponse(user))
}
