package main

import (
	// standard library
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// third-party
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// internal
	"github.com/byosamah/volteria-sub000/internal/auth"
	"github.com/byosamah/volteria-sub000/internal/config"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/diagnostics"
	"github.com/byosamah/volteria-sub000/internal/handlers"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/middleware"
	"github.com/byosamah/volteria-sub000/internal/pollers"
	"github.com/byosamah/volteria-sub000/internal/sse"
	"github.com/byosamah/volteria-sub000/internal/version"
)

// Agent payloads are small JSON documents.
const maxAgentBody = 64 << 10

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println(version.String())
		os.Exit(0)
	}

	logging.Setup(config.Get("LOG_LEVEL", "info"), config.Get("LOG_FORMAT", "text"))
	logging.InfoWithComponent(logging.ComponentStartup, "Starting Volteria console", "version", version.String())

	if err := database.Initialize(); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	db := database.GetDB()
	if err := database.BootstrapAdmin(db); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to set up initial user", "error", err)
		os.Exit(1)
	}

	tunnelHost := config.Get("SSH_TUNNEL_HOST", "")
	sshUser := config.Get("CONTROLLER_SSH_USERNAME", "volteria")
	sshPassword := config.Get("CONTROLLER_SSH_PASSWORD", "")

	var dialer diagnostics.Dialer
	if tunnelHost != "" && sshPassword != "" {
		d, err := diagnostics.NewSSHDialer(sshUser, sshPassword, config.Get("SSH_KNOWN_HOSTS", ""), 10*time.Second)
		if err != nil {
			logging.ErrorWithComponent(logging.ComponentStartup, "Failed to configure SSH diagnostics", "error", err)
			os.Exit(1)
		}
		dialer = d
	} else {
		logging.InfoWithComponent(logging.ComponentStartup, "SSH tunnel not configured; remote diagnostics will be skipped")
	}

	agentLimiter := middleware.NewAgentRateLimiter(config.GetInt("AGENT_RATE_LIMIT_PER_MINUTE", 60))

	// Background jobs
	pollerManager := pollers.NewManager()
	pollerManager.Register(pollers.NewHeartbeatRetentionPoller(
		database.NewHeartbeatService(db),
		config.GetDuration("HEARTBEAT_RETENTION", 7*24*time.Hour),
		pollers.DefaultConfig("heartbeat_retention", time.Hour),
	))
	pollerManager.Register(pollers.NewCommandExpiryPoller(
		database.NewCommandService(db),
		config.GetDuration("COMMAND_TTL", 10*time.Minute),
		pollers.DefaultConfig("command_expiry", time.Minute),
	))
	pollerManager.Register(pollers.NewBasePoller(pollers.DefaultConfig("agent_limiter_cleanup", 10*time.Minute), func(ctx context.Context) error {
		if n := agentLimiter.Cleanup(); n > 0 {
			logging.DebugWithComponent(logging.ComponentAgent, "Dropped idle rate limiters", "count", n)
		}
		return nil
	}))

	sseService := sse.GetSSEService()
	handlers.Configure(handlers.Options{
		SSHTunnelHost: tunnelHost,
		SSHUsername:   sshUser,
		SSHPassword:   sshPassword,
		SSHPortStart:  config.GetInt("SSH_PORT_RANGE_START", 10000),
		SSHPortEnd:    config.GetInt("SSH_PORT_RANGE_END", 10999),
		Diagnostics:   diagnostics.NewRunner(dialer, tunnelHost),
		Events:        sseService,
		Jobs:          pollerManager,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pollerManager.Start(ctx); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to start pollers", "error", err)
		os.Exit(1)
	}

	go sseService.KeepAlive(ctx, 30*time.Second)

	if mode := config.Get("GIN_MODE", ""); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(agentLimiter)

	addr := ":" + config.Get("PORT", "8000")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.InfoWithComponent(logging.ComponentStartup, "Listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.ErrorWithComponent(logging.ComponentStartup, "Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("[SHUTDOWN] Shutting down server and pollers")

	if err := pollerManager.Stop(); err != nil {
		logging.Error("[SHUTDOWN] Error stopping pollers", "error", err)
	}
	// Ends SSE streams so Shutdown does not wait on them.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("[SHUTDOWN] Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("[SHUTDOWN] Server and pollers stopped")
}

func setupRouter(agentLimiter *middleware.AgentRateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if origins := config.GetList("CORS_ALLOWED_ORIGINS", nil); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		middleware.SerialHeader,
		middleware.PasscodeHeader,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", handlers.HealthHandler)
	if config.GetBool("METRICS_ENABLED", false) {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Public auth endpoints
	router.POST("/api/auth/login", auth.LoginHandler)
	router.POST("/api/auth/logout", auth.LogoutHandler)
	router.GET("/api/auth/check", auth.CheckAuthHandler)

	// Controller agent endpoints (serial + passcode)
	agent := router.Group("/api/agent",
		middleware.RequestSizeLimit(maxAgentBody),
		middleware.AgentAuth(database.NewControllerService(database.GetDB())),
		agentLimiter.RateLimit(),
	)
	{
		agent.POST("/heartbeat", handlers.AgentHeartbeatHandler)
		agent.GET("/commands", handlers.AgentCommandsHandler)
		agent.POST("/commands/:id/ack", handlers.AgentAckHandler)
	}

	protected := router.Group("/api", auth.AuthMiddleware())

	viewer := auth.RequireRole(database.RoleViewer)
	configurator := auth.RequireRole(database.RoleConfigurator)
	enterpriseAdmin := auth.RequireRole(database.RoleEnterpriseAdmin)
	admin := auth.RequireRole(database.RoleAdmin)

	protected.GET("/me", auth.CurrentUserHandler)
	protected.POST("/profile/password", auth.UpdatePasswordHandler)
	protected.GET("/config", handlers.ConfigHandler)

	// User management (admin only)
	users := protected.Group("/users", admin)
	{
		users.GET("", auth.GetUsersHandler)
		users.POST("", auth.CreateUserHandler)
		users.PUT("/:id/role", auth.UpdateUserRoleHandler)
		users.POST("/:id/deactivate", auth.DeactivateUserHandler)
		users.DELETE("/:id", auth.DeleteUserHandler)
	}

	// Reference data
	protected.GET("/hardware-types", viewer, handlers.GetHardwareTypesHandler)
	protected.GET("/calculated-fields", viewer, handlers.GetCalculatedFieldsHandler)
	protected.GET("/enterprises", viewer, handlers.GetEnterprisesHandler)
	protected.POST("/enterprises", admin, handlers.CreateEnterpriseHandler)
	protected.GET("/projects", viewer, handlers.GetProjectsHandler)
	protected.POST("/projects", enterpriseAdmin, handlers.CreateProjectHandler)
	protected.GET("/sites", viewer, handlers.GetSitesHandler)
	protected.POST("/sites", enterpriseAdmin, handlers.CreateSiteHandler)

	// Sites and master devices
	sites := protected.Group("/sites/:id")
	{
		sites.POST("/sync", configurator, handlers.SyncSiteHandler)
		sites.GET("/master-devices", viewer, handlers.GetMasterDevicesHandler)
		sites.POST("/master-devices", configurator, handlers.CreateMasterDeviceHandler)
	}
	protected.PUT("/master-devices/:id", configurator, handlers.UpdateMasterDeviceHandler)
	protected.DELETE("/master-devices/:id", configurator, handlers.DeleteMasterDeviceHandler)

	// Controllers
	controllers := protected.Group("/controllers")
	{
		controllers.GET("", viewer, handlers.GetControllersHandler)
		controllers.POST("/register", admin, handlers.RegisterControllerHandler)
		controllers.POST("/claim", enterpriseAdmin, handlers.ClaimControllerHandler)
		controllers.GET("/heartbeats", viewer, handlers.GetHeartbeatsHandler)
		controllers.GET("/heartbeats/stream", viewer, handlers.HeartbeatStreamHandler)

		controllers.GET("/:id", viewer, handlers.GetControllerHandler)
		controllers.PUT("/:id", admin, handlers.UpdateControllerHandler)
		controllers.DELETE("/:id", admin, handlers.DeleteControllerHandler)
		controllers.GET("/:id/heartbeat", viewer, handlers.GetControllerHeartbeatHandler)
		controllers.GET("/:id/heartbeats", viewer, handlers.GetHeartbeatHistoryHandler)
		controllers.GET("/:id/usage", viewer, handlers.ControllerUsageHandler)

		controllers.POST("/:id/wizard", admin, handlers.UpdateWizardStepHandler)
		controllers.POST("/:id/wizard/complete", admin, handlers.CompleteWizardHandler)
		controllers.POST("/:id/status", enterpriseAdmin, handlers.UpdateStatusHandler)
		controllers.POST("/:id/deactivate", enterpriseAdmin, handlers.DeactivateControllerHandler)
		controllers.POST("/:id/restart", enterpriseAdmin, handlers.RestartControllerHandler)
		controllers.POST("/:id/test", configurator, handlers.RunTestsHandler)
		controllers.POST("/:id/ssh-setup", admin, handlers.SSHSetupHandler)
		controllers.POST("/:id/ssh-credentials", admin, handlers.RevealSSHCredentialsHandler)
	}

	// Templates
	templates := protected.Group("/templates")
	{
		templates.GET("", viewer, handlers.GetTemplatesHandler)
		templates.POST("", configurator, handlers.CreateTemplateHandler)
		templates.POST("/import", configurator, handlers.ImportTemplateHandler)
		templates.GET("/:id", viewer, handlers.GetTemplateHandler)
		templates.PUT("/:id", configurator, handlers.UpdateTemplateHandler)
		templates.DELETE("/:id", configurator, handlers.DeleteTemplateHandler)
		templates.GET("/:id/export", viewer, handlers.ExportTemplateHandler)
	}

	return router
}
