package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nutribin-backend/config"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/mw"
)

// NewRouter creates and configures the Gin router.
func NewRouter(h *Handler, tokens mw.TokenParser, cfg config.ServerConfig, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.AccessLog(log), mw.Metrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true, "status": "up"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)
	responseCache := mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	caching := responseCache.Handler()

	// Dumps run as long as the database needs; every other route is bounded.
	base := r.Group("/")
	base.Use(mw.RateLimiter(limiter), responseCache.Invalidate())
	api := base.Group("/")
	api.Use(mw.Timeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))

	var accounts mw.AccountChecker
	if h.accounts != nil {
		accounts = h.accounts
	}
	authn := mw.RequireAuth(tokens, accounts)
	staffOnly := mw.RequireAccountType(model.AccountStaff, model.AccountAdmin)
	adminOnly := mw.RequireAccountType(model.AccountAdmin)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/staff/signup", h.StaffSignup)
		authGroup.POST("/signin", h.SignIn)
		authGroup.POST("/mfa/verify", h.VerifyMFA)
		authGroup.POST("/google", h.GoogleSignIn)
		authGroup.POST("/password/forgot", h.ForgotPassword)
		authGroup.POST("/password/verify", h.VerifyResetCode)
		authGroup.POST("/password/reset", h.ResetPassword)
	}

	hardware := api.Group("/hardware")
	{
		hardware.POST("/sensor-data", h.SensorData)
		hardware.POST("/register", authn, adminOnly, h.RegisterSerial)
	}

	machines := api.Group("/machines", authn)
	{
		machines.GET("", h.ListMachines)
		machines.GET("/health", staffOnly, h.FleetHealth)
		machines.GET("/:id", h.GetMachine)
		machines.PUT("/:id", staffOnly, h.UpdateMachine)
		machines.GET("/:id/readings", h.MachineReadings)
	}

	management := api.Group("/management", authn, staffOnly)
	{
		management.GET("/users", h.ListUsers)
		management.POST("/users", adminOnly, h.CreateUser)
		management.GET("/users/:id", h.GetUser)
		management.PUT("/users/:id", h.UpdateUser)
		management.DELETE("/users/:id", adminOnly, h.ArchiveUser)
		management.POST("/users/:id/status", adminOnly, h.SetUserStatus)
		management.POST("/users/:id/mfa", h.SetUserMFA)
		management.POST("/users/:id/email-code", h.RequestEmailCode)
		management.POST("/users/:id/phone-code", h.RequestPhoneCode)
		management.POST("/users/:id/phone-verify", h.VerifyPhone)

		management.GET("/repair", h.ListRepairs)
		management.GET("/repair/:id", h.GetRepair)
		management.PUT("/repair/:id/status", h.UpdateRepairStatus)
	}
	api.POST("/management/repair", authn, h.CreateRepair)

	support := api.Group("/support/tickets", authn)
	{
		support.POST("", h.CreateTicket)
		support.GET("", h.ListTickets)
		support.GET("/:id", h.GetTicket)
		support.POST("/:id/messages", h.AddTicketMessage)
		support.PUT("/:id/status", staffOnly, h.UpdateTicketStatus)
	}

	announcements := api.Group("/announcements")
	{
		announcements.GET("", caching, h.ListAnnouncements)
		announcements.GET("/:id", caching, h.GetAnnouncement)
		announcements.POST("", authn, staffOnly, h.CreateAnnouncement)
		announcements.PUT("/:id", authn, staffOnly, h.UpdateAnnouncement)
		announcements.DELETE("/:id", authn, staffOnly, h.DeleteAnnouncement)
	}

	sales := api.Group("/sales", authn, staffOnly)
	{
		sales.GET("", h.ListSales)
		sales.POST("", h.CreateSale)
		sales.GET("/export", h.ExportSales)
		sales.DELETE("/:id", h.DeleteSale)
	}

	api.GET("/dashboard/summary", authn, staffOnly, h.DashboardSummary)

	analytics := api.Group("/analytics", authn)
	{
		analytics.GET("/npk", h.NPK)
		analytics.GET("/crops", h.Crops)
	}

	firmware := api.Group("/firmware")
	{
		firmware.GET("", caching, h.ListFirmware)
		firmware.GET("/latest", h.LatestFirmware)
		firmware.POST("", authn, adminOnly, h.UploadFirmware)
	}

	backups := base.Group("/backup", authn, adminOnly)
	{
		backups.GET("/download", h.DownloadBackup)
		backups.POST("/run", h.RunBackup)
		backups.GET("/files", h.ListBackups)
		backups.GET("/files/:name", h.GetBackupFile)
		backups.POST("/clean", h.CleanBackups)
	}

	api.POST("/sms/iprogsms/send", authn, staffOnly, h.SendSMS)

	push := api.Group("/push")
	{
		push.GET("/subscriptions", h.GetSubscription)
		push.PUT("/subscriptions", h.PutSubscription)
		push.DELETE("/subscriptions", h.DeleteSubscription)
		push.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
