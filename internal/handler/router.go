package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/middleware"
	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/service"
	"github.com/noah-isme/kcea-attendance/pkg/logger"
	corsmiddleware "github.com/noah-isme/kcea-attendance/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/kcea-attendance/pkg/middleware/requestid"
	"github.com/noah-isme/kcea-attendance/pkg/reporting"
)

// RouterConfig collects everything the HTTP surface needs.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool

	Tokens     middleware.TokenValidator
	OTPLimiter *middleware.RateLimiter
	Metrics    *service.MetricsService
	Reporter   *reporting.Reporter
	Logger     *zap.Logger

	Auth       *AuthHandler
	Users      *UserHandler
	Periods    *PeriodHandler
	Attendance *AttendanceHandler
	Courses    *CourseHandler
	Sessions   *SessionHandler
	Realtime   *RealtimeHandler
	Ops        *MetricsHandler
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	if cfg.Reporter != nil {
		r.Use(cfg.Reporter.Recovery())
	} else {
		r.Use(gin.Recovery())
	}
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics, "/metrics"))
	if cfg.Reporter != nil {
		r.Use(cfg.Reporter.Middleware())
	}

	r.GET("/health", cfg.Ops.Health)
	r.GET("/ready", cfg.Ops.Ready)
	r.GET("/metrics", cfg.Ops.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authn := middleware.JWT(cfg.Tokens)
	staff := middleware.RequireStaff()
	admin := middleware.RequireRoles(models.RoleAdmin)
	student := middleware.RequireRoles(models.RoleStudent)

	auth := api.Group("/auth")
	auth.POST("/register", cfg.Auth.Register)
	auth.POST("/login", cfg.Auth.Login)
	auth.POST("/otp/request", cfg.OTPLimiter.Middleware(), cfg.Auth.RequestOTP)
	auth.POST("/otp/verify", cfg.OTPLimiter.Middleware(), cfg.Auth.VerifyOTP)
	auth.POST("/refresh", cfg.Auth.Refresh)
	auth.POST("/logout", authn, cfg.Auth.Logout)
	auth.GET("/me", authn, cfg.Auth.Me)
	auth.POST("/password", authn, cfg.Auth.ChangePassword)

	users := api.Group("/users", authn)
	users.GET("/me", cfg.Users.Me)
	users.PUT("/me", cfg.Users.UpdateMe)
	users.GET("", staff, cfg.Users.List)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleTeacher), "SELF"), cfg.Users.Get)
	users.PATCH("/:id/active", admin, cfg.Users.SetActive)
	users.DELETE("/:id", admin, cfg.Users.Delete)

	periods := api.Group("/periods", authn)
	periods.GET("", cfg.Periods.List)
	periods.GET("/current", cfg.Periods.Current)

	attendance := api.Group("/attendance", authn)
	attendance.POST("/periods/mark", student, cfg.Attendance.MarkPeriod)
	attendance.POST("/sessions/mark", student, cfg.Attendance.MarkSession)
	attendance.GET("/summary", cfg.Attendance.Summary)
	attendance.GET("/summary/:studentId", staff, cfg.Attendance.StudentSummary)
	attendance.GET("/history", cfg.Attendance.History)
	attendance.GET("/records", staff, cfg.Attendance.Records)
	attendance.GET("/records/export", staff, cfg.Attendance.Export)
	attendance.GET("/overview", admin, cfg.Attendance.Overview)

	courses := api.Group("/courses", authn)
	courses.POST("", staff, cfg.Courses.Create)
	courses.GET("", cfg.Courses.List)
	courses.GET("/:id", cfg.Courses.Get)
	courses.GET("/:id/sheet", cfg.Attendance.CourseSheet)
	courses.GET("/:id/sessions", cfg.Sessions.ListByCourse)
	courses.POST("/:id/enroll", cfg.Courses.Enroll)
	courses.DELETE("/:id/enroll/:studentId", cfg.Courses.Unenroll)

	sessions := api.Group("/sessions", authn)
	sessions.POST("", staff, cfg.Sessions.Open)
	sessions.GET("/active", cfg.Sessions.Active)
	sessions.GET("/:id", cfg.Sessions.Get)
	sessions.POST("/:id/close", staff, cfg.Sessions.Close)
	sessions.GET("/:id/qr", staff, cfg.Sessions.QRCode)
	sessions.GET("/:id/roster", staff, cfg.Sessions.Roster)

	adminGroup := api.Group("/admin", authn, admin)
	adminGroup.GET("/audit-logs", cfg.Users.AuditLogs)

	api.GET("/ws", cfg.Realtime.Subscribe)

	return r
}
