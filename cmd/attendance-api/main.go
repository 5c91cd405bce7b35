package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/kcea-attendance/api/swagger"
	"github.com/noah-isme/kcea-attendance/internal/handler"
	"github.com/noah-isme/kcea-attendance/internal/middleware"
	"github.com/noah-isme/kcea-attendance/internal/repository"
	"github.com/noah-isme/kcea-attendance/internal/service"
	"github.com/noah-isme/kcea-attendance/pkg/cache"
	"github.com/noah-isme/kcea-attendance/pkg/config"
	"github.com/noah-isme/kcea-attendance/pkg/database"
	"github.com/noah-isme/kcea-attendance/pkg/jobs"
	"github.com/noah-isme/kcea-attendance/pkg/logger"
	"github.com/noah-isme/kcea-attendance/pkg/notify"
	"github.com/noah-isme/kcea-attendance/pkg/realtime"
	"github.com/noah-isme/kcea-attendance/pkg/reporting"
)

// @title KCEA Attendance API
// @version 1.0.0
// @description Attendance marking, sessions and reporting for KCEA
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWT.Secret == "dev_secret" {
			return errors.New("JWT_SECRET must be set in production")
		}
	}
	loc := cfg.Attendance.Location()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	reporter := reporting.New(cfg.Rollbar, cfg.Env, logr)
	defer reporter.Close() //nolint:errcheck

	sender, err := notify.New(cfg, logr)
	if err != nil {
		return fmt.Errorf("otp delivery: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	courses := repository.NewCourseRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	sessions := repository.NewSessionRepository(db)
	records := repository.NewAttendanceRepository(db)
	periods := repository.NewPeriodRepository(db)
	otps := repository.NewOTPRepository(db)

	checks := map[string]handler.Check{"database": db.PingContext}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		redisRepo := repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix)
		checks["redis"] = redisRepo.Ping
		cacheRepo = redisRepo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Summary.CacheTTL, logr, cfg.Summary.CacheEnabled)

	var publisher service.EventPublisher
	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(cfg.Realtime.SendBuffer, logr)
		go hub.Run(ctx)
		metrics.RegisterGauge("realtime_clients", "Connected websocket subscribers.", func() float64 { return float64(hub.ClientCount()) })
		publisher = hub
	}

	periodSvc := service.NewPeriodService(periods, loc, logr)
	schedule, err := service.ParsePeriodSchedule(cfg.Attendance.PeriodSchedule)
	if err != nil {
		return fmt.Errorf("PERIOD_SCHEDULE: %w", err)
	}
	if err := periodSvc.Seed(ctx, schedule); err != nil {
		return fmt.Errorf("seed periods: %w", err)
	}

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	otpSvc := service.NewOTPService(otps, users, authSvc, sender, metrics, validate, logr, service.OTPConfig{TTL: cfg.OTP.TTL, Length: cfg.OTP.Length})
	userSvc := service.NewUserService(users, cacheSvc, validate, logr)
	courseSvc := service.NewCourseService(courses, enrollments, users, users, validate, logr)

	attendanceSvc := service.NewAttendanceService(service.AttendanceServiceDeps{
		Records:     records,
		Periods:     periodSvc,
		Sessions:    sessions,
		Courses:     courses,
		Enrollments: enrollments,
		Cache:       cacheSvc,
		Publisher:   publisher,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
		Location:    loc,
	})

	var onClose service.SessionCloseListener
	if cfg.Attendance.MarkAbsentOnClose {
		worker := service.NewAbsenteeWorker(attendanceSvc, logr)
		worker.Start(ctx)
		defer worker.Stop()
		metrics.RegisterGauge("absentee_jobs_pending", "Closed sessions waiting for absentee marks.", func() float64 { return float64(worker.Stats().Pending) })
		metrics.RegisterGauge("absentee_jobs_failed", "Absentee jobs that exhausted their retries.", func() float64 { return float64(worker.Stats().Failed) })
		onClose = worker
	}
	sessionSvc := service.NewSessionService(service.SessionServiceDeps{
		Sessions:    sessions,
		Courses:     courses,
		Enrollments: enrollments,
		Audit:       users,
		Publisher:   publisher,
		OnClose:     onClose,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
		Location:    loc,
	})
	summarySvc := service.NewSummaryService(records, users, sessions, cacheSvc, cfg.Attendance.RecentPageSize, loc, logr)
	exportSvc := service.NewExportService(records, courses, validate, loc, logr)

	go jobs.Every(ctx, "otp-purge", 10*time.Minute, logr, otpSvc.PurgeExpired)
	go jobs.Every(ctx, "session-purge", time.Hour, logr, authSvc.PurgeExpiredSessions)

	realtimeHandler := handler.NewRealtimeHandler(nil, authSvc, enrollments, logr)
	if hub != nil {
		realtimeHandler = handler.NewRealtimeHandler(hub, authSvc, enrollments, logr)
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Tokens:         authSvc,
		OTPLimiter:     middleware.NewRateLimiter(cfg.OTP.RateLimitPerMinute),
		Metrics:        metrics,
		Reporter:       reporter,
		Logger:         logr,
		Auth:           handler.NewAuthHandler(authSvc, otpSvc, userSvc),
		Users:          handler.NewUserHandler(userSvc),
		Periods:        handler.NewPeriodHandler(periodSvc),
		Attendance:     handler.NewAttendanceHandler(attendanceSvc, summarySvc, exportSvc),
		Courses:        handler.NewCourseHandler(courseSvc),
		Sessions:       handler.NewSessionHandler(sessionSvc, attendanceSvc),
		Realtime:       realtimeHandler,
		Ops:            handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
