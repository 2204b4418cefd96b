package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"gorinidrive.com/vault/internal"
	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/blob"
	"gorinidrive.com/vault/internal/clock"
	"gorinidrive.com/vault/internal/config"
	"gorinidrive.com/vault/internal/database"
	"gorinidrive.com/vault/internal/mfa"
	"gorinidrive.com/vault/internal/middleware"
	"gorinidrive.com/vault/internal/vault"
)

// Version tag is populated during build
var Version = "Development"
var logger = logrus.New()

func init() {
	envFile := pflag.String("env", ".env", "path of the .env file to load")
	pflag.Parse()

	// Enviroment variables; a missing .env file is fine when the env is set directly
	if err := godotenv.Load(*envFile); err != nil {
		logger.Warnf("Not loading %s: %s", *envFile, err)
	}
}

func newLogger(isProduction bool) *logrus.Logger {
	return &logrus.Logger{
		Out: os.Stderr,
		Formatter: &logrus.TextFormatter{
			DisableTimestamp: isProduction,
			FullTimestamp:    true,
			TimestampFormat:  time.DateTime,
		},
		Hooks:        logger.Hooks,
		Level:        logrus.InfoLevel,
		ExitFunc:     os.Exit,
		ReportCaller: false,
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.StorageBackend == config.StorageS3 {
		return blob.NewS3Store(ctx, blob.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return blob.NewDiskStore(cfg.FileStoragePath)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Invalid configuration: %s", err)
	}
	logger = newLogger(cfg.IsProduction())
	logger.Infof("Enviroment '%s'", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.ConnectDB(ctx, cfg.DSN())
	if err != nil {
		logger.Fatalf("Database connection error: %s", err)
	}
	defer db.Close()
	logger.Infof("Connected to %s database", cfg.DBName)
	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatalf("Database migration error: %s", err)
	}
	store := database.NewStore(db)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("File storage error: %s", err)
	}
	logger.Infof("Storing files on '%s'", cfg.StorageBackend)

	// Services
	clk := clock.Real()
	mfaManager, err := mfa.NewManager(store, mfa.Options{
		Issuer:        cfg.MFAIssuer,
		SecretKey:     []byte(cfg.MFASecretKey),
		ChallengeTTL:  cfg.MFAChallengeTTL,
		EnrollmentTTL: cfg.MFAEnrollmentTTL,
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatalf("MFA manager error: %s", err)
	}
	recorder := audit.NewRecorder(store, audit.Options{
		QueueSize: cfg.AuditQueueSize,
		Workers:   cfg.AuditWorkers,
		Clock:     clk,
		Logger:    logger,
	})
	recorder.Start()

	handler := &internal.Handler{
		Logger:   logger,
		Config:   cfg,
		Database: store,
		Blobs:    blobs,
		Vault:    vault.NewEngine(store, blobs, logger),
		MFA:      mfaManager,
		Audit:    recorder,
		Mailer:   &internal.SendmailMailer{FromEmail: cfg.EmailAddress, PublicURL: cfg.PublicURL},
		Clock:    clk,
	}

	loginLimiter, err := middleware.RateLimiter(cfg.LoginRate)
	if err != nil {
		logger.Fatalf("Invalid LOGIN_RATE: %s", err)
	}
	mfaLimiter, err := middleware.RateLimiter(cfg.MFARate)
	if err != nil {
		logger.Fatalf("Invalid MFA_RATE: %s", err)
	}

	// Initialize HTTP server and routes
	logger.Info("Registering middleware...")
	middleware.PrometheusInit(mfa.Verifications, audit.Dropped)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logger.Fatalf("Trusted proxies error: %s", err)
	}
	router.Use(gin.Recovery())
	router.Use(middleware.LogHandler(logger))
	router.Use(middleware.ErrorHandler(logger))
	router.Use(handler.InitCookieStore())
	router.Use(handler.InitCors())

	protected := middleware.Protected([]byte(cfg.JWTSecret))
	stepUp := func(h gin.HandlerFunc) gin.HandlerFunc {
		return protected(middleware.RequireMFA(mfaManager)(h))
	}

	// Register routes
	logger.Info("Registering api routes...")
	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			middleware.Abort(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	// Auth
	api.POST("/login", loginLimiter, handler.Login)
	api.POST("/signup", handler.Signup)
	api.POST("/logout", handler.Logout)
	api.GET("/session", protected(handler.Session))
	api.PATCH("/settings", protected(handler.UpdateSettings))
	api.POST("/change_password", protected(handler.ChangePassword))
	api.POST("/delete_account", stepUp(handler.DeleteAccount))
	// Password Reset
	api.GET("/reset_password", loginLimiter, handler.RequestResetPassword)
	api.POST("/reset_password", loginLimiter, handler.ResetPassword)
	// MFA
	api.GET("/mfa", protected(handler.MFAStatus))
	api.POST("/mfa/setup", protected(handler.SetupMFA))
	api.DELETE("/mfa/setup", protected(handler.CancelMFASetup))
	api.POST("/mfa/setup/verify", mfaLimiter, protected(handler.VerifyMFASetup))
	api.POST("/mfa/verify", mfaLimiter, protected(handler.VerifyMFA))
	api.POST("/mfa/disable", mfaLimiter, protected(handler.DisableMFA))
	api.POST("/mfa/backup-codes", mfaLimiter, protected(handler.RegenerateBackupCodes))
	// Files
	api.GET("/files", protected(handler.ListFiles))
	api.POST("/files", protected(handler.UploadFile))
	api.GET("/files/deleted", protected(handler.ListDeletedFiles))
	api.GET("/files/:id", protected(handler.GetFile))
	api.PATCH("/files/:id", protected(handler.UpdateFile))
	api.DELETE("/files/:id", stepUp(handler.DeleteFile))
	api.POST("/files/:id/restore", protected(handler.RestoreFile))
	api.GET("/files/:id/download", protected(handler.DownloadFile))
	api.GET("/files/:id/preview", protected(handler.PreviewFile))
	api.POST("/files/:id/encrypt", stepUp(handler.EncryptFile))
	api.POST("/files/:id/decrypt", stepUp(handler.DecryptFile))
	// File Links
	api.POST("/files/:id/share", protected(handler.CreateShare))
	api.GET("/files/:id/shares", protected(handler.ListShares))
	api.DELETE("/shares/:id", protected(handler.DeleteShare))
	api.GET("/link_preview", loginLimiter, handler.PreviewLink)
	api.GET("/link_download", loginLimiter, handler.DownloadLink)
	// Access control
	api.GET("/access-control/rules", protected(handler.ListRules))
	api.POST("/access-control/rules", protected(handler.CreateRule))
	api.POST("/access-control/rules/:id/toggle", protected(handler.ToggleRule))
	api.DELETE("/access-control/rules/:id", protected(handler.DeleteRule))
	// Audit
	api.GET("/audit/logs", protected(handler.AuditLogs))
	api.GET("/audit/stream", protected(handler.AuditStream))
	// Metrics
	router.GET("/metrics", middleware.MetricsHandler(cfg.MetricsPassword))

	go handler.PingSockets(ctx)
	go handler.PurgeDeleted(ctx)

	listenAddr := fmt.Sprintf("%s:%s", cfg.ListenAddr, cfg.ListenPort)
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Infof("Vault API (%s) is online '%s'", Version, listenAddr)

	// Listen and serve
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Server fatal error: %s", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %s", err)
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Errorf("Audit recorder did not drain: %s", err)
	}
	logger.Info("Server shutdown successfully")
}
