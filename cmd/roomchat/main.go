package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/chat"
	"github.com/ageniuscoder/roomchat/internal/config"
	"github.com/ageniuscoder/roomchat/internal/conversations"
	"github.com/ageniuscoder/roomchat/internal/feature"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/ageniuscoder/roomchat/internal/messages"
	"github.com/ageniuscoder/roomchat/internal/metrics"
	"github.com/ageniuscoder/roomchat/internal/otp"
	"github.com/ageniuscoder/roomchat/internal/profile"
	"github.com/ageniuscoder/roomchat/internal/storage/postgres"
	"github.com/ageniuscoder/roomchat/internal/storage/sqlite"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/ageniuscoder/roomchat/internal/typing"
	"github.com/ageniuscoder/roomchat/internal/upload"
	"github.com/ageniuscoder/roomchat/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

type database interface {
	Migrate() error
	Close() error
}

func openDB(cfg config.Config) (*sql.DB, store.Dialect, database, error) {
	if cfg.DBDriver == "postgres" {
		pg, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			return nil, 0, nil, err
		}
		return pg.Db, store.Postgres, pg, nil
	}
	lite, err := sqlite.New(cfg.SQLITEDsn)
	if err != nil {
		return nil, 0, nil, err
	}
	return lite.Db, store.SQLite, lite, nil
}

func setupLogger(cfg config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func uploadGateway(ctx context.Context, cfg config.Config, r *gin.Engine) (upload.Gateway, error) {
	if cfg.UploadBackend == "s3" {
		gw, err := upload.NewS3Gateway(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return gw, nil
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, err
	}
	r.Static("/files", cfg.UploadDir)
	return upload.DiskGateway{Dir: cfg.UploadDir, BaseURL: cfg.UploadBaseURL}, nil
}

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	//config part
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Error loading env file: %v", err)
	}
	cfg := config.MustLoad()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	setupLogger(cfg)

	//database handling
	db, dialect, conn, err := openDB(cfg)
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}
	defer conn.Close()

	if *migrate || cfg.AutoMigrate {
		if err := conn.Migrate(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		slog.Info("migration_completed", "driver", cfg.DBDriver)
		if *migrate {
			return
		}
	}
	st := store.New(db, dialect)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sender otp.Sender = otp.LogSender{}
	if cfg.SendGridAPIKey != "" {
		sender = otp.SendGridSender{APIKey: cfg.SendGridAPIKey, From: cfg.SendGridFrom}
	}
	otpSvc := &otp.Service{
		DB:     st,
		Sender: sender,
		Digits: cfg.OTPDigits,
		TTL:    time.Duration(cfg.OTPTTLSec) * time.Second,
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestLogger())

	gw, err := uploadGateway(ctx, cfg, r)
	if err != nil {
		log.Fatalf("Upload storage: %v", err)
	}
	uploads := &upload.Service{Gateway: gw, MaxBytes: cfg.UploadMaxBytes}

	typingTTL := time.Duration(cfg.TypingTTLSec) * time.Second
	hub := chat.NewHub(st, typing.NewRegistry(typingTTL, nil), chat.Options{
		EventsPerSec: cfg.WSEventsPerSec,
		EventBurst:   cfg.WSEventBurst,
	})
	msgSvc := messages.NewService(st, hub, uploads)
	hub.SetActions(msgSvc)
	go hub.Run(ctx)
	go hub.RunTypingSweeper(ctx, time.Second)

	r.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	users.RegisterPublic(api, &users.Service{
		Store:     st,
		JWTSecret: cfg.JWTSecret,
		JWTTTLMin: cfg.JWTTTLMin,
		OTP:       otpSvc,
	})
	chat.RegisterWS(api, hub, cfg.JWTSecret, cfg.WSAllowedOrigins)

	priv := api.Group("")
	priv.Use(auth.JWTMiddleware(cfg.JWTSecret))
	profile.Register(priv, st)
	feature.Register(priv, st, hub)
	conversations.Register(priv, conversations.NewService(st, hub))
	messages.Register(priv, msgSvc)
	upload.Register(priv, uploads)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http_listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http_server_failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http_shutdown_failed", "err", err)
	}
}
