package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"telecare/config"
	"telecare/internal/notification"
	"telecare/internal/repository"
	"telecare/internal/service"
	"telecare/internal/storage"
	"telecare/internal/transport/rest"
	"telecare/internal/transport/websocket"
	"telecare/pkg/auth"
	"telecare/pkg/database"
)

// @title Telecare API
// @version 1.0
// @description Real-time consultation session coordination API

// @host localhost:8080
// @BasePath /api/v1
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("running database migrations")
	if err := database.RunMigrations(db, "./migrations", logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("migrations applied")

	var fileStorage storage.FileStorage
	if cfg.S3.Endpoint != "" {
		s3Storage, err := storage.NewS3Storage(cfg.S3, logger)
		if err != nil {
			logger.Fatal("failed to initialize S3 storage", zap.Error(err))
		}
		fileStorage = s3Storage
		logger.Info("S3 storage initialized", zap.String("endpoint", cfg.S3.Endpoint))
	} else {
		logger.Warn("S3 storage is not configured, attachment upload is unavailable")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	notifier := notification.NewEnqueuer(asynqClient, logger)

	asynqServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 5,
	})
	mux := asynq.NewServeMux()
	worker := notification.NewWorker(notification.NewSMTPSender(cfg.SMTP), logger)
	worker.Register(mux)
	go func() {
		if err := asynqServer.Run(mux); err != nil {
			logger.Fatal("failed to run task worker", zap.Error(err))
		}
	}()

	repos := repository.NewRepositories(db)

	joinLinks := auth.NewJoinLinkManager(cfg.JWT.SigningKey, cfg.JWT.JoinLinkTTL)

	services := service.NewServices(service.Deps{
		Repos:     repos,
		Logger:    logger,
		Config:    cfg,
		JoinLinks: joinLinks,
		Notifier:  notifier,
	})

	hub := websocket.NewHub(services, logger)
	go hub.Run()

	handler := rest.NewHandler(services, logger, cfg, hub, fileStorage)

	router := gin.Default()

	handler.InitRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	asynqServer.Shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("failed to stop server", zap.Error(err))
	}

	logger.Info("server stopped")
}
