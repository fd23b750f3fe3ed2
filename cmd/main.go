package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicpulse/hazard_reporting_engine/internal/cluster"
	"github.com/civicpulse/hazard_reporting_engine/internal/collaborators"
	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/geoindex"
	v1 "github.com/civicpulse/hazard_reporting_engine/internal/handler/http/v1"
	"github.com/civicpulse/hazard_reporting_engine/internal/metrics"
	"github.com/civicpulse/hazard_reporting_engine/internal/normalizer"
	"github.com/civicpulse/hazard_reporting_engine/internal/notification"
	"github.com/civicpulse/hazard_reporting_engine/internal/repository"
	"github.com/civicpulse/hazard_reporting_engine/internal/service"
	"github.com/civicpulse/hazard_reporting_engine/pkg/logger"
	"github.com/civicpulse/hazard_reporting_engine/pkg/postgres"
	redisclient "github.com/civicpulse/hazard_reporting_engine/pkg/redis"
	"github.com/sirupsen/logrus"

	_ "github.com/civicpulse/hazard_reporting_engine/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Hazard Reporting Engine API
// @version 1.0
// @description Incident clustering and resolution lifecycle engine for citizen hazard reports.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
	}

	m, err := migrate.New(
		"file://migrations",
		migrationURL,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	log := logger.New(cfg.LogLevel)

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запуск миграций
	if err := runMigrations(cfg, log); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Подключение к PostgreSQL
	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()
	log.Info("Successfully connected to PostgreSQL")

	// Инициализация Redis клиента
	redisClient, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	// Регистрация метрик
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	engineMetrics := metrics.New(registry)

	// Инициализация репозитория
	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient)

	// Геоиндекс и движок кластеризации
	grid := geoindex.NewGrid(cfg.JoinRadiusMeters)
	clusterEngine := cluster.NewEngine(incidentRepo, grid, log, engineMetrics, cfg.JoinRadiusMeters, cfg.JoinWindow)
	if err := clusterEngine.WarmIndex(ctx); err != nil {
		log.Fatalf("Failed to warm geo index: %v", err)
	}

	// Очередь уведомлений: издатель, воркер доставки и sweeper восстановления
	publisher := notification.NewRedisPublisher(redisClient)
	messenger := notification.NewHTTPMessenger(cfg)
	worker := notification.NewWorker(redisClient, incidentRepo, messenger, log, cfg, engineMetrics)
	worker.Start(ctx)
	sweeper := notification.NewSweeper(incidentRepo, publisher, log, cfg)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("Failed to start notification sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Инициализация сервисов
	incidentService := service.NewIncidentService(incidentRepo, normalizer.New(), clusterEngine, publisher, log, cfg, engineMetrics)

	// Внешние коллабораторы
	classifier := collaborators.NewHTTPClassifier(cfg)
	blobStore := collaborators.NewHTTPBlobStore(cfg)

	// Инициализация хэндлеров
	handler := v1.NewHandler(incidentService, classifier, blobStore, log, cfg)

	// Настройка Gin роутера
	router := gin.Default()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	// Маршруты для Swagger UI и метрик
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Запуск HTTP-сервера
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	// Запуск сервера в горутине
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error starting HTTP server: %v", err)
		}
	}()
	log.Infof("HTTP server started on port %s", cfg.HTTPPort)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Received shutdown signal, shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server gracefully stopped")
}
