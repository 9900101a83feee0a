package main

import (
	"context"

	"flowsight/internal/handlers"
	"flowsight/internal/metrics"
	"flowsight/internal/realtime"
	"flowsight/internal/reports"
	"flowsight/internal/viz"
	"flowsight/pkg/config"
	"flowsight/pkg/database"
	"flowsight/pkg/kafka"
	"flowsight/pkg/logging"
	"flowsight/pkg/middleware"
	"flowsight/pkg/monitoring"
	"flowsight/pkg/redis"
	"flowsight/pkg/server"
	"flowsight/pkg/version"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	logger := logging.NewLoggerWithService("lookout")

	config.LoadEnv(logger)

	logger.Info("Starting Lookout (Flow Report API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
	clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
	clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
	clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	redisURL := config.GetEnv("REDIS_URL", "")
	kafkaBrokers := config.GetEnvSlice("KAFKA_BROKERS", nil)
	kafkaTopic := config.GetEnv("KAFKA_REPORT_TOPIC", "flowsight.report-events")

	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	postgres := database.MustConnect(dbConfig, logger)
	defer func() { _ = postgres.Close() }()

	chConfig := database.DefaultClickHouseConfig()
	chConfig.Addr = []string{clickhouseHost}
	chConfig.Database = clickhouseDB
	chConfig.Username = clickhouseUser
	chConfig.Password = clickhousePassword
	clickhouse := database.MustConnectClickHouse(chConfig, logger)
	defer func() { _ = clickhouse.Close() }()

	// Redis backs the report content cache; the service runs without it
	var contentCache goredis.UniversalClient
	if redisURL != "" {
		cache, err := redis.NewClientFromURL(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, report content cache disabled")
		} else {
			contentCache = cache
			defer func() { _ = cache.Close() }()
		}
	}

	// Kafka carries the report lifecycle audit stream
	var producer *kafka.Producer
	if len(kafkaBrokers) > 0 {
		p, err := kafka.NewProducer(kafkaBrokers, "lookout", kafkaTopic, logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, report events disabled")
		} else {
			producer = p
			defer func() { _ = producer.Close() }()
		}
	}

	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)

	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(postgres))
	healthChecker.AddCheck("clickhouse", monitoring.DatabaseHealthCheck(clickhouse))
	if contentCache != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(contentCache))
	}
	if producer != nil {
		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.Client()))
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":    dbURL,
		"CLICKHOUSE_HOST": clickhouseHost,
		"CLICKHOUSE_DB":   clickhouseDB,
		"JWT_SECRET":      jwtSecret,
	}))

	serviceMetrics := &metrics.Metrics{
		ReportRequests:    metricsCollector.NewCounter("report_requests_total", "Report generation requests", []string{"status"}),
		ReportGenerations: metricsCollector.NewCounter("report_generations_total", "Completed report generations", []string{"status"}),
		GenerationTime:    metricsCollector.NewHistogram("report_generation_duration_seconds", "Report generation duration", []string{"report_type"}, nil),
		VizQueries:        metricsCollector.NewCounter("viz_queries_total", "Visualization queries executed", []string{"viz_type", "status"}),
		QueryDuration:     metricsCollector.NewHistogram("viz_query_duration_seconds", "Visualization query duration", []string{"viz_type"}, nil),
		RealtimeClients:   metricsCollector.NewGauge("realtime_clients", "Connected realtime clients", nil),
	}

	hub := realtime.NewHub(logger, serviceMetrics)
	go hub.Run()

	store := reports.NewStore(postgres, logger)

	// A nil *Producer inside the interface would dodge the generator's
	// nil check, so only hand it over when Kafka is actually up
	var events reports.EventPublisher
	if producer != nil {
		events = producer
	}
	generator := reports.NewGenerator(store, clickhouse, events, hub, logger, serviceMetrics)
	vizService := viz.NewService(clickhouse, logger, serviceMetrics)

	handlers.Init(store, generator, vizService, contentCache, producer, hub, logger, serviceMetrics)

	router := server.SetupServiceRouter(logger, "lookout", healthChecker, metricsCollector)

	auth := middleware.JWTAuthMiddleware([]byte(jwtSecret))

	apiGroup := router.Group("/api", auth)
	{
		apiGroup.POST("/reports", handlers.CreateReport)
		apiGroup.GET("/reports", handlers.ListReports)
		apiGroup.GET("/reports/archived", handlers.ListArchivedReports)
		apiGroup.DELETE("/reports/:id", handlers.DeleteReport)
		apiGroup.PATCH("/reports/:id", handlers.UpdateReport)
		apiGroup.GET("/reports/:id/content", handlers.GetReportContent)

		apiGroup.GET("/viz/heatmap", handlers.GetTrafficHeatmap)
		apiGroup.GET("/viz/top-talkers", handlers.GetTopTalkers)
		apiGroup.GET("/viz/threat-categories", handlers.GetThreatCategories)
	}

	router.GET("/ws", auth, handlers.ServeWS)

	serverConfig := server.DefaultConfig("lookout", "18020")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
