package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/soleahealth/insights-backend/internal/clients/redis"
	"github.com/soleahealth/insights-backend/internal/db"
	"github.com/soleahealth/insights-backend/internal/handlers"
	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/middleware"
	"github.com/soleahealth/insights-backend/internal/repos"
	"github.com/soleahealth/insights-backend/internal/server"
	"github.com/soleahealth/insights-backend/internal/services"
	"github.com/soleahealth/insights-backend/internal/sse"
	"github.com/soleahealth/insights-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	promptCacheTTL := utils.GetEnvAsInt("PROMPT_CACHE_TTL_SECONDS", 1800, log)
	promptCacheSize := utils.GetEnvAsInt("PROMPT_CACHE_MAX_ENTRIES", 512, log)
	allowOrigins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	userDataRepo := repos.NewUserDataRepo(thePG, log)
	sectionCacheRepo := repos.NewSectionCacheRepo(thePG, log)
	metadataRepo := repos.NewInsightsMetadataRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewHub(log)
	progressBus, err := redis.NewProgressBus(log)
	if err != nil {
		log.Warn("Redis progress bus unavailable, SSE limited to this replica", "error", err)
		progressBus = nil
	} else {
		if err := progressBus.StartForwarder(context.Background(), sseHub.Broadcast); err != nil {
			log.Warn("Could not start progress forwarder", "error", err)
		}
	}

	// Services
	log.Info("Setting up services from main...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	promptCache := services.NewPromptCache(time.Duration(promptCacheTTL)*time.Second, promptCacheSize)
	contextLoader := services.NewContextLoader(thePG, log, userDataRepo)
	fingerprinter := services.NewFingerprinter(log, userDataRepo)
	generator := services.NewSectionGenerator(log, openaiClient, promptCache)
	builder := services.NewSectionBuilder(log, generator)
	store := services.NewResultStore(log, sectionCacheRepo, metadataRepo, fingerprinter)
	insightService := services.NewInsightService(log, contextLoader, builder, sectionCacheRepo, store)
	precomputer := services.NewPrecomputer(log, contextLoader, builder, store)
	regenerationService := services.NewRegenerationService(log, contextLoader, precomputer, store, metadataRepo, fingerprinter, sseHub, progressBus)
	tokenService := services.NewTokenService(log, jwtSecretKey)

	// Handlers
	log.Info("Setting up handlers from main...")
	insightsHandler := handlers.NewInsightsHandler(log, insightService, regenerationService)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, tokenService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:  authMiddleware,
		InsightsHandler: insightsHandler,
		SSEHandler:      sseHandler,
		AllowOrigins:    strings.Split(allowOrigins, ","),
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
