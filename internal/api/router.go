package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/slezkinis/pentolymp-backend/internal/api/handlers"
	"github.com/slezkinis/pentolymp-backend/internal/api/middleware"
	"github.com/slezkinis/pentolymp-backend/internal/config"
	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/internal/repository"
	"github.com/slezkinis/pentolymp-backend/internal/scheduler"
	"github.com/slezkinis/pentolymp-backend/internal/service"
	"github.com/slezkinis/pentolymp-backend/internal/websocket"
	"github.com/slezkinis/pentolymp-backend/pkg/database"
	"github.com/slezkinis/pentolymp-backend/pkg/distributed"
	"github.com/slezkinis/pentolymp-backend/pkg/jwt"
	"github.com/slezkinis/pentolymp-backend/pkg/logger"
	"github.com/slezkinis/pentolymp-backend/pkg/ratelimit"
)

// App bundles the router with the background components main has to start
// and stop around the HTTP server's lifetime.
type App struct {
	Router     *gin.Engine
	Hub        *websocket.Hub
	Matchmaker *service.MatchmakingService
	Scheduler  *scheduler.MatchScheduler
}

// NewApp wires repositories, services, the websocket hub and the timeout
// scheduler into a runnable application.
func NewApp(cfg *config.Config, db *database.DB, redisClient *redis.Client) *App {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	ratingRepo := repository.NewRatingRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	timeoutJobRepo := repository.NewTimeoutJobRepository(db)

	// Distributed sweep lock and shared rate limits; both degrade to
	// single-instance behavior without Redis
	var (
		lockManager *distributed.RedisLockManager
		redisLimits *ratelimit.RedisRateLimiter
	)
	if redisClient != nil {
		lockManager = distributed.NewRedisLockManager(redisClient)
		redisLimits = ratelimit.NewRedisRateLimiter(redisClient, "ratelimit:")
	}

	// Services
	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	userService := service.NewUserService(userRepo, jwtManager)
	ratingService := service.NewRatingService(ratingRepo, settingsRepo)
	matchmakingService := service.NewMatchmakingService(
		queueRepo,
		matchRepo,
		taskRepo,
		settingsRepo,
		ratingRepo,
		lockManager,
		cfg.SweepInterval,
		logger.Base(),
	)

	// WebSocket hub
	hub := websocket.NewHub(logger.Base())
	go hub.Run()

	// Match lifecycle and its deadline scheduler reference each other, so
	// the scheduler callback is bound after both exist.
	var matchService *service.MatchService
	matchScheduler := scheduler.NewMatchScheduler(
		timeoutJobRepo,
		func(matchID string) error {
			completion, err := matchService.CheckCompletion(context.Background(), matchID, true)
			if err != nil {
				logger.Error("Deadline completion failed", "matchId", matchID, "error", err)
				return err
			}
			if completion != nil {
				hub.SendToRoom(websocket.MatchRoom(matchID), websocket.NewMatchFinished(completion))
			}
			return nil
		},
		cfg.MisfireGrace,
		logger.Base(),
	)
	matchService = service.NewMatchService(
		matchRepo,
		taskRepo,
		settingsRepo,
		ratingService,
		matchScheduler,
		logger.Base(),
	)

	matchmakingService.SetNotifier(func(userIDs []string, match *models.Match) {
		for _, userID := range userIDs {
			hub.SendToUser(websocket.QueueRoom, userID, websocket.MatchFoundMessage{
				Type:      "match_found",
				MatchID:   match.ID,
				SubjectID: match.SubjectID,
			})
		}
	})

	// Handlers
	authHandler := handlers.NewAuthHandler(userService)
	userHandler := handlers.NewUserHandler(userService, ratingService)
	leaderboardHandler := handlers.NewLeaderboardHandler(ratingService)
	matchHandler := handlers.NewMatchHandler(matchService)
	ratingHandler := handlers.NewRatingHandler(ratingService)
	wsHandler := handlers.NewWebSocketHandler(hub, matchmakingService, matchService)

	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit(redisLimits))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		v1.GET("/ws/queue", middleware.Auth(cfg), wsHandler.HandleQueue)
		v1.GET("/ws/match/:id", middleware.Auth(cfg), wsHandler.HandleMatch)

		v1.GET("/leaderboard", middleware.APIRateLimit(), leaderboardHandler.GetLeaderboard)

		matches := v1.Group("/matches")
		matches.Use(middleware.APIRateLimit())
		{
			matches.GET("/my", middleware.Auth(cfg), matchHandler.GetMyMatches)
			matches.GET("/:id", matchHandler.GetMatch)
		}

		v1.GET("/ratings/me", middleware.Auth(cfg), ratingHandler.GetMyRating)
		v1.GET("/users/me", middleware.Auth(cfg), userHandler.GetCurrentUser)
	}

	return &App{
		Router:     router,
		Hub:        hub,
		Matchmaker: matchmakingService,
		Scheduler:  matchScheduler,
	}
}
