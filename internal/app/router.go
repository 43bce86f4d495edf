package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"groupride/internal/handler"
	"groupride/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler     *handler.RideHandler
	UserHandler     *handler.UserHandler
	CheckInHandler  *handler.CheckInHandler
	TrackingHandler *handler.TrackingHandler
	ProgressHandler *handler.ProgressHandler
	EventsHandler   *handler.EventsHandler
	PositionLimiter *middleware.RateLimiter
	AllowedOrigins  []string
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// User routes.
		users := v1.Group("/users")
		{
			users.POST("/register", deps.UserHandler.Register)
			users.GET("", deps.UserHandler.GetAll)
			users.GET("/:id", deps.UserHandler.GetUser)
		}

		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("", deps.RideHandler.ListRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/join", deps.RideHandler.JoinRide)
			rides.GET("/:id/progress", deps.ProgressHandler.GetProgress)
			rides.POST("/:id/checkpoints/:checkpoint/checkins", middleware.CheckInReplay(deps.RedisClient), deps.CheckInHandler.CheckIn)
		}

		// Position sharing routes.
		if deps.TrackingHandler != nil {
			riders := rides.Group("/:id/riders/:rider")
			position := []gin.HandlerFunc{deps.TrackingHandler.UpdatePosition}
			if deps.PositionLimiter != nil {
				position = append([]gin.HandlerFunc{deps.PositionLimiter.Middleware()}, position...)
			}
			riders.PUT("/position", position...)
			riders.DELETE("/position", deps.TrackingHandler.StopSharing)
			riders.GET("/auto-checkin", deps.TrackingHandler.AutoCheckInStatus)
			riders.POST("/auto-checkin", deps.TrackingHandler.StartAutoCheckIn)
			riders.DELETE("/auto-checkin", deps.TrackingHandler.StopAutoCheckIn)
			rides.GET("/:id/checkpoints/:checkpoint/nearby", deps.TrackingHandler.RidersNear)
		}

		// Live notification routes.
		if deps.EventsHandler != nil {
			rides.GET("/:id/events", deps.EventsHandler.Stream)
			rides.GET("/:id/ws", deps.EventsHandler.Websocket)
		}
	}

	return router
}
