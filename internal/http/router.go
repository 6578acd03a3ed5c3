// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"glideway/internal/http/handlers"
	"glideway/internal/http/middleware"
)

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(s.log), middleware.Recovery(s.log))
	r.Use(cors.New(corsConfig(s.allowedOrigins)))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(s.verifier)

	realtimeHandler := handlers.NewRealtimeHandler(s.feed)
	r.GET("/api/ws", auth, realtimeHandler.Serve)

	poolRide := handlers.NewPoolRideHandler(s.poolRides)
	rides := r.Group("/api/poolrides", auth)
	rides.POST("/createpool", middleware.RequireRole(middleware.RoleDriver), poolRide.Create)
	rides.GET("/search", poolRide.Search)
	rides.GET("/fare-estimate", poolRide.FareEstimate)
	rides.GET("/mine", poolRide.ListMine)
	rides.GET("/joined", poolRide.ListJoined)
	rides.GET("/:id", poolRide.Get)
	rides.PUT("/:id/update", poolRide.Update)
	rides.DELETE("/:id", poolRide.Delete)
	rides.POST("/:id/join", poolRide.Join)
	rides.POST("/:id/request-seat", poolRide.Join)
	rides.PUT("/:id/passenger-request", poolRide.DecideByBody)
	rides.PATCH("/:id/passengers/:passengerId", poolRide.DecideByPath)
	rides.DELETE("/:id/passengers/:passengerId", poolRide.RemovePassenger)
	rides.POST("/:id/cancel", poolRide.Cancel)
	rides.POST("/:id/complete", poolRide.Complete)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	cfg.MaxAge = 12 * time.Hour
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for name, check := range s.checks {
		if err := check(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}
	body := gin.H{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
