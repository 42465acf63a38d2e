// Package api exposes the control surface: read-only queries over engine
// state, JWT-guarded commands, signal intake, and a websocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trade-engine/internal/account"
	"trade-engine/internal/engine"
	"trade-engine/internal/events"
	"trade-engine/internal/monitor"
	"trade-engine/internal/position"
	"trade-engine/internal/signal"
	"trade-engine/pkg/db"
)

// Core is the engine surface the API depends on.
type Core interface {
	Status() engine.Status
	Positions() []position.Position
	Trades() []position.Trade
	Orders(ctx context.Context, limit int) ([]db.Order, error)
	Balance() account.Balance
	Performance() account.Performance
	SubmitSignal(s signal.Signal) error
	Start() error
	Stop() error
	EmergencyStop(reason string) error
	ResetEmergencyStop()
	SetMode(mode string) error
	CloseAllPositions(reason string) (int, error)
	CancelAllOrders() (int, error)
}

// Server wires HTTP endpoints around the engine and the event bus.
type Server struct {
	Router    *gin.Engine
	Core      Core
	Bus       *events.Bus
	Monitor   *monitor.Monitor
	JWTSecret string
	AdminKey  string
}

func NewServer(core Core, bus *events.Bus, mon *monitor.Monitor, jwtSecret, adminKey string) *Server {
	r := gin.New()

	var metrics *monitor.SystemMetrics
	if mon != nil {
		metrics = mon.Metrics()
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Core:      core,
		Bus:       bus,
		Monitor:   mon,
		JWTSecret: jwtSecret,
		AdminKey:  adminKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/events", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		// Read-only queries
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/orders", s.getOrders)
		api.GET("/balance", s.getBalance)
		api.GET("/performance", s.getPerformance)
		api.GET("/trades", s.getTrades)
		api.GET("/alerts", s.getAlerts)
		api.GET("/metrics", s.getMetrics)

		// Commands
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/signals", s.postSignal)
			protected.POST("/engine/start", s.startEngine)
			protected.POST("/engine/stop", s.stopEngine)
			protected.POST("/engine/emergency-stop", s.emergencyStop)
			protected.POST("/engine/reset-emergency", s.resetEmergency)
			protected.POST("/engine/mode", s.setMode)
			protected.POST("/positions/close-all", s.closeAllPositions)
			protected.POST("/orders/cancel-all", s.cancelAllOrders)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
