package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trade-engine/internal/engine"
	"trade-engine/internal/monitor"
	"trade-engine/internal/signal"
)

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Core.Status())
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Core.Positions()
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) getOrders(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_LIMIT",
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	orders, err := s.Core.Orders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, s.Core.Balance())
}

func (s *Server) getPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, s.Core.Performance())
}

func (s *Server) getTrades(c *gin.Context) {
	trades := s.Core.Trades()
	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) getAlerts(c *gin.Context) {
	alerts := []monitor.Alert{}
	if s.Monitor != nil {
		alerts = s.Monitor.Recent()
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Monitor == nil {
		c.JSON(http.StatusOK, monitor.MetricsSnapshot{})
		return
	}
	c.JSON(http.StatusOK, s.Monitor.Metrics().GetSnapshot())
}

// postSignal accepts an external trading signal for queueing. The response
// acknowledges queueing only; execution happens on a later dispatch tick.
func (s *Server) postSignal(c *gin.Context) {
	var req struct {
		Symbol           string  `json:"symbol"`
		Action           string  `json:"action"`
		Strength         float64 `json:"strength"`
		Confidence       float64 `json:"confidence"`
		Source           string  `json:"source"`
		TargetPositionID string  `json:"target_position_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	sig := signal.Signal{
		Symbol:           req.Symbol,
		Action:           signal.Action(req.Action),
		Strength:         req.Strength,
		Confidence:       req.Confidence,
		Source:           req.Source,
		TargetPositionID: req.TargetPositionID,
	}
	if sig.Source == "" {
		sig.Source = "api"
	}

	if err := s.Core.SubmitSignal(sig); err != nil {
		status := http.StatusBadRequest
		code := "INVALID_SIGNAL"
		if errors.Is(err, engine.ErrEmergencyStopped) {
			status = http.StatusConflict
			code = "EMERGENCY_STOP"
		}
		c.JSON(status, gin.H{"ok": false, "code": code, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *Server) startEngine(c *gin.Context) {
	if err := s.Core.Start(); err != nil {
		status := http.StatusInternalServerError
		code := "INTERNAL_ERROR"
		switch {
		case errors.Is(err, engine.ErrEmergencyStopped):
			status, code = http.StatusConflict, "EMERGENCY_STOP"
		case errors.Is(err, engine.ErrNotInitialized):
			status, code = http.StatusConflict, "NOT_INITIALIZED"
		}
		c.JSON(status, gin.H{"ok": false, "code": code, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": s.Core.Status()})
}

func (s *Server) stopEngine(c *gin.Context) {
	if err := s.Core.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "code": "NOT_INITIALIZED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": s.Core.Status()})
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// The reason body is optional; an empty body is not an error.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}
	if err := s.Core.EmergencyStop(req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": s.Core.Status()})
}

func (s *Server) resetEmergency(c *gin.Context) {
	s.Core.ResetEmergencyStop()
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": s.Core.Status()})
}

func (s *Server) setMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if err := s.Core.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "code": "INVALID_MODE", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "mode": req.Mode})
}

func (s *Server) closeAllPositions(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	n, err := s.Core.CloseAllPositions(req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "closed": n})
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	n, err := s.Core.CancelAllOrders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "cancelled": n})
}
