package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// health answers 200 for healthy and degraded, 503 for unhealthy.
func (s *Server) health(c *gin.Context) {
	h, err := s.monitor.CheckHealth(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	code := http.StatusOK
	if h.Status == entity.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.monitor.Statistics(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) recoverStalled(c *gin.Context) {
	n, err := s.monitor.RecoverStalled(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": n})
}

func (s *Server) cleanup(c *gin.Context) {
	n, err := s.monitor.Cleanup(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
