package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "relaybench",
	})
}

func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":       "relaybench",
		"version":    s.version,
		"go_version": runtime.Version(),
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	})
}
