package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/db"
	"github.com/relaybench/relaybench/internal/util"
)

// handleGetPorts returns the state of every relay port.
func (s *Server) handleGetPorts(c *gin.Context) {
	ports := s.manager.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"ports": ports,
		"total": len(ports),
	})
}

// handleGetPort returns the state of one relay port.
func (s *Server) handleGetPort(c *gin.Context) {
	port, ok := s.portParam(c)
	if !ok {
		return
	}

	cell, _ := s.manager.Cell(port)
	c.JSON(http.StatusOK, cell.Snapshot())
}

// handleGetJournal returns the latest journaled commands of a port.
func (s *Server) handleGetJournal(c *gin.Context) {
	port, ok := s.portParam(c)
	if !ok {
		return
	}

	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	limit := db.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(c.Request.Context(), port, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"port":    port,
		"entries": entries,
	})
}

// handleGetSystem returns host information and current usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	ctx := c.Request.Context()
	info, err := util.CollectHostInfo(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("some host facts unavailable")
	}
	resp := gin.H{"system": info}
	if usage, err := util.SampleUsage(ctx); err == nil {
		resp["usage"] = usage
	}

	c.JSON(http.StatusOK, resp)
}

// portParam parses :port and checks it is a configured relay port.
// It writes the error response itself.
func (s *Server) portParam(c *gin.Context) (int, bool) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil || port < 1 || port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return 0, false
	}

	if _, ok := s.manager.Cell(port); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "port not found"})
		return 0, false
	}
	return port, true
}
