package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/gamerecorder/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gamerecorder",
		"version": s.deps.Version,
	})
}

// handleGetServerInfo returns basic recorder and host information.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	rec := s.cfg.GetRecorderData()
	storageCfg := s.cfg.GetApplicationData().Storage
	sysInfo := util.GetSystemInfo()

	hosts := 0
	if s.deps.Hosts != nil {
		hosts = s.deps.Hosts.Count()
	}

	c.JSON(http.StatusOK, gin.H{
		"name":               rec.Name,
		"version":            s.deps.Version,
		"uptime_sec":         int64(time.Since(s.startedAt).Seconds()),
		"capture_port":       rec.CapturePort,
		"evict_after_encode": rec.EvictAfterEncode,
		"connected_hosts":    hosts,
		"database_sink":      storageCfg.DatabaseEnabled,
		"file_sink":          storageCfg.FileEnabled,
		"system":             sysInfo,
	})
}
