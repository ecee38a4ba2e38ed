package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/db"
	intnet "github.com/energizer-project/gamerecorder/internal/network"
	"github.com/energizer-project/gamerecorder/internal/replay"
	"github.com/energizer-project/gamerecorder/internal/storage"
	"github.com/energizer-project/gamerecorder/internal/util"
)

// Response headers of the replay download.
const (
	HeaderReplayID  = "X-Replay-ID"
	HeaderReplayCRC = "X-Replay-CRC32"
)

// handleGetCaptureStats returns recorder, archiver and host counters.
func (s *Server) handleGetCaptureStats(c *gin.Context) {
	resp := gin.H{}

	if s.deps.Recorder != nil {
		resp["capture"] = s.deps.Recorder.Stats()
	}
	if s.deps.Archiver != nil {
		resp["archive"] = s.deps.Archiver.Stats()
	}
	if s.deps.Hosts != nil {
		resp["connected_hosts"] = s.deps.Hosts.Count()
	}
	if s.deps.Replays != nil {
		if n, err := s.deps.Replays.Count(); err == nil {
			resp["archived_replays"] = n
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetHosts lists connected hosts.
func (s *Server) handleGetHosts(c *gin.Context) {
	hosts := []intnet.HostInfo{}
	if s.deps.Hosts != nil {
		hosts = s.deps.Hosts.Hosts()
	}
	c.JSON(http.StatusOK, gin.H{
		"hosts": hosts,
		"total": len(hosts),
	})
}

// handleGetCPUUsage returns current system CPU usage.
func (s *Server) handleGetCPUUsage(c *gin.Context) {
	usage, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent": usage,
	})
}

// handleGetMemoryUsage returns system memory usage and the recorder's RSS.
func (s *Server) handleGetMemoryUsage(c *gin.Context) {
	mem, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, mem)
}

// handleGetReplays lists archived replays, newest first.
func (s *Server) handleGetReplays(c *gin.Context) {
	if !s.requireReplays(c) {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	replays, err := s.deps.Replays.List(limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list replays")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list replays"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"replays": replays,
		"count":   len(replays),
	})
}

// handleGetReplay serves the latest replay blob of a match.
func (s *Server) handleGetReplay(c *gin.Context) {
	stored, ok := s.loadReplay(c)
	if !ok {
		return
	}

	name := fmt.Sprintf("M%d-%s%s", stored.MatchID, stored.ID, storage.FileExtension)
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Header(HeaderReplayID, stored.ID)
	c.Header(HeaderReplayCRC, strconv.FormatUint(uint64(stored.CRC32), 10))
	c.Data(http.StatusOK, "application/octet-stream", stored.Blob)
}

// handleGetReplaySummary decodes the latest replay of a match and returns
// per-session counters.
func (s *Server) handleGetReplaySummary(c *gin.Context) {
	stored, ok := s.loadReplay(c)
	if !ok {
		return
	}

	blocks, err := replay.Decode(stored.Blob)
	if err != nil {
		log.Error().Err(err).Str("replay_id", stored.ID).Msg("archived replay does not decode")
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "replay is corrupt",
			"replay_id": stored.ID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"replay":  stored,
		"summary": replay.Summarize(blocks, len(stored.Blob)),
	})
}

func (s *Server) requireReplays(c *gin.Context) bool {
	if s.deps.Replays == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "replay database is disabled"})
		return false
	}
	return true
}

// loadReplay resolves :match_id to a verified archived replay, writing the
// error response itself when it cannot.
func (s *Server) loadReplay(c *gin.Context) (*db.StoredReplay, bool) {
	if !s.requireReplays(c) {
		return nil, false
	}

	matchID, err := strconv.ParseUint(c.Param("match_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match ID"})
		return nil, false
	}

	stored, err := s.deps.Replays.Latest(uint32(matchID))
	if errors.Is(err, db.ErrReplayNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "replay not found",
			"match_id": matchID,
		})
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Uint64("match_id", matchID).Msg("failed to load replay")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load replay"})
		return nil, false
	}

	if !stored.Verify() {
		log.Error().Str("replay_id", stored.ID).Msg("archived replay failed checksum")
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "replay checksum mismatch",
			"replay_id": stored.ID,
		})
		return nil, false
	}

	return stored, true
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	logDir := s.cfg.GetApplicationData().Logging.Directory
	entries, err := readRecentLogEntries(logDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries reads the last count JSON lines of the active log file.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	data, err := os.ReadFile(filepath.Join(logDir, util.LogFileName))
	if os.IsNotExist(err) {
		return []logEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")

	start := len(lines) - count - 1
	if start < 0 {
		start = 0
	}

	// Known zerolog internal fields to exclude from "fields"
	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}

		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	if len(result) > count {
		result = result[len(result)-count:]
	}
	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
