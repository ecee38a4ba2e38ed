package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerWritesFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	cfg := DefaultLogConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "logs")
	cfg.Console = false
	cfg.Level = "debug"

	closer, err := InitLogger(cfg)
	require.NoError(t, err)

	logger := ComponentLogger("test")
	logger.Debug().Msg("hello from test")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(cfg.Directory, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "hello from test")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitLoggerFallsBackToInfo(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	cfg := DefaultLogConfig()
	cfg.Directory = t.TempDir()
	cfg.Console = false
	cfg.Level = "verbose"

	closer, err := InitLogger(cfg)
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestGetDiskUsage(t *testing.T) {
	usage, err := GetDiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, usage.UsedPercent, 0.0)
	assert.LessOrEqual(t, usage.UsedPercent, 100.0)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotZero(t, info.CPUCores)
	assert.NotEmpty(t, info.GoVersion)
}
