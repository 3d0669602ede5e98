// Package logging configures the fiber logger shared by the HTTP server and
// the background workers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
)

// Setup applies LOG_LEVEL and, when LOG_FILE is set, tees output into a
// size-rotated file.
func Setup() {
	log.SetLevel(ParseLevel(env.GetEnv("LOG_LEVEL", "info")))

	file := env.GetEnv("LOG_FILE", "")
	if file == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    env.GetEnvInt("LOG_MAX_SIZE_MB", 50),
		MaxBackups: env.GetEnvInt("LOG_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvInt("LOG_MAX_AGE_DAYS", 14),
		Compress:   true,
	}))
	log.Infof("[Logging] Writing logs to %s", file)
}

// ParseLevel maps a level name to a fiber log level, defaulting to info.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "fatal":
		return log.LevelFatal
	default:
		return log.LevelInfo
	}
}
