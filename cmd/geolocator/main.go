package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const serviceName = "geolocator"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := newServeCmd(&configPath)
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "IP geolocation lookup service",
		Version:      version,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.AddCommand(serve, newLookupCmd(&configPath))

	return root
}

// setupLogger initializes structured logging and makes it the default logger.
func setupLogger(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: getLogLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// getLogLevel converts string log level to slog.Level
func getLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const requestIDHeader = "X-Request-ID"

// ginLogger creates a Gin middleware that logs using slog. Each request gets
// an id, taken from X-Request-ID when the caller sent one.
func ginLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		// Process request
		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		attrs := []any{
			"method", method,
			"path", path,
			"status", statusCode,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestID,
		}

		if len(c.Errors) > 0 {
			logger.Error("request completed with errors", append(attrs, "errors", c.Errors.String())...)
		} else if statusCode >= 500 {
			logger.Error("request completed", attrs...)
		} else if statusCode >= 400 {
			logger.Warn("request completed", attrs...)
		} else {
			logger.Info("request completed", attrs...)
		}
	}
}
