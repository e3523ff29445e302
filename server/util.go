package server

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appcfg "github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/logger"
)

// newUpgrader creates a WebSocket upgrader with origin checking from config.
func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     checkOrigin,
	}
}

// checkOrigin validates WebSocket origin against configured allowed origins
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g. direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	serverCfg, err := appcfg.GetServerConfig()
	if err != nil {
		// If config fails to load, use secure defaults (localhost only)
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}

	for _, allowedOrigin := range serverCfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowedOrigin) {
			return true
		}
	}

	return false
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close() // best-effort; caller retries on actual bind
	return true
}

// findAvailablePort tries to find an available port starting from the requested port.
func findAvailablePort(requestedPort int) (int, error) {
	if isPortAvailable(requestedPort) {
		return requestedPort, nil
	}

	preferredPorts := []int{appcfg.DefaultGatewayPort, appcfg.FallbackGatewayPort}
	for _, port := range preferredPorts {
		if port != requestedPort && isPortAvailable(port) {
			return port, nil
		}
	}

	fallbackStart := 56787
	for i := 0; i < 10; i++ {
		port := fallbackStart + i
		if isPortAvailable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available ports found (tried %d, %d, %d, and range 56787-56796)", requestedPort, appcfg.DefaultGatewayPort, appcfg.FallbackGatewayPort)
}

// createFileCore creates a zap core for file logging without colors
func createFileCore(path string, verbosity int) (zapcore.Core, error) {
	dir := "tmp"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	writer := zapcore.AddSync(file)

	return zapcore.NewCore(encoder, writer, logger.VerbosityToLevel(verbosity)), nil
}
