package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
	"github.com/aituberlink/core/internal/auth"
	"github.com/aituberlink/core/internal/bridge"
	"github.com/aituberlink/core/internal/broker"
	"github.com/aituberlink/core/internal/settings"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, conn *broker.Connection, hub *bridge.Hub, store *settings.Store, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "aituber-link-core",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.GET("/status", func(c echo.Context) error {
		return getStatus(c, conn)
	})

	v1.POST("/connection/connect", func(c echo.Context) error {
		return connect(c, conn, store, logger)
	})
	v1.POST("/connection/disconnect", func(c echo.Context) error {
		return disconnect(c, conn)
	})

	v1.GET("/settings", func(c echo.Context) error {
		return getSettings(c, store)
	})
	v1.PUT("/settings", func(c echo.Context) error {
		return updateSettings(c, store, logger)
	})

	v1.POST("/bridge/auth", func(c echo.Context) error {
		return bridgeAuth(c, logger)
	})

	// WebSocket endpoint for renderers, token checked before upgrade
	e.GET("/ws", func(c echo.Context) error {
		return bridge.HandleWebSocket(hub, c, logger)
	})
}

func getStatus(c echo.Context, conn *broker.Connection) error {
	resp := StatusResponse{
		Status:        conn.Status(),
		Attempts:      conn.Attempts(),
		Subscriptions: conn.Subscriptions(),
	}
	if cerr := conn.LastError(); cerr != nil {
		resp.LastError = &LastErrorResponse{
			Code:        cerr.Code,
			Message:     cerr.Message,
			Remediation: cerr.FormatRemediation(),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func connect(c echo.Context, conn *broker.Connection, store *settings.Store, logger *zap.Logger) error {
	s := store.Get()
	cfg := settings.BuildConnectionConfig(s)

	conn.SetTopics(settings.ExtraTopics(s))
	if err := conn.Connect(cfg); err != nil {
		logger.Warn("Connect request rejected", zap.Error(err))
		result := broker.ValidateConfig(cfg)
		return c.JSON(http.StatusBadRequest, SettingsResponse{
			Settings:   s,
			Validation: result,
		})
	}

	// Persist the identifier the broker will see, migrated ids included.
	if s.ClientID != cfg.ClientID {
		if err := store.SaveClientID(cfg.ClientID); err != nil {
			logger.Error("Failed to persist client id", zap.Error(err))
		}
	}

	return getStatus(c, conn)
}

func disconnect(c echo.Context, conn *broker.Connection) error {
	conn.Disconnect()
	return getStatus(c, conn)
}

func getSettings(c echo.Context, store *settings.Store) error {
	s := store.Get()
	return c.JSON(http.StatusOK, SettingsResponse{
		Settings:   s,
		Validation: broker.ValidateConfig(settings.BuildConnectionConfig(s)),
	})
}

func updateSettings(c echo.Context, store *settings.Store, logger *zap.Logger) error {
	var s entities.Settings

	if err := c.Bind(&s); err != nil {
		logger.Error("Failed to bind settings request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	result := broker.ValidateConfig(settings.BuildConnectionConfig(s))
	if !result.Valid {
		return c.JSON(http.StatusBadRequest, SettingsResponse{
			Settings:   s,
			Validation: result,
		})
	}

	if err := store.Save(s); err != nil {
		logger.Error("Failed to save settings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "save_failed",
			Message: "Failed to persist settings",
		})
	}

	logger.Info("Settings updated",
		zap.String("host", s.Host),
		zap.Int("port", s.Port))

	return c.JSON(http.StatusOK, SettingsResponse{
		Settings:   s,
		Validation: result,
	})
}

func bridgeAuth(c echo.Context, logger *zap.Logger) error {
	var req BridgeAuthRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind bridge auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.RendererID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Renderer id is required",
		})
	}

	token, err := auth.GenerateRendererToken(req.RendererID)
	if err != nil {
		logger.Error("Failed to generate renderer token",
			zap.String("renderer_id", req.RendererID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Renderer authenticated", zap.String("renderer_id", req.RendererID))

	return c.JSON(http.StatusOK, BridgeAuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	})
}
