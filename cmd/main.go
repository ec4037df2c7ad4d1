package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/aituberlink/core/adapters/llm"
	"github.com/aituberlink/core/domain/entities"
	"github.com/aituberlink/core/domain/repositories"
	"github.com/aituberlink/core/internal/api"
	"github.com/aituberlink/core/internal/bridge"
	"github.com/aituberlink/core/internal/broker"
	"github.com/aituberlink/core/internal/dispatch"
	"github.com/aituberlink/core/internal/settings"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Settings store, file path overridable for multiple instances
	settingsPath := os.Getenv("AITUBER_SETTINGS_FILE")
	if settingsPath == "" {
		settingsPath = "settings.yaml"
	}
	store, err := settings.NewStore(settingsPath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize settings store", zap.Error(err))
	}

	// Chat completion backend, mock unless a Gemini key is configured
	var chat repositories.ChatCompletion
	if gemini, err := llm.NewGeminiChatFromEnv(logger); err != nil {
		logger.Warn("Gemini unavailable, using mock chat", zap.Error(err))
		chat = llm.NewMockChat()
	} else {
		chat = gemini
	}

	// Renderer bridge
	hub := bridge.NewHub(logger)
	go hub.Run()

	// Speech dispatch pipeline
	policy := dispatch.NewPolicy(hub, chat, func() dispatch.Options {
		s := store.Get()
		return dispatch.Options{
			Mode:           entities.SendMode(s.SendMode),
			DefaultEmotion: entities.Emotion(s.DefaultEmotion),
		}
	}, logger)
	dispatcher := dispatch.NewDispatcher(policy, logger)
	dispatcher.OnResult(func(result entities.DispatchResult) {
		if !result.Success {
			logger.Warn("Dispatch failed",
				zap.String("message_id", result.MessageID),
				zap.String("error", result.Error))
		}
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	// Broker connection
	conn := broker.NewConnection(logger)
	conn.SetTopics(settings.ExtraTopics(store.Get()))
	conn.OnMessage(dispatcher.HandleRaw)
	conn.OnStatusChange(func(status entities.ConnectionStatus) {
		logger.Info("Connection status changed", zap.String("status", string(status)))
	})
	conn.OnError(func(cerr broker.ClassifiedError) {
		logger.Warn("Connection error",
			zap.String("code", string(cerr.Code)),
			zap.String("message", cerr.Message))
	})
	defer conn.Disconnect()

	if os.Getenv("AITUBER_AUTOCONNECT") != "false" {
		cfg := settings.BuildConnectionConfig(store.Get())
		if err := conn.Connect(cfg); err != nil {
			logger.Warn("Autoconnect skipped", zap.Error(err))
		} else if err := store.SaveClientID(cfg.ClientID); err != nil {
			logger.Error("Failed to persist client id", zap.Error(err))
		}
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, conn, hub, store, logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", port))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
