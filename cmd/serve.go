package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain/entities"
	"github.com/satriahrh/sahayak/internal/api"
	"github.com/satriahrh/sahayak/internal/auth"
	"github.com/satriahrh/sahayak/internal/websocket"
	"github.com/satriahrh/sahayak/usecase"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket UI surface",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides config and PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// hub is assigned before the server accepts any command.
	var hub *websocket.Hub
	comps, err := buildComponents(cfg, logger, reg, func(snap entities.LiveSnapshot) {
		hub.Broadcast(snap)
	})
	if err != nil {
		return err
	}

	generator, err := comps.chatGenerator(cfg, logger)
	if err != nil {
		return err
	}

	// Initialize usecase services
	liveService := usecase.NewLiveService(comps.manager, logger)
	chatService := usecase.NewChatService(generator, comps.credentials, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub = websocket.NewHub(liveService, logger)
	go hub.Run(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if !signer.Enabled() {
		logger.Warn("No JWT secret configured, UI authentication is disabled")
	}

	api.InitRoutes(e, api.Dependencies{
		Live:     liveService,
		Chat:     chatService,
		Hub:      hub,
		Signer:   signer,
		Gatherer: reg,
		Logger:   logger,
	})

	port := strconv.Itoa(cfg.Server.Port)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", port),
		zap.String("model", cfg.Live.Model),
		zap.Bool("speaker", !cfg.Audio.NoSpeaker))

	<-ctx.Done()

	logger.Info("Server is shutting down...")

	comps.manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
