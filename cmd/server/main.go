// Package main is the entry point of the application
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/match-server/internal/auth"
	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/config"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/server"
	"github.com/tecu23/match-server/pkg/session"
)

// App encapsulates global dependencies
type application struct {
	Auth      *auth.APIKeyAuth
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Forwarder *events.NATSForwarder
	Hub       *server.Hub
	Server    *http.Server

	ConnConfig server.ConnectionConfig
	Upgrader   *websocket.Upgrader

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port (overrides PORT)")
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	if *debug {
		cfg.Debug = true
	}
	if *port != "" {
		cfg.Port = *port
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	if envErr != nil {
		logger.Warn("no .env file loaded", zap.Error(envErr))
	}

	// Initialize event publisher
	publisher := events.NewPublisher()

	var forwarder *events.NATSForwarder
	if cfg.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		forwarder, err = events.DialNATS(natsCfg, logger)
		if err != nil {
			logger.Fatal("NATS connection error", zap.Error(err))
		}
		forwarder.Attach(publisher)
		logger.Info("forwarding session events to NATS", zap.String("url", cfg.NATS.URL))
	}

	hub := server.NewHub(server.HubConfig{
		Session: session.Options{
			TimeControl: chess.TimeControl{
				InitialSeconds: cfg.Clock.InitialSeconds,
				TickInterval:   cfg.Clock.TickInterval,
			},
			Clock:        clockwork.NewRealClock(),
			ResetPolicy:  session.ResetPolicy(cfg.Sessions.ResetPolicy),
			ShareBaseURL: cfg.Sessions.ShareBaseURL,
		},
		KeepWithSpectators: cfg.Sessions.KeepWithSpectators,
	}, publisher, logger)

	connConfig := server.DefaultConnectionConfig()

	app := &application{
		Auth:       auth.NewAPIKeyAuth(cfg.HTTP.APIKeys),
		Logger:     logger,
		Config:     cfg,
		Publisher:  publisher,
		Forwarder:  forwarder,
		Hub:        hub,
		ConnConfig: connConfig,
		Upgrader:   connConfig.Upgrader(checkOrigin(cfg.HTTP.AllowedOrigins)),
		StartTime:  time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.Hub.Run(ctx)

	err = app.serve()
	if err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	// Shut down hub
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	if app.Forwarder != nil {
		if err := app.Forwarder.Close(); err != nil {
			app.Logger.Warn("failed to drain NATS connection", zap.Error(err))
		}
	}

	app.Logger.Info("All components shut down successfully")
}
