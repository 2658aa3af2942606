package main

import (
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/server"
)

// checkOrigin accepts any origin when none are configured
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}

// handleWebSocket handles WebSocket connections
func (app *application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	ws, err := app.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	// Create and register connection
	conn := server.NewConnection(ws, app.Hub, app.ConnConfig, app.Logger)
	if !app.Hub.Register(conn) {
		ws.Close()
		return
	}

	app.Logger.Info("WebSocket connection established",
		zap.String("connection_id", conn.ID),
		zap.String("remote_addr", r.RemoteAddr))

	// Start connection read/write goroutines
	go conn.WritePump()
	go conn.ReadPump()
}
