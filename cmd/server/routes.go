package main

import (
	"net/http"

	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", app.handleHealth)
	mux.HandleFunc("GET /stats", app.authenticate(app.handleStats))
	mux.HandleFunc("GET /ws", app.authenticate(app.handleWebSocket))

	origins := app.Config.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"X-Api-Key", "Content-Type"},
	})

	return c.Handler(mux)
}
