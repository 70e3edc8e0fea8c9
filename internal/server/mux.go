// Package server provides HTTP server construction for mail-connect.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/mail-connect/internal/connect"
	"github.com/alexjbarnes/mail-connect/internal/state"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Service *connect.Service
	Store   *state.Store
	Logger  *slog.Logger
}

// NewMux builds the HTTP mux with the authorize and token-exchange
// endpoints plus the bearer-protected namespace endpoint.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/authorize", connect.HandleAuthorize(cfg.Service, cfg.Logger))
	mux.HandleFunc("/connect/token", connect.HandleToken(cfg.Service, cfg.Logger))

	authMiddleware := connect.Middleware(cfg.Store, cfg.Logger)
	mux.Handle("/namespace", authMiddleware(connect.HandleNamespace(cfg.Store, cfg.Logger)))

	return mux
}
