// Package infra provides the HTTP and WebSocket surface of the stream
// context.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	exapp "github.com/dexagg/orderbook-aggregator/business/exchanges/app"
	mdapp "github.com/dexagg/orderbook-aggregator/business/marketdata/app"
	streamapp "github.com/dexagg/orderbook-aggregator/business/stream/app"
	"github.com/dexagg/orderbook-aggregator/internal/config"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
)

// VenueStats exposes per-venue connection health. The exchanges connection
// manager implements it.
type VenueStats interface {
	Stats() map[string]exapp.VenueStats
}

// Server serves the client WebSocket endpoint and the read-only REST
// surface.
type Server struct {
	log     logger.LoggerInterface
	cfg     *config.Config
	version string

	hub    *streamapp.Hub
	store  *mdapp.Store
	venues VenueStats

	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates the stream server.
func NewServer(
	log logger.LoggerInterface,
	cfg *config.Config,
	version string,
	hub *streamapp.Hub,
	store *mdapp.Store,
	venues VenueStats,
) *Server {
	return &Server{
		log:     log,
		cfg:     cfg,
		version: version,
		hub:     hub,
		store:   store,
		venues:  venues,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Public market data; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/markets", s.handleMarkets)
	mux.HandleFunc("/assets", s.handleAssets)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info(ctx, "stream server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(ctx, "stream server failed", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	s.hub.HandleConnection(ctx, conn)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   s.cfg.App.Name,
		"version":   s.version,
		"status":    "ok",
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"store":             s.store.Stats(),
		"venues":            s.venues.Stats(),
		"connected_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	type market struct {
		Exchange string `json:"exchange"`
		Market   string `json:"market"`
	}

	keys := s.store.Keys()
	markets := make([]market, 0, len(keys))
	for _, key := range keys {
		markets = append(markets, market{
			Exchange: string(key.Venue),
			Market:   key.Market,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"count":   len(markets),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"assets": s.cfg.Markets.AvailableAssets,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
