// Package api serves the control-plane HTTP surface: subscriptions, symbol
// search, state reads, token rotation, and the viewer websocket upgrade.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
	"github.com/Vishtheendodoc/orderflow-new/internal/gateway"
	"github.com/Vishtheendodoc/orderflow-new/internal/instruments"
	"github.com/Vishtheendodoc/orderflow-new/internal/metrics"
	"github.com/Vishtheendodoc/orderflow-new/internal/model"
)

// Server is the control-plane HTTP server.
type Server struct {
	state   *app.State
	hub     *gateway.Hub
	health  *metrics.HealthStatus
	symbols []instruments.Record
}

// NewServer wires the handlers. symbols may be nil when no instrument list
// was loaded; /api/symbols then returns an empty array.
func NewServer(state *app.State, hub *gateway.Hub, health *metrics.HealthStatus, symbols []instruments.Record) *Server {
	return &Server{state: state, hub: hub, health: health, symbols: symbols}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/subscribe", s.handleSubscribe)
	mux.HandleFunc("/api/subscribe/", s.handleUnsubscribe)
	mux.HandleFunc("/api/symbols", s.handleSymbols)
	mux.HandleFunc("/api/state/", s.handleState)
	mux.HandleFunc("/api/token", s.handleToken)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	return withCORS(mux)
}

// withCORS allows browser frontends hosted elsewhere to hit the API.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.health.ServeHTTP(w, r)
}

type subscribeRequest struct {
	Symbol          string `json:"symbol"`
	SecurityID      string `json:"security_id"`
	ExchangeSegment string `json:"exchange_segment"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ExchangeSegment == "" {
		req.ExchangeSegment = "NSE_EQ"
	}

	inst := model.Instrument{
		Symbol:          strings.ToUpper(strings.TrimSpace(req.Symbol)),
		SecurityID:      strings.TrimSpace(req.SecurityID),
		ExchangeSegment: req.ExchangeSegment,
	}

	eng, err := s.state.Subscribe(inst)
	if err != nil {
		if strings.Contains(err.Error(), "capacity") {
			writeError(w, http.StatusServiceUnavailable, err.Error())
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	log.Printf("[api] subscribed %s (security_id=%s)", inst.Symbol, inst.SecurityID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "subscribed",
		"symbol":  eng.Symbol(),
		"engines": s.state.EngineCount(),
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}

	symbol := strings.TrimPrefix(r.URL.Path, "/api/subscribe/")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	if _, ok := s.state.Engine(symbol); !ok {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}

	s.state.Unsubscribe(symbol)
	log.Printf("[api] unsubscribed %s", strings.ToUpper(symbol))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "unsubscribed",
		"symbol": strings.ToUpper(symbol),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	q := r.URL.Query().Get("q")
	exchange := r.URL.Query().Get("exchange")
	out := instruments.Filter(s.symbols, q, exchange)
	if out == nil {
		out = []instruments.Record{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	symbol := strings.TrimPrefix(r.URL.Path, "/api/state/")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	eng, ok := s.state.Engine(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}

	data, err := s.state.SnapshotEnvelope(eng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type tokenRequest struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "access_token required")
		return
	}

	s.state.SetToken(token)
	log.Printf("[api] access token updated")
	writeJSON(w, http.StatusOK, map[string]any{"status": "token updated"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
