// Package wsgateway exposes the engine to external UI consumers: JSON
// endpoints for accounts, agents, trades and orders, plus a WebSocket
// stream of engine events. The gateway holds no trading state of its own;
// every request delegates to the engine.
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/ports"
)

const shutdownGrace = 5 * time.Second

// Server is the HTTP/WebSocket boundary around a running engine.
type Server struct {
	addr   string
	engine *engine.Engine
	logger ports.Logger
	hub    *Hub

	mu      sync.Mutex
	started bool
	httpSrv *http.Server
	cancel  context.CancelFunc
}

// Config holds configuration for the gateway.
type Config struct {
	Addr   string // Listen address, e.g. ":8080"
	Engine *engine.Engine
	Logger ports.Logger
}

// New builds the gateway. Start must be called before it serves anything.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for gateway", ports.ErrInvalidConfiguration)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required for gateway", ports.ErrInvalidConfiguration)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		addr:   addr,
		engine: cfg.Engine,
		logger: cfg.Logger,
		hub:    newHub(cfg.Logger),
	}, nil
}

// Start begins serving HTTP and relaying engine events to WebSocket
// clients. It returns immediately; the listener runs until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.hub.run(runCtx)

	events, unsubscribe := s.engine.Subscribe()
	go s.pumpEvents(runCtx, events, unsubscribe)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info(runCtx, "Gateway listening", map[string]interface{}{"addr": s.addr})
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(runCtx, err, "Gateway server failed")
		}
	}()

	s.started = true
	return nil
}

// Stop shuts the listener down gracefully and stops the event relay.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "Gateway shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}

	s.cancel()
	s.started = false
	s.logger.Info(context.Background(), "Gateway stopped")
}

// pumpEvents converts engine events to WebSocket frames.
func (s *Server) pumpEvents(ctx context.Context, events <-chan engine.Event, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame := frameFor(ev)
			if frame == nil {
				continue
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				s.logger.Error(ctx, err, "Failed to encode event frame")
				continue
			}
			s.hub.Broadcast(payload)
		}
	}
}

func frameFor(ev engine.Event) *wsFrame {
	switch ev := ev.(type) {
	case engine.TradeExecuted:
		if ev.Trade == nil {
			return nil
		}
		return &wsFrame{Type: wsTradeExecuted, AccountID: ev.Trade.AccountID, Trade: toTradeJSON(ev.Trade)}
	case engine.AccountChanged:
		return &wsFrame{Type: wsAccountChanged, AccountID: ev.AccountID}
	default:
		return nil
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}/portfolio", s.handleGetPortfolio)
	mux.HandleFunc("GET /api/v1/accounts/{id}/trades", s.handleGetTrades)
	mux.HandleFunc("GET /api/v1/accounts/{id}/metrics", s.handleGetMetrics)
	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/v1/agents", s.handleCreateAgent)
	mux.HandleFunc("POST /api/v1/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /ws", s.hub.serveWS)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps pipeline errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrAccountNotFound), errors.Is(err, ports.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ports.ErrInvalidOrder), errors.Is(err, ports.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrInsufficientCash):
		return http.StatusConflict
	case errors.Is(err, ports.ErrPriceUnavailable), errors.Is(err, ports.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.engine.Accounts(r.Context())
	out := make([]*accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, err := s.engine.InitializeAccount(r.Context(), req.Name, req.InitialCapital)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toAccountJSON(account))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAccountJSON(account))
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Portfolio(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]positionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionJSON(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	trades, err := s.engine.TradeHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]*tradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.engine.Metrics(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toMetricsJSON(metrics))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.engine.ListAgents(r.Context())
	out := make([]agentJSON, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agent, err := s.engine.CreateAgent(r.Context(), req.toConfig())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toAgentJSON(agent))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.PlaceOrder(r.Context(), engine.OrderRequest{
		AccountID:      req.AccountID,
		Symbol:         req.Symbol,
		Side:           domain.OrderSide(req.Side),
		Type:           domain.OrderType(req.Type),
		Quantity:       req.Quantity,
		RequestedPrice: req.RequestedPrice,
		Reasoning:      req.Reasoning,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		ReduceOnly:     req.ReduceOnly,
	})
	if err != nil {
		// Infrastructure faults still resolve the order when possible; show
		// the caller both the error and the resolved order.
		if result != nil && result.Order != nil {
			writeJSON(w, statusFor(err), map[string]interface{}{
				"error": err.Error(),
				"order": toOrderJSON(result.Order),
			})
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOrderResultJSON(result))
}
