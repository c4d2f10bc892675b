// Package server exposes the broker façade over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/papertrade-io/paperbroker/internal/broker"
	"github.com/papertrade-io/paperbroker/internal/engine"
	"github.com/papertrade-io/paperbroker/internal/models"
	"github.com/papertrade-io/paperbroker/internal/orders"
	"github.com/papertrade-io/paperbroker/internal/storage"
)

// Config carries the HTTP server settings.
type Config struct {
	Addr           string
	AuthToken      string
	RequestTimeout time.Duration
}

// Server routes HTTP requests to the broker. The order book is optional;
// without it the resting-order endpoints return 404.
type Server struct {
	router *chi.Mux
	server *http.Server
	broker *broker.Broker
	book   *orders.Book
	logger *logrus.Logger
	cfg    Config
}

// NewServer wires the routes.
func NewServer(cfg Config, b *broker.Broker, book *orders.Book, logger *logrus.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		router: chi.NewRouter(),
		broker: b,
		book:   book,
		logger: logger,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))

	if s.cfg.AuthToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/accounts", s.handleCreateAccount)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Get("/positions", s.handleGetPositions)
			r.Get("/portfolio", s.handlePortfolioValue)
			r.Get("/strategies", s.handleGetStrategies)
			r.Get("/margin", s.handleGetMargin)
			r.Post("/orders", s.handleSubmitOrder)
			r.Post("/orders/simulate", s.handleSimulateOrder)
			r.Post("/expirations", s.handleProcessExpirations)
		})
		if s.book != nil {
			r.Get("/orders/pending", s.handlePendingOrders)
			r.Delete("/orders/{orderID}", s.handleCancelOrder)
		}
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.AuthToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("starting broker API on %s", s.cfg.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type createAccountRequest struct {
	Owner           string  `json:"owner"`
	StartingBalance float64 `json:"starting_balance"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.NewError(models.ErrValidationFailed, "decoding request: %v", err))
		return
	}
	acct, err := s.broker.CreateAccount(r.Context(), req.Owner, req.StartingBalance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.broker.Positions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePortfolioValue(w http.ResponseWriter, r *http.Request) {
	value, err := s.broker.PortfolioValue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"portfolio_value": value})
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	strats, err := s.broker.Strategies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, strats)
}

func (s *Server) handleGetMargin(w http.ResponseWriter, r *http.Request) {
	req, err := s.broker.MarginRequirement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]float64{"maintenance_margin": req})
}

type orderRequest struct {
	Legs      []models.Leg     `json:"legs"`
	Condition models.Condition `json:"condition"`
	NetLimit  *float64         `json:"net_limit,omitempty"`
	// Resting parks an unfilled limit order in the book instead of
	// reporting NOT_FILLED.
	Resting bool `json:"resting,omitempty"`
}

func (s *Server) decodeOrder(r *http.Request) (*models.MultiLegOrder, bool, error) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, false, models.NewError(models.ErrValidationFailed, "decoding order: %v", err)
	}
	order := models.NewOrder(req.Condition, req.Legs...)
	order.NetLimit = req.NetLimit
	return order, req.Resting, nil
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	order, resting, err := s.decodeOrder(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.broker.SubmitOrder(r.Context(), accountID, order, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if res.Status == engine.NotFilled && resting && s.book != nil {
		s.book.Place(accountID, order)
		s.writeJSON(w, http.StatusAccepted, res)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSimulateOrder(w http.ResponseWriter, r *http.Request) {
	order, _, err := s.decodeOrder(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.broker.SimulateOrder(r.Context(), chi.URLParam(r, "id"), order, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type expirationRequest struct {
	Date string `json:"date,omitempty"` // 2006-01-02; default today
}

func (s *Server) handleProcessExpirations(w http.ResponseWriter, r *http.Request) {
	var req expirationRequest
	// An empty body means "today".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, models.NewError(models.ErrValidationFailed, "decoding request: %v", err))
		return
	}
	date := time.Now().UTC()
	if req.Date != "" {
		var err error
		date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			s.writeError(w, models.NewError(models.ErrValidationFailed, "invalid date %q", req.Date))
			return
		}
	}

	res, err := s.broker.ProcessExpirations(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := map[string]interface{}{
		"date":       res.Date.Format("2006-01-02"),
		"events":     res.Events,
		"cash_delta": res.CashDelta,
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.Error()
		}
		body["errors"] = msgs
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.book.Pending())
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.book.Cancel(chi.URLParam(r, "orderID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

type errorResponse struct {
	Kind     models.ErrorKind `json:"kind"`
	Message  string           `json:"message"`
	LegIndex *int             `json:"leg_index,omitempty"`
}

// writeError maps the closed error-kind set to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Kind: models.KindOf(err), Message: err.Error()}
	var me *models.Error
	if errors.As(err, &me) && me.LegIndex >= 0 {
		idx := me.LegIndex
		resp.LegIndex = &idx
	}

	status := http.StatusInternalServerError
	switch resp.Kind {
	case models.ErrInvalidSymbol, models.ErrValidationFailed:
		status = http.StatusBadRequest
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
	case models.ErrInsufficientCash, models.ErrInsufficientPosition, models.ErrOrderConditionNotMet:
		status = http.StatusUnprocessableEntity
	case models.ErrQuoteUnavailable:
		status = http.StatusServiceUnavailable
	case models.ErrCancelled:
		status = http.StatusRequestTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}
