// Package httpapi serves the store's JSON API for clients, managers and administrators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/logging"
	"hardwarestore/pkg/metrics"
	"hardwarestore/pkg/session"
)

const (
	defaultTimeout  = 5 * time.Second
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Options tunes a Server. Metrics and Ready may be nil.
type Options struct {
	AdminToken string
	Timeout    time.Duration
	Ready      func(context.Context) error
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Server wires HTTP endpoints to the ledger and the session store.
type Server struct {
	ledger     *ledger.Ledger
	sessions   *session.Store
	carts      *session.Carts
	metrics    *metrics.Metrics
	adminToken string
	timeout    time.Duration
	ready      func(context.Context) error
	logger     zerolog.Logger
}

// New binds a server to its dependencies.
func New(l *ledger.Ledger, sessions *session.Store, opts Options) (*Server, error) {
	if l == nil || sessions == nil {
		return nil, errors.New("httpapi: ledger and session store are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Server{
		ledger:     l,
		sessions:   sessions,
		carts:      session.NewCarts(sessions, l),
		metrics:    opts.Metrics,
		adminToken: opts.AdminToken,
		timeout:    opts.Timeout,
		ready:      opts.Ready,
		logger:     logging.Component(opts.Logger, "httpapi"),
	}, nil
}

// Handler exposes the routed mux wrapped in panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /health", "health", s.health)
	s.route(mux, "GET /ready", "ready", s.readiness)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.route(mux, "POST /api/login/{role}", "login", s.login)
	s.route(mux, "POST /api/logout", "logout", s.logout)

	s.route(mux, "GET /api/available-products", "available_products", s.availableProducts)
	s.route(mux, "GET /api/cart", "cart", s.withSession(false, s.cartView))
	s.route(mux, "POST /api/cart/add", "cart_add", s.withSession(true, s.cartAdd))
	s.route(mux, "POST /api/cart/update", "cart_update", s.withSession(false, s.cartUpdate))
	s.route(mux, "POST /api/cart/remove", "cart_remove", s.withSession(false, s.cartRemove))
	s.route(mux, "POST /api/checkout", "checkout", s.requireRole(ledger.RoleClient, s.checkout))
	s.route(mux, "GET /api/client/orders", "client_orders", s.requireRole(ledger.RoleClient, s.clientOrders))
	s.route(mux, "POST /api/orders/{id}/feedback", "feedback", s.requireRole(ledger.RoleClient, s.submitFeedback))

	s.route(mux, "GET /api/manager/clients", "manager_clients", s.requireRole(ledger.RoleManager, s.managerClients))
	s.route(mux, "GET /api/manager/clients/{id}/orders", "manager_client_orders", s.requireRole(ledger.RoleManager, s.managerClientOrders))
	s.route(mux, "POST /api/manager/order-status", "manager_order_status", s.requireRole(ledger.RoleManager, s.managerOrderStatus))
	s.route(mux, "POST /api/manager/refund", "manager_refund", s.requireRole(ledger.RoleManager, s.managerRefund))
	s.route(mux, "POST /api/manager/refund-status", "manager_refund_status", s.requireRole(ledger.RoleManager, s.managerRefundStatus))
	s.route(mux, "POST /api/manager/discount", "manager_discount", s.requireRole(ledger.RoleManager, s.managerDiscount))

	s.adminRoutes(mux)

	return s.recoverer(mux)
}

// route registers h under pattern and instruments it under name.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveRequest(name, rec.status, elapsed)
		}
		s.logger.Debug().
			Str(logging.FieldRequestID, requestID).
			Str("handler", name).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request served")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				s.respondError(w, "request", errors.New("handler panicked"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// context bounds ledger calls made on behalf of a request.
func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{"service": "hardwarestore"})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := s.context(r)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "error",
				"message": "storage unavailable",
			})
			return
		}
	}
	s.respond(w, http.StatusOK, nil)
}

// decode reads a JSON body into dst. Failures are reported as invalid input.
func decode(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ledger.Errorf(ledger.KindInvalidInput, op, "invalid JSON: %v", err)
	}
	return nil
}

// respond writes a success envelope; fields are merged next to "status".
func (s *Server) respond(w http.ResponseWriter, code int, fields map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	s.writeJSON(w, code, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("unable to encode response")
	}
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInsufficientStock, ledger.KindInvalidState, ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindInvalidStatus, ledger.KindInvalidRefundStatus, ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError keeps the error envelope consistent across endpoints. Causes
// are logged, never sent. Errors without a kind are reported as constraint
// violations with a generic message.
func (s *Server) respondError(w http.ResponseWriter, op string, err error) {
	kind := ledger.KindOf(err)
	message := ledger.PublicMessage(err)
	if errors.Is(err, session.ErrNotFound) {
		kind, message = ledger.KindUnauthorized, "session expired or missing"
	}
	if kind == "" {
		kind, message = ledger.KindConstraintViolation, "internal error"
	}
	code := statusFor(kind)

	event := s.logger.Warn()
	if code >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("op", op).Str("kind", string(kind)).Int("status", code).Msg("request failed")

	s.writeJSON(w, code, map[string]any{
		"status":  "error",
		"kind":    kind,
		"message": message,
	})
}
