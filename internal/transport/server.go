package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/chat"
	"github.com/roach88/livechat/internal/engine"
)

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Auth           *Authenticator
	AllowedOrigins []string
	// MutationRate and MutationWindow limit mutations per client IP.
	// Zero disables the limit.
	MutationRate   int
	MutationWindow time.Duration
	// SendBuffer is the number of frames queued per WebSocket connection.
	SendBuffer int
}

// Server serves the engine's operations.
type Server struct {
	engine   *engine.Engine
	opts     Options
	upgrader websocket.Upgrader
}

func New(e *engine.Engine, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{engine: e, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(propagateRequestID)
	r.Use(withMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(chimw.Timeout(30*time.Second)).Post("/query/{name}", s.handleQuery)

		mutation := r.With(chimw.Timeout(30 * time.Second))
		if s.opts.MutationRate > 0 && s.opts.MutationWindow > 0 {
			mutation = mutation.With(httprate.LimitByIP(s.opts.MutationRate, s.opts.MutationWindow))
		}
		mutation.Post("/mutation/{name}", s.handleMutation)

		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *apperr.Error   `json:"error,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	caller, args, err := s.prepare(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.engine.Query(r.Context(), caller, name, args)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Result: out})
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	caller, args, err := s.prepare(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.engine.Mutate(r.Context(), caller, name, args)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Result: out})
}

// prepare resolves the caller and reads the JSON arguments.
func (s *Server) prepare(r *http.Request) (engine.Caller, json.RawMessage, error) {
	caller, err := s.caller(r)
	if err != nil {
		return engine.Anonymous, nil, err
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return engine.Anonymous, nil, apperr.Wrap(apperr.CodeInvalidArgument, "read body", err)
	}
	if len(body) > maxBodyBytes {
		return engine.Anonymous, nil, apperr.InvalidArg("request body too large")
	}
	if len(body) > 0 && !json.Valid(body) {
		return engine.Anonymous, nil, apperr.InvalidArg("arguments must be JSON")
	}
	return caller, body, nil
}

func (s *Server) caller(r *http.Request) (engine.Caller, error) {
	ident, err := s.opts.Auth.Identify(r)
	if err != nil {
		return engine.Anonymous, err
	}
	return chat.ResolveCaller(r.Context(), s.engine, ident)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

// writeError maps coded errors to their HTTP status. Uncoded errors are
// logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			e = &apperr.Error{Code: apperr.CodeInternal, Message: "request cancelled"}
		} else {
			slog.Error("request failed",
				"path", r.URL.Path,
				"error", err,
				"request_id", chimw.GetReqID(r.Context()))
			e = &apperr.Error{Code: apperr.CodeInternal, Message: apperr.Public(err)}
		}
	}
	writeJSON(w, e.Code.HTTPStatus(), response{Error: e})
}
