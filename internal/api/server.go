// Package api exposes the intent dispatcher and the audit trail over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/intent"
	"github.com/MoseikiApp/peasy-ai/internal/metrics"
	"github.com/MoseikiApp/peasy-ai/internal/notify"
	"github.com/MoseikiApp/peasy-ai/internal/storage"
)

// requestTimeout covers a full swap: confirmation plus commission.
const requestTimeout = 3 * time.Minute

type Dispatcher interface {
	Dispatch(ctx context.Context, c intent.Caller, action string, params []string, emit notify.Emitter) (string, error)
}

type Wallets interface {
	WalletByUser(ctx context.Context, userID string) (storage.Wallet, error)
}

type Server struct {
	dispatcher Dispatcher
	wallets    Wallets
	records    storage.RecordStore
	metrics    *metrics.Metrics
	settings   config.ServerSettings
	logger     *zap.Logger
}

func New(d Dispatcher, wallets Wallets, records storage.RecordStore, m *metrics.Metrics, settings config.ServerSettings, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Addr == "" {
		settings.Addr = "127.0.0.1:8080"
	}
	return &Server{dispatcher: d, wallets: wallets, records: records, metrics: m, settings: settings, logger: logger.Named("api")}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(s.settings.Token))
		r.Post("/intents", s.handleIntent)
		r.Get("/records/{id}", s.handleRecord)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.settings.Token == "" {
		return clierr.New(clierr.CodeUsage, "serve requires a bearer token: set server.token or PEASY_SERVER_TOKEN")
	}
	srv := &http.Server{
		Addr:         s.settings.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.settings.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "listen "+s.settings.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

type intentRequest struct {
	UserID string   `json:"user_id"`
	Action string   `json:"action"`
	Params []string `json:"params"`
}

type intentResponse struct {
	Action   string   `json:"action"`
	Success  bool     `json:"success"`
	Reply    string   `json:"reply"`
	Progress []string `json:"progress"`
	Dropped  int64    `json:"dropped_progress,omitempty"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Action) == "" {
		writeError(w, http.StatusBadRequest, "user_id and action are required")
		return
	}

	caller := intent.Caller{UserID: req.UserID}
	if wallet, err := s.wallets.WalletByUser(r.Context(), req.UserID); err == nil {
		caller.Wallet = wallet.Address
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("wallet lookup failed", zap.String("user", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "wallet lookup failed")
		return
	}

	var (
		mu       sync.Mutex
		progress []string
	)
	sink := notify.NewSink(s.settings.NotifyBuffer, func(_ context.Context, msg string) error {
		mu.Lock()
		progress = append(progress, msg)
		mu.Unlock()
		return nil
	}, s.metrics, s.logger)
	go sink.Run(context.WithoutCancel(r.Context()))

	reply, err := s.dispatcher.Dispatch(r.Context(), caller, req.Action, req.Params, sink)
	sink.Close()

	mu.Lock()
	resp := intentResponse{Action: req.Action, Success: err == nil, Reply: reply, Progress: progress, Dropped: sink.Dropped()}
	mu.Unlock()
	if resp.Progress == nil {
		resp.Progress = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("record lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, publicRecord(rec))
}

// publicRecord drops the internal action log from the stored result.
func publicRecord(rec storage.Record) storage.Record {
	if len(rec.ResultData) == 0 {
		return rec
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec.ResultData, &fields); err != nil {
		rec.ResultData = nil
		return rec
	}
	delete(fields, "action_log")
	buf, err := json.Marshal(fields)
	if err != nil {
		rec.ResultData = nil
		return rec
	}
	rec.ResultData = buf
	return rec
}

// bearerAuth rejects requests whose Authorization header does not carry
// token. An empty token rejects everything.
func bearerAuth(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if token == "" || !strings.HasPrefix(header, "Bearer ") ||
				subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
