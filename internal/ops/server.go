// Package ops serves the operator HTTP surface: health, counters, audit
// log, Prometheus metrics and optionally pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pepperbot/internal/broadcast"
	"pepperbot/internal/storage"
	"pepperbot/internal/store"
	logx "pepperbot/pkg/logx"
)

type Config struct {
	Addr         string
	Token        string
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

type SubscriberCounter interface {
	Count(ctx context.Context) (int64, error)
}

type JobStatuses interface {
	Status(id string) (broadcast.JobStatus, bool)
}

// Deps are the read-only views the endpoints serve. Nil members disable
// their endpoint.
type Deps struct {
	Stats       StatsSource
	Subscribers SubscriberCounter
	Audit       storage.Store
	Broadcasts  JobStatuses
	// Health reports the first fatal error, nil while healthy.
	Health func() error
}

// StatsResponse is the /api/stats body.
type StatsResponse struct {
	Subscribers  int64 `json:"subscribers"`
	MessagesSent int64 `json:"messages_sent"`
	DealsSent    int64 `json:"deals_sent"`
	Operational  bool  `json:"operational"`
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	return &Server{cfg: cfg, deps: deps, log: log}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/_health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/api/stats", s.stats)
		r.Get("/api/audit", s.audit)
		r.Get("/api/broadcasts/{id}", s.broadcastStatus)
		r.Handle("/metrics", promhttp.Handler())

		if s.cfg.Pprof {
			r.HandleFunc("/debug/pprof/", hpprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
			r.Handle("/debug/pprof/{name}", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				hpprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
			}))
		}
	})
	return r
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("ops server on non-loopback addr without token", logx.String("addr", s.cfg.Addr))
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ops server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failing", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		http.NotFound(w, r)
		return
	}
	st, err := s.deps.Stats.Stats(r.Context())
	if err != nil {
		s.log.Warn("stats read failed", logx.Err(err))
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	out := StatsResponse{MessagesSent: st.MessagesSent, DealsSent: st.DealsSent, Operational: st.Operational}
	if s.deps.Subscribers != nil {
		n, err := s.deps.Subscribers.Count(r.Context())
		if err != nil {
			s.log.Warn("subscriber count failed", logx.Err(err))
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		out.Subscribers = n
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		http.Error(w, "audit storage disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.deps.Audit.RecentAudit(r.Context(), limit)
	if err != nil {
		s.log.Warn("audit read failed", logx.Err(err))
		http.Error(w, "audit unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) broadcastStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcasts == nil {
		http.NotFound(w, r)
		return
	}
	st, ok := s.deps.Broadcasts.Status(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// auth accepts "Authorization: Bearer <token>" or "?token=<token>".
func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
