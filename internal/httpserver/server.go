package httpserver

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clibin/internal/highlight"
	"clibin/internal/paste"
	"clibin/web"
)

// Pastes is the paste lifecycle the server exposes.
type Pastes interface {
	Submit(ctx context.Context, content []byte, opts paste.Options) (string, error)
	Retrieve(ctx context.Context, id string) (paste.Paste, error)
	Lookup(ctx context.Context, id string) (paste.Paste, error)
	MaxSize() int
}

// Config captures server configuration.
type Config struct {
	Pastes      Pastes
	Highlighter *highlight.Highlighter
	RateLimiter *RateLimiter
	TrustProxy  bool
	BaseURL     string
	// InsecureLinks derives http URLs for plain requests instead of https.
	InsecureLinks bool
	Metrics       bool
	// DefaultTTL and MaxTTL are only shown in the usage text.
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	Logger     *slog.Logger
}

// Server wraps HTTP handling logic.
type Server struct {
	pastes        Pastes
	highlighter   *highlight.Highlighter
	router        chi.Router
	usage         *texttemplate.Template
	page          *template.Template
	limiter       *RateLimiter
	trustProxy    bool
	insecureLinks bool
	metrics       bool
	baseURL       *url.URL
	defaultTTL    time.Duration
	maxTTL        time.Duration
	logger        *slog.Logger
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Pastes == nil {
		return nil, errors.New("paste service required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	usage, err := texttemplate.ParseFS(web.Templates, "templates/usage.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse usage template: %w", err)
	}
	page, err := template.ParseFS(web.Templates, "templates/paste.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse paste template: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		pastes:        cfg.Pastes,
		highlighter:   cfg.Highlighter,
		router:        chi.NewRouter(),
		usage:         usage,
		page:          page,
		limiter:       cfg.RateLimiter,
		trustProxy:    cfg.TrustProxy,
		insecureLinks: cfg.InsecureLinks,
		metrics:       cfg.Metrics,
		baseURL:       parsedBase,
		defaultTTL:    cfg.DefaultTTL,
		maxTTL:        cfg.MaxTTL,
		logger:        cfg.Logger,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Compress(5, "text/html", "text/plain"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/favicon.ico", http.NotFound)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.limiter, func(r *http.Request) string {
			return ClientIP(r, s.trustProxy)
		}))

		r.Get("/", s.handleIndex)
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleView)
		r.Get("/{id}/qr", s.handleQR)
	})
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

// canonicalURL returns the public URL of id, or the service root without a
// trailing slash when id is empty.
func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if id != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/" + id
		}
		return u.String()
	}

	scheme := "https"
	if s.insecureLinks && !s.isSecureRequest(r) {
		scheme = "http"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	if id == "" {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s/%s", scheme, host, id)
}
