package server

import (
	"log/slog"
	"net/http"

	"github.com/y0f/probeboard/internal/api"
	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/config"
	"github.com/y0f/probeboard/internal/httputil"
	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/stream"
)

var _ http.Handler = (*Server)(nil)

type Server struct {
	cfg     *config.Config
	api     *api.Handler
	hub     *stream.Hub
	limiter *httputil.RateLimiter
	handler http.Handler
}

func NewServer(cfg *config.Config, reg *registry.Registry, store storage.Store, soap *checker.SOAPChecker,
	hub *stream.Hub, logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:     cfg,
		api:     api.New(cfg, reg, store, soap, hub, logger, version),
		hub:     hub,
		limiter: httputil.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = bodyLimit(cfg.Server.MaxBodySize)(handler)
	handler = s.limiter.Middleware(cfg.TrustedNets(), api.WriteError)(handler)
	handler = cors(cfg.Server.CORSOrigins)(handler)
	handler = secureHeaders()(handler)
	handler = logging(logger, cfg.TrustedNets())(handler)
	handler = requestID()(handler)
	handler = recovery(logger)(handler)

	s.handler = handler
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}
