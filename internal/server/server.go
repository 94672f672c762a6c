package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/engine"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/infra/auth"
	"github.com/xela07ax/spaceai-guardian-prototype/internal/telemetry"
)

// Server — тонкая HTTP-обертка serving loop'а над governance-ядром.
// Транспорт здесь намеренно минимальный: ядро отдает вердикты и кадры,
// сервер только сериализует их наружу.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	core      *engine.GuardianCore
	ticker    *telemetry.Ticker
	bypass    *engine.BypassManager
	blocklist *engine.BlocklistManager

	// Проверка JWT (RS256); nil — auth выключен (локальная обкатка)
	authValidator auth.TokenValidator
}

func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	core *engine.GuardianCore,
	ticker *telemetry.Ticker,
	bypass *engine.BypassManager,
	blocklist *engine.BlocklistManager,
	validator auth.TokenValidator,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("http"),
		cfg:           cfg,
		core:          core,
		ticker:        ticker,
		bypass:        bypass,
		blocklist:     blocklist,
		authValidator: validator,
	}

	s.routes()
	return s
}

// routes — цепочка защиты: Recoverer -> Trace -> Blocklist -> Auth -> Handler
func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(engine.TracingMiddleware)

	s.router.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.blocklist.Middleware)
			if s.authValidator != nil {
				r.Use(auth.NewMiddleware(s.authValidator, s.logger))
			}
			r.Post("/evaluate", s.handleEvaluate)
		})

		r.Get("/status", s.handleStatus)
		r.Get("/frames", s.handleFrames)

		// Control plane: только для оператора (bcrypt-токен)
		r.Route("/control", func(r chi.Router) {
			r.Use(s.operatorOnly)
			r.Post("/bypass", s.handleBypass)
			r.Post("/block", s.handleBlock)
		})
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer собирает http.Server с таймаутами из конфига;
// запуск и graceful shutdown — забота main
func (s *Server) HTTPServer() (*http.Server, error) {
	if s.cfg.Server.Port <= 0 {
		return nil, errors.New("server: invalid port")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	return srv, nil
}
