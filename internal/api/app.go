package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/olahol/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/judge"
	"github.com/peerpad/peerpad/internal/relay"
	"github.com/peerpad/peerpad/internal/rooms"
)

const maxFrameSize = 64 * 1024

// AppOptions is options of the application.
type AppOptions struct {
	Env     core.Environment
	Address string

	Relay       *relay.Relay
	Coordinator *relay.Coordinator

	RoomsStorage   rooms.RoomsStorer
	HistoryStorage rooms.HistoryStorer
	LiveState      rooms.LiveStateStorer
	Judge          *judge.Client

	SessionSecret string

	router    *chi.Mux
	websocket *melody.Melody
	identity  *identityStore
}

// App is the HTTP application: the websocket relay endpoint plus the thin
// request/response surface around it.
type App struct {
	AppOptions
}

func NewApp(options AppOptions) *App {
	options.router = chi.NewRouter()
	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = maxFrameSize
	options.identity = newIdentityStore(options.SessionSecret)

	return &App{options}
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	app.initLogger()
	router := app.initRouter()

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		close(done)
	})

	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Msg("can't close websocket sessions")
		}

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("address", app.Address).Msg("peerpad server started")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

func (app *App) initLogger() {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel
	if app.Env.IsDevelopment() {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func (app *App) initRouter() http.Handler {
	r := app.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	app.initWebsocket()

	r.Get("/ws", app.websocketHandler())
	r.Method("GET", "/metrics", promhttp.Handler())

	r.With(app.identity.Middleware).Route("/api/v1", func(r chi.Router) {
		r.Post("/rooms", app.createRoomHandler())
		r.Get("/rooms/{id}", app.roomHandler())
		r.Post("/rooms/{id}/join", app.joinRoomHandler())
		r.Post("/rooms/{id}/leave", app.leaveRoomHandler())
		r.Post("/rooms/{id}/role", app.setRoleHandler())
		r.Get("/rooms/{id}/state", app.roomStateHandler())
		r.Get("/rooms/{id}/history", app.roomHistoryHandler())
		r.Post("/rooms/{id}/history", app.saveHistoryHandler())
		r.Post("/rooms/{id}/kick", app.kickParticipantHandler())
		r.Post("/execute", app.executeHandler())
	})

	return r
}
