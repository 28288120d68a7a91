package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/thechriswalker/go-decide/voting"
)

// API is the HTTP surface of the voting service
type API struct {
	router  *chi.Mux
	service *voting.Service
	auth    TokenAuth
}

// New creates the API for the service, tokens resolve the callers
func New(service *voting.Service, tokens TokenAuth) (*API, error) {
	if service == nil {
		return nil, fmt.Errorf("missing voting service")
	}
	if tokens == nil {
		tokens = TokenAuth{}
	}
	a := &API{
		service: service,
		auth:    tokens,
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Serve listens on addr until the context is cancelled.
// If ready is not nil the bound address is sent on it once listening.
func (a *API) Serve(ctx context.Context, addr string, ready chan<- net.Addr) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("API server did not shut down cleanly")
		}
	}()
	log.Info().Str("addr", l.Addr().String()).Msg("Starting API server")
	if ready != nil {
		ready <- l.Addr()
	}
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Debug().Str("endpoint", PingEndpoint).Str("method", "GET").Msg("register handler")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Debug().Str("endpoint", VotingEndpoint).Str("method", "POST").Msg("register handler")
	a.router.Post(VotingEndpoint, a.createVoting)
	log.Debug().Str("endpoint", VotingIDEndpoint).Str("method", "GET").Msg("register handler")
	a.router.Get(VotingIDEndpoint, a.voting)
	log.Debug().Str("endpoint", VotingIDEndpoint).Str("method", "PUT").Msg("register handler")
	a.router.Put(VotingIDEndpoint, a.votingAction)
	log.Debug().Str("endpoint", CensusEndpoint).Str("method", "POST").Msg("register handler")
	a.router.Post(CensusEndpoint, a.addCensus)
	log.Debug().Str("endpoint", CensusEndpoint).Str("method", "DELETE").Msg("register handler")
	a.router.Delete(CensusEndpoint, a.removeCensus)
	log.Debug().Str("endpoint", StoreEndpoint).Str("method", "POST").Msg("register handler")
	a.router.Post(StoreEndpoint, a.storeBallot)

	a.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrResourceNotFound.Withf("%s %s", r.Method, r.URL.Path).Write(w)
	})
	a.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		SimpleJSONResponse(w, http.StatusMethodNotAllowed, "Invalid HTTP Method for this endpoint")
	})
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.RequestID)
	a.router.Use(requestLogger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(a.auth.middleware)

	a.registerHandlers()
}

// requestLogger logs every request through zerolog once it is served
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request", middleware.GetReqID(r.Context())).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
