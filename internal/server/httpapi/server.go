// Package httpapi exposes the authentication and credential operations over
// HTTP. All request/response bodies are JSON; errors use a structured
// envelope with a machine-readable code.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dsmirnov/credvault/internal/logging"
	"github.com/dsmirnov/credvault/internal/server/auth"
	"github.com/dsmirnov/credvault/internal/server/services"
)

type Server struct {
	address string
	logger  logging.Logger
	users   *services.UserService
	gate    *services.CredentialGate
	tokens  *auth.TokenService
}

func NewServer(address string, l logging.Logger, users *services.UserService, gate *services.CredentialGate, tokens *auth.TokenService) *Server {
	return &Server{
		address: address,
		logger:  l.With("module", "http_server"),
		users:   users,
		gate:    gate,
		tokens:  tokens,
	}
}

// Router builds the route table. Everything under /api is public except the
// credential and account routes, which require a valid access token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.accessTokenMiddleware)
	authed.HandleFunc("/credential", s.handleCredentialStatus).Methods(http.MethodGet)
	authed.HandleFunc("/credential", s.handleConnect).Methods(http.MethodPost)
	authed.HandleFunc("/credential", s.handleDisconnect).Methods(http.MethodDelete)
	authed.HandleFunc("/account", s.handleDeleteAccount).Methods(http.MethodDelete)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "starting http server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
