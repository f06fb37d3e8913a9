// Package server wires the conda-store HTTP API: route registration,
// middleware, and the request handlers over the buildmanager and auth
// packages.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	commonmiddleware "github.com/peytondmurray/conda-store/internal/common/middleware"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/buildmanager"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
)

// ServerVersion identifies this server build in the status endpoint.
const ServerVersion = "0.1.0"

// APIVersion is the wire version prefix of the mounted routes.
const APIVersion = "v1"

type CondaStoreServer struct {
	Router  *chi.Mux
	manager *buildmanager.Manager
}

func CreateNewServer(manager *buildmanager.Manager) (*CondaStoreServer, error) {
	s := &CondaStoreServer{
		Router:  chi.NewRouter(),
		manager: manager,
	}
	return s, nil
}

func (s *CondaStoreServer) MountHandlers() {
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	s.Router.Use(limitRequestBody)
	if config.Config().HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{config.Config().CORSAllowedOrigins},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}
	s.Router.Use(db.LoadDBMiddleware)
	s.Router.Use(auth.AuthMiddleware)

	s.Router.Route("/api/v1", s.mountAPIHandlers)
	s.Router.Get("/ready", s.getReadiness)
}

// limitRequestBody caps request bodies at the configured maximum before any
// handler reads them. A zero or unset limit disables the cap.
func limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := config.Config().MaxRequestBodySize; limit > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRsp struct {
	Version string `json:"version"`
}

func (s *CondaStoreServer) getStatus(r *http.Request) (*httpx.Response, error) {
	return okRsp(&statusRsp{Version: ServerVersion}), nil
}

func (s *CondaStoreServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	// LoadDBMiddleware already checked out a connection; reaching this
	// handler means the pool is serving.
	log.Ctx(r.Context()).Debug().Msg("readiness check")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
