// Package handlers exposes the generation pipeline and identity lifecycle
// over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"thumbforge/internal/domain"
	"thumbforge/internal/identity"
	"thumbforge/internal/infra"
	"thumbforge/internal/infra/geoip"
	"thumbforge/internal/middleware"
	"thumbforge/internal/pipeline"

	"github.com/jackc/pgx/v5/pgxpool"
)

type App struct {
	Dispatcher *pipeline.Dispatcher
	Variations *pipeline.VariationDispatcher
	Reconciler *pipeline.Reconciler
	Identity   *identity.Service
	Jobs       domain.JobRepository
	Pool       *pgxpool.Pool
	Geo        geoip.CountryResolver
	Logger     infra.Logger
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, codeStr, message string) {
	a.json(w, code, errorResponse{Code: codeStr, Message: message})
}

// domainError maps sentinel domain errors onto HTTP status codes. Messages
// are passed through: domain errors carry no internals.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "external_failure", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handler: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
