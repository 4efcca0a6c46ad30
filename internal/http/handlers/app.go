package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"storyforge/internal/contract"
	"storyforge/internal/coordinator"
	"storyforge/internal/domain"
	"storyforge/internal/infra"
	"storyforge/internal/middleware"
	"storyforge/internal/storage"
)

// App aggregates the dependencies of every HTTP handler.
type App struct {
	Config      *infra.Config
	Logger      zerolog.Logger
	Stories     domain.StoryRepository
	Slots       domain.SlotStore
	Quota       domain.QuotaStore
	Files       *storage.FileStore
	Coordinator *coordinator.Coordinator
	Registry    *contract.Registry
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

// domainError maps a domain sentinel onto the HTTP error envelope.
func (a *App) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusForbidden, "quota_exceeded", "quota exceeded")
	case errors.Is(err, domain.ErrTimeout):
		a.error(w, http.StatusGatewayTimeout, "timeout", "request timed out waiting on concurrent work")
	case errors.Is(err, domain.ErrDuplicateOperation):
		a.error(w, http.StatusConflict, "duplicate", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentAccountID(r *http.Request) string {
	return middleware.AccountFromContext(r.Context())
}
