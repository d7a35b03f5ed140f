package api

import (
	"errors"
	"net/http"

	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/httputil"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	audiences AudienceService
}

// NewHandlers creates a new Handlers instance
func NewHandlers(audiences AudienceService) *Handlers {
	return &Handlers{audiences: audiences}
}

// respondServiceError maps audience service errors onto HTTP statuses.
// Anything unrecognized is a 500 with a generic body.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audience.ErrNotFound),
		errors.Is(err, audience.ErrSubscriberNotFound),
		errors.Is(err, audience.ErrNotMember):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, audience.ErrNotStatic),
		errors.Is(err, audience.ErrNameRequired),
		errors.Is(err, audience.ErrEmailRequired),
		errors.Is(err, audience.ErrInvalidFilters):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, audience.ErrAlreadyMember),
		errors.Is(err, audience.ErrLockHeld):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
