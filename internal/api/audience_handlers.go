package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cymasphere/cymasphere-website-sub009/internal/auth"
	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/httputil"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
)

// =============================================================================
// AUDIENCE ADMINISTRATION
// =============================================================================

// AudienceResponse wraps one audience plus any rules that will not
// constrain its membership.
type AudienceResponse struct {
	Audience *domain.Audience           `json:"audience"`
	Warnings []domain.ResolutionWarning `json:"warnings,omitempty"`
}

type addMemberBody struct {
	Email string `json:"email" validate:"required,email"`
}

// HandleListAudiences returns audiences newest first.
//
//	GET /audiences?limit=&offset=
func (h *Handlers) HandleListAudiences(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := h.audiences.List(r.Context(), audience.ListFilter{Limit: limit, Offset: offset})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Audience{}
	}
	httputil.OK(w, map[string]interface{}{
		"audiences": list,
		"total":     total,
	})
}

// HandleGetAudience returns a single audience.
//
//	GET /audiences/{id}
func (h *Handlers) HandleGetAudience(w http.ResponseWriter, r *http.Request) {
	a, err := h.audiences.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, AudienceResponse{Audience: a})
}

// HandleCreateAudience creates an audience and fills in its subscriber count.
//
//	POST /audiences
func (h *Handlers) HandleCreateAudience(w http.ResponseWriter, r *http.Request) {
	var input audience.CreateInput
	if !httputil.DecodeValid(w, r, &input) {
		return
	}

	createdBy := ""
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		createdBy = s.UserID
	}

	a, warnings, err := h.audiences.Create(r.Context(), input, createdBy)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, AudienceResponse{Audience: a, Warnings: warnings})
}

// HandleUpdateAudience edits an audience and recomputes its subscriber count.
//
//	PUT /audiences/{id}
func (h *Handlers) HandleUpdateAudience(w http.ResponseWriter, r *http.Request) {
	var input audience.UpdateInput
	if !httputil.DecodeValid(w, r, &input) {
		return
	}

	a, warnings, err := h.audiences.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, AudienceResponse{Audience: a, Warnings: warnings})
}

// HandleRefreshCounts recomputes every audience's subscriber_count.
//
//	POST /audiences/refresh-counts
func (h *Handlers) HandleRefreshCounts(w http.ResponseWriter, r *http.Request) {
	summary, err := h.audiences.RefreshAllCounts(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// HandleListMembers pages through an audience's resolved subscribers.
//
//	GET /audiences/{id}/subscribers?page=&limit=
func (h *Handlers) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	params := ParsePagination(r, 50, 500)

	page, err := h.audiences.Members(r.Context(), chi.URLParam(r, "id"), params.Limit, params.Offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(page.Subscribers, params, int64(page.Total)))
}

// HandleAddMember adds a subscriber, by email, to a static audience.
//
//	POST /audiences/{id}/subscribers
func (h *Handlers) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	var body addMemberBody
	if !httputil.DecodeValid(w, r, &body) {
		return
	}

	sub, err := h.audiences.AddMember(r.Context(), chi.URLParam(r, "id"), body.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]interface{}{"subscriber": sub})
}

// HandleRemoveMember removes a subscriber from a static audience.
//
//	DELETE /audiences/{id}/subscribers/{subscriberId}
func (h *Handlers) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.audiences.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "subscriberId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// HandleSubscriberMemberships reports which audiences a subscriber is in.
//
//	GET /subscribers/{id}/audience-memberships
func (h *Handlers) HandleSubscriberMemberships(w http.ResponseWriter, r *http.Request) {
	memberships, err := h.audiences.SubscriberMemberships(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"memberships": memberships})
}
