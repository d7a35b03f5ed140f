package api

import (
	"net/http"
	"strconv"
)

// PaginationParams holds parsed page/limit values from query params.
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

// PaginatedResponse wraps a page of list data with its metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta describes where a page sits in the full result.
type PaginationMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// ParsePagination reads page (1-based) and limit, clamping limit to
// [1, maxLimit] and defaulting it to defaultLimit.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	page = max(page, 1)
	if limit < 1 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	return PaginationParams{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// NewPaginatedResponse builds a PaginatedResponse for one page of total items.
func NewPaginatedResponse(data interface{}, params PaginationParams, total int64) PaginatedResponse {
	totalPages := 1
	if params.Limit > 0 && total > 0 {
		totalPages = int((total + int64(params.Limit) - 1) / int64(params.Limit))
	}

	return PaginatedResponse{
		Data: data,
		Pagination: PaginationMeta{
			Page:       params.Page,
			Limit:      params.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    params.Page < totalPages,
		},
	}
}
