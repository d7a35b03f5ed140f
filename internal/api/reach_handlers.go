package api

import (
	"encoding/json"
	"net/http"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/httputil"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

// =============================================================================
// REACH
// =============================================================================

type reachBody struct {
	AudienceIDs         json.RawMessage `json:"audienceIds"`
	ExcludedAudienceIDs json.RawMessage `json:"excludedAudienceIds"`
}

type batchReachBody struct {
	Campaigns json.RawMessage `json:"campaigns"`
}

type batchReachItem struct {
	ID                  string          `json:"id"`
	AudienceIDs         json.RawMessage `json:"audienceIds"`
	ExcludedAudienceIDs json.RawMessage `json:"excludedAudienceIds"`
}

// BatchReachResponse keys each campaign's result by its ID.
type BatchReachResponse struct {
	Results map[string]domain.ReachResult `json:"results"`
}

// idList decodes an optional list of audience IDs. Absent or null means
// empty. Non-string elements are dropped. ok is false when raw holds
// anything other than an array, in which case ids is empty.
func idList(raw json.RawMessage) (ids []string, ok bool) {
	if isAbsent(raw) {
		return []string{}, true
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return []string{}, false
	}
	ids = make([]string, 0, len(elems))
	for _, e := range elems {
		var id string
		if json.Unmarshal(e, &id) == nil {
			ids = append(ids, id)
		}
	}
	return ids, true
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// HandleReach computes the unique reach of one audience selection.
//
//	POST /reach
func (h *Handlers) HandleReach(w http.ResponseWriter, r *http.Request) {
	var body reachBody
	if !httputil.Decode(w, r, &body) {
		return
	}

	included, ok := idList(body.AudienceIDs)
	if !ok {
		httputil.BadRequest(w, "audienceIds must be an array")
		return
	}
	excluded, ok := idList(body.ExcludedAudienceIDs)
	if !ok {
		httputil.BadRequest(w, "excludedAudienceIds must be an array")
		return
	}

	res, err := h.audiences.UniqueReach(r.Context(), included, excluded)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if len(res.Warnings) > 0 {
		logger.Debug("reach computed with warnings", "warnings", len(res.Warnings), "unique_count", res.UniqueCount)
	}
	httputil.OK(w, res)
}

// HandleBatchReach computes reach for several campaigns in one request.
// A failing campaign reports zero instead of failing the batch.
//
//	POST /batch-reach
func (h *Handlers) HandleBatchReach(w http.ResponseWriter, r *http.Request) {
	var body batchReachBody
	if !httputil.Decode(w, r, &body) {
		return
	}

	var rawItems []json.RawMessage
	if !isAbsent(body.Campaigns) {
		if err := json.Unmarshal(body.Campaigns, &rawItems); err != nil {
			httputil.BadRequest(w, "campaigns must be an array")
			return
		}
	}

	items := make([]domain.ReachRequest, 0, len(rawItems))
	for _, raw := range rawItems {
		// Malformed members decode partially; their lists fall back to empty.
		var it batchReachItem
		_ = json.Unmarshal(raw, &it)
		included, _ := idList(it.AudienceIDs)
		excluded, _ := idList(it.ExcludedAudienceIDs)
		items = append(items, domain.ReachRequest{
			ID:                  it.ID,
			AudienceIDs:         included,
			ExcludedAudienceIDs: excluded,
		})
	}

	results, err := h.audiences.BatchReach(r.Context(), items)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if results == nil {
		results = map[string]domain.ReachResult{}
	}
	httputil.OK(w, BatchReachResponse{Results: results})
}
