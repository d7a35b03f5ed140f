package domain

// ReachRequest is one campaign's audience selection.
type ReachRequest struct {
	ID                  string   `json:"id"`
	AudienceIDs         []string `json:"audienceIds"`
	ExcludedAudienceIDs []string `json:"excludedAudienceIds,omitempty"`
}

// ReachDetails carries the diagnostic sub-counts of a reach calculation.
// TotalIncluded is the size of the included union before exclusions.
type ReachDetails struct {
	TotalIncluded     int `json:"totalIncluded"`
	TotalExcluded     int `json:"totalExcluded"`
	IncludedAudiences int `json:"includedAudiences"`
	ExcludedAudiences int `json:"excludedAudiences"`
}

// ReachResult is the deduplicated recipient count of one campaign.
// Warnings stay internal so callers can tell "no matches" apart from
// "unrecognized audience or rule"; the wire format collapses both to counts.
type ReachResult struct {
	UniqueCount int                 `json:"uniqueCount"`
	Details     ReachDetails        `json:"details"`
	Warnings    []ResolutionWarning `json:"-"`
}

// WarningKind classifies why part of a resolution contributed nothing.
type WarningKind string

const (
	WarnAudienceNotFound WarningKind = "audience_not_found"
	WarnFiltersMissing   WarningKind = "filters_missing"
	WarnUnknownField     WarningKind = "unknown_field"
	WarnUnknownOperator  WarningKind = "unknown_operator"
	WarnInvalidValue     WarningKind = "invalid_value"
)

// ResolutionWarning records a silent degradation during audience resolution.
type ResolutionWarning struct {
	AudienceID string      `json:"audience_id,omitempty"`
	Kind       WarningKind `json:"kind"`
	Field      string      `json:"field,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}
