// Package segmentation turns an audience's rule list into a subscriber set.
//
// Rules are AND-combined into a single predicate over subscribers (joined to
// profiles when a profile field is referenced). The last_email_open rule is
// not part of that predicate: it is applied afterwards as an anti-join over
// the materialized base set.
package segmentation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
)

// ==========================================
// FIELDS & OPERATORS
// ==========================================

// Field names understood by the evaluator.
const (
	FieldStatus          = "status"
	FieldSubscription    = "subscription"
	FieldTrialStatus     = "trial_status"
	FieldTrialExpiration = "trial_expiration"
	FieldSignupDate      = "signup_date"
	FieldCreatedAt       = "created_at"
	FieldUpdatedAt       = "updated_at"
	FieldTags            = "tags"
	FieldLastEmailOpen   = "last_email_open"
)

// Operator is a rule comparison operator.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpIn        Operator = "in"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpGte       Operator = "gte"
	OpBetween   Operator = "between"
	OpWithin    Operator = "within"
	OpContains  Operator = "contains"
	OpOlderThan Operator = "older_than"
)

// Trial states accepted by the trial_status field.
const (
	TrialActive  = "active"
	TrialExpired = "expired"
)

const (
	defaultSignupWindowDays = 7
	defaultInactiveDays     = 60
)

// fieldOperators lists the operators each field accepts. The first entry is
// the operator assumed when a rule leaves it blank.
var fieldOperators = map[string][]Operator{
	FieldStatus:          {OpEquals, OpIn},
	FieldSubscription:    {OpEquals, OpIn},
	FieldTrialStatus:     {OpEquals},
	FieldTrialExpiration: {OpGt, OpLt},
	FieldSignupDate:      {OpWithin},
	FieldCreatedAt:       {OpGte},
	FieldUpdatedAt:       {OpBetween},
	FieldTags:            {OpContains},
	FieldLastEmailOpen:   {OpOlderThan},
}

// operatorFor resolves the effective operator of a rule. ok is false when the
// field or the operator is not recognized.
func operatorFor(r domain.Rule) (Operator, bool) {
	ops, known := fieldOperators[r.Field]
	if !known {
		return "", false
	}
	if r.Operator == "" {
		return ops[0], true
	}
	for _, op := range ops {
		if Operator(r.Operator) == op {
			return op, true
		}
	}
	return "", false
}

// IsProfileField reports whether field lives on the profiles table.
func IsProfileField(field string) bool {
	switch field {
	case FieldSubscription, FieldTrialStatus, FieldTrialExpiration:
		return true
	}
	return false
}

// ValidateRules classifies rules without touching the store. It returns the
// same warnings evaluation would produce.
func ValidateRules(rules []domain.Rule) []domain.ResolutionWarning {
	qb := NewQueryBuilder(time.Now())
	qb.BuildQuery(rules)
	return qb.Warnings()
}

// ParseDays reads a "<N>_days" value. Missing, non-numeric and negative
// values yield fallback with ok=false. Zero is a valid window.
func ParseDays(value string, fallback int) (int, bool) {
	head, _, _ := strings.Cut(strings.TrimSpace(value), "_")
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return fallback, false
	}
	return n, true
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func unknownFieldWarning(r domain.Rule) domain.ResolutionWarning {
	return domain.ResolutionWarning{
		Kind:   domain.WarnUnknownField,
		Field:  r.Field,
		Detail: fmt.Sprintf("field %q is not supported", r.Field),
	}
}

func unknownOperatorWarning(r domain.Rule) domain.ResolutionWarning {
	return domain.ResolutionWarning{
		Kind:   domain.WarnUnknownOperator,
		Field:  r.Field,
		Detail: fmt.Sprintf("operator %q is not supported for %s", r.Operator, r.Field),
	}
}

func invalidValueWarning(r domain.Rule, detail string) domain.ResolutionWarning {
	return domain.ResolutionWarning{
		Kind:   domain.WarnInvalidValue,
		Field:  r.Field,
		Detail: detail,
	}
}
