package segmentation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
)

// QueryBuilder builds subscriber SQL from an audience rule list
type QueryBuilder struct {
	args         []interface{}
	argCounter   int
	now          time.Time
	warnings     []domain.ResolutionWarning
	inactiveDays int
}

// NewQueryBuilder creates a QueryBuilder whose relative windows are anchored at now
func NewQueryBuilder(now time.Time) *QueryBuilder {
	return &QueryBuilder{
		now:        now,
		args:       make([]interface{}, 0),
		argCounter: 1,
	}
}

// nextArg returns the next argument placeholder
func (qb *QueryBuilder) nextArg(value interface{}) string {
	qb.args = append(qb.args, value)
	placeholder := fmt.Sprintf("$%d", qb.argCounter)
	qb.argCounter++
	return placeholder
}

// Warnings returns the rules the last build skipped or defaulted.
func (qb *QueryBuilder) Warnings() []domain.ResolutionWarning {
	return qb.warnings
}

// InactiveDays returns the last_email_open window of the last build, or 0
// when the rule list has no anti-join.
func (qb *QueryBuilder) InactiveDays() int {
	return qb.inactiveDays
}

// BuildQuery builds the query selecting the IDs of matching subscribers
func (qb *QueryBuilder) BuildQuery(rules []domain.Rule) (string, []interface{}) {
	joins, whereConditions := qb.buildWhere(rules)

	query := "SELECT s.id\nFROM subscribers s"
	if joins != "" {
		query += "\n" + joins
	}
	query += "\nWHERE " + strings.Join(whereConditions, "\n  AND ")

	return query, qb.args
}

// BuildCountQuery builds a COUNT query over the same predicate. It does not
// apply the last_email_open anti-join; check InactiveDays before trusting it.
func (qb *QueryBuilder) BuildCountQuery(rules []domain.Rule) (string, []interface{}) {
	joins, whereConditions := qb.buildWhere(rules)

	query := "SELECT COUNT(*)\nFROM subscribers s"
	if joins != "" {
		query += "\n" + joins
	}
	query += "\nWHERE " + strings.Join(whereConditions, "\n  AND ")

	return query, qb.args
}

func (qb *QueryBuilder) buildWhere(rules []domain.Rule) (string, []string) {
	// Reset state
	qb.args = make([]interface{}, 0)
	qb.argCounter = 1
	qb.warnings = nil
	qb.inactiveDays = 0

	whereConditions := []string{}
	hasStatus := false
	joinProfiles := false

	for _, rule := range rules {
		op, ok := operatorFor(rule)
		if !ok {
			if _, known := fieldOperators[rule.Field]; known {
				qb.warnings = append(qb.warnings, unknownOperatorWarning(rule))
			} else {
				qb.warnings = append(qb.warnings, unknownFieldWarning(rule))
			}
			continue
		}

		sql, ok := qb.buildCondition(rule, op)
		if !ok || sql == "" {
			continue
		}
		whereConditions = append(whereConditions, sql)

		if rule.Field == FieldStatus {
			hasStatus = true
		}
		if IsProfileField(rule.Field) {
			joinProfiles = true
		}
	}

	// Omitting status must never pull in bounced or unsubscribed recipients
	if !hasStatus {
		whereConditions = append(whereConditions,
			fmt.Sprintf("s.status = %s", qb.nextArg(string(domain.SubscriberActive))))
	}

	joins := ""
	if joinProfiles {
		joins = "JOIN profiles p ON p.id = s.user_id"
	}

	return joins, whereConditions
}

// buildCondition builds SQL for one rule. ok is false when the rule was
// rejected and a warning recorded. An empty string with ok=true means the
// rule is applied outside the predicate.
func (qb *QueryBuilder) buildCondition(rule domain.Rule, op Operator) (string, bool) {
	switch rule.Field {
	case FieldStatus:
		return qb.buildMembershipCondition("s.status", rule, op)
	case FieldSubscription:
		return qb.buildMembershipCondition("p.subscription", rule, op)
	case FieldTrialStatus:
		return qb.buildTrialStatusCondition(rule)
	case FieldTrialExpiration:
		return qb.buildTimeCondition("p.trial_expiration", rule, op)
	case FieldCreatedAt:
		return qb.buildTimeCondition("s.created_at", rule, op)
	case FieldUpdatedAt:
		return qb.buildRangeCondition("s.updated_at", rule)
	case FieldSignupDate:
		days := qb.days(rule, defaultSignupWindowDays)
		return fmt.Sprintf("s.subscribe_date >= %s", qb.nextArg(qb.now.AddDate(0, 0, -days))), true
	case FieldTags:
		return qb.buildTagCondition(rule)
	case FieldLastEmailOpen:
		days := qb.days(rule, defaultInactiveDays)
		if days > qb.inactiveDays {
			qb.inactiveDays = days
		}
		return "", true
	}
	qb.warnings = append(qb.warnings, unknownFieldWarning(rule))
	return "", false
}

// buildMembershipCondition handles equals and in. An array value implies in.
func (qb *QueryBuilder) buildMembershipCondition(column string, rule domain.Rule, op Operator) (string, bool) {
	if op == OpIn || rule.IsArray() {
		values, ok := rule.StringValues()
		if !ok {
			qb.warnings = append(qb.warnings, invalidValueWarning(rule, "expected a list of strings"))
			return "", false
		}
		if len(values) == 0 {
			return "FALSE", true
		}
		return fmt.Sprintf("%s = ANY(%s)", column, qb.nextArg(pq.Array(values))), true
	}

	value, ok := rule.StringValue()
	if !ok || value == "" {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule, "expected a string"))
		return "", false
	}
	return fmt.Sprintf("%s = %s", column, qb.nextArg(value)), true
}

func (qb *QueryBuilder) buildTrialStatusCondition(rule domain.Rule) (string, bool) {
	value, _ := rule.StringValue()
	switch value {
	case TrialActive:
		return fmt.Sprintf("(p.trial_expiration > %s AND p.subscription = %s)",
			qb.nextArg(qb.now), qb.nextArg(string(domain.SubscriptionNone))), true
	case TrialExpired:
		return fmt.Sprintf("p.trial_expiration <= %s", qb.nextArg(qb.now)), true
	}
	qb.warnings = append(qb.warnings, invalidValueWarning(rule, fmt.Sprintf("trial status %q is not active or expired", value)))
	return "", false
}

func (qb *QueryBuilder) buildTimeCondition(column string, rule domain.Rule, op Operator) (string, bool) {
	value, _ := rule.StringValue()
	t, err := parseTime(value)
	if err != nil {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule, err.Error()))
		return "", false
	}

	switch op {
	case OpGt:
		return fmt.Sprintf("%s > %s", column, qb.nextArg(t)), true
	case OpLt:
		return fmt.Sprintf("%s < %s", column, qb.nextArg(t)), true
	case OpGte:
		return fmt.Sprintf("%s >= %s", column, qb.nextArg(t)), true
	}
	qb.warnings = append(qb.warnings, unknownOperatorWarning(rule))
	return "", false
}

// buildRangeCondition expects a {"start": ..., "end": ...} value
func (qb *QueryBuilder) buildRangeCondition(column string, rule domain.Rule) (string, bool) {
	var bounds struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.Unmarshal(rule.Value, &bounds); err != nil {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule, "expected {start, end}"))
		return "", false
	}
	start, err := parseTime(bounds.Start)
	if err != nil {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule, err.Error()))
		return "", false
	}
	end, err := parseTime(bounds.End)
	if err != nil {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule, err.Error()))
		return "", false
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", column, qb.nextArg(start), qb.nextArg(end)), true
}

// buildTagCondition matches subscribers holding ANY of the tags
func (qb *QueryBuilder) buildTagCondition(rule domain.Rule) (string, bool) {
	tags, ok := rule.StringValues()
	if !ok {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule, "expected a list of tags"))
		return "", false
	}
	if len(tags) == 0 {
		return "FALSE", true
	}
	placeholders := make([]string, len(tags))
	for i, tag := range tags {
		placeholders[i] = qb.nextArg(tag)
	}
	return fmt.Sprintf("s.tags && ARRAY[%s]::text[]", strings.Join(placeholders, ",")), true
}

// days parses a "<N>_days" rule value, recording a warning when the fallback is used
func (qb *QueryBuilder) days(rule domain.Rule, fallback int) int {
	value, _ := rule.StringValue()
	days, ok := ParseDays(value, fallback)
	if !ok {
		qb.warnings = append(qb.warnings, invalidValueWarning(rule,
			fmt.Sprintf("%q is not <N>_days, using %d days", value, fallback)))
	}
	return days
}
