package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Audience is a named recipient-selection definition. SubscriberCount is a
// display estimate refreshed on create/update; it is never used for sends.
type Audience struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Description     *string        `json:"description" db:"description"`
	Filters         FilterDocument `json:"filters" db:"filters"`
	SubscriberCount int            `json:"subscriber_count" db:"subscriber_count"`
	CreatedBy       *string        `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// IsStatic reports whether membership comes solely from the join table.
func (a *Audience) IsStatic() bool {
	return a.Filters.Kind == FilterStatic
}

// FilterKind tags the normalized shape of an audience's filter document.
type FilterKind string

const (
	FilterStatic  FilterKind = "static"
	FilterRules   FilterKind = "rules"
	FilterInvalid FilterKind = "invalid"
)

// AudienceTypeStatic is the discriminator value persisted for static audiences.
const AudienceTypeStatic = "static"

// Rule is one {field, operator, value} filter. Value is kept raw because its
// shape depends on the field (string, "<N>_days", array of tags, ...).
type Rule struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// NewRule builds a rule, marshalling value into its raw form.
func NewRule(field, operator string, value any) Rule {
	raw, _ := json.Marshal(value)
	return Rule{Field: field, Operator: operator, Value: raw}
}

// StringValue returns the value as a string. Numbers and booleans are rendered
// in their JSON form; arrays and objects yield ok=false.
func (r Rule) StringValue() (string, bool) {
	v := bytes.TrimSpace(r.Value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	switch v[0] {
	case '[', '{':
		return "", false
	}
	return string(v), true
}

// StringValues returns the value as a list. A single string is promoted to a
// one-element list.
func (r Rule) StringValues() ([]string, bool) {
	v := bytes.TrimSpace(r.Value)
	if len(v) == 0 {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		return list, true
	}
	if s, ok := r.StringValue(); ok {
		return []string{s}, true
	}
	return nil, false
}

// IsArray reports whether the raw value is a JSON array.
func (r Rule) IsArray() bool {
	v := bytes.TrimSpace(r.Value)
	return len(v) > 0 && v[0] == '['
}

// FilterDocument is the normalized form of an audience's stored filters:
// either Static, a rule list, or Invalid (null, non-object, or a malformed
// rules member). Problem explains an Invalid document.
type FilterDocument struct {
	Kind    FilterKind
	Rules   []Rule
	Problem string
}

// StaticFilters returns the filter document of a static audience.
func StaticFilters() FilterDocument {
	return FilterDocument{Kind: FilterStatic}
}

// RuleFilters returns a dynamic filter document for the given rules.
func RuleFilters(rules ...Rule) FilterDocument {
	if rules == nil {
		rules = []Rule{}
	}
	return FilterDocument{Kind: FilterRules, Rules: rules}
}

// MarshalJSON writes the canonical persisted shape. Legacy flat maps are
// never written back.
func (d FilterDocument) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case FilterStatic:
		return json.Marshal(map[string]string{"audience_type": AudienceTypeStatic})
	case FilterRules:
		rules := d.Rules
		if rules == nil {
			rules = []Rule{}
		}
		return json.Marshal(map[string][]Rule{"rules": rules})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON normalizes any accepted input shape; see ParseFilterDocument.
func (d *FilterDocument) UnmarshalJSON(data []byte) error {
	*d = ParseFilterDocument(data)
	return nil
}

// ParseFilterDocument normalizes a stored or submitted filter document.
// It never fails: shapes it cannot interpret become FilterInvalid.
func ParseFilterDocument(raw []byte) FilterDocument {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return FilterDocument{Kind: FilterInvalid, Problem: "filters missing"}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return FilterDocument{Kind: FilterInvalid, Problem: "filters is not an object"}
	}

	if t, ok := obj["audience_type"]; ok {
		var audienceType string
		if json.Unmarshal(t, &audienceType) == nil && audienceType == AudienceTypeStatic {
			return StaticFilters()
		}
	}

	if rawRules, ok := obj["rules"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(rawRules, &elems); err != nil {
			return FilterDocument{Kind: FilterInvalid, Problem: "rules is not an array"}
		}
		rules := make([]Rule, 0, len(elems))
		for _, e := range elems {
			var r Rule
			if json.Unmarshal(e, &r) != nil || r.Field == "" {
				continue
			}
			rules = append(rules, r)
		}
		return RuleFilters(rules...)
	}

	return RuleFilters(legacyRules(obj)...)
}

// legacyRules converts the flat {field: value} map used by older audience
// records. Keys are visited in sorted order so the result is deterministic.
func legacyRules(obj map[string]json.RawMessage) []Rule {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k == "audience_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rules := make([]Rule, 0, len(keys))
	for _, field := range keys {
		value := obj[field]
		var spec struct {
			Operator string          `json:"operator"`
			Value    json.RawMessage `json:"value"`
			Start    json.RawMessage `json:"start"`
			End      json.RawMessage `json:"end"`
		}
		if json.Unmarshal(value, &spec) == nil && spec.Operator != "" {
			v := spec.Value
			if spec.Operator == "between" {
				v, _ = json.Marshal(map[string]json.RawMessage{"start": spec.Start, "end": spec.End})
			}
			rules = append(rules, Rule{Field: field, Operator: spec.Operator, Value: v})
			continue
		}
		rules = append(rules, Rule{Field: field, Operator: "equals", Value: value})
	}
	return rules
}
