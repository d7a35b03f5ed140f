package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterDocument_Static(t *testing.T) {
	doc := ParseFilterDocument([]byte(`{"audience_type":"static","rules":[{"field":"status","value":"bounced"}]}`))
	assert.Equal(t, FilterStatic, doc.Kind)
	assert.Empty(t, doc.Rules, "rules on a static record are not carried")
}

func TestParseFilterDocument_RuleList(t *testing.T) {
	doc := ParseFilterDocument([]byte(`{"rules":[
		{"field":"subscription","operator":"equals","value":"monthly"},
		{"operator":"equals","value":"orphan"},
		{"field":"tags","operator":"contains","value":["vip","beta"]}
	]}`))
	require.Equal(t, FilterRules, doc.Kind)
	require.Len(t, doc.Rules, 2, "rules without a field are dropped")

	v, ok := doc.Rules[0].StringValue()
	assert.True(t, ok)
	assert.Equal(t, "monthly", v)

	tags, ok := doc.Rules[1].StringValues()
	assert.True(t, ok)
	assert.Equal(t, []string{"vip", "beta"}, tags)
}

func TestParseFilterDocument_LegacyFlatMapMatchesRuleList(t *testing.T) {
	legacy := ParseFilterDocument([]byte(`{"subscription":"monthly","status":"active"}`))
	modern := ParseFilterDocument([]byte(`{"rules":[
		{"field":"status","operator":"equals","value":"active"},
		{"field":"subscription","operator":"equals","value":"monthly"}
	]}`))

	require.Equal(t, FilterRules, legacy.Kind)
	require.Len(t, legacy.Rules, len(modern.Rules))
	for i := range modern.Rules {
		assert.Equal(t, modern.Rules[i].Field, legacy.Rules[i].Field)
		assert.Equal(t, modern.Rules[i].Operator, legacy.Rules[i].Operator)
		assert.JSONEq(t, string(modern.Rules[i].Value), string(legacy.Rules[i].Value))
	}
}

func TestParseFilterDocument_LegacyOperatorObjects(t *testing.T) {
	doc := ParseFilterDocument([]byte(`{
		"audience_type":"dynamic",
		"subscription":{"operator":"in","value":["annual","lifetime"]},
		"updated_at":{"operator":"between","start":"2024-01-01","end":"2024-02-01"}
	}`))
	require.Equal(t, FilterRules, doc.Kind)
	require.Len(t, doc.Rules, 2)

	assert.Equal(t, "subscription", doc.Rules[0].Field)
	assert.Equal(t, "in", doc.Rules[0].Operator)
	assert.True(t, doc.Rules[0].IsArray())

	assert.Equal(t, "updated_at", doc.Rules[1].Field)
	assert.JSONEq(t, `{"start":"2024-01-01","end":"2024-02-01"}`, string(doc.Rules[1].Value))
}

func TestParseFilterDocument_Invalid(t *testing.T) {
	cases := map[string]string{
		"null":         `null`,
		"empty":        ``,
		"array":        `[1,2]`,
		"string":       `"static"`,
		"rules object": `{"rules":{"field":"status"}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			doc := ParseFilterDocument([]byte(in))
			assert.Equal(t, FilterInvalid, doc.Kind)
			assert.NotEmpty(t, doc.Problem)
		})
	}
}

func TestParseFilterDocument_EmptyObjectIsEmptyRuleList(t *testing.T) {
	doc := ParseFilterDocument([]byte(`{}`))
	assert.Equal(t, FilterRules, doc.Kind)
	assert.Empty(t, doc.Rules)
}

func TestFilterDocument_CanonicalJSON(t *testing.T) {
	var a Audience
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a1","name":"Legacy","filters":{"status":"active"}}`), &a))

	out, err := json.Marshal(a.Filters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rules":[{"field":"status","operator":"equals","value":"active"}]}`, string(out))

	out, err = json.Marshal(StaticFilters())
	require.NoError(t, err)
	assert.JSONEq(t, `{"audience_type":"static"}`, string(out))

	var nullFilters Audience
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a2","filters":null}`), &nullFilters))
	assert.Equal(t, FilterInvalid, nullFilters.Filters.Kind)
}

func TestRuleValues(t *testing.T) {
	r := NewRule("signup_date", "within", "30_days")
	v, ok := r.StringValue()
	assert.True(t, ok)
	assert.Equal(t, "30_days", v)

	n := Rule{Field: "x", Value: json.RawMessage(`42`)}
	v, ok = n.StringValue()
	assert.True(t, ok)
	assert.Equal(t, "42", v)

	obj := Rule{Field: "x", Value: json.RawMessage(`{"a":1}`)}
	_, ok = obj.StringValue()
	assert.False(t, ok)
	_, ok = obj.StringValues()
	assert.False(t, ok)

	single := NewRule("tags", "contains", "vip")
	list, ok := single.StringValues()
	assert.True(t, ok)
	assert.Equal(t, []string{"vip"}, list)
}
