package odoo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/revpipe/revpipe/internal/domain"
)

func TestRelation_WireForms(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		wantID   int64
		wantName string
	}{
		{"tuple", []interface{}{float64(7), "Sales EU"}, 7, "Sales EU"},
		{"tuple id only", []interface{}{float64(7)}, 7, ""},
		{"object", map[string]interface{}{"id": float64(9), "name": "Sales US"}, 9, "Sales US"},
		{"bare scalar", float64(3), 3, ""},
		{"unset false", false, 0, ""},
		{"nil", nil, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, name := relation(tt.input)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestStr_FalseAsEmpty(t *testing.T) {
	assert.Equal(t, "", str(false))
	assert.Equal(t, "", str(nil))
	assert.Equal(t, "hello", str("hello"))
}

func TestF64_Coercion(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  float64
	}{
		{"float", float64(12.5), 12.5},
		{"int", 3, 3.0},
		{"string", "50000", 50000.0},
		{"bad string", "n/a", 0.0},
		{"false", false, 0.0},
		{"nil", nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f64(tt.input))
		})
	}
}

func TestMap_User(t *testing.T) {
	raw := Record{
		"id":            float64(42),
		"name":          "Bob Example",
		"login":         "bob@example.com",
		"email":         false,
		"active":        true,
		"employee_id":   []interface{}{float64(20), "Bob Example"},
		"sale_team_id":  []interface{}{float64(5), "EMEA"},
		"department_id": map[string]interface{}{"id": float64(2), "name": "Sales"},
		"parent_id":     []interface{}{float64(10), "Alice Example"},
	}

	got := Map(domain.EntityUser, raw)

	assert.Equal(t, int64(42), got["id"])
	assert.Equal(t, "Bob Example", got["name"])
	assert.Equal(t, "bob@example.com", got["email"], "email falls back to login when unset")
	assert.Equal(t, int64(20), got["employee_id"])
	assert.Equal(t, int64(5), got["team_id"])
	assert.Equal(t, "EMEA", got["team_name"])
	assert.Equal(t, int64(2), got["department_id"])
	assert.Equal(t, "Sales", got["department_name"])
	assert.Equal(t, int64(10), got["manager_employee_id"])
}

func TestMap_Opportunity(t *testing.T) {
	raw := Record{
		"id":               float64(101),
		"name":             "Big Deal",
		"stage_id":         []interface{}{float64(3), "Proposal"},
		"expected_revenue": float64(50000),
		"probability":      float64(60),
		"date_deadline":    "2026-09-30",
		"description":      false,
		"user_id":          []interface{}{float64(42), "Bob Example"},
		"partner_id":       []interface{}{float64(77), "Acme Corp"},
		"active":           true,
	}

	got := Map(domain.EntityOpportunity, raw)

	assert.Equal(t, int64(101), got["id"])
	assert.Equal(t, "Proposal", got["stage"])
	assert.Equal(t, 50000.0, got["expected_revenue"])
	assert.Equal(t, "2026-09-30", got["date_deadline"], "date strings pass through verbatim")
	assert.Equal(t, "", got["description"])
	assert.Equal(t, int64(42), got["salesperson_id"])
	assert.Equal(t, "Bob Example", got["salesperson_name"])
	assert.Equal(t, int64(77), got["partner_id"])
	assert.Equal(t, "Acme Corp", got["partner_name"])
	assert.Equal(t, true, got["active"])
}

func TestMap_OpportunityUnassigned(t *testing.T) {
	raw := Record{
		"id":       float64(102),
		"name":     "Orphan Deal",
		"stage_id": false,
		"user_id":  false,
	}

	got := Map(domain.EntityOpportunity, raw)

	assert.Equal(t, int64(0), got["salesperson_id"])
	assert.Equal(t, "", got["salesperson_name"])
	assert.Equal(t, "", got["stage"])
	assert.Equal(t, 0.0, got["expected_revenue"])
}

func TestMap_Activity(t *testing.T) {
	raw := Record{
		"id":               float64(7),
		"activity_type_id": []interface{}{float64(1), "Meeting"},
		"summary":          "POC kickoff",
		"note":             false,
		"date_deadline":    "2026-08-30",
		"state":            "planned",
		"res_model":        "crm.lead",
		"res_id":           float64(101),
		"user_id":          []interface{}{float64(42), "Bob Example"},
	}

	got := Map(domain.EntityActivity, raw)

	assert.Equal(t, "Meeting", got["activity_type"])
	assert.Equal(t, "crm.lead", got["res_model"])
	assert.Equal(t, int64(101), got["res_id"])
	assert.Equal(t, "", got["note"])
	assert.Equal(t, int64(42), got["assigned_user_id"])
}

func TestMap_UnknownFieldsNotCopied(t *testing.T) {
	raw := Record{
		"id":           float64(1),
		"name":         "Acme",
		"custom_field": "kept on raw only",
	}

	got := Map(domain.EntityAccount, raw)
	_, present := got["custom_field"]
	assert.False(t, present)
}
