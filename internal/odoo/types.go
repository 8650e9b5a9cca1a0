package odoo

import "github.com/revpipe/revpipe/internal/domain"

// Record is one raw entity record as returned by the source. Fields are
// vendor-shaped until the mapper normalizes them; the "id" key is always
// present and numeric.
type Record map[string]interface{}

// SourceID extracts the numeric source id from a record.
func (r Record) SourceID() (int64, bool) {
	return toInt64(r["id"])
}

// modelFor maps an entity type to its source model name.
func modelFor(t domain.EntityType) string {
	switch t {
	case domain.EntityUser:
		return "res.users"
	case domain.EntityOpportunity:
		return "crm.lead"
	case domain.EntityAccount:
		return "res.partner"
	case domain.EntityActivity:
		return "mail.activity"
	case domain.EntityInvoice:
		return "account.move"
	}
	return ""
}

// fieldsFor lists the fields fetched per entity. Unlisted fields stay on
// the source; everything here lands in the raw payload verbatim.
func fieldsFor(t domain.EntityType) []string {
	switch t {
	case domain.EntityUser:
		return []string{
			"id", "name", "login", "email", "active",
			"employee_id", "sale_team_id", "department_id", "parent_id",
		}
	case domain.EntityOpportunity:
		return []string{
			"id", "name", "stage_id", "expected_revenue", "probability",
			"date_deadline", "description", "user_id", "partner_id", "active",
		}
	case domain.EntityAccount:
		return []string{
			"id", "name", "city", "country_id", "email", "phone", "is_company",
		}
	case domain.EntityActivity:
		return []string{
			"id", "activity_type_id", "summary", "note", "date_deadline",
			"state", "res_model", "res_id", "user_id",
		}
	case domain.EntityInvoice:
		return []string{
			"id", "name", "partner_id", "invoice_date", "amount_total",
			"state", "move_type", "invoice_user_id",
		}
	}
	return nil
}

// domainFor builds the source-side filter predicate per entity.
func domainFor(t domain.EntityType) []interface{} {
	switch t {
	case domain.EntityUser:
		return []interface{}{[]interface{}{"share", "=", false}}
	case domain.EntityOpportunity:
		return []interface{}{[]interface{}{"type", "=", "opportunity"}}
	case domain.EntityInvoice:
		return []interface{}{
			[]interface{}{"move_type", "=", "out_invoice"},
			[]interface{}{"state", "=", "posted"},
		}
	default:
		return []interface{}{}
	}
}
