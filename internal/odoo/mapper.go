package odoo

import (
	"encoding/json"
	"strconv"

	"github.com/revpipe/revpipe/internal/domain"
)

// Map normalizes one vendor-shaped record into the canonical payload for
// its entity type. It is referentially transparent: no store access, no
// clock, same input same output. Unknown fields stay behind on the raw
// record and are not copied.
//
// The source wire format has three quirks the mapper absorbs:
//   - relation fields arrive as [id, "Display Name"], {id, name} or a bare
//     scalar, and always leave as a separate id and name pair
//   - unset text and relation fields arrive as boolean false
//   - numerics may arrive as strings; coercion failure yields 0.0
func Map(entity domain.EntityType, raw Record) map[string]interface{} {
	switch entity {
	case domain.EntityUser:
		return mapUser(raw)
	case domain.EntityOpportunity:
		return mapOpportunity(raw)
	case domain.EntityAccount:
		return mapAccount(raw)
	case domain.EntityActivity:
		return mapActivity(raw)
	case domain.EntityInvoice:
		return mapInvoice(raw)
	}
	return nil
}

func mapUser(raw Record) map[string]interface{} {
	employeeID, _ := relation(raw["employee_id"])
	teamID, teamName := relation(raw["sale_team_id"])
	deptID, deptName := relation(raw["department_id"])
	managerEmployeeID, _ := relation(raw["parent_id"])

	email := str(raw["email"])
	if email == "" {
		email = str(raw["login"])
	}

	return map[string]interface{}{
		"id":                  i64(raw["id"]),
		"name":                str(raw["name"]),
		"email":               email,
		"active":              boolean(raw["active"]),
		"employee_id":         employeeID,
		"team_id":             teamID,
		"team_name":           teamName,
		"department_id":       deptID,
		"department_name":     deptName,
		"manager_employee_id": managerEmployeeID,
	}
}

func mapOpportunity(raw Record) map[string]interface{} {
	stageID, stageName := relation(raw["stage_id"])
	salespersonID, salespersonName := relation(raw["user_id"])
	partnerID, partnerName := relation(raw["partner_id"])

	return map[string]interface{}{
		"id":               i64(raw["id"]),
		"name":             str(raw["name"]),
		"stage_id":         stageID,
		"stage":            stageName,
		"expected_revenue": f64(raw["expected_revenue"]),
		"probability":      f64(raw["probability"]),
		"date_deadline":    str(raw["date_deadline"]),
		"description":      str(raw["description"]),
		"salesperson_id":   salespersonID,
		"salesperson_name": salespersonName,
		"partner_id":       partnerID,
		"partner_name":     partnerName,
		"active":           boolean(raw["active"]),
	}
}

func mapAccount(raw Record) map[string]interface{} {
	_, countryName := relation(raw["country_id"])

	return map[string]interface{}{
		"id":         i64(raw["id"]),
		"name":       str(raw["name"]),
		"city":       str(raw["city"]),
		"country":    countryName,
		"email":      str(raw["email"]),
		"phone":      str(raw["phone"]),
		"is_company": boolean(raw["is_company"]),
	}
}

func mapActivity(raw Record) map[string]interface{} {
	_, activityType := relation(raw["activity_type_id"])
	assignedID, assignedName := relation(raw["user_id"])

	return map[string]interface{}{
		"id":                 i64(raw["id"]),
		"activity_type":      activityType,
		"summary":            str(raw["summary"]),
		"note":               str(raw["note"]),
		"date_deadline":      str(raw["date_deadline"]),
		"state":              str(raw["state"]),
		"res_model":          str(raw["res_model"]),
		"res_id":             i64(raw["res_id"]),
		"assigned_user_id":   assignedID,
		"assigned_user_name": assignedName,
	}
}

func mapInvoice(raw Record) map[string]interface{} {
	partnerID, partnerName := relation(raw["partner_id"])
	salespersonID, salespersonName := relation(raw["invoice_user_id"])

	return map[string]interface{}{
		"id":               i64(raw["id"]),
		"name":             str(raw["name"]),
		"partner_id":       partnerID,
		"partner_name":     partnerName,
		"invoice_date":     str(raw["invoice_date"]),
		"amount_total":     f64(raw["amount_total"]),
		"state":            str(raw["state"]),
		"move_type":        str(raw["move_type"]),
		"salesperson_id":   salespersonID,
		"salesperson_name": salespersonName,
	}
}

// relation decodes the three wire forms of a relation field into (id, name).
// false and nil both mean unset.
func relation(v interface{}) (int64, string) {
	switch rel := v.(type) {
	case []interface{}:
		var id int64
		var name string
		if len(rel) > 0 {
			id, _ = toInt64(rel[0])
		}
		if len(rel) > 1 {
			if s, ok := rel[1].(string); ok {
				name = s
			}
		}
		return id, name
	case map[string]interface{}:
		id, _ := toInt64(rel["id"])
		name, _ := rel["name"].(string)
		return id, name
	default:
		id, ok := toInt64(v)
		if !ok {
			return 0, ""
		}
		return id, ""
	}
}

// str coerces a wire value to a string; false-as-empty applies.
func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// f64 coerces a wire value to a float; coercion failure yields 0.0.
func f64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0.0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

// i64 coerces a wire value to an integer, 0 on failure.
func i64(v interface{}) int64 {
	n, _ := toInt64(v)
	return n
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// boolean coerces a wire value to a bool. Unlike text fields, a literal
// false here is a real value, not an unset marker.
func boolean(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
