package model

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// ValidateSearchJSON checks an inbound saved-search document. It returns the
// first violation found, in document order, or nil. When partialUpdate is
// set, name and conditions may be omitted.
func ValidateSearchJSON(doc *JSONObject, partialUpdate bool) error {
	if doc == nil {
		return InvalidInput("", "JSON data must be an object")
	}

	if !partialUpdate {
		for _, prop := range []string{"name", "conditions"} {
			if !doc.IsSet(prop) {
				return InvalidInput(prop, "'%s' property not provided", prop)
			}
		}
	}

	for _, m := range doc.Members() {
		switch m.Name {
		// Checked during key and version reconciliation.
		case "key", "version", "searchKey", "searchVersion":

		case "name":
			if err := validateSearchName(m.Value); err != nil {
				return err
			}

		case "conditions":
			if err := validateSearchConditions(m.Value); err != nil {
				return err
			}

		default:
			return InvalidInput(m.Name, "Invalid property '%s'", m.Name)
		}
	}
	return nil
}

func validateSearchName(raw json.RawMessage) error {
	if JSONType(raw) != "string" {
		return InvalidInput("name", "'name' must be a string")
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return InvalidInput("name", "'name' must be a string")
	}
	if name == "" {
		return InvalidInput("name", "Search name cannot be empty")
	}
	if utf8.RuneCountInString(name) > NameMaxLength {
		return FieldTooLong("name", "Search name cannot be longer than %d characters", NameMaxLength)
	}
	if strings.ContainsRune(name, 0) {
		return InvalidInput("name", "Search name cannot contain NUL characters")
	}
	return nil
}

func validateSearchConditions(raw json.RawMessage) error {
	if typ := JSONType(raw); typ != "array" {
		return InvalidInput("conditions", "'conditions' must be an array (%s)", typ)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return InvalidInput("conditions", "'conditions' must be an array (%v)", err)
	}
	if len(entries) == 0 {
		return InvalidInput("conditions", "'conditions' cannot be empty")
	}

	for _, entry := range entries {
		cond := conditionObject(entry)

		for _, prop := range []string{"condition", "operator", "value"} {
			if !cond.IsSet(prop) {
				return InvalidInput(prop, "'%s' property not provided for search condition", prop)
			}
		}

		for _, m := range cond.Members() {
			if JSONType(m.Value) != "string" {
				return InvalidInput(m.Name, "'%s' must be a string", m.Name)
			}
			var val string
			if err := json.Unmarshal(m.Value, &val); err != nil {
				return InvalidInput(m.Name, "'%s' must be a string", m.Name)
			}

			switch m.Name {
			case "condition":
				if val == "" {
					return InvalidInput(m.Name, "Search condition cannot be empty")
				}
				if len(val) > ConditionMaxLength {
					return InvalidInput(m.Name, "Search condition cannot be longer than %d characters", ConditionMaxLength)
				}

			case "operator":
				if val == "" {
					return InvalidInput(m.Name, "Search operator cannot be empty")
				}
				if len(val) > OperatorMaxLength {
					return InvalidInput(m.Name, "Search operator cannot be longer than %d characters", OperatorMaxLength)
				}

			case "value":
				if len(val) > ValueMaxLength {
					return InvalidInput(m.Name, "Search value cannot be longer than %d characters", ValueMaxLength)
				}

			default:
				return InvalidInput(m.Name, "Invalid property '%s' for search condition", m.Name)
			}

			// Stored as PostgreSQL text, which cannot hold NUL.
			if strings.ContainsRune(val, 0) {
				return InvalidInput(m.Name, "Search %s cannot contain NUL characters", m.Name)
			}
		}
	}
	return nil
}

// conditionObject parses one conditions entry. Entries that are not objects
// yield an empty object so the required-property check reports them.
func conditionObject(raw json.RawMessage) *JSONObject {
	if JSONType(raw) != "object" {
		return &JSONObject{}
	}
	obj, err := ParseJSONObject(raw)
	if err != nil {
		return &JSONObject{}
	}
	return obj
}

// ConditionsFromJSON converts a validated conditions array into Conditions,
// splitting any mode suffix off each condition name.
func ConditionsFromJSON(raw json.RawMessage) ([]Condition, error) {
	var entries []struct {
		Condition string `json:"condition"`
		Operator  string `json:"operator"`
		Value     string `json:"value"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, InvalidInput("conditions", "'conditions' must be an array of objects")
	}
	conds := make([]Condition, 0, len(entries))
	for _, e := range entries {
		conds = append(conds, ParseCondition(e.Condition, e.Operator, e.Value))
	}
	return conds, nil
}
