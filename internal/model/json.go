package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// JSONMember is a single property of a JSON object.
type JSONMember struct {
	Name  string
	Value json.RawMessage
}

// JSONObject is a decoded JSON object that keeps its members in document
// order. A repeated name keeps its first position and its last value.
type JSONObject struct {
	members []JSONMember
}

// ParseJSONObject decodes data, which must hold exactly one JSON object.
func ParseJSONObject(data []byte) (*JSONObject, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, InvalidInput("", "Invalid JSON: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, InvalidInput("", "JSON data must be an object")
	}

	obj := &JSONObject{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, InvalidInput("", "Invalid JSON: %v", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, InvalidInput("", "Invalid JSON: unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, InvalidInput(name, "Invalid JSON: %v", err)
		}
		obj.Set(name, raw)
	}
	// Closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, InvalidInput("", "Invalid JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, InvalidInput("", "Invalid JSON: trailing data after object")
	}
	return obj, nil
}

// Members returns the object's properties in document order.
func (o *JSONObject) Members() []JSONMember {
	return o.members
}

// Len returns the number of distinct properties.
func (o *JSONObject) Len() int {
	return len(o.members)
}

// Get returns the raw value of the named property.
func (o *JSONObject) Get(name string) (json.RawMessage, bool) {
	for _, m := range o.members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

// IsSet reports whether the named property is present and not null.
func (o *JSONObject) IsSet(name string) bool {
	v, ok := o.Get(name)
	return ok && JSONType(v) != "null"
}

// Set adds or replaces a property.
func (o *JSONObject) Set(name string, value json.RawMessage) {
	for i := range o.members {
		if o.members[i].Name == name {
			o.members[i].Value = value
			return
		}
	}
	o.members = append(o.members, JSONMember{Name: name, Value: value})
}

// Without returns a copy of the object minus the named properties.
func (o *JSONObject) Without(names ...string) *JSONObject {
	out := &JSONObject{members: make([]JSONMember, 0, len(o.members))}
outer:
	for _, m := range o.members {
		for _, n := range names {
			if m.Name == n {
				continue outer
			}
		}
		out.members = append(out.members, m)
	}
	return out
}

// String decodes the named property as a string.
func (o *JSONObject) String(name string) (string, bool) {
	v, ok := o.Get(name)
	if !ok || JSONType(v) != "string" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// MarshalJSON encodes the object with its members in order.
func (o *JSONObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o.members {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(m.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSONType names the type of a raw JSON value: "object", "array", "string",
// "number", "boolean" or "null".
func JSONType(raw json.RawMessage) string {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return "null"
	}
	switch raw[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	}
	return "number"
}
