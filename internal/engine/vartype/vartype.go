// Package vartype centralizes the engine's typed-variable envelope so that
// handlers never deal with {value, type} directly (spec.md §9, "Variable
// typing").
package vartype

import "encoding/json"

// Type is one of the engine's recognized variable types.
type Type string

const (
	String  Type = "String"
	Boolean Type = "Boolean"
	Integer Type = "Integer"
	Long    Type = "Long"
	Double  Type = "Double"
	JSON    Type = "Json"
	Null    Type = "Null"
)

// Variable is the wire envelope the engine speaks: {"value": ..., "type": ...}.
type Variable struct {
	Value json.RawMessage `json:"value"`
	Type  Type            `json:"type"`
}

// Map is a mapping of variable name to typed variable, as carried on
// WorkItem.Variables, ResponseMessage.Variables/LocalVariables.
type Map map[string]Variable

// Encode converts a native Go value into a typed Variable.
// Complex values (slices, maps, structs) are JSON-encoded with Type=Json.
func Encode(v any) Variable {
	switch val := v.(type) {
	case nil:
		return Variable{Value: json.RawMessage("null"), Type: Null}
	case string:
		return Variable{Value: mustMarshal(val), Type: String}
	case bool:
		return Variable{Value: mustMarshal(val), Type: Boolean}
	case int:
		return Variable{Value: mustMarshal(val), Type: Integer}
	case int32:
		return Variable{Value: mustMarshal(val), Type: Integer}
	case int64:
		return Variable{Value: mustMarshal(val), Type: Long}
	case float32:
		return Variable{Value: mustMarshal(val), Type: Double}
	case float64:
		return Variable{Value: mustMarshal(val), Type: Double}
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return Variable{Value: json.RawMessage("null"), Type: Null}
		}
		// JSON-typed variables carry their payload as a JSON-encoded string,
		// per spec.md §4.7: "Complex values ... are JSON-encoded strings".
		encoded, _ := json.Marshal(string(b))
		return Variable{Value: encoded, Type: JSON}
	}
}

// EncodeMap converts a map of native Go values into a Map.
func EncodeMap(values map[string]any) Map {
	out := make(Map, len(values))
	for k, v := range values {
		out[k] = Encode(v)
	}
	return out
}

// Decode converts a typed Variable back into a native Go value.
func (vr Variable) Decode() any {
	switch vr.Type {
	case Null, "":
		return nil
	case JSON:
		var s string
		if err := json.Unmarshal(vr.Value, &s); err != nil {
			return nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return s
		}
		return out
	default:
		var out any
		_ = json.Unmarshal(vr.Value, &out)
		return out
	}
}

// DecodeMap converts a Map back into native Go values, keyed by name.
func (m Map) DecodeMap() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Decode()
	}
	return out
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
