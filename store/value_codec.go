package store

import (
	"encoding/json"
	"fmt"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
)

// wireValue is the JSON-on-the-wire shape of a core.Value, used only at
// the repository boundary (Node.Payload, Execution.Context,
// NodeExecution.Input/Output columns). Mirrors the teacher's pattern of
// marshaling structured fields (agent_stats.go's tools_used) into a
// single JSON/JSONB column rather than exploding them into extra
// tables.
type wireValue struct {
	Kind     string               `json:"kind"`
	Bool     bool                 `json:"bool,omitempty"`
	Integer  int64                `json:"integer,omitempty"`
	Float    float64              `json:"float,omitempty"`
	String   string               `json:"string,omitempty"`
	Bytes    []byte               `json:"bytes,omitempty"`
	Sequence []wireValue          `json:"sequence,omitempty"`
	Mapping  map[string]wireValue `json:"mapping,omitempty"`
}

// EncodeValue serializes a core.Value for storage.
func EncodeValue(v core.Value) ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// DecodeValue reconstructs a core.Value from a column previously written
// by EncodeValue. An empty byte slice decodes to core.NullValue().
func DecodeValue(data []byte) (core.Value, error) {
	if len(data) == 0 {
		return core.NullValue(), nil
	}
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return core.NullValue(), fmt.Errorf("decode value: %w", err)
	}
	return fromWire(w)
}

func toWire(v core.Value) (wireValue, error) {
	switch v.Kind() {
	case core.ValueNull:
		return wireValue{Kind: "null"}, nil
	case core.ValueBool:
		b, _ := v.Bool()
		return wireValue{Kind: "bool", Bool: b}, nil
	case core.ValueInteger:
		i, _ := v.Integer()
		return wireValue{Kind: "integer", Integer: i}, nil
	case core.ValueFloat:
		f, _ := v.Float()
		return wireValue{Kind: "float", Float: f}, nil
	case core.ValueString:
		s, _ := v.String()
		return wireValue{Kind: "string", String: s}, nil
	case core.ValueBytes:
		b, _ := v.Bytes()
		return wireValue{Kind: "bytes", Bytes: b}, nil
	case core.ValueSequence:
		seq, _ := v.Sequence()
		out := make([]wireValue, len(seq))
		for i, e := range seq {
			w, err := toWire(e)
			if err != nil {
				return wireValue{}, err
			}
			out[i] = w
		}
		return wireValue{Kind: "sequence", Sequence: out}, nil
	case core.ValueMapping:
		m, _ := v.Mapping()
		out := make(map[string]wireValue, len(m))
		for k, e := range m {
			w, err := toWire(e)
			if err != nil {
				return wireValue{}, err
			}
			out[k] = w
		}
		return wireValue{Kind: "mapping", Mapping: out}, nil
	default:
		return wireValue{}, fmt.Errorf("encode value: unknown kind %d", v.Kind())
	}
}

func fromWire(w wireValue) (core.Value, error) {
	switch w.Kind {
	case "", "null":
		return core.NullValue(), nil
	case "bool":
		return core.BoolValue(w.Bool), nil
	case "integer":
		return core.IntegerValue(w.Integer), nil
	case "float":
		return core.FloatValue(w.Float), nil
	case "string":
		return core.StringValue(w.String), nil
	case "bytes":
		return core.BytesValue(w.Bytes), nil
	case "sequence":
		out := make([]core.Value, len(w.Sequence))
		for i, e := range w.Sequence {
			v, err := fromWire(e)
			if err != nil {
				return core.NullValue(), err
			}
			out[i] = v
		}
		return core.SequenceValue(out), nil
	case "mapping":
		out := make(map[string]core.Value, len(w.Mapping))
		for k, e := range w.Mapping {
			v, err := fromWire(e)
			if err != nil {
				return core.NullValue(), err
			}
			out[k] = v
		}
		return core.MappingValue(out), nil
	default:
		return core.NullValue(), fmt.Errorf("decode value: unknown kind %q", w.Kind)
	}
}
