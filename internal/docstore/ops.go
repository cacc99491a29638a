package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// OpKind names an atomic field transform.
type OpKind string

const (
	OpSetField        OpKind = "set"
	OpDeleteField     OpKind = "delete"
	OpArrayUnion      OpKind = "arrayUnion"
	OpArrayRemove     OpKind = "arrayRemove"
	OpIncrement       OpKind = "increment"
	OpServerTimestamp OpKind = "serverTimestamp"
)

// Op is one field transform applied by Update.
type Op struct {
	Kind   OpKind `json:"kind"`
	Field  string `json:"field"`
	Value  any    `json:"value,omitempty"`
	Values []any  `json:"values,omitempty"`
	Delta  int64  `json:"delta,omitempty"`
}

// SetField overwrites one field.
func SetField(field string, value any) Op {
	return Op{Kind: OpSetField, Field: field, Value: value}
}

// DeleteField removes one field.
func DeleteField(field string) Op {
	return Op{Kind: OpDeleteField, Field: field}
}

// ArrayUnion appends each value not already present in the array field.
func ArrayUnion(field string, values ...any) Op {
	return Op{Kind: OpArrayUnion, Field: field, Values: values}
}

// ArrayRemove removes every occurrence of each value from the array field.
func ArrayRemove(field string, values ...any) Op {
	return Op{Kind: OpArrayRemove, Field: field, Values: values}
}

// Increment adds delta to a numeric field, treating missing as zero.
func Increment(field string, delta int64) Op {
	return Op{Kind: OpIncrement, Field: field, Delta: delta}
}

// ServerTimestampOp stamps the field with the store time. The stamp never
// moves backwards relative to the value already stored.
func ServerTimestampOp(field string) Op {
	return Op{Kind: OpServerTimestamp, Field: field}
}

// ApplyOps returns a copy of fields with ops applied in order.
func ApplyOps(fields Fields, now time.Time, ops ...Op) (Fields, error) {
	out, ok := cloneValue(map[string]any(fields)).(map[string]any)
	if !ok || out == nil {
		out = map[string]any{}
	}
	for _, op := range ops {
		if op.Field == "" {
			return nil, fmt.Errorf("apply %s: field is empty", op.Kind)
		}
		switch op.Kind {
		case OpSetField:
			v, err := normalize(op.Value)
			if err != nil {
				return nil, fmt.Errorf("apply set %s: %w", op.Field, err)
			}
			out[op.Field] = v
		case OpDeleteField:
			delete(out, op.Field)
		case OpArrayUnion:
			arr := asArray(out[op.Field])
			for _, raw := range op.Values {
				v, err := normalize(raw)
				if err != nil {
					return nil, fmt.Errorf("apply arrayUnion %s: %w", op.Field, err)
				}
				if !containsValue(arr, v) {
					arr = append(arr, v)
				}
			}
			out[op.Field] = arr
		case OpArrayRemove:
			arr := asArray(out[op.Field])
			kept := make([]any, 0, len(arr))
			for _, existing := range arr {
				drop := false
				for _, raw := range op.Values {
					v, err := normalize(raw)
					if err != nil {
						return nil, fmt.Errorf("apply arrayRemove %s: %w", op.Field, err)
					}
					if reflect.DeepEqual(existing, v) {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, existing)
				}
			}
			out[op.Field] = kept
		case OpIncrement:
			current, _ := out[op.Field].(float64)
			out[op.Field] = current + float64(op.Delta)
		case OpServerTimestamp:
			stamp := now.UTC()
			if prev, ok := out[op.Field].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, prev); err == nil && t.After(stamp) {
					stamp = t
				}
			}
			out[op.Field] = stamp.Format(time.RFC3339Nano)
		default:
			return nil, fmt.Errorf("unknown op kind %q", op.Kind)
		}
	}
	return out, nil
}

// normalizeFields coerces a caller supplied body into JSON-shaped values and
// resolves ServerTimestamp placeholders.
func normalizeFields(fields Fields, now time.Time) (Fields, error) {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && s == ServerTimestamp {
			out[k] = now.UTC().Format(time.RFC3339Nano)
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

func asArray(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return []any{}
	}
	out := make([]any, len(arr))
	copy(out, arr)
	return out
}

func containsValue(arr []any, v any) bool {
	for _, existing := range arr {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}
