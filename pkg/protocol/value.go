package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind is the JSON type held by a Value.
type ValueKind int

const (
	NullValue ValueKind = iota
	BoolValue
	NumberValue
	StringValue
	ArrayValue
	ObjectValue
)

func (k ValueKind) String() string {
	switch k {
	case BoolValue:
		return "bool"
	case NumberValue:
		return "number"
	case StringValue:
		return "string"
	case ArrayValue:
		return "array"
	case ObjectValue:
		return "object"
	default:
		return "null"
	}
}

// Value is an arbitrary JSON value: tool arguments, structured tool output and
// metadata pass through the bridge as Values. Numbers keep their literal text
// so a forwarded 64-bit id is never rounded through float64. The zero Value is
// JSON null.
type Value struct {
	kind ValueKind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: BoolValue, b: b} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: NumberValue, n: json.Number(strconv.FormatInt(n, 10))} }

// Float wraps a float.
func Float(f float64) Value {
	return Value{kind: NumberValue, n: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Number wraps a number literal.
func Number(n json.Number) Value { return Value{kind: NumberValue, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: StringValue, s: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: ArrayValue, arr: items}
}

// Object wraps a map of values.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: ObjectValue, obj: fields}
}

// ValueOf converts any JSON-encodable Go value into a Value.
func ValueOf(v interface{}) (Value, error) {
	if val, ok := v.(Value); ok {
		return val, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("failed to encode value: %w", err)
	}
	var out Value
	if err := json.Unmarshal(data, &out); err != nil {
		return Value{}, err
	}
	return out, nil
}

// MustValue is ValueOf for literals known to be encodable.
func MustValue(v interface{}) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Kind returns the JSON type of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == NullValue }

// AsBool returns the boolean and whether the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == BoolValue }

// AsNumber returns the number literal and whether the value is a number.
func (v Value) AsNumber() (json.Number, bool) { return v.n, v.kind == NumberValue }

// AsString returns the string and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == StringValue }

// AsArray returns the elements and whether the value is an array.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == ArrayValue }

// AsObject returns the fields and whether the value is an object.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == ObjectValue }

// Field returns a member of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != ObjectValue {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Interface converts the value back to plain Go types (map[string]interface{},
// []interface{}, json.Number, string, bool, nil).
func (v Value) Interface() interface{} {
	switch v.kind {
	case BoolValue:
		return v.b
	case NumberValue:
		return v.n
	case StringValue:
		return v.s
	case ArrayValue:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case ObjectValue:
		out := make(map[string]interface{}, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality. Numbers compare by numeric value when both
// literals parse, so 1 and 1.0 are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case NullValue:
		return true
	case BoolValue:
		return v.b == o.b
	case NumberValue:
		if v.n == o.n {
			return true
		}
		a, errA := v.n.Float64()
		b, errB := o.n.Float64()
		return errA == nil && errB == nil && a == b
	case StringValue:
		return v.s == o.s
	case ArrayValue:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case ObjectValue:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler. Object keys are written sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case NullValue:
		buf.WriteString("null")
	case BoolValue:
		buf.WriteString(strconv.FormatBool(v.b))
	case NumberValue:
		if v.n == "" {
			buf.WriteString("0")
			return nil
		}
		if !json.Valid([]byte(v.n)) {
			return fmt.Errorf("invalid number literal %q", string(v.n))
		}
		buf.WriteString(string(v.n))
	case StringValue:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case ArrayValue:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ObjectValue:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromDecoded(raw)
	return nil
}

func fromDecoded(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		return Number(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromDecoded(item)
		}
		return Array(items...)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = fromDecoded(item)
		}
		return Object(fields)
	default:
		return String(fmt.Sprint(t))
	}
}
