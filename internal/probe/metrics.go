package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the type held by a Value.
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueFloat
	ValueBool
	ValueString
	ValueList
)

// Value is a typed metric value.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	b    bool
	s    string
	list []string
}

func Int(v int) Value          { return Value{kind: ValueInt, i: int64(v)} }
func Float(v float64) Value    { return Value{kind: ValueFloat, f: v} }
func Bool(v bool) Value        { return Value{kind: ValueBool, b: v} }
func String(v string) Value    { return Value{kind: ValueString, s: v} }
func Strings(v []string) Value { return Value{kind: ValueList, list: append([]string(nil), v...)} }

// Kind returns the type tag.
func (v Value) Kind() ValueKind { return v.kind }

// Number returns the value as a float when it is numeric or boolean.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case ValueInt:
		return float64(v.i), true
	case ValueFloat:
		return v.f, true
	case ValueBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// List returns the string list held by a list value.
func (v Value) List() []string {
	if v.kind != ValueList {
		return nil
	}
	return append([]string(nil), v.list...)
}

// String renders the value for CSV cells and summaries.
func (v Value) String() string {
	switch v.kind {
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueList:
		return strings.Join(v.list, ";")
	}
	return v.s
}

// MarshalJSON encodes the value as its natural JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueInt:
		return json.Marshal(v.i)
	case ValueFloat:
		return json.Marshal(v.f)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return json.Marshal(v.s)
}

// UnmarshalJSON decodes a JSON scalar or string array. Whole numbers
// decode as ints.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			*v = Value{kind: ValueInt, i: i}
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return err
		}
		*v = Float(f)
	case bool:
		*v = Bool(x)
	case []any:
		list := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		*v = Strings(list)
	case string:
		*v = String(x)
	default:
		*v = String("")
	}
	return nil
}

// Metric is one named measurement.
type Metric struct {
	Name  string
	Value Value
}

// Metrics is an insertion-ordered set of measurements. The first entry is
// the probe's key metric.
type Metrics []Metric

// Set replaces an existing metric or appends a new one.
func (m *Metrics) Set(name string, v Value) {
	for i := range *m {
		if (*m)[i].Name == name {
			(*m)[i].Value = v
			return
		}
	}
	*m = append(*m, Metric{Name: name, Value: v})
}

// Get looks up a metric by name.
func (m Metrics) Get(name string) (Value, bool) {
	for _, metric := range m {
		if metric.Name == name {
			return metric.Value, true
		}
	}
	return Value{}, false
}

// Key returns the first metric, if any.
func (m Metrics) Key() (Metric, bool) {
	if len(m) == 0 {
		return Metric{}, false
	}
	return m[0], true
}

// MarshalJSON encodes the metrics as an object preserving insertion order.
func (m Metrics) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, metric := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(metric.Name)
		if err != nil {
			return nil, err
		}
		value, err := metric.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the input.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metrics: expected JSON object")
	}
	out := Metrics{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return err
		}
		out = append(out, Metric{Name: name, Value: v})
	}
	*m = out
	return nil
}
