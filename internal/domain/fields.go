package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

var ErrFieldType = errors.New("unexpected field value type")

// Field is one backend field as returned by the pricing service. It always
// carries "value"; other attributes (label, editable, ...) are passed through
// untouched.
type Field map[string]any

// FieldBag is the full field set of a record, keyed by backend field name.
// It is required verbatim as input to the next update call.
type FieldBag map[string]Field

// Value returns the raw "value" attribute of the named field.
func (b FieldBag) Value(name string) (any, bool) {
	f, ok := b[name]
	if !ok {
		return nil, false
	}
	v, ok := f["value"]
	return v, ok
}

func (b FieldBag) String(name string) string {
	v, ok := b.Value(name)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int reads an integral value. Missing or null fields read as zero.
func (b FieldBag) Int(name string) (int64, error) {
	v, ok := b.Value(name)
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", name, ErrFieldType)
		}
		return integral(name, f)
	case float64:
		return integral(name, t)
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", name, ErrFieldType)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("field %s: %w", name, ErrFieldType)
	}
}

func integral(name string, f float64) (int64, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("field %s is not integral: %w", name, ErrFieldType)
	}
	return int64(f), nil
}

// Decimal reads a money value. Missing, null and empty fields read as zero.
func (b FieldBag) Decimal(name string) (decimal.Decimal, error) {
	v, ok := b.Value(name)
	if !ok || v == nil {
		return decimal.Zero, nil
	}
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %s: %w", name, ErrFieldType)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case string:
		if t == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %s: %w", name, ErrFieldType)
		}
		return d, nil
	case decimal.Decimal:
		return t, nil
	default:
		return decimal.Zero, fmt.Errorf("field %s: %w", name, ErrFieldType)
	}
}

// Set stores v as the "value" of the named field, creating the field if needed.
func (b FieldBag) Set(name string, v any) {
	f, ok := b[name]
	if !ok || f == nil {
		f = Field{}
		b[name] = f
	}
	f["value"] = v
}

// IncrementInt adds delta to an integral field in place and returns the new value.
func (b FieldBag) IncrementInt(name string, delta int64) (int64, error) {
	n, err := b.Int(name)
	if err != nil {
		return 0, err
	}
	n += delta
	b.Set(name, json.Number(strconv.FormatInt(n, 10)))
	return n, nil
}

// Clone returns a deep copy, so that mutations never reach a published snapshot.
func (b FieldBag) Clone() FieldBag {
	if b == nil {
		return nil
	}
	out := make(FieldBag, len(b))
	for k, f := range b {
		if f == nil {
			out[k] = nil
			continue
		}
		cf := make(Field, len(f))
		for fk, fv := range f {
			cf[fk] = cloneValue(fv)
		}
		out[k] = cf
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Field:
		out := make(Field, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Actions:
		return t.Clone()
	case Params:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// asMap accepts both decoded JSON objects and the named map types of this package.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Actions:
		return map[string]any(t), true
	case Params:
		return map[string]any(t), true
	case Field:
		return map[string]any(t), true
	default:
		return nil, false
	}
}
