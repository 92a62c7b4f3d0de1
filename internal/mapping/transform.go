package mapping

import (
	"fmt"
	"math"
)

// Transform converts between the decoded datapoint value and the capability
// value. Implementations are pure.
type Transform interface {
	FromDevice(v interface{}) (interface{}, error)
	ToDevice(v interface{}) (interface{}, error)
}

type Identity struct{}

func (Identity) FromDevice(v interface{}) (interface{}, error) { return v, nil }
func (Identity) ToDevice(v interface{}) (interface{}, error)   { return v, nil }

// Scale divides device integers into capability floats, e.g. 215 / 10 = 21.5 °C.
type Scale struct {
	Divisor float64
}

func (s Scale) FromDevice(v interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: scale wants a number, got %T", ErrTransform, v)
	}

	return f / s.Divisor, nil
}

func (s Scale) ToDevice(v interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: scale wants a number, got %T", ErrTransform, v)
	}

	return int64(math.Round(f * s.Divisor)), nil
}

type Clamp struct {
	Min float64
	Max float64
}

func (c Clamp) clamp(v interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: clamp wants a number, got %T", ErrTransform, v)
	}

	return math.Max(c.Min, math.Min(c.Max, f)), nil
}

func (c Clamp) FromDevice(v interface{}) (interface{}, error) { return c.clamp(v) }
func (c Clamp) ToDevice(v interface{}) (interface{}, error)   { return c.clamp(v) }

// EnumMap names enum indexes.
type EnumMap struct {
	Values []string
}

func (e EnumMap) FromDevice(v interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok || f < 0 || int(f) >= len(e.Values) {
		return nil, fmt.Errorf("%w: enum index %v outside %d values", ErrTransform, v, len(e.Values))
	}

	return e.Values[int(f)], nil
}

func (e EnumMap) ToDevice(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: enum wants a string, got %T", ErrTransform, v)
	}

	for i, name := range e.Values {
		if name == s {
			return uint8(i), nil
		}
	}

	return nil, fmt.Errorf("%w: %q is not one of %v", ErrTransform, s, e.Values)
}

type Invert struct{}

func (Invert) FromDevice(v interface{}) (interface{}, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: invert wants a bool, got %T", ErrTransform, v)
	}

	return !b, nil
}

func (i Invert) ToDevice(v interface{}) (interface{}, error) { return i.FromDevice(v) }

// BoolEnum reads an enum or integer as a boolean: On maps to true, anything else to false.
type BoolEnum struct {
	On  int64
	Off int64
}

func (b BoolEnum) FromDevice(v interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: bool_enum wants a number, got %T", ErrTransform, v)
	}

	return int64(f) == b.On, nil
}

func (b BoolEnum) ToDevice(v interface{}) (interface{}, error) {
	on, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: bool_enum wants a bool, got %T", ErrTransform, v)
	}

	if on {
		return b.On, nil
	}
	return b.Off, nil
}

// Chain applies its transforms in order from the device, in reverse order towards it.
type Chain []Transform

func (c Chain) FromDevice(v interface{}) (interface{}, error) {
	var err error
	for _, t := range c {
		if v, err = t.FromDevice(v); err != nil {
			return nil, err
		}
	}

	return v, nil
}

func (c Chain) ToDevice(v interface{}) (interface{}, error) {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		if v, err = c[i].ToDevice(v); err != nil {
			return nil, err
		}
	}

	return v, nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}

	return 0, false
}
