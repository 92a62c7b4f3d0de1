package datapoint

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode turns a report into a typed value. The returned dynamic types are:
//
//	TypeBool   -> bool
//	TypeValue  -> int64 (4 bytes signed, 1 and 2 bytes unsigned)
//	TypeEnum   -> uint8
//	TypeBitmap -> Bitmap
//	TypeString -> string
//	TypeRaw    -> []byte (copied)
func Decode(r Report) (interface{}, error) {
	switch r.Type {
	case TypeBool:
		if len(r.Data) != 1 {
			return nil, fmt.Errorf("%w: bool dp %d wants 1 byte, got %d", ErrDecode, r.ID, len(r.Data))
		}
		switch r.Data[0] {
		case 0x00:
			return false, nil
		case 0x01:
			return true, nil
		}
		return nil, fmt.Errorf("%w: bool dp %d has value 0x%02x", ErrDecode, r.ID, r.Data[0])

	case TypeValue:
		switch len(r.Data) {
		case 1:
			return int64(r.Data[0]), nil
		case 2:
			return int64(binary.BigEndian.Uint16(r.Data)), nil
		case 4:
			return int64(int32(binary.BigEndian.Uint32(r.Data))), nil
		}
		return nil, fmt.Errorf("%w: value dp %d has width %d", ErrDecode, r.ID, len(r.Data))

	case TypeEnum:
		if len(r.Data) != 1 {
			return nil, fmt.Errorf("%w: enum dp %d wants 1 byte, got %d", ErrDecode, r.ID, len(r.Data))
		}
		return r.Data[0], nil

	case TypeBitmap:
		raw, err := readUint(r.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: bitmap dp %d: %v", ErrDecode, r.ID, err)
		}
		b := Bitmap{Width: len(r.Data)}
		for i := uint(0); i < uint(len(r.Data))*8; i++ {
			if raw&(1<<i) != 0 {
				b.Bits = append(b.Bits, i)
			}
		}
		return b, nil

	case TypeString:
		return string(r.Data), nil

	case TypeRaw:
		return append([]byte{}, r.Data...), nil
	}

	return nil, fmt.Errorf("%w: dp %d has unknown %v", ErrDecode, r.ID, r.Type)
}

// Encode is the inverse of Decode for the given type tag.
func Encode(t Type, value interface{}) ([]byte, error) {
	switch t {
	case TypeBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: bool wants bool, got %T", ErrEncode, value)
		}
		if v {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil

	case TypeValue:
		v, ok := toInt64(value)
		if !ok {
			return nil, fmt.Errorf("%w: value wants an integer, got %T", ErrEncode, value)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: value %d overflows 4 bytes", ErrEncode, v)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(v)))
		return buf, nil

	case TypeEnum:
		v, ok := toInt64(value)
		if !ok || v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("%w: enum wants 0..255, got %v", ErrEncode, value)
		}
		return []byte{uint8(v)}, nil

	case TypeBitmap:
		v, ok := value.(Bitmap)
		if !ok {
			return nil, fmt.Errorf("%w: bitmap wants Bitmap, got %T", ErrEncode, value)
		}
		var raw uint32
		for i, bit := range v.Bits {
			if bit >= uint(v.Width)*8 {
				return nil, fmt.Errorf("%w: bit %d outside width %d", ErrEncode, bit, v.Width)
			}
			if i > 0 && bit <= v.Bits[i-1] {
				return nil, fmt.Errorf("%w: bits %v not strictly ascending", ErrEncode, v.Bits)
			}
			raw |= 1 << bit
		}
		return writeUint(raw, v.Width)

	case TypeString:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string wants string, got %T", ErrEncode, value)
		}
		return []byte(v), nil

	case TypeRaw:
		v, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: raw wants []byte, got %T", ErrEncode, value)
		}
		return append([]byte{}, v...), nil
	}

	return nil, fmt.Errorf("%w: unknown %v", ErrEncode, t)
}

func readUint(data []byte) (uint32, error) {
	switch len(data) {
	case 1:
		return uint32(data[0]), nil
	case 2:
		return uint32(binary.BigEndian.Uint16(data)), nil
	case 4:
		return binary.BigEndian.Uint32(data), nil
	}

	return 0, fmt.Errorf("width %d", len(data))
}

func writeUint(v uint32, width int) ([]byte, error) {
	switch width {
	case 1:
		return []byte{uint8(v)}, nil
	case 2:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v))
		return buf, nil
	case 4:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, v)
		return buf, nil
	}

	return nil, fmt.Errorf("%w: bitmap width %d", ErrEncode, width)
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		// JSON numbers arrive as float64; only whole numbers are integers.
		if v != math.Trunc(v) || v < math.MinInt64 || v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}

	return 0, false
}
