package datapoint

import "errors"

var (
	// ErrDecode is returned when a payload does not fit its type tag.
	ErrDecode = errors.New("datapoint: decoding failed")

	// ErrEncode is returned when a value cannot be represented by a type tag.
	ErrEncode = errors.New("datapoint: encoding failed")

	// ErrFrame is returned for truncated or oversized 0xEF00 payloads.
	ErrFrame = errors.New("datapoint: malformed frame")
)
