package datapoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Frame is the cluster-specific payload of a 0xEF00 data command: a 16 bit
// Tuya sequence followed by length-prefixed datapoint records.
type Frame struct {
	Sequence uint16
	Reports  []Report
}

const (
	sequenceLen     = 2
	recordHeaderLen = 4
)

// ParseFrame splits a 0xEF00 payload into its datapoint records.
func ParseFrame(payload []byte) (Frame, error) {
	if len(payload) < sequenceLen {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the sequence", ErrFrame, len(payload))
	}

	f := Frame{Sequence: binary.BigEndian.Uint16(payload)}

	rest := payload[sequenceLen:]
	for len(rest) > 0 {
		if len(rest) < recordHeaderLen {
			return Frame{}, fmt.Errorf("%w: truncated record header (% x)", ErrFrame, rest)
		}

		length := int(binary.BigEndian.Uint16(rest[2:4]))
		if len(rest) < recordHeaderLen+length {
			return Frame{}, fmt.Errorf("%w: dp %d declares %d bytes, %d left", ErrFrame, rest[0], length, len(rest)-recordHeaderLen)
		}

		f.Reports = append(f.Reports, Report{
			ID:   rest[0],
			Type: Type(rest[1]),
			Data: append([]byte{}, rest[recordHeaderLen:recordHeaderLen+length]...),
		})

		rest = rest[recordHeaderLen+length:]
	}

	return f, nil
}

// Marshal is the inverse of ParseFrame.
func (f Frame) Marshal() ([]byte, error) {
	buf := make([]byte, sequenceLen, 16)
	binary.BigEndian.PutUint16(buf, f.Sequence)

	for _, r := range f.Reports {
		if len(r.Data) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: dp %d payload of %d bytes", ErrFrame, r.ID, len(r.Data))
		}

		buf = append(buf, r.ID, uint8(r.Type), 0, 0)
		binary.BigEndian.PutUint16(buf[len(buf)-2:], uint16(len(r.Data)))
		buf = append(buf, r.Data...)
	}

	return buf, nil
}

// TimeSyncResponse builds the answer to a CommandTimeSync request: the request
// sequence, then UTC and local seconds since the epoch, both big-endian.
func TimeSyncResponse(sequence uint16, now time.Time) []byte {
	_, offset := now.Zone()

	buf := make([]byte, 10)
	binary.BigEndian.PutUint16(buf[0:2], sequence)
	binary.BigEndian.PutUint32(buf[2:6], uint32(now.Unix()))
	binary.BigEndian.PutUint32(buf[6:10], uint32(now.Unix()+int64(offset)))

	return buf
}
