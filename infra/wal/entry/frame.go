package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

type FrameType uint8

const (
	// FrameBatch holds one sequenced batch; Seq is its last position.
	FrameBatch FrameType = iota + 1
)

// headerSize covers [type:1][seq:8][time:8][len:4].
const headerSize = 1 + 8 + 8 + 4

// ErrCorrupt is returned when a complete frame fails its checksum.
var ErrCorrupt = errors.New("entry wal: corrupt frame")

type Frame struct {
	Type FrameType
	Seq  uint64
	Time int64
	Data []byte
}

func NewFrame(t FrameType, seq uint64, data []byte) *Frame {
	return &Frame{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// appendTo lays the frame out as [type:1][seq:8][time:8][len:4][payload][crc:4]
// at the end of buf.
func (f *Frame) appendTo(buf []byte) []byte {
	n := uint32(len(f.Data))
	start := len(buf)

	buf = append(buf, byte(f.Type))
	buf = binary.BigEndian.AppendUint64(buf, f.Seq)
	buf = binary.BigEndian.AppendUint64(buf, uint64(f.Time))
	buf = binary.BigEndian.AppendUint32(buf, n)
	buf = append(buf, f.Data...)
	return binary.BigEndian.AppendUint32(buf, checksum(buf[start:]))
}

// readFrame returns io.EOF on a clean end and io.ErrUnexpectedEOF on a torn
// frame. remaining is the number of unread bytes in the segment; a length
// field pointing past it is treated as torn before anything is allocated.
func readFrame(r io.Reader, remaining int64) (*Frame, int64, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}
	n := int64(binary.BigEndian.Uint32(header[17:21]))
	if headerSize+n+4 > remaining {
		return nil, 0, io.ErrUnexpectedEOF
	}

	body := make([]byte, n+4)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}
	payload := body[:n]
	sum := binary.BigEndian.Uint32(body[n:])
	if !checksumValid(append(header, payload...), sum) {
		return nil, 0, fmt.Errorf("%w: seq %d", ErrCorrupt, binary.BigEndian.Uint64(header[1:9]))
	}

	return &Frame{
		Type: FrameType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, headerSize + n + 4, nil
}
