// Package wire provides a simple length-prefixed framing codec for
// carrying protobuf messages over a netsvc session, so applications don't
// have to invent their own message boundaries on top of a streaming
// transport.
package wire

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxFrameSize bounds a single decoded frame, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const MaxFrameSize = 16 << 20

// Encode prepends a 4-byte big-endian length prefix to a marshaled
// protobuf message.
func Encode(msg proto.Message) ([]byte, error) {
	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// EncodeStruct is a convenience wrapper for messages expressed as a
// structpb.Struct, the well-known type used across this module in place
// of hand-generated request/response types.
func EncodeStruct(fields map[string]interface{}) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: building struct: %w", err)
	}
	return Encode(s)
}

// Decoder incrementally reassembles frames out of a byte stream, the
// counterpart to a netsvc.Handler.OnRead callback that may be handed a
// partial frame, several frames, or a frame spanning multiple calls.
type Decoder struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete frame now
// available, leaving any partial trailing frame buffered for next time.
func (d *Decoder) Feed(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)

	var frames [][]byte
	for {
		if len(d.buf) < 4 {
			break
		}
		n := binary.BigEndian.Uint32(d.buf[:4])
		if n > MaxFrameSize {
			return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d", n, MaxFrameSize)
		}
		if uint32(len(d.buf)-4) < n {
			break
		}
		frame := make([]byte, n)
		copy(frame, d.buf[4:4+n])
		frames = append(frames, frame)
		d.buf = d.buf[4+n:]
	}
	return frames, nil
}
