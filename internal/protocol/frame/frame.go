package frame

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed wire header size: opcode u32 LE + length u32 LE.
const HeaderLen = 8

var (
	ErrMalformedHeader  = errors.New("frame: malformed header")
	ErrUnknownOpcode    = errors.New("frame: unknown opcode")
	ErrMalformedPayload = errors.New("frame: malformed payload")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
)

// Opcode identifies the kind of one frame.
type Opcode uint32

const (
	OpHandshake Opcode = iota
	OpMessage
	OpClose
	OpPing
	OpPong
)

func (o Opcode) Valid() bool {
	return o <= OpPong
}

func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "handshake"
	case OpMessage:
		return "message"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%d)", uint32(o))
	}
}

// Header is the fixed wire header.
type Header struct {
	Opcode Opcode
	Length uint32
}

// Frame is one complete wire message.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 1024 * 1024,
	}
}

// Encode returns header + payload as one contiguous buffer so it can be written with a single call.
func Encode(op Opcode, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf
}

// EncodeJSON marshals v and frames it under op.
func EncodeJSON(op Opcode, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Encode(op, payload), nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Opcode))
	binary.LittleEndian.PutUint32(buf[4:8], h.Length)
	return buf
}

// DecodeHeader parses the first HeaderLen bytes of b. On ErrUnknownOpcode the raw header is
// still returned so callers can log it.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: have %d bytes", ErrMalformedHeader, len(b))
	}
	h := Header{
		Opcode: Opcode(binary.LittleEndian.Uint32(b[0:4])),
		Length: binary.LittleEndian.Uint32(b[4:8]),
	}
	if !h.Opcode.Valid() {
		return h, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint32(h.Opcode))
	}
	return h, nil
}

// DecodePayload unmarshals a JSON payload into v.
func DecodePayload(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hb [HeaderLen]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrMalformedHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(hb[:])
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxPayloadBytes > 0 && h.Length > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Opcode: h.Opcode, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f.Opcode, f.Payload))
	return err
}
