package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerSize   = 9
	MaxFrameSize = 256 * 1024 * 1024 // 256 MB

	VersionRequest  byte = 0x03
	VersionResponse byte = 0x83
)

const (
	flagCompression byte = 0x01
	flagTracing     byte = 0x02
)

// Frame is one unit of the client protocol: a fixed 9-byte header followed
// by the body. Stream ids correlate requests with responses per connection.
type Frame struct {
	Version     byte
	Compression bool
	Tracing     bool
	Stream      int16
	Body        Body
}

func NewRequest(stream int16, body Body) *Frame {
	return &Frame{Version: VersionRequest, Stream: stream, Body: body}
}

func NewResponse(stream int16, body Body) *Frame {
	return &Frame{Version: VersionResponse, Stream: stream, Body: body}
}

func NewErrorFrame(stream int16, code ErrorCode, message string) *Frame {
	return NewResponse(stream, &ErrorBody{Code: code, Message: message})
}

func NewProtocolError(stream int16) *Frame {
	return NewErrorFrame(stream, ErrProtocolError, "")
}

func (f *Frame) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(f.Version)

	var flags byte
	if f.Compression {
		flags |= flagCompression
	}
	if f.Tracing {
		flags |= flagTracing
	}
	buf.WriteByte(flags)

	var stream [2]byte
	binary.BigEndian.PutUint16(stream[:], uint16(f.Stream))
	buf.Write(stream[:])

	buf.WriteByte(byte(f.Body.Opcode()))

	body := f.Body.serialize()
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))
	buf.Write(length[:])
	buf.Write(body)

	return buf.Bytes()
}

// ReadFrame reads one frame from the stream. Both the header and the body
// pass through decrypt, which is the identity before the auth handshake
// completes. A malformed version, opcode or oversized length yields a
// protocol-error frame rather than an error, so the handler can answer the
// client and keep the connection; only I/O failures are returned as errors.
func ReadFrame(r io.Reader, decrypt func([]byte) []byte) (*Frame, error) {
	rawHeader := make([]byte, headerSize)
	if _, err := io.ReadFull(r, rawHeader); err != nil {
		return nil, err
	}
	header := decrypt(rawHeader)

	stream := int16(binary.BigEndian.Uint16(header[2:4]))

	version := header[0]
	if version != VersionRequest && version != VersionResponse {
		return NewProtocolError(stream), nil
	}

	length := binary.BigEndian.Uint32(header[5:9])
	if length > MaxFrameSize-headerSize {
		return NewProtocolError(stream), nil
	}

	rawBody := make([]byte, length)
	if _, err := io.ReadFull(r, rawBody); err != nil {
		return nil, err
	}
	body, err := readBody(Opcode(header[4]), decrypt(rawBody))
	if err != nil {
		return NewProtocolError(stream), nil
	}

	flags := header[1]
	return &Frame{
		Version:     version,
		Compression: flags&flagCompression != 0,
		Tracing:     flags&flagTracing != 0,
		Stream:      stream,
		Body:        body,
	}, nil
}

// WriteFrame serializes the frame, applies encrypt to the whole byte
// sequence and writes it out.
func WriteFrame(w io.Writer, f *Frame, encrypt func([]byte) []byte) error {
	if _, err := w.Write(encrypt(f.Serialize())); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Identity is the pass-through transform used before authentication.
func Identity(b []byte) []byte { return b }
