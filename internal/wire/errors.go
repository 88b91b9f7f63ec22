package wire

import (
	"bytes"
	"fmt"
	"io"
)

// ErrorCode identifies an ERROR frame body: [int] code followed by a
// [string] message.
type ErrorCode int32

const (
	ErrServerError          ErrorCode = 0x0000
	ErrProtocolError        ErrorCode = 0x000A
	ErrBadCredentials       ErrorCode = 0x0100
	ErrUnavailableException ErrorCode = 0x1000
	ErrOverloaded           ErrorCode = 0x1001
	ErrIsBootstrapping      ErrorCode = 0x1002
	ErrTruncateError        ErrorCode = 0x1003
	ErrWriteTimeout         ErrorCode = 0x1100
	ErrReadTimeout          ErrorCode = 0x1200
	ErrSyntaxError          ErrorCode = 0x2000
	ErrUnauthorized         ErrorCode = 0x2100
	ErrInvalid              ErrorCode = 0x2200
	ErrConfigError          ErrorCode = 0x2300
	ErrAlreadyExists        ErrorCode = 0x2400
	ErrUnprepared           ErrorCode = 0x2500
)

func (c ErrorCode) String() string {
	switch c {
	case ErrServerError:
		return "a server error occurred"
	case ErrProtocolError:
		return "there was a protocol error"
	case ErrBadCredentials:
		return "invalid credentials provided"
	case ErrUnavailableException:
		return "not enough replicas were available"
	case ErrOverloaded:
		return "the server is overloaded"
	case ErrIsBootstrapping:
		return "the server is currently bootstrapping"
	case ErrTruncateError:
		return "an error occurred while truncating data"
	case ErrWriteTimeout:
		return "a write timeout occurred"
	case ErrReadTimeout:
		return "a read timeout occurred"
	case ErrSyntaxError:
		return "there is a syntax error in the query"
	case ErrUnauthorized:
		return "you are not authorized to perform this action"
	case ErrInvalid:
		return "the request was invalid"
	case ErrConfigError:
		return "there is a configuration error"
	case ErrAlreadyExists:
		return "the keyspace or table already exists"
	case ErrUnprepared:
		return "the prepared statement id is unknown"
	default:
		return fmt.Sprintf("unknown error code 0x%04X", int32(c))
	}
}

// CodedError carries an ErrorCode through Go error returns so the client
// handler can answer with the matching ERROR frame.
type CodedError struct {
	Code    ErrorCode
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Message
}

func NewCodedError(code ErrorCode, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorBody is the body of an ERROR frame.
type ErrorBody struct {
	Code    ErrorCode
	Message string
}

func (e *ErrorBody) Opcode() Opcode { return OpError }

func (e *ErrorBody) serialize() []byte {
	var buf bytes.Buffer
	WriteInt(&buf, int32(e.Code))
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	WriteString(&buf, msg)
	return buf.Bytes()
}

func readErrorBody(r io.Reader) (*ErrorBody, error) {
	code, err := ReadInt(r)
	if err != nil {
		return nil, err
	}
	msg, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	return &ErrorBody{Code: ErrorCode(code), Message: msg}, nil
}
