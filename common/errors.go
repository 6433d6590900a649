package common

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// ErrorCode is the §7 error taxonomy. Declared with azcopy's enum idiom
// (common/enum.go) rather than iota so it round-trips through the §6
// error envelope's JSON `code` field by name, not by number.
type ErrorCode uint8

var ECode = ErrorCode(0)

func (ErrorCode) Input() ErrorCode      { return ErrorCode(0) }
func (ErrorCode) Quota() ErrorCode      { return ErrorCode(1) }
func (ErrorCode) IO() ErrorCode         { return ErrorCode(2) }
func (ErrorCode) Network() ErrorCode    { return ErrorCode(3) }
func (ErrorCode) Server() ErrorCode     { return ErrorCode(4) }
func (ErrorCode) Worker() ErrorCode     { return ErrorCode(5) }
func (ErrorCode) Cancelled() ErrorCode  { return ErrorCode(6) }
func (ErrorCode) Corrupt() ErrorCode    { return ErrorCode(7) }
func (ErrorCode) Dependency() ErrorCode { return ErrorCode(8) }
func (ErrorCode) Config() ErrorCode     { return ErrorCode(9) }

func (c ErrorCode) String() string { return EnumString(c) }

func (c ErrorCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ErrorCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := EnumParse(reflect.TypeOf(*c), s)
	if err != nil {
		return err
	}
	*c = v.(ErrorCode)
	return nil
}

// retryableByDefault says whether an error of this code is, absent other
// information, worth retrying per spec §7's propagation policy.
func (c ErrorCode) retryableByDefault() bool {
	switch c {
	case ECode.Network(), ECode.IO(), ECode.Quota():
		return true
	default:
		return false
	}
}

// Error is the §6 error envelope: {code, message, retryable, cause?}.
// Causes are wrapped with github.com/pkg/errors so %+v on the top-level
// error prints a stack trace from the point the envelope was created,
// matching how azcopy's md5Comparer/retryUtils annotate failures.
type Error struct {
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Cause     interface{} `json:"cause,omitempty"`

	wrapped error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// Format implements fmt.Formatter so %+v surfaces the wrapped stack, the
// way pkg/errors-wrapped errors do throughout the teacher's codebase.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s: %s", e.Code, e.Message)
			if e.wrapped != nil {
				fmt.Fprintf(s, "\n%+v", e.wrapped)
			}
			return
		}
		fallthrough
	default:
		fmt.Fprint(s, e.Message)
	}
}

// NewError builds an envelope with the code's default retryability.
func NewError(code ErrorCode, message string, cause error) *Error {
	e := &Error{
		Code:      code,
		Message:   message,
		Retryable: code.retryableByDefault(),
		wrapped:   cause,
	}
	if cause != nil {
		e.Cause = cause.Error()
		e.wrapped = errors.WithStack(cause)
	}
	return e
}

// NewRetryableError lets a call site override the default retryability,
// e.g. a SERVER 4xx is never retryable even though its sibling 5xx is.
func NewRetryableError(code ErrorCode, message string, cause error, retryable bool) *Error {
	e := NewError(code, message, cause)
	e.Retryable = retryable
	return e
}

// AsFileChunkError type-asserts err (or something it wraps) to *Error.
func AsFileChunkError(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}

// IsCode reports whether err is (or wraps) an *Error of the given code.
func IsCode(err error, code ErrorCode) bool {
	fe, ok := AsFileChunkError(err)
	return ok && fe.Code == code
}
