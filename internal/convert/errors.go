package convert

import (
	"errors"
	"fmt"
)

// Kind classifies conversion failures. Every kind aborts the document; none
// is retried.
type Kind string

const (
	KindDecode        Kind = "decode"
	KindCodec         Kind = "codec"
	KindSerialization Kind = "serialization"
	KindIO            Kind = "io"
)

// Error is a conversion failure with its kind and context.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a conversion error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// DecodeError reports a document or page that failed to open, decode or
// render, or that has invalid geometry.
func DecodeError(message string, err error) *Error {
	return NewError(KindDecode, message, err)
}

// CodecError reports a JBIG2 or JPEG2000 compressor failure.
func CodecError(message string, err error) *Error {
	return NewError(KindCodec, message, err)
}

// SerializationError reports a document the PDF writer rejected.
func SerializationError(message string, err error) *Error {
	return NewError(KindSerialization, message, err)
}

// IOError reports temp file, rename or cleanup failures.
func IOError(message string, err error) *Error {
	return NewError(KindIO, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
