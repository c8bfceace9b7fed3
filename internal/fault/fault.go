// Package fault classifies the failures a story session can surface to the
// presentation layer.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindGeneration
	KindEmbedding
	KindStore
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGeneration:
		return "generation"
	case KindEmbedding:
		return "embedding"
	case KindStore:
		return "store"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a wrapped *Error.
var (
	ErrValidation = errors.New("validation failed")
	ErrGeneration = errors.New("generation failed")
	ErrEmbedding  = errors.New("embedding failed")
	ErrStore      = errors.New("store operation failed")
	ErrParse      = errors.New("title and summary could not be parsed")
)

// Error is a classified failure raised by Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, sentinel(e.Kind))
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindGeneration:
		return ErrGeneration
	case KindEmbedding:
		return ErrEmbedding
	case KindStore:
		return ErrStore
	case KindParse:
		return ErrParse
	default:
		return nil
	}
}

// Validation builds a validation failure with a formatted message.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Generation wraps a text or image provider failure.
func Generation(op string, err error) error {
	return wrap(KindGeneration, op, err)
}

// Embedding wraps a failure computing a vector.
func Embedding(op string, err error) error {
	return wrap(KindEmbedding, op, err)
}

// Store wraps a collection or upsert failure.
func Store(op string, err error) error {
	return wrap(KindStore, op, err)
}

// Parse reports a title/summary reply with missing labeled lines.
func Parse(op, format string, args ...any) error {
	return &Error{Kind: KindParse, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == k {
		return err
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Message renders err as a short user-facing sentence.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindValidation:
		return "Check your input: " + err.Error()
	case KindGeneration:
		return "The generation service failed, try again: " + err.Error()
	case KindEmbedding:
		return "Could not index the result, try again: " + err.Error()
	case KindStore:
		return "Could not save the result, try again: " + err.Error()
	case KindParse:
		return "The proposal came back malformed, ask for a new one."
	default:
		return err.Error()
	}
}
