package jmux

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors, one per row of the engine's error taxonomy. Callers should
// use errors.Is against these rather than comparing *Error values directly.
// noDocumentID is used by code paths (sinks) that do not know their owning
// Demultiplexer's id; demux.go back-fills it when propagating sink errors.
var noDocumentID uuid.UUID

var (
	ErrUnexpectedCharacter  = errors.New("jmux: unexpected character")
	ErrEmptyKey             = errors.New("jmux: empty key")
	ErrMissingAttribute     = errors.New("jmux: missing attribute")
	ErrUnexpectedAttribute  = errors.New("jmux: unexpected attribute type")
	ErrParsePrimitive       = errors.New("jmux: failed to parse primitive")
	ErrTypeEmit             = errors.New("jmux: type mismatch on emit")
	ErrNoCurrentSink        = errors.New("jmux: no current sink")
	ErrNothingEmitted       = errors.New("jmux: nothing emitted")
	ErrNotAllPropertiesSet  = errors.New("jmux: not all properties set")
	ErrSinkClosed           = errors.New("jmux: sink already closed")
	ErrObjectAlreadyClosed  = errors.New("jmux: object already closed")
	ErrStreamParse          = errors.New("jmux: stream parse error")
)

// Error is the concrete error type raised throughout the engine. It always
// wraps one of the Err* sentinels above (via Unwrap), plus whatever
// structured context that sentinel's row in the taxonomy calls for.
type Error struct {
	kind error

	// populated depending on kind; zero values are omitted by Error().
	DocumentID uuid.UUID
	Char       rune
	State      State
	Stack      []Mode
	Hint       string
	Object     string
	Attribute  string
	Expected   string
	Actual     string
	Field      string
	Buffer     string
	Reason     string
	CodeUnit   rune
	Context    string

	wrapped error // for not_all_properties_set wrapping nothing_emitted
}

func (e *Error) Error() string {
	msg := e.kind.Error()
	switch {
	case e.kind == ErrUnexpectedCharacter:
		msg = fmt.Sprintf("%s %q in state %q (stack %v)", msg, e.Char, e.State, e.Stack)
		if e.Hint != "" {
			msg += ": " + e.Hint
		}
	case e.kind == ErrEmptyKey:
		// no extra context
	case e.kind == ErrMissingAttribute:
		msg = fmt.Sprintf("%s: %q has no field %q", msg, e.Object, e.Attribute)
	case e.kind == ErrUnexpectedAttribute:
		msg = fmt.Sprintf("%s: %q.%q does not conform to a sink (expected %s)", msg, e.Object, e.Attribute, e.Expected)
	case e.kind == ErrParsePrimitive:
		msg = fmt.Sprintf("%s: buffer %q (%s)", msg, e.Buffer, e.Reason)
	case e.kind == ErrTypeEmit:
		msg = fmt.Sprintf("%s: expected %s, got %s", msg, e.Expected, e.Actual)
	case e.kind == ErrNotAllPropertiesSet:
		msg = fmt.Sprintf("%s: field %q", msg, e.Field)
	case e.kind == ErrSinkClosed:
		msg = fmt.Sprintf("%s: %s[%s]", msg, e.Expected, e.Actual)
	case e.kind == ErrStreamParse:
		msg = fmt.Sprintf("%s: code unit %U (%s)", msg, e.CodeUnit, e.Context)
	}
	if e.DocumentID != uuid.Nil {
		msg = fmt.Sprintf("%s [doc=%s]", msg, e.DocumentID)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.kind
}

// Is lets errors.Is(err, ErrNotAllPropertiesSet) succeed while also letting
// errors.Is(err, ErrNothingEmitted) succeed for a wrapped nothing_emitted,
// matching spec §7's "wraps nothing_emitted" note for not_all_properties_set.
func (e *Error) Is(target error) bool {
	if target == e.kind {
		return true
	}
	if e.wrapped != nil {
		return errors.Is(e.wrapped, target)
	}
	return false
}

func errUnexpectedCharacter(doc uuid.UUID, ch rune, state State, stack []Mode, hint string) *Error {
	return &Error{kind: ErrUnexpectedCharacter, DocumentID: doc, Char: ch, State: state, Stack: stack, Hint: hint}
}

func errEmptyKey(doc uuid.UUID) *Error {
	return &Error{kind: ErrEmptyKey, DocumentID: doc}
}

func errMissingAttribute(doc uuid.UUID, object, attribute string) *Error {
	return &Error{kind: ErrMissingAttribute, DocumentID: doc, Object: object, Attribute: attribute}
}

func errUnexpectedAttributeType(doc uuid.UUID, object, attribute, expected string) *Error {
	return &Error{kind: ErrUnexpectedAttribute, DocumentID: doc, Object: object, Attribute: attribute, Expected: expected}
}

func errParsePrimitive(doc uuid.UUID, buffer, reason string) *Error {
	return &Error{kind: ErrParsePrimitive, DocumentID: doc, Buffer: buffer, Reason: reason}
}

func errTypeEmit(doc uuid.UUID, expected, actual string) *Error {
	return &Error{kind: ErrTypeEmit, DocumentID: doc, Expected: expected, Actual: actual}
}

func errNoCurrentSink(doc uuid.UUID) *Error {
	return &Error{kind: ErrNoCurrentSink, DocumentID: doc}
}

func errNothingEmitted(doc uuid.UUID) *Error {
	return &Error{kind: ErrNothingEmitted, DocumentID: doc}
}

func errNotAllPropertiesSet(doc uuid.UUID, field string, cause error) *Error {
	return &Error{kind: ErrNotAllPropertiesSet, DocumentID: doc, Field: field, wrapped: cause}
}

func errSinkClosed(doc uuid.UUID, sinkKind, mainType string) *Error {
	return &Error{kind: ErrSinkClosed, DocumentID: doc, Expected: sinkKind, Actual: mainType}
}

func errObjectAlreadyClosed(doc uuid.UUID) *Error {
	return &Error{kind: ErrObjectAlreadyClosed, DocumentID: doc}
}

func errStreamParse(doc uuid.UUID, codeUnit rune, context string) *Error {
	return &Error{kind: ErrStreamParse, DocumentID: doc, CodeUnit: codeUnit, Context: context}
}
