package jmux

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sync"
)

// SinkKind distinguishes the two sink variants of spec §3.
type SinkKind int

const (
	SinkAwaitable SinkKind = iota
	SinkStreaming
)

func (k SinkKind) String() string {
	if k == SinkStreaming {
		return "StreamableValues"
	}
	return "AwaitableValue"
}

var bigIntType = reflect.TypeOf(big.Int{})

// classifyType recovers a sink's element-type set from its Go type
// parameter, mirroring the "type discovery" inspector of spec §4.3. Go
// generics are monomorphized at compile time, so — unlike the reflective
// Python original, which has to parse `Origin[Args]` out of a runtime type
// hint — this just inspects the concrete reflect.Type of T captured at a
// sink's first use. Nullable primitives are represented by a pointer to the
// primitive (*string, *float64, *Int, *bool); a nested schema reference is
// always a bare pointer to a struct (nested schemas are never declared
// nullable, per spec §3's "each non-nested element type").
func classifyType(t reflect.Type) (kind ElementKind, nullable bool, err error) {
	working := t
	if working.Kind() == reflect.Ptr {
		elem := working.Elem()
		if elem.Kind() == reflect.Struct && elem != bigIntType {
			return KindSchema, false, nil
		}
		nullable = true
		working = elem
	}

	switch {
	case working == bigIntType:
		return KindInt, nullable, nil
	case working.Kind() == reflect.Float64:
		return KindFloat, nullable, nil
	case working.Kind() == reflect.String:
		return KindString, nullable, nil
	case working.Kind() == reflect.Bool:
		return KindBool, nullable, nil
	}
	return 0, false, fmt.Errorf("%w: unsupported sink element type %s", ErrUnexpectedAttribute, t)
}

// convertValue coerces the engine's tagged value union into a concrete T,
// using reflect.Convert so that named types (e.g. a string-based enum) are
// accepted the way plain `string(x)` conversions are, and boxing into a
// pointer when the sink's element type is nullable.
func convertValue[T any](v value, nullable bool) (T, error) {
	var zero T

	if v.kind == KindSchema {
		t, ok := v.schema.(T)
		if !ok {
			return zero, fmt.Errorf("%w: cannot assign %T into sink of type %T", ErrTypeEmit, v.schema, zero)
		}
		return t, nil
	}

	rt := reflect.TypeOf(&zero).Elem()
	target := rt
	if nullable {
		target = rt.Elem()
	}

	var rv reflect.Value
	switch v.kind {
	case KindInt:
		n := new(big.Int).Set(&v.i)
		rv = reflect.ValueOf(*n)
	case KindFloat:
		rv = reflect.ValueOf(v.f)
	case KindString:
		rv = reflect.ValueOf(v.s)
	case KindBool:
		rv = reflect.ValueOf(v.b)
	default:
		return zero, fmt.Errorf("%w: cannot convert value kind %s", ErrTypeEmit, v.kind)
	}

	if !rv.Type().ConvertibleTo(target) {
		return zero, fmt.Errorf("%w: cannot assign %s into sink of type %s", ErrTypeEmit, rv.Type(), target)
	}
	converted := rv.Convert(target)

	if nullable {
		ptr := reflect.New(target)
		ptr.Elem().Set(converted)
		out, ok := ptr.Interface().(T)
		if !ok {
			return zero, fmt.Errorf("%w: cannot assign *%s into sink of type %T", ErrTypeEmit, target, zero)
		}
		return out, nil
	}
	out, ok := converted.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: cannot assign %s into sink of type %T", ErrTypeEmit, converted.Type(), zero)
	}
	return out, nil
}

// sink is the internal, type-erased interface the demultiplexer drives.
// Both AwaitableValue[T] and StreamableValues[T] satisfy it; schema.go's
// introspect uses it to validate schema struct fields and demux.go uses it
// to emit/close without knowing T.
type sink interface {
	validate() error
	sinkKind() SinkKind
	elementTypeSet() map[ElementKind]bool
	mainElementType() ElementKind
	putValue(v value) error
	closeSink() error
	ensureClosed() error
	newNested(cfg demuxConfig, depth int) (any, *Demultiplexer, error)
}

// AwaitableValue holds at most one value of type T, per spec §3/§4.3. Its
// zero value is ready to use — schema.go's introspect allocates one via
// reflect.New for every tagged, nil schema field, relying on this the same
// way a zero sync.WaitGroup or sync.Mutex is ready to use.
type AwaitableValue[T any] struct {
	once sync.Once

	kind     ElementKind
	nullable bool
	initErr  error

	mu     sync.Mutex
	set    bool
	closed bool
	val    T
	done   chan struct{}
}

func (a *AwaitableValue[T]) init() {
	a.once.Do(func() {
		var zero T
		kind, nullable, err := classifyType(reflect.TypeOf(&zero).Elem())
		a.kind, a.nullable, a.initErr = kind, nullable, err
		a.done = make(chan struct{})
	})
}

func (a *AwaitableValue[T]) validate() error {
	a.init()
	return a.initErr
}

func (a *AwaitableValue[T]) sinkKind() SinkKind { return SinkAwaitable }

func (a *AwaitableValue[T]) elementTypeSet() map[ElementKind]bool {
	a.init()
	m := map[ElementKind]bool{a.kind: true}
	if a.nullable {
		m[KindNull] = true
	}
	return m
}

func (a *AwaitableValue[T]) mainElementType() ElementKind {
	a.init()
	return a.kind
}

// ElementTypes returns the set of element kinds this sink accepts.
func (a *AwaitableValue[T]) ElementTypes() map[ElementKind]bool { return a.elementTypeSet() }

// MainElementType returns the sink's single non-null element kind.
func (a *AwaitableValue[T]) MainElementType() ElementKind { return a.mainElementType() }

// SinkKind reports this sink's variant.
func (a *AwaitableValue[T]) SinkKind() SinkKind { return SinkAwaitable }

func (a *AwaitableValue[T]) putValue(v value) error {
	a.init()
	if a.initErr != nil {
		return a.initErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errSinkClosed(noDocumentID, a.sinkKind().String(), a.kind.String())
	}
	if a.set {
		// Duplicate key / second put: spec §9 leaves this unspecified and
		// suggests treating it as a type-mismatch rejection.
		return errTypeEmit(noDocumentID, "unset "+a.kind.String(), "already-set "+a.kind.String())
	}

	if v.kind == KindNull {
		if !a.nullable {
			return errTypeEmit(noDocumentID, a.kind.String(), "null")
		}
		a.set = true
		close(a.done)
		return nil
	}
	if v.kind != a.kind {
		return errTypeEmit(noDocumentID, a.kind.String(), v.kind.String())
	}

	converted, err := convertValue[T](v, a.nullable)
	if err != nil {
		return err
	}
	a.val = converted
	a.set = true
	close(a.done)
	return nil
}

func (a *AwaitableValue[T]) closeSink() error {
	a.init()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errSinkClosed(noDocumentID, a.sinkKind().String(), a.kind.String())
	}
	if !a.set {
		if !a.nullable {
			return errNothingEmitted(noDocumentID)
		}
		a.set = true
		close(a.done)
	}
	a.closed = true
	return nil
}

func (a *AwaitableValue[T]) ensureClosed() error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil
	}
	return a.closeSink()
}

func (a *AwaitableValue[T]) newNested(cfg demuxConfig, depth int) (any, *Demultiplexer, error) {
	a.init()
	if a.kind != KindSchema {
		return nil, nil, fmt.Errorf("%w: sink element type is not a nested schema", ErrUnexpectedAttribute)
	}
	return instantiateNested[T](cfg, depth)
}

// Await blocks until the sink is set or closed (yielding the logical null for
// a nullable sink closed without a value), or ctx is done.
func (a *AwaitableValue[T]) Await(ctx context.Context) (T, error) {
	a.init()
	select {
	case <-a.done:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Current returns the last emitted value, failing if none has been set yet.
func (a *AwaitableValue[T]) Current() (T, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	if !a.set {
		return zero, errNoCurrentSink(noDocumentID)
	}
	return a.val, nil
}

// StreamableValues holds a finite, ordered sequence of values of type T, per
// spec §3/§4.3. Like AwaitableValue, its zero value is ready to use.
type StreamableValues[T any] struct {
	once sync.Once

	kind    ElementKind
	initErr error

	ch     chan T
	closed chan struct{}

	mu       sync.Mutex
	last     T
	hasLast  bool
	isClosed bool
}

const streamBufferSize = 64

func (s *StreamableValues[T]) init() {
	s.once.Do(func() {
		var zero T
		kind, nullable, err := classifyType(reflect.TypeOf(&zero).Elem())
		if err == nil && nullable {
			err = fmt.Errorf("%w: streaming sink element type must not be nullable", ErrUnexpectedAttribute)
		}
		s.kind, s.initErr = kind, err
		s.ch = make(chan T, streamBufferSize)
		s.closed = make(chan struct{})
	})
}

func (s *StreamableValues[T]) validate() error {
	s.init()
	return s.initErr
}

func (s *StreamableValues[T]) sinkKind() SinkKind { return SinkStreaming }

func (s *StreamableValues[T]) elementTypeSet() map[ElementKind]bool {
	s.init()
	return map[ElementKind]bool{s.kind: true}
}

func (s *StreamableValues[T]) mainElementType() ElementKind {
	s.init()
	return s.kind
}

// ElementTypes returns the set of element kinds this sink accepts.
func (s *StreamableValues[T]) ElementTypes() map[ElementKind]bool { return s.elementTypeSet() }

// MainElementType returns the sink's single element kind.
func (s *StreamableValues[T]) MainElementType() ElementKind { return s.mainElementType() }

// SinkKind reports this sink's variant.
func (s *StreamableValues[T]) SinkKind() SinkKind { return SinkStreaming }

func (s *StreamableValues[T]) putValue(v value) error {
	s.init()
	if s.initErr != nil {
		return s.initErr
	}
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return errSinkClosed(noDocumentID, s.sinkKind().String(), s.kind.String())
	}
	s.mu.Unlock()

	if v.kind != s.kind {
		return errTypeEmit(noDocumentID, s.kind.String(), v.kind.String())
	}
	converted, err := convertValue[T](v, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.last, s.hasLast = converted, true
	s.mu.Unlock()

	s.ch <- converted
	return nil
}

func (s *StreamableValues[T]) closeSink() error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return errSinkClosed(noDocumentID, s.sinkKind().String(), s.kind.String())
	}
	s.isClosed = true
	close(s.ch)
	close(s.closed)
	return nil
}

func (s *StreamableValues[T]) ensureClosed() error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return s.closeSink()
}

func (s *StreamableValues[T]) newNested(cfg demuxConfig, depth int) (any, *Demultiplexer, error) {
	s.init()
	if s.kind != KindSchema {
		return nil, nil, fmt.Errorf("%w: sink element type is not a nested schema", ErrUnexpectedAttribute)
	}
	return instantiateNested[T](cfg, depth)
}

// C returns a channel that yields each emitted value in FIFO order and
// closes cleanly when the sink closes — for callers who prefer `range`.
func (s *StreamableValues[T]) C() <-chan T {
	s.init()
	return s.ch
}

// Next pulls the next value, reporting ok=false once the sink has closed and
// drained, or ctx's cancellation as an error.
func (s *StreamableValues[T]) Next(ctx context.Context) (T, bool, error) {
	s.init()
	select {
	case v, ok := <-s.ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Current returns the last emitted value, failing if none has been set yet.
func (s *StreamableValues[T]) Current() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.hasLast {
		return zero, errNoCurrentSink(noDocumentID)
	}
	return s.last, nil
}

// instantiateNested builds a fresh nested schema instance of type T (always
// a pointer to a user-declared schema struct here) and its Demultiplexer,
// via reflect.New — T is concretely known inside this generic function even
// though the caller only has the type-erased sink interface.
func instantiateNested[T any](cfg demuxConfig, depth int) (any, *Demultiplexer, error) {
	var zeroT T
	tt := reflect.TypeOf(&zeroT).Elem()
	if tt.Kind() != reflect.Ptr || tt.Elem().Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("%w: nested sink element type must be a pointer to a struct", ErrUnexpectedAttribute)
	}
	instancePtr := reflect.New(tt.Elem())
	instance, ok := instancePtr.Interface().(T)
	if !ok {
		return nil, nil, fmt.Errorf("%w: failed to instantiate nested schema %s", ErrUnexpectedAttribute, tt)
	}

	fm, err := introspect(reflect.ValueOf(instance))
	if err != nil {
		return nil, nil, err
	}
	nested := newFromFieldMap(fm, cfg, depth)
	return instance, nested, nil
}
