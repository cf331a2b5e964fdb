package jmux

import (
	"errors"
	"log/slog"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// demuxConfig holds the optional knobs every Demultiplexer in a nesting tree
// shares, set via Option at the root New call and threaded down to nested
// schema instances — grounded on the functional-options pattern used
// throughout shaharia-lab-claude-agent-sdk-go's claude.Options.
type demuxConfig struct {
	logger   *slog.Logger
	maxDepth int
}

const defaultMaxNestingDepth = 64

func defaultConfig() demuxConfig {
	return demuxConfig{maxDepth: defaultMaxNestingDepth}
}

// Option configures a Demultiplexer at construction.
type Option func(*demuxConfig)

// WithLogger attaches a *slog.Logger for structured diagnostics: the root
// object opening and closing at Debug, parse/sink errors at Warn. A nil logger (the
// default) keeps the engine silent, since a parsing library should not log
// on a caller's behalf unless asked.
func WithLogger(l *slog.Logger) Option {
	return func(c *demuxConfig) { c.logger = l }
}

// WithMaxNestingDepth bounds how deeply nested schemas may recurse, guarding
// against a schema author accidentally declaring runaway nesting. The
// default is 64.
func WithMaxNestingDepth(n int) Option {
	return func(c *demuxConfig) { c.maxDepth = n }
}

func isJSONWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Demultiplexer is the character-fed state machine driving one JSON object
// parse into a bound schema's sinks, per spec §4.4. It is deliberately
// non-generic internally (unlike AwaitableValue[T]/StreamableValues[T]): the
// type parameter on New[S] only exists to type-check the call site, because
// nested schema instances are discovered by reflection at runtime and a
// generic Demultiplexer[S] would not compose across arbitrarily nested
// schema types without reflection doing the same work anyway.
type Demultiplexer struct {
	id    uuid.UUID
	pda   *pda
	dec   *decoder
	cfg   demuxConfig
	depth int

	fields       *fieldMap
	currentField string
	current      sink
	nested       *Demultiplexer

	lastErr error
}

// New binds schema (a pointer to a user-declared schema struct whose fields
// are tagged `jmux:"..."` and typed *AwaitableValue[T]/*StreamableValues[T])
// to a fresh Demultiplexer ready to consume a JSON object describing it.
func New[S any](schema *S, opts ...Option) (*Demultiplexer, error) {
	fm, err := introspect(reflect.ValueOf(schema))
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return newFromFieldMap(fm, cfg, 0), nil
}

func newFromFieldMap(fm *fieldMap, cfg demuxConfig, depth int) *Demultiplexer {
	return &Demultiplexer{
		id:     uuid.New(),
		pda:    newPDA(),
		dec:    newDecoder(),
		cfg:    cfg,
		depth:  depth,
		fields: fm,
	}
}

// Done reports whether the root object has been fully parsed and closed.
func (d *Demultiplexer) Done() bool {
	return d.pda.State() == StateEnd
}

// ID returns this document's correlation id, also attached to every *Error
// it raises.
func (d *Demultiplexer) ID() uuid.UUID {
	return d.id
}

// FeedString feeds each rune of s in order; see FeedChar.
func (d *Demultiplexer) FeedString(s string) error {
	for _, r := range s {
		if err := d.FeedChar(r); err != nil {
			return err
		}
	}
	return nil
}

// FeedChar advances the state machine by one character. It never looks
// ahead or back, per spec §4.4.
func (d *Demultiplexer) FeedChar(r rune) error {
	switch d.pda.State() {
	case StateEnd:
		return errObjectAlreadyClosed(d.id)
	case StateError:
		if d.lastErr != nil {
			return d.lastErr
		}
		return errObjectAlreadyClosed(d.id)
	case StateStart:
		return d.feedStart(r)
	}

	top, ok := d.pda.Top()
	if !ok {
		return d.bug()
	}
	switch top {
	case ModeRoot:
		return d.feedRoot(r)
	case ModeArray:
		return d.feedArray(r)
	case ModeObject:
		return d.feedObjectDelegate(r)
	}
	return d.bug()
}

func (d *Demultiplexer) feedStart(r rune) error {
	if isJSONWhitespace(r) {
		return nil
	}
	if r == '{' {
		d.pda.Push(ModeRoot)
		d.pda.SetState(StateExpectKey)
		d.logDebug("object opened")
		return nil
	}
	return d.fail(r, "JSON must start with '{'")
}

// --- root context ---------------------------------------------------------

func (d *Demultiplexer) feedRoot(r rune) error {
	switch d.pda.State() {
	case StateExpectKey:
		if isJSONWhitespace(r) {
			return nil
		}
		if r == '"' {
			d.dec.Reset()
			d.pda.SetState(StateParsingKey)
			return nil
		}
		if r == '}' {
			// An empty object `{}` — valid JSON; finalize still enforces
			// that every non-nullable required field got closed.
			return d.finalizeRoot()
		}
		return d.fail(r, "expected '\"' to start a key")

	case StateParsingKey:
		return d.feedParsingKey(r)

	case StateExpectColon:
		if isJSONWhitespace(r) {
			return nil
		}
		if r == ':' {
			d.pda.SetState(StateExpectValue)
			return nil
		}
		return d.fail(r, "expected ':'")

	case StateExpectValue:
		return d.dispatchValue(r, true)

	case StateParsingString:
		return d.feedParsingString(r, false)

	case StateParsingInteger, StateParsingFloat, StateParsingBoolean, StateParsingNull:
		return d.feedPrimitiveChar(r, ",}", d.terminatePrimitiveRoot)

	case StateExpectCommaOrEOC:
		if isJSONWhitespace(r) {
			return nil
		}
		if r == ',' {
			d.pda.SetState(StateExpectKey)
			return nil
		}
		if r == '}' {
			return d.finalizeRoot()
		}
		return d.fail(r, "expected ',' or '}'")
	}
	return d.bug()
}

func (d *Demultiplexer) feedParsingKey(r rune) error {
	if d.dec.IsTerminatingQuote(r) {
		key := d.dec.Buffer()
		if key == "" {
			return d.failWith(errEmptyKey(d.id))
		}
		s, err := d.fields.lookup(key)
		if err != nil {
			return d.failWith(withDocID(err, d.id))
		}
		d.currentField = key
		d.current = s
		d.dec.Reset()
		d.pda.SetState(StateExpectColon)
		return nil
	}
	if _, _, err := d.dec.Push(r); err != nil {
		return d.wrapStreamErr(err)
	}
	return nil
}

// --- array context ---------------------------------------------------------

func (d *Demultiplexer) feedArray(r rune) error {
	switch d.pda.State() {
	case StateExpectValue:
		return d.dispatchValue(r, false)

	case StateParsingString:
		return d.feedParsingString(r, true)

	case StateParsingInteger, StateParsingFloat, StateParsingBoolean, StateParsingNull:
		return d.feedPrimitiveChar(r, ",]", d.terminatePrimitiveArray)

	case StateExpectCommaOrEOC:
		if isJSONWhitespace(r) {
			return nil
		}
		if r == ',' {
			d.pda.SetState(StateExpectValue)
			return nil
		}
		if r == ']' {
			if err := d.current.closeSink(); err != nil {
				return d.failWith(withDocID(err, d.id))
			}
			if _, err := d.pda.Pop(); err != nil {
				return d.bug()
			}
			d.pda.SetState(StateExpectCommaOrEOC)
			return nil
		}
		return d.fail(r, "expected ',' or ']'")
	}
	return d.bug()
}

// --- shared value dispatch (spec §4.4 "Value dispatch") -------------------

func (d *Demultiplexer) dispatchValue(r rune, allowArrayOpen bool) error {
	if isJSONWhitespace(r) {
		return nil
	}
	if d.current == nil {
		return d.failWith(errNoCurrentSink(d.id))
	}

	set := d.current.elementTypeSet()
	main := d.current.mainElementType()

	switch {
	case r == '"':
		if !set[KindString] {
			return d.fail(r, "string not allowed for this field")
		}
		if !allowArrayOpen && d.current.sinkKind() == SinkAwaitable {
			return d.fail(r, "an awaitable sink cannot receive a streamed string inside an array")
		}
		d.dec.Reset()
		d.pda.SetState(StateParsingString)
		return nil

	case (r >= '0' && r <= '9') || r == '-':
		if !set[KindInt] && !set[KindFloat] {
			return d.fail(r, "number not allowed for this field")
		}
		if allowArrayOpen && d.current.sinkKind() == SinkStreaming {
			return d.fail(r, "a streaming sink is only reachable via a streamed string or an array")
		}
		if main == KindInt {
			d.pda.SetState(StateParsingInteger)
		} else {
			d.pda.SetState(StateParsingFloat)
		}
		d.dec.PushRaw(r)
		return nil

	case r == 't' || r == 'f':
		if !set[KindBool] {
			return d.fail(r, "boolean not allowed for this field")
		}
		if allowArrayOpen && d.current.sinkKind() == SinkStreaming {
			return d.fail(r, "a streaming sink is only reachable via a streamed string or an array")
		}
		d.pda.SetState(StateParsingBoolean)
		d.dec.PushRaw(r)
		return nil

	case r == 'n':
		if !set[KindNull] {
			return d.fail(r, "null not allowed for this field")
		}
		if allowArrayOpen && d.current.sinkKind() == SinkStreaming {
			return d.fail(r, "a streaming sink is only reachable via a streamed string or an array")
		}
		d.pda.SetState(StateParsingNull)
		d.dec.PushRaw(r)
		return nil

	case r == '{':
		if main != KindSchema {
			return d.fail(r, "nested object not allowed for this field")
		}
		if allowArrayOpen && d.current.sinkKind() == SinkStreaming {
			return d.fail(r, "a streaming sink is only reachable via a streamed string or an array")
		}
		return d.startNestedObject(r)

	case r == '[':
		if !allowArrayOpen {
			return d.fail(r, "nested arrays are not supported")
		}
		d.pda.Push(ModeArray)
		d.pda.SetState(StateExpectValue)
		return nil
	}
	return d.fail(r, "unrecognized value start character")
}

func (d *Demultiplexer) feedParsingString(r rune, inArray bool) error {
	if d.dec.IsTerminatingQuote(r) {
		// Inside an array, a string is one array element among others and is
		// emitted whole, exactly like a numeric/bool array element — only a
		// direct (non-array) string value streams char-by-char. An Awaitable
		// sink can never be current here (dispatchValue already rejected a
		// string into one inside an array).
		if inArray {
			if err := d.current.putValue(stringValue(d.dec.Buffer())); err != nil {
				return d.failWith(withDocID(err, d.id))
			}
			d.dec.Reset()
			d.pda.SetState(StateExpectCommaOrEOC)
			return nil
		}

		if d.current.sinkKind() == SinkAwaitable {
			if err := d.current.putValue(stringValue(d.dec.Buffer())); err != nil {
				return d.failWith(withDocID(err, d.id))
			}
		}
		d.dec.Reset()
		if err := d.current.closeSink(); err != nil {
			return d.failWith(withDocID(err, d.id))
		}
		d.pda.SetState(StateExpectCommaOrEOC)
		return nil
	}

	appended, ok, err := d.dec.Push(r)
	if err != nil {
		return d.wrapStreamErr(err)
	}
	if ok && !inArray && d.current.sinkKind() == SinkStreaming {
		if err := d.current.putValue(stringValue(string(appended))); err != nil {
			return d.failWith(withDocID(err, d.id))
		}
	}
	return nil
}

// --- primitive literals (§4.4 "Primitive character classes/parsing") ------

func classCheck(state State, r rune) bool {
	switch state {
	case StateParsingInteger:
		return r >= '0' && r <= '9'
	case StateParsingFloat:
		return (r >= '0' && r <= '9') || r == '+' || r == '-' || r == 'e' || r == 'E' || r == '.'
	case StateParsingBoolean:
		return strings.ContainsRune("truefals", r)
	case StateParsingNull:
		return strings.ContainsRune("nul", r)
	}
	return false
}

func (d *Demultiplexer) feedPrimitiveChar(r rune, terminators string, onTerminate func(rune) error) error {
	if strings.ContainsRune(terminators, r) {
		return onTerminate(r)
	}
	if !classCheck(d.pda.State(), r) {
		return d.fail(r, "character not valid in this literal")
	}
	d.dec.PushRaw(r)
	return nil
}

func (d *Demultiplexer) parsePrimitiveBuffer() (value, error) {
	buffer := d.dec.Buffer()
	switch d.pda.State() {
	case StateParsingNull:
		if buffer != "null" {
			return value{}, errParsePrimitive(d.id, buffer, "expected literal null")
		}
		return nullValue(), nil
	case StateParsingBoolean:
		switch buffer {
		case "true":
			return boolValue(true), nil
		case "false":
			return boolValue(false), nil
		}
		return value{}, errParsePrimitive(d.id, buffer, "expected literal true or false")
	case StateParsingInteger:
		n, ok := new(big.Int).SetString(buffer, 10)
		if !ok {
			return value{}, errParsePrimitive(d.id, buffer, "invalid integer literal")
		}
		return intValue(n), nil
	case StateParsingFloat:
		f, err := strconv.ParseFloat(buffer, 64)
		if err != nil {
			return value{}, errParsePrimitive(d.id, buffer, err.Error())
		}
		return floatValue(f), nil
	}
	return value{}, errParsePrimitive(d.id, buffer, "no primitive literal in progress")
}

func (d *Demultiplexer) terminatePrimitiveRoot(r rune) error {
	v, err := d.parsePrimitiveBuffer()
	if err != nil {
		return d.failWith(err)
	}
	if err := d.current.putValue(v); err != nil {
		return d.failWith(withDocID(err, d.id))
	}
	if err := d.current.closeSink(); err != nil {
		return d.failWith(withDocID(err, d.id))
	}
	d.dec.Reset()
	if r == ',' {
		d.pda.SetState(StateExpectKey)
		return nil
	}
	return d.finalizeRoot()
}

func (d *Demultiplexer) terminatePrimitiveArray(r rune) error {
	v, err := d.parsePrimitiveBuffer()
	if err != nil {
		return d.failWith(err)
	}
	if err := d.current.putValue(v); err != nil {
		return d.failWith(withDocID(err, d.id))
	}
	d.dec.Reset()
	if r == ',' {
		d.pda.SetState(StateExpectValue)
		return nil
	}
	if err := d.current.closeSink(); err != nil {
		return d.failWith(withDocID(err, d.id))
	}
	if _, err := d.pda.Pop(); err != nil {
		return d.bug()
	}
	d.pda.SetState(StateExpectCommaOrEOC)
	return nil
}

// --- nested schema dispatch (spec §4.5) -----------------------------------

func (d *Demultiplexer) startNestedObject(r rune) error {
	if d.depth+1 > d.cfg.maxDepth {
		return d.fail(r, "max nesting depth exceeded")
	}
	instance, nested, err := d.current.newNested(d.cfg, d.depth+1)
	if err != nil {
		return d.failWith(withDocID(err, d.id))
	}
	if err := d.current.putValue(schemaValue(instance)); err != nil {
		return d.failWith(withDocID(err, d.id))
	}
	d.nested = nested
	d.pda.SetState(StateParsingObject)
	d.pda.Push(ModeObject)
	return d.nested.FeedChar(r)
}

func (d *Demultiplexer) feedObjectDelegate(r rune) error {
	if d.pda.State() != StateParsingObject {
		return d.fail(r, "object context requires parsing_object state")
	}
	if err := d.nested.FeedChar(r); err != nil {
		// Nested errors propagate unchanged, per spec §4.5/§8.
		d.pda.SetState(StateError)
		d.lastErr = err
		return err
	}
	if !d.nested.Done() {
		return nil
	}
	d.nested = nil
	if _, err := d.pda.Pop(); err != nil {
		return d.bug()
	}
	if top, ok := d.pda.Top(); ok && top == ModeRoot {
		if err := d.current.closeSink(); err != nil {
			return d.failWith(withDocID(err, d.id))
		}
	}
	d.pda.SetState(StateExpectCommaOrEOC)
	return nil
}

// --- finalize (spec §4.4 "Finalize") --------------------------------------

func (d *Demultiplexer) finalizeRoot() error {
	for _, name := range d.fields.order {
		s := d.fields.sinks[name]
		if err := s.ensureClosed(); err != nil {
			if errors.Is(err, ErrNothingEmitted) {
				return d.failWith(errNotAllPropertiesSet(d.id, name, err))
			}
			return d.failWith(withDocID(err, d.id))
		}
	}
	if _, err := d.pda.Pop(); err != nil {
		return d.bug()
	}
	d.pda.SetState(StateEnd)
	d.logDebug("object closed")
	return nil
}

// --- error plumbing ---------------------------------------------------------

func withDocID(err error, id uuid.UUID) error {
	if je, ok := err.(*Error); ok && je.DocumentID == uuid.Nil {
		je.DocumentID = id
	}
	return err
}

func (d *Demultiplexer) fail(r rune, hint string) error {
	return d.failWith(errUnexpectedCharacter(d.id, r, d.pda.State(), d.pda.Stack(), hint))
}

func (d *Demultiplexer) failWith(err error) error {
	d.pda.SetState(StateError)
	d.lastErr = err
	d.logError(err)
	return err
}

func (d *Demultiplexer) wrapStreamErr(err error) error {
	se, ok := err.(*surrogateError)
	if !ok {
		return d.failWith(err)
	}
	return d.failWith(errStreamParse(d.id, se.codeUnit, se.context))
}

func (d *Demultiplexer) bug() error {
	return d.failWith(errNoCurrentSink(d.id))
}

func (d *Demultiplexer) logDebug(msg string) {
	if d.cfg.logger == nil {
		return
	}
	d.cfg.logger.Debug(msg, "doc", d.id.String(), "state", string(d.pda.State()))
}

func (d *Demultiplexer) logError(err error) {
	if d.cfg.logger == nil {
		return
	}
	d.cfg.logger.Warn("jmux parse error", "doc", d.id.String(), "error", err)
}
