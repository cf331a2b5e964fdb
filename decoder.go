package jmux

import (
	"fmt"
	"strings"
)

// surrogateError carries the detail needed to build a full *Error once the
// demultiplexer (which knows the document id) receives it back from Push.
type surrogateError struct {
	codeUnit rune
	context  string
}

func (e *surrogateError) Error() string {
	return fmt.Sprintf("jmux: stream parse error: code unit %U (%s)", e.codeUnit, e.context)
}

// singleCharEscapes maps a JSON escape char to its decoded rune, per spec
// §4.2. Grounded on the Python original's StringEscapeDecoder.escape_map.
var singleCharEscapes = map[rune]rune{
	'"':  '"',
	'\\': '\\',
	'/':  '/',
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
}

// decoder accumulates a JSON string literal, resolving backslash escapes and
// \uXXXX sequences including surrogate pairs. Grounded on mcvoid-json's
// escape-handling states (ec, u1-u4) in parser.go's consumeCharacter, and on
// the Python original's StringEscapeDecoder — with surrogate-pair composition
// added per spec §4.2, which the Python original does not implement (it emits
// chr(code_point) unconditionally, splitting astral characters into two
// unpaired surrogates; see DESIGN.md).
type decoder struct {
	buf strings.Builder

	pendingEscape bool
	inUnicode     bool
	unicodeBuf    [4]byte
	unicodeLen    int
	highSurrogate rune // 0 means "none pending"
}

func newDecoder() *decoder {
	return &decoder{}
}

func (d *decoder) Reset() {
	d.buf.Reset()
	d.pendingEscape = false
	d.inUnicode = false
	d.unicodeLen = 0
	d.highSurrogate = 0
}

func (d *decoder) Buffer() string {
	return d.buf.String()
}

// IsTerminatingQuote reports whether ch is an unescaped, un-mid-sequence `"`.
// A pending high surrogate also blocks termination: it must resolve via a
// following \u low-surrogate escape, never via end-of-string.
func (d *decoder) IsTerminatingQuote(ch rune) bool {
	if d.pendingEscape || d.inUnicode || d.highSurrogate != 0 {
		return false
	}
	return ch == '"'
}

// PushRaw appends ch to the buffer verbatim, bypassing escape handling. Used
// for the primitive-literal parsing states (integer/float/boolean/null),
// which never involve escapes — grounded on mcvoid-json's
// `p.buffer = p.buffer + string(r)` accumulation for those states.
func (d *decoder) PushRaw(ch rune) {
	d.buf.WriteRune(ch)
}

// Push feeds a single character of a string literal (never the terminating
// quote — callers check IsTerminatingQuote first). It returns the rune
// newly appended to the decoded buffer and ok=true, or ok=false if ch only
// advanced internal escape/unicode state without yet producing output
// (e.g. the backslash of an escape, or hex digits 1-3 of a \u sequence, or a
// banked high surrogate awaiting its low surrogate).
func (d *decoder) Push(ch rune) (rune, bool, error) {
	if d.inUnicode {
		return d.pushUnicodeDigit(ch)
	}

	// A banked high surrogate may only be resolved by a following \u escape;
	// anything else is a lone surrogate with no pair.
	if d.highSurrogate != 0 && !d.pendingEscape && ch != '\\' {
		bad := d.highSurrogate
		d.highSurrogate = 0
		return 0, false, &surrogateError{codeUnit: bad, context: "high surrogate not followed by a low surrogate"}
	}

	if d.pendingEscape {
		d.pendingEscape = false
		if ch == 'u' {
			d.inUnicode = true
			d.unicodeLen = 0
			return 0, false, nil
		}
		if d.highSurrogate != 0 {
			bad := d.highSurrogate
			d.highSurrogate = 0
			return 0, false, &surrogateError{codeUnit: bad, context: "high surrogate not followed by a low surrogate"}
		}
		mapped, ok := singleCharEscapes[ch]
		if !ok {
			mapped = ch // lenient fallback per spec §4.2
		}
		d.buf.WriteRune(mapped)
		return mapped, true, nil
	}

	if ch == '\\' {
		d.pendingEscape = true
		return 0, false, nil
	}

	d.buf.WriteRune(ch)
	return ch, true, nil
}

func (d *decoder) pushUnicodeDigit(ch rune) (rune, bool, error) {
	if !isHexDigit(ch) {
		return 0, false, &surrogateError{codeUnit: ch, context: "invalid \\u hex digit"}
	}
	d.unicodeBuf[d.unicodeLen] = byte(ch)
	d.unicodeLen++
	if d.unicodeLen < 4 {
		return 0, false, nil
	}

	codeUnit := rune(hex4(d.unicodeBuf))
	d.inUnicode = false
	d.unicodeLen = 0

	switch {
	case d.highSurrogate != 0:
		if codeUnit < 0xDC00 || codeUnit > 0xDFFF {
			bad := d.highSurrogate
			d.highSurrogate = 0
			return 0, false, &surrogateError{codeUnit: bad, context: "high surrogate not followed by a low surrogate"}
		}
		composed := 0x10000 + ((d.highSurrogate - 0xD800) << 10) + (codeUnit - 0xDC00)
		d.highSurrogate = 0
		d.buf.WriteRune(composed)
		return composed, true, nil

	case codeUnit >= 0xD800 && codeUnit <= 0xDBFF:
		d.highSurrogate = codeUnit
		return 0, false, nil

	default:
		d.buf.WriteRune(codeUnit)
		return codeUnit, true, nil
	}
}

func isHexDigit(ch rune) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func hex4(b [4]byte) int32 {
	var v int32
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= int32(c - '0')
		case c >= 'a' && c <= 'f':
			v |= int32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= int32(c-'A') + 10
		}
	}
	return v
}
