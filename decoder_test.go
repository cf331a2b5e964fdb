package jmux

import (
	"fmt"
	"testing"
)

func feedString(t *testing.T, d *decoder, s string) {
	t.Helper()
	for _, r := range s {
		if d.IsTerminatingQuote(r) {
			t.Fatalf("unexpected terminating quote mid-feed at %q", r)
		}
		if _, _, err := d.Push(r); err != nil {
			t.Fatalf("unexpected push error: %v", err)
		}
	}
}

func TestDecoderPlainText(t *testing.T) {
	d := newDecoder()
	feedString(t, d, `hello world`)
	if got := d.Buffer(); got != "hello world" {
		t.Errorf("expected %q got %q", "hello world", got)
	}
}

func TestDecoderSingleCharEscapes(t *testing.T) {
	for _, test := range []struct {
		raw  string
		want string
	}{
		{`a\nb`, "a\nb"},
		{`a\tb`, "a\tb"},
		{`a\\b`, `a\b`},
		{`a\"b`, `a"b`},
		{`a\/b`, "a/b"},
	} {
		t.Run(fmt.Sprintf("%q", test.raw), func(t *testing.T) {
			d := newDecoder()
			feedString(t, d, test.raw)
			if got := d.Buffer(); got != test.want {
				t.Errorf("expected %q got %q", test.want, got)
			}
		})
	}
}

func TestDecoderUnknownEscapeIsLenient(t *testing.T) {
	d := newDecoder()
	feedString(t, d, `a\zb`)
	if got := d.Buffer(); got != "azb" {
		t.Errorf("expected lenient fallback %q got %q", "azb", got)
	}
}

func TestDecoderBMPUnicodeEscape(t *testing.T) {
	d := newDecoder()
	feedString(t, d, "Pa\\u0072is")
	if got := d.Buffer(); got != "Paris" {
		t.Errorf("expected %q got %q", "Paris", got)
	}
}

func TestDecoderSurrogatePairComposesAstralRune(t *testing.T) {
	d := newDecoder()
	// U+1F600 GRINNING FACE = surrogate pair D83D DE00.
	feedString(t, d, "\\uD83D\\uDE00")
	want := string(rune(0x1F600))
	if got := d.Buffer(); got != want {
		t.Errorf("expected %q got %q", want, got)
	}
}

func TestDecoderLoneHighSurrogateFails(t *testing.T) {
	for _, test := range []struct {
		name  string
		input string
	}{
		{"followed by plain char", `\uD83Dx`},
		{"followed by a non-surrogate escape", `\uD83D\n`},
		{"followed by a non-low-surrogate unicode escape", "\\uD83D\\u0041"},
		{"terminated by quote", `\uD83D` + `"`},
	} {
		t.Run(test.name, func(t *testing.T) {
			d := newDecoder()
			var lastErr error
			for _, r := range test.input {
				if d.IsTerminatingQuote(r) {
					t.Fatalf("a pending high surrogate must not be terminated by a quote")
				}
				if _, _, err := d.Push(r); err != nil {
					lastErr = err
					break
				}
			}
			if lastErr == nil {
				t.Fatalf("expected a surrogate error for an unpaired high surrogate")
			}
		})
	}
}

func TestDecoderIsTerminatingQuote(t *testing.T) {
	d := newDecoder()
	if !d.IsTerminatingQuote('"') {
		t.Errorf("a bare quote on a fresh decoder should terminate")
	}
	d.Push('\\')
	if d.IsTerminatingQuote('"') {
		t.Errorf("a quote following a backslash is an escape, not a terminator")
	}
}

func TestDecoderResetClearsState(t *testing.T) {
	d := newDecoder()
	feedString(t, d, "abc")
	d.Reset()
	if got := d.Buffer(); got != "" {
		t.Errorf("expected empty buffer after reset, got %q", got)
	}
	if !d.IsTerminatingQuote('"') {
		t.Errorf("reset decoder should treat a bare quote as terminating")
	}
}

func TestDecoderPushRawBypassesEscapes(t *testing.T) {
	d := newDecoder()
	for _, r := range `1\2` {
		d.PushRaw(r)
	}
	if got := d.Buffer(); got != `1\2` {
		t.Errorf("expected raw passthrough %q got %q", `1\2`, got)
	}
}

func TestDecoderStreamedEmissionOrder(t *testing.T) {
	d := newDecoder()
	var emitted []rune
	for _, r := range `Paris` {
		if d.IsTerminatingQuote(r) {
			break
		}
		out, ok, err := d.Push(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			emitted = append(emitted, out)
		}
	}
	if string(emitted) != "Paris" {
		t.Errorf("expected emission sequence %q got %q", "Paris", string(emitted))
	}
}
