package preprocess

import (
	"bytes"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestNormalizeStripsBrackets(t *testing.T) {
	p := NewPreprocessor(Options{InlineCommands: true})
	got := p.Normalize("call (now) {x} [y]")
	if got != "call now x y" {
		t.Fatalf("Normalize() = %q", got)
	}
}

func TestBacktickDependsOnInlineCommands(t *testing.T) {
	inline := NewPreprocessor(Options{InlineCommands: true})
	if got := inline.Normalize("`vv80 hello"); got != "`vv80 hello" {
		t.Fatalf("inline Normalize() = %q, want backtick kept", got)
	}
	plain := NewPreprocessor(Options{})
	if got := plain.Normalize("`vv80 hello"); got != "vv80 hello" {
		t.Fatalf("plain Normalize() = %q, want backtick removed", got)
	}
}

func TestASCIIOnly(t *testing.T) {
	p := NewPreprocessor(Options{ASCIIOnly: true})
	if got := p.Normalize("café naïve"); got != "caf na ve" {
		t.Fatalf("Normalize() = %q", got)
	}
}

func TestQuotesAndDashes(t *testing.T) {
	p := NewPreprocessor(Options{})
	got := p.Normalize("“quoted” it’s—done…")
	if got != `"quoted" it's, done...` {
		t.Fatalf("Normalize() = %q", got)
	}
}

func TestCrashGuard(t *testing.T) {
	p := NewPreprocessor(Options{CrashGuard: true})
	cases := map[string]string{
		"caesura":    "seizura",
		"a tzsche b": "a tz sche b",
		"at 1:02:03": "at 1:02 03",
	}
	for in, want := range cases {
		if got := p.Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpand(t *testing.T) {
	p := NewPreprocessor(Options{Expand: true})
	cases := map[string]string{
		"I have 42 apples":     "I have forty two apples",
		"it costs $3.50":       "it costs three dollars and fifty cents",
		"$1":                   "one dollar",
		"meet at 7:05 pm":      "meet at seven oh five pm",
		"at 9:00":              "at nine o'clock",
		"the 21st and 3rd":     "the twenty first and third",
		"20th":                 "twentieth",
		"1000001":              "one million one",
		"see https://x.io now": "see now",
	}
	for in, want := range cases {
		if got := p.Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLegacyEncodedInputKept(t *testing.T) {
	p := NewPreprocessor(Options{Charset: charmap.Windows1252})
	got := p.Process("na\xefve caf\xe9 (x)")
	want := []byte("na\xefve caf\xe9 x")
	if !bytes.Equal(got, want) {
		t.Fatalf("Process() = %q, want %q", got, want)
	}
}

func TestEncodeWindows1252(t *testing.T) {
	p := NewPreprocessor(Options{Charset: charmap.Windows1252})
	got := p.Process("café")
	want := []byte{'c', 'a', 'f', 0xE9}
	if !bytes.Equal(got, want) {
		t.Fatalf("Process() = %v, want %v", got, want)
	}
	if got := p.Encode("a漢b"); !bytes.Equal(got, []byte("a b")) {
		t.Fatalf("Encode() = %q, want %q", got, "a b")
	}
}

func TestEncodeUTF8Default(t *testing.T) {
	p := NewPreprocessor(Options{})
	if got := p.Process("  héllo  "); string(got) != "héllo" {
		t.Fatalf("Process() = %q", got)
	}
}
