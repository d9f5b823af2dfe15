package preprocess

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/unicode/norm"
)

// Options selects the rules applied to an utterance.
type Options struct {
	// InlineCommands keeps backticks, which the engine reads as a command
	// prefix. Otherwise they are blanked.
	InlineCommands bool
	// ASCIIOnly blanks every non-ASCII character.
	ASCIIOnly bool
	// Expand spells out numbers, currency, times and ordinals for engines
	// that read digits literally.
	Expand bool
	// CrashGuard rewrites letter sequences known to hang ECI engines.
	CrashGuard bool
	// Charset encodes the result. Nil leaves it as UTF-8.
	Charset encoding.Encoding
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	urlRe        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	clockRe      = regexp.MustCompile(`(\d):(\d+):(\d+)`)
)

var crashGuards = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\b(|\d+|\W+)(|un|anti|re)c(ae|\x{e6})sur`), "${1}${2}seizur"},
	{regexp.MustCompile(`(?i)\b(|\d+|\W+)h'(r|v)e`), "${1}h ' ${2} e"},
	{regexp.MustCompile(`hesday`), " hesday"},
	{regexp.MustCompile(`(?i)\b(|\d+|\W+)tzsche`), "${1}tz sche"},
}

// bracketReplacer blanks structural characters that engines spell out as
// words.
var bracketReplacer = strings.NewReplacer(
	"(", " ", ")", " ",
	"{", " ", "}", " ",
	"[", " ", "]", " ",
)

type Preprocessor struct {
	opts Options
}

func NewPreprocessor(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts}
}

// Process normalizes text and returns it in the configured charset. Text that
// is not valid UTF-8 is read as already being in that charset.
func (p *Preprocessor) Process(text string) []byte {
	if p.opts.Charset != nil && !utf8.ValidString(text) {
		if decoded, err := p.opts.Charset.NewDecoder().String(text); err == nil {
			text = decoded
		}
	}
	return p.Encode(p.Normalize(text))
}

// Normalize applies the text rules without encoding.
func (p *Preprocessor) Normalize(text string) string {
	text = norm.NFC.String(text)
	text = normalizeQuotes(text)
	text = normalizePunctuation(text)
	text = bracketReplacer.Replace(text)
	if !p.opts.InlineCommands {
		text = strings.ReplaceAll(text, "`", " ")
	}
	if p.opts.CrashGuard {
		for _, g := range crashGuards {
			text = g.re.ReplaceAllString(text, g.repl)
		}
		text = clockRe.ReplaceAllString(text, "$1:$2 $3")
	}
	if p.opts.Expand {
		text = urlRe.ReplaceAllString(text, "")
		text = expandCurrency(text)
		text = expandTime(text)
		text = expandOrdinals(text)
		text = expandNumbers(text)
	}
	if p.opts.ASCIIOnly {
		text = stripNonASCII(text)
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Encode converts text to the configured charset. Characters the charset
// cannot represent become spaces.
func (p *Preprocessor) Encode(text string) []byte {
	if p.opts.Charset == nil {
		return []byte(text)
	}
	enc := p.opts.Charset.NewEncoder()
	out := make([]byte, 0, len(text))
	var buf [utf8.UTFMax]byte
	for _, r := range text {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
			continue
		}
		n := utf8.EncodeRune(buf[:], r)
		b, err := enc.Bytes(buf[:n])
		if err != nil {
			out = append(out, ' ')
			continue
		}
		out = append(out, b...)
	}
	return out
}

func stripNonASCII(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func normalizeQuotes(text string) string {
	return quoteReplacer.Replace(text)
}

var quoteReplacer = strings.NewReplacer(
	"“", "\"", "”", "\"",
	"‘", "'", "’", "'",
	"«", "\"", "»", "\"",
)

func normalizePunctuation(text string) string {
	return punctuationReplacer.Replace(text)
}

var punctuationReplacer = strings.NewReplacer(
	"—", ", ",
	"–", ", ",
	"…", "...",
	"•", ",",
)
