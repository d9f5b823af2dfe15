package preprocess

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberRe   = regexp.MustCompile(`\b\d{1,15}\b`)
	currencyRe = regexp.MustCompile(`\$(\d+)(?:\.(\d{2}))?`)
	timeRe     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*([aApP][mM])?\b`)
	ordinalRe  = regexp.MustCompile(`\b(\d+)(st|nd|rd|th)\b`)
)

var onesWords = [...]string{
	"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
	"seventeen", "eighteen", "nineteen",
}

var tensWords = [...]string{
	"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
}

var scaleWords = [...]string{"", "thousand", "million", "billion", "trillion"}

var ordinalWords = map[string]string{
	"one": "first", "two": "second", "three": "third", "five": "fifth",
	"eight": "eighth", "nine": "ninth", "twelve": "twelfth",
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func numberToWords(n int64) string {
	if n == 0 {
		return "zero"
	}
	prefix := ""
	if n < 0 {
		prefix = "negative "
		n = -n
	}

	var parts []string
	for scale := 0; n > 0 && scale < len(scaleWords); scale++ {
		if chunk := int(n % 1000); chunk > 0 {
			words := chunkToWords(chunk)
			if scale > 0 {
				words += " " + scaleWords[scale]
			}
			parts = append([]string{words}, parts...)
		}
		n /= 1000
	}
	return prefix + strings.Join(parts, " ")
}

func chunkToWords(n int) string {
	var words []string
	if n >= 100 {
		words = append(words, onesWords[n/100], "hundred")
		n %= 100
	}
	switch {
	case n >= 20:
		words = append(words, tensWords[n/10])
		if n%10 != 0 {
			words = append(words, onesWords[n%10])
		}
	case n > 0:
		words = append(words, onesWords[n])
	}
	return strings.Join(words, " ")
}

// ordinal turns the last word of a cardinal into its ordinal form.
func ordinal(cardinal string) string {
	head, last := "", cardinal
	if i := strings.LastIndexByte(cardinal, ' '); i >= 0 {
		head, last = cardinal[:i+1], cardinal[i+1:]
	}
	if w, ok := ordinalWords[last]; ok {
		return head + w
	}
	if strings.HasSuffix(last, "y") {
		return head + strings.TrimSuffix(last, "y") + "ieth"
	}
	return head + last + "th"
}

func expandNumbers(text string) string {
	return numberRe.ReplaceAllStringFunc(text, func(m string) string {
		return numberToWords(atoi(m))
	})
}

func expandCurrency(text string) string {
	return currencyRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := currencyRe.FindStringSubmatch(m)
		dollars := atoi(parts[1])
		out := numberToWords(dollars) + " dollar"
		if dollars != 1 {
			out += "s"
		}
		if cents := atoi(parts[2]); cents > 0 {
			out += " and " + numberToWords(cents) + " cent"
			if cents != 1 {
				out += "s"
			}
		}
		return out
	})
}

func expandTime(text string) string {
	return timeRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := timeRe.FindStringSubmatch(m)
		hour, minute := atoi(parts[1]), atoi(parts[2])
		suffix := strings.ToLower(parts[3])

		out := numberToWords(hour)
		switch {
		case minute == 0 && suffix == "":
			out += " o'clock"
		case minute == 0:
		case minute < 10:
			out += " oh " + numberToWords(minute)
		default:
			out += " " + numberToWords(minute)
		}
		if suffix != "" {
			out += " " + suffix
		}
		return out
	})
}

func expandOrdinals(text string) string {
	return ordinalRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := ordinalRe.FindStringSubmatch(m)
		return ordinal(numberToWords(atoi(parts[1])))
	})
}
