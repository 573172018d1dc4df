package extract

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

type role int

const (
	quoteToggle role = iota
	quoteLiteral
	quoteTerminator
)

// quoteRole decides what a quote at position i means to the block
// scanner. The decision uses the full run length of backslashes
// immediately before the quote; inspecting only the single preceding
// character misreads any quote that follows an escaped backslash.
//
// Plain mode is standard JSON: an odd run escapes the quote (literal),
// an even run leaves it structural.
//
// In escaped mode every character of the embedded value is itself
// escaped one level. A quote preceded by an even run (including zero)
// belongs to the enclosing string literal and terminates the scan. An
// odd run k leaves (k-1)/2 backslashes in the embedded text before the
// quote, so the quote is an embedded string delimiter when k%4 == 1 and
// an embedded literal quote when k%4 == 3.
func quoteRole(s string, i int, escaped bool) role {
	k := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		k++
	}
	if !escaped {
		if k%2 == 1 {
			return quoteLiteral
		}
		return quoteToggle
	}
	switch {
	case k%2 == 0:
		return quoteTerminator
	case k%4 == 1:
		return quoteToggle
	default:
		return quoteLiteral
	}
}

// Unescape removes one level of string-literal escaping: escaped
// quotes and backslashes, the usual control escapes, and hex/unicode
// numeric escapes (with surrogate pair handling). Unrecognized escape
// sequences pass through untouched.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			i++
			continue
		}
		switch s[i+1] {
		case '"':
			b.WriteByte('"')
			i += 2
		case '\\':
			b.WriteByte('\\')
			i += 2
		case '/':
			b.WriteByte('/')
			i += 2
		case 'n':
			b.WriteByte('\n')
			i += 2
		case 't':
			b.WriteByte('\t')
			i += 2
		case 'r':
			b.WriteByte('\r')
			i += 2
		case 'b':
			b.WriteByte('\b')
			i += 2
		case 'f':
			b.WriteByte('\f')
			i += 2
		case 'u':
			r, width, ok := decodeUnicode(s[i:])
			if !ok {
				b.WriteByte('\\')
				i++
				continue
			}
			b.WriteRune(r)
			i += width
		case 'x':
			if i+4 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte('\\')
			i++
		}
	}
	return b.String()
}

// decodeUnicode decodes a \uXXXX escape at the start of s, consuming a
// following low surrogate when present.
func decodeUnicode(s string) (rune, int, bool) {
	if len(s) < 6 {
		return 0, 0, false
	}
	hi, err := strconv.ParseUint(s[2:6], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	r := rune(hi)
	if !utf16.IsSurrogate(r) {
		return r, 6, true
	}
	if len(s) >= 12 && s[6] == '\\' && s[7] == 'u' {
		if lo, err := strconv.ParseUint(s[8:12], 16, 32); err == nil {
			if dec := utf16.DecodeRune(r, rune(lo)); dec != utf8.RuneError {
				return dec, 12, true
			}
		}
	}
	return utf8.RuneError, 6, true
}
