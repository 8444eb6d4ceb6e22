package codegen

import (
	"fmt"
	"strings"
)

// repairJSON rewrites the artifacts models leave in otherwise-JSON output:
// backtick-delimited strings become escaped JSON strings, smart quotes used as
// delimiters become plain quotes, and raw control characters inside strings
// are escaped.
func repairJSON(s string) string {
	var (
		b      strings.Builder
		runes  = []rune(s)
		closer rune
	)
	b.Grow(len(s))

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if closer != 0 {
			switch {
			case r == '\\' && i+1 < len(runes):
				b.WriteRune(r)
				i++
				b.WriteRune(runes[i])
			case r == closer || (closer == '”' && r == '“'):
				closer = 0
				b.WriteByte('"')
			case closer == '”' && r == '"':
				b.WriteString(`\"`)
			default:
				writeEscaped(&b, r)
			}
			continue
		}

		switch r {
		case '"':
			closer = '"'
			b.WriteByte('"')
		case '“', '”':
			closer = '”'
			b.WriteByte('"')
		case '`':
			end := backtickEnd(runes, i+1)
			if end < 0 {
				b.WriteString(quoteJSON(unescapeBackticks(string(runes[i+1:]))))
				i = len(runes)
				continue
			}
			b.WriteString(quoteJSON(unescapeBackticks(string(runes[i+1 : end]))))
			i = end
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// backtickEnd finds the closing backtick at or after from, honouring \` escapes.
func backtickEnd(runes []rune, from int) int {
	for i := from; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) && runes[i+1] == '`' {
				i++
			}
		case '`':
			return i
		}
	}
	return -1
}

func unescapeBackticks(s string) string {
	return strings.ReplaceAll(s, "\\`", "`")
}

// quoteJSON renders s as a JSON string literal.
func quoteJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			writeEscaped(&b, r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func writeEscaped(b *strings.Builder, r rune) {
	switch r {
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case '\f':
		b.WriteString(`\f`)
	case '\b':
		b.WriteString(`\b`)
	default:
		if r < 0x20 {
			fmt.Fprintf(b, `\u%04x`, r)
			return
		}
		b.WriteRune(r)
	}
}
