package specextract

import (
	"regexp"
	"strings"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

var keyLineRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*:`)

// scanDocument recovers an unfenced block. It starts at the first
// project_name line, keeps YAML-looking lines and stops at the first line of
// prose or a fence. The required keys must appear in document order.
func scanDocument(text string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := -1
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "project_name:") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	base := indentOf(lines[start])
	var doc []string
scan:
	for _, l := range lines[start:] {
		trimmed := strings.TrimSpace(l)
		switch {
		case trimmed == "":
			doc = append(doc, "")
		case strings.HasPrefix(trimmed, fence):
			break scan
		case indentOf(l) > base:
			doc = append(doc, l[base:])
		case trimmed == "-" || strings.HasPrefix(trimmed, "- "):
			doc = append(doc, strings.TrimLeft(l, " \t"))
		case keyLineRe.MatchString(trimmed):
			doc = append(doc, trimmed)
		default:
			break scan
		}
	}

	out := strings.TrimRight(strings.Join(doc, "\n"), "\n")
	if !keysInOrder(out) {
		return "", false
	}
	return out, true
}

func keysInOrder(doc string) bool {
	pos := 0
	for _, key := range models.RequiredSpecFields {
		idx := indexKey(doc[pos:], key)
		if idx < 0 {
			return false
		}
		pos += idx + len(key)
	}
	return true
}

// indexKey finds key as a top-level mapping key at the start of a line.
func indexKey(doc, key string) int {
	needle := key + ":"
	off := 0
	for {
		i := strings.Index(doc[off:], needle)
		if i < 0 {
			return -1
		}
		at := off + i
		if at == 0 || doc[at-1] == '\n' {
			return at
		}
		off = at + len(needle)
	}
}

func indentOf(l string) int {
	return len(l) - len(strings.TrimLeft(l, " \t"))
}
