package readiness

import (
	"context"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// carryLen is how much of the previous chunk is kept so a keyword split
// across two chunks still matches.
const carryLen = 64

// Matcher decides whether a piece of process output means the server is ready.
type Matcher func(text string) bool

// portHosts are the address forms a dev server prints when it announces
// where it listens. A bare port number is not enough: bind errors print it too.
var portHosts = []string{"localhost:", "127.0.0.1:", "0.0.0.0:", "[::1]:", "[::]:"}

// KeywordMatcher matches output containing any keyword as a whole word
// (case-insensitive) or a listen address on port.
func KeywordMatcher(port int, keywords ...string) Matcher {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			lowered = append(lowered, strings.ToLower(k))
		}
	}
	var addrs []string
	if port > 0 {
		p := strconv.Itoa(port)
		for _, h := range portHosts {
			addrs = append(addrs, h+p)
		}
	}

	return func(text string) bool {
		text = strings.ToLower(text)
		for _, k := range lowered {
			if containsWord(text, k) {
				return true
			}
		}
		for _, a := range addrs {
			if containsWord(text, a) {
				return true
			}
		}
		return false
	}
}

// containsWord reports whether word occurs in text without a letter or digit
// glued to either end, so "ready" does not match "already".
func containsWord(text, word string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(word)
		if wordEdge(text, word, start, end) {
			return true
		}
		from = start + 1
	}
}

func wordEdge(text, word string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(word)
	last, _ := utf8.DecodeLastRuneInString(word)
	if isWordRune(first) && start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if isWordRune(last) && end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// WaitForReady consumes chunks until one satisfies matcher. It does not time
// out on its own: callers bound it with ctx. A closed stream returns
// models.ErrStreamClosed.
func WaitForReady(ctx context.Context, chunks <-chan string, matcher Matcher) error {
	return WaitForReadyOrFailure(ctx, chunks, matcher, nil)
}

// WaitForReadyOrFailure is WaitForReady with a failure matcher that is checked
// first on every chunk. A failure match returns models.ErrFailureReported.
func WaitForReadyOrFailure(ctx context.Context, chunks <-chan string, ready, failed Matcher) error {
	var carry string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return models.ErrStreamClosed
			}
			window := carry + chunk
			if failed != nil && failed(window) {
				return models.ErrFailureReported
			}
			if ready(window) {
				return nil
			}
			if len(window) > carryLen {
				window = window[len(window)-carryLen:]
			}
			carry = window
		}
	}
}
