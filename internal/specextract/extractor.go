// Package specextract pulls a project specification out of streamed assistant
// speech. The block may arrive split over many messages, inside a ```yaml or
// bare ``` fence, or with no fence at all.
package specextract

import (
	"regexp"
	"strings"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// ResultKind tells the caller what an observed chunk produced.
type ResultKind int

const (
	// ResultNone means no specification block is in progress.
	ResultNone ResultKind = iota
	// ResultPartial means a block is open and still accumulating.
	ResultPartial
	// ResultSpecification means a complete specification was extracted.
	ResultSpecification
)

func (k ResultKind) String() string {
	switch k {
	case ResultPartial:
		return "partial"
	case ResultSpecification:
		return "specification"
	default:
		return "none"
	}
}

// Result of observing one chunk. Spec is set only for ResultSpecification.
type Result struct {
	Kind ResultKind
	Spec *models.Specification
}

const fence = "```"

var (
	// openerRe starts streaming accumulation: a ```yaml or bare ``` fence line.
	openerRe = regexp.MustCompile("(?i)```[ \\t]*(?:ya?ml)?[ \\t]*\\r?\\n")
	// yamlOpenerRe marks an explicitly tagged block that may never be closed.
	yamlOpenerRe = regexp.MustCompile("(?i)```[ \\t]*ya?ml\\b")
	fencedRe     = regexp.MustCompile("(?is)```[ \\t]*ya?ml[ \\t]*\\r?\\n(.*?)```")

	// movingOnPhrases signal the assistant has finished presenting the block
	// even though it never closed the fence.
	movingOnPhrases = []string{
		"does this look good",
		"does that look good",
		"how does this look",
		"how does that look",
		"are you ready",
		"ready to build",
		"ready to start building",
		"shall we",
		"should we proceed",
		"would you like to",
		"let me know if",
		"any changes",
		"anything you'd like to change",
		"sound good",
	}
)

// openerCarry is how much trailing text is remembered between chunks so an
// opener split across two chunks is still recognised.
const openerCarry = 16

// Extractor accumulates assistant text for one session. It is not safe for
// concurrent use; the phase controller serialises access.
type Extractor struct {
	open    bool
	pending strings.Builder
	carry   string
}

// New returns an empty extractor.
func New() *Extractor {
	return &Extractor{}
}

// Observe feeds one chunk of conversation text. Only assistant text can open
// or extend a block; other roles never touch the buffer.
func (e *Extractor) Observe(role, chunk string) Result {
	if role != models.RoleAssistant {
		if e.open {
			return Result{Kind: ResultPartial}
		}
		return Result{Kind: ResultNone}
	}

	if !e.open {
		text := e.carry + chunk
		loc := openerRe.FindStringIndex(text)
		if loc == nil {
			e.carry = tail(text, openerCarry)
			if spec, ok := Extract(chunk); ok {
				return Result{Kind: ResultSpecification, Spec: spec}
			}
			return Result{Kind: ResultNone}
		}

		e.open = true
		e.carry = ""
		e.pending.Reset()
		e.pending.WriteString(text[loc[0]:])
		if e.hasCloser() {
			return e.resolve()
		}
		return Result{Kind: ResultPartial}
	}

	e.pending.WriteString(chunk)
	if e.hasCloser() || movingOn(chunk) {
		return e.resolve()
	}
	return Result{Kind: ResultPartial}
}

// Pending returns the buffered block text and whether a block is open.
func (e *Extractor) Pending() (string, bool) {
	return e.pending.String(), e.open
}

// Reset drops any buffered block.
func (e *Extractor) Reset() {
	e.open = false
	e.carry = ""
	e.pending.Reset()
}

func (e *Extractor) hasCloser() bool {
	return closerIndex(e.pending.String()) >= 0
}

// resolve extracts from the buffered block. A bare fence may have opened on
// the closing fence of some other code block; when nothing parses, the text
// from the closing fence on is observed again so a block starting there is
// not lost.
func (e *Extractor) resolve() Result {
	text := e.pending.String()
	e.Reset()
	if spec, ok := Extract(text); ok {
		return Result{Kind: ResultSpecification, Spec: spec}
	}
	if i := closerIndex(text); i > 0 {
		return e.Observe(models.RoleAssistant, text[i:])
	}
	return Result{Kind: ResultNone}
}

// closerIndex returns the offset of the fence closing the first opener in
// text, or -1.
func closerIndex(text string) int {
	loc := openerRe.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	i := strings.Index(text[loc[1]:], fence)
	if i < 0 {
		return -1
	}
	return loc[1] + i
}

// Extract finds a specification in text. It returns a value only when every
// required field is present; malformed input yields (nil, false).
func Extract(text string) (spec *models.Specification, ok bool) {
	defer func() {
		if recover() != nil {
			spec, ok = nil, false
		}
	}()

	for _, candidate := range candidates(text) {
		if parsed, found := parseDocument(candidate); found {
			return parsed, true
		}
	}
	return nil, false
}

// candidates lists the document spans worth parsing, most explicit first.
func candidates(text string) []string {
	var out []string
	for _, m := range fencedRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	if locs := yamlOpenerRe.FindAllStringIndex(text, -1); len(locs) > 0 {
		rest := text[locs[len(locs)-1][1]:]
		if !strings.Contains(rest, fence) {
			out = append(out, rest)
		}
	}
	if doc, ok := scanDocument(text); ok {
		out = append(out, doc)
	}
	return out
}

func movingOn(chunk string) bool {
	lower := strings.ToLower(chunk)
	for _, p := range movingOnPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
