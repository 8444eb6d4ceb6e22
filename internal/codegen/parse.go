package codegen

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

const previewLimit = 500

const filesSchemaJSON = `{
  "type": "object",
  "required": ["files"],
  "properties": {
    "files": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["path", "content"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

var (
	filesSchema = gojsonschema.NewStringLoader(filesSchemaJSON)

	fencedJSONRe = regexp.MustCompile("(?s)```[ \\t]*(?:json|JSON)?[ \\t]*\\r?\\n(.*?)```")
)

type filesPayload struct {
	Files []models.GeneratedFile `json:"files"`
}

// strategy is one way of turning raw model output into a file set.
type strategy struct {
	name  string
	parse func(raw string) ([]models.GeneratedFile, bool)
}

// strategies run in order; the first to yield a valid file set wins.
var strategies = []strategy{
	{name: "fenced-json", parse: parseFenced},
	{name: "files-object", parse: parseFilesObject},
	{name: "any-object", parse: parseAnyObject},
	{name: "repaired", parse: parseRepaired},
}

// ParseFiles extracts the generated file set from a model payload. It returns
// the name of the strategy that succeeded, or an UnparseableOutputError.
func ParseFiles(raw string) ([]models.GeneratedFile, string, error) {
	for _, s := range strategies {
		if files, ok := s.parse(raw); ok {
			return files, s.name, nil
		}
	}

	reason := "no JSON object with a non-empty files array"
	if strings.TrimSpace(raw) == "" {
		reason = "empty model response"
	}
	return nil, "", &models.UnparseableOutputError{Reason: reason, Preview: truncate(raw, previewLimit)}
}

func parseFenced(raw string) ([]models.GeneratedFile, bool) {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(raw, -1) {
		if files, ok := decodeFiles(m[1]); ok {
			return files, true
		}
	}
	return nil, false
}

func parseFilesObject(raw string) ([]models.GeneratedFile, bool) {
	for _, span := range objectSpans(raw) {
		if !strings.Contains(span, `"files"`) {
			continue
		}
		if files, ok := decodeFiles(span); ok {
			return files, true
		}
	}
	return nil, false
}

func parseAnyObject(raw string) ([]models.GeneratedFile, bool) {
	spans := objectSpans(raw)
	if first, last := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); first >= 0 && last > first {
		spans = append(spans, raw[first:last+1])
	}
	for _, span := range spans {
		if files, ok := decodeFiles(span); ok {
			return files, true
		}
	}
	return nil, false
}

// parseRepaired rewrites common model artifacts into valid JSON and retries
// the structural strategies on the result.
func parseRepaired(raw string) ([]models.GeneratedFile, bool) {
	var sources []string
	for _, m := range fencedJSONRe.FindAllStringSubmatch(raw, -1) {
		sources = append(sources, m[1])
	}
	sources = append(sources, stripFenceLines(raw))

	for _, src := range sources {
		repaired := repairJSON(src)
		if files, ok := decodeFiles(repaired); ok {
			return files, true
		}
		if files, ok := parseFilesObject(repaired); ok {
			return files, true
		}
		if files, ok := parseAnyObject(repaired); ok {
			return files, true
		}
	}
	return nil, false
}

func decodeFiles(candidate string) ([]models.GeneratedFile, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false
	}

	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, false
	}
	result, err := gojsonschema.Validate(filesSchema, gojsonschema.NewGoLoader(doc))
	if err != nil || !result.Valid() {
		return nil, false
	}

	var payload filesPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, false
	}
	return payload.Files, true
}

// objectSpans returns every top-level balanced {...} span in s, skipping
// braces inside JSON strings.
func objectSpans(s string) []string {
	var (
		spans    []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, s[start:i+1])
			}
		}
	}
	return spans
}

func stripFenceLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
