package specextract

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// flexString accepts a scalar, or a sequence joined by newlines.
type flexString string

func (s *flexString) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		parts := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if t := nodeText(item); t != "" {
				parts = append(parts, t)
			}
		}
		*s = flexString(strings.Join(parts, "\n"))
	default:
		*s = flexString(nodeText(value))
	}
	return nil
}

// flexList accepts a sequence, a single scalar, or a mapping rendered as "key: value" items.
type flexList []string

func (l *flexList) UnmarshalYAML(value *yaml.Node) error {
	var out []string
	switch value.Kind {
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if t := nodeText(item); t != "" {
				out = append(out, t)
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := strings.TrimSpace(value.Content[i].Value)
			if t := nodeText(value.Content[i+1]); t != "" {
				out = append(out, key+": "+t)
			} else if key != "" {
				out = append(out, key)
			}
		}
	default:
		if t := nodeText(value); t != "" {
			out = append(out, t)
		}
	}
	*l = out
	return nil
}

func nodeText(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return ""
		}
		return strings.TrimSpace(n.Value)
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if t := nodeText(item); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, ", ")
	case yaml.MappingNode:
		parts := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			parts = append(parts, strings.TrimSpace(n.Content[i].Value)+": "+nodeText(n.Content[i+1]))
		}
		return strings.Join(parts, ", ")
	case yaml.AliasNode:
		if n.Alias != nil {
			return nodeText(n.Alias)
		}
	}
	return ""
}

// rawSpecification is the tolerant shape the assistant's YAML is decoded into
// before it is checked for completeness.
type rawSpecification struct {
	ProjectName        flexString          `yaml:"project_name"`
	ProjectDescription flexString          `yaml:"project_description"`
	Users              flexList            `yaml:"users"`
	Goal               flexList            `yaml:"goal"`
	Features           flexList            `yaml:"features"`
	TechStack          map[string]flexList `yaml:"tech_stack"`
	UIStyle            flexString          `yaml:"ui_style"`
}

func (r rawSpecification) toSpecification() *models.Specification {
	spec := &models.Specification{
		ProjectName:        strings.TrimSpace(string(r.ProjectName)),
		ProjectDescription: strings.TrimSpace(string(r.ProjectDescription)),
		Users:              []string(r.Users),
		Goal:               []string(r.Goal),
		Features:           []string(r.Features),
		UIStyle:            strings.TrimSpace(string(r.UIStyle)),
	}
	if len(r.TechStack) > 0 {
		spec.TechStack = make(map[string]string, len(r.TechStack))
		for k, v := range r.TechStack {
			spec.TechStack[strings.ToLower(strings.TrimSpace(k))] = strings.Join(v, ", ")
		}
	}
	return spec
}

func parseDocument(doc string) (*models.Specification, bool) {
	var raw rawSpecification
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, false
	}
	spec := raw.toSpecification()
	if !spec.Complete() {
		return nil, false
	}
	return spec, true
}
