package models

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RequiredSpecFields lists the top-level keys every specification must carry,
// in the order the assistant is prompted to write them.
var RequiredSpecFields = []string{
	"project_name",
	"project_description",
	"users",
	"goal",
	"features",
	"tech_stack",
	"ui_style",
}

// Specification is the canonical project description that drives code generation.
// Values are only built by the specification extractor and are treated as read-only.
type Specification struct {
	ProjectName        string            `yaml:"project_name" json:"project_name"`
	ProjectDescription string            `yaml:"project_description" json:"project_description"`
	Users              []string          `yaml:"users" json:"users"`
	Goal               []string          `yaml:"goal" json:"goal"`
	Features           []string          `yaml:"features" json:"features"`
	TechStack          map[string]string `yaml:"tech_stack" json:"tech_stack"`
	UIStyle            string            `yaml:"ui_style" json:"ui_style"`
}

// MissingFields returns the required fields that are absent or empty.
func (s *Specification) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(s.ProjectName) == "" {
		missing = append(missing, "project_name")
	}
	if strings.TrimSpace(s.ProjectDescription) == "" {
		missing = append(missing, "project_description")
	}
	if len(s.Users) == 0 {
		missing = append(missing, "users")
	}
	if len(s.Goal) == 0 {
		missing = append(missing, "goal")
	}
	if len(s.Features) == 0 {
		missing = append(missing, "features")
	}
	if strings.TrimSpace(s.TechStack["frontend"]) == "" {
		missing = append(missing, "tech_stack")
	}
	if strings.TrimSpace(s.UIStyle) == "" {
		missing = append(missing, "ui_style")
	}
	return missing
}

// Complete reports whether every required field is present.
func (s *Specification) Complete() bool {
	return len(s.MissingFields()) == 0
}

// YAML renders the specification as a YAML document.
func (s *Specification) YAML() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal specification: %w", err)
	}
	return string(out), nil
}
