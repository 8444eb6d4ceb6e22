package codegen

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// ValidateFiles checks every path stays inside the project directory and
// collapses duplicate paths, keeping the first position and the last content.
func ValidateFiles(files []models.GeneratedFile) ([]models.GeneratedFile, error) {
	if len(files) == 0 {
		return nil, &models.UnparseableOutputError{Reason: "files array is empty"}
	}

	index := make(map[string]int, len(files))
	out := make([]models.GeneratedFile, 0, len(files))
	for _, f := range files {
		clean, err := cleanPath(f.Path)
		if err != nil {
			return nil, &models.UnparseableOutputError{Reason: err.Error()}
		}
		if i, ok := index[clean]; ok {
			out[i].Content = f.Content
			continue
		}
		index[clean] = len(out)
		out = append(out, models.GeneratedFile{Path: clean, Content: f.Content})
	}
	return out, nil
}

func cleanPath(p string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if trimmed == "" {
		return "", fmt.Errorf("file path is empty")
	}
	if strings.HasPrefix(trimmed, "/") || filepath.IsAbs(trimmed) || filepath.VolumeName(trimmed) != "" {
		return "", fmt.Errorf("file path %q is absolute", p)
	}

	clean := path.Clean(trimmed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("file path %q escapes the project directory", p)
	}
	return clean, nil
}
