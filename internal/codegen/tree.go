package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

var alwaysSkipped = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// BuildFileTree lists the project under root. Dependency and VCS directories
// are skipped, as is anything matched by the project's own .gitignore.
func BuildFileTree(root string) (*models.FileTreeNode, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	var matcher *gitignore.GitIgnore
	if data, err := os.ReadFile(filepath.Join(abs, ".gitignore")); err == nil {
		matcher = gitignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
	}

	node := &models.FileTreeNode{Name: filepath.Base(abs), AbsolutePath: abs, Children: []*models.FileTreeNode{}}
	if err := walkTree(abs, abs, matcher, node); err != nil {
		return nil, err
	}
	return node, nil
}

func walkTree(root, dir string, matcher *gitignore.GitIgnore, parent *models.FileTreeNode) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	// Directories first, each group by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if alwaysSkipped[e.Name()] {
			continue
		}
		full := filepath.Join(dir, e.Name())
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if matcher != nil && (matcher.MatchesPath(rel) || (e.IsDir() && matcher.MatchesPath(rel+"/"))) {
			continue
		}

		child := &models.FileTreeNode{Name: e.Name(), AbsolutePath: full}
		if e.IsDir() {
			child.Children = []*models.FileTreeNode{}
			if err := walkTree(root, full, matcher, child); err != nil {
				return err
			}
		}
		parent.Children = append(parent.Children, child)
	}
	return nil
}
