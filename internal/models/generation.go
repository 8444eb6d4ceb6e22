package models

import "encoding/json"

// GeneratedFile is one file produced by the generation model.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileTreeNode describes a materialized project. Directories carry Children
// (possibly empty); files leave it nil.
type FileTreeNode struct {
	Name         string          `json:"name"`
	AbsolutePath string          `json:"absolutePath"`
	Children     []*FileTreeNode `json:"children,omitempty"`
}

// MarshalJSON keeps an empty children list on directories so clients can
// tell an empty directory from a file.
func (n *FileTreeNode) MarshalJSON() ([]byte, error) {
	type node struct {
		Name         string          `json:"name"`
		AbsolutePath string          `json:"absolutePath"`
		Children     *[]*FileTreeNode `json:"children,omitempty"`
	}
	out := node{Name: n.Name, AbsolutePath: n.AbsolutePath}
	if n.Children != nil {
		out.Children = &n.Children
	}
	return json.Marshal(out)
}

// IsDir reports whether the node is a directory.
func (n *FileTreeNode) IsDir() bool {
	return n.Children != nil
}

// GenerationResult is what a successful generation run leaves behind.
type GenerationResult struct {
	SessionID  string        `json:"sessionId"`
	PreviewURL string        `json:"previewUrl"`
	RepoPath   string        `json:"repoPath"`
	DurationMs int64         `json:"durationMs"`
	Tree       *FileTreeNode `json:"tree,omitempty"`
}
