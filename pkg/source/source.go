package source

import (
	"os"
	"path/filepath"
	"strings"
)

// SourceFile represents a generator program with its content and metadata.
type SourceFile struct {
	Name    string   // Display name (e.g. "gen.R", "<expr>")
	Path    string   // Full file path (empty for command-line expressions)
	Content string   // The source code content
	lines   []string // Cached split lines (lazy initialization)
}

// NewSourceFile creates a new source file.
func NewSourceFile(name, path, content string) *SourceFile {
	return &SourceFile{
		Name:    name,
		Path:    path,
		Content: content,
	}
}

// NewExprSource creates a source file for a command-line expression.
func NewExprSource(content string) *SourceFile {
	return &SourceFile{
		Name:    "<expr>",
		Path:    "",
		Content: content,
	}
}

// FromFile creates a SourceFile from a file path and content.
func FromFile(filePath, content string) *SourceFile {
	name := filepath.Base(filePath)
	return NewSourceFile(name, filePath, content)
}

// ReadFile loads a SourceFile from disk.
func ReadFile(filePath string) (*SourceFile, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromFile(filePath, string(content)), nil
}

// Lines returns the source split into lines (cached).
func (sf *SourceFile) Lines() []string {
	if sf.lines == nil {
		sf.lines = strings.Split(sf.Content, "\n")
	}
	return sf.lines
}

// DisplayPath returns the best path for display (prefers Path, falls back to Name).
func (sf *SourceFile) DisplayPath() string {
	if sf.Path != "" {
		return sf.Path
	}
	return sf.Name
}

// IsFile returns true if this represents an actual file (has a path).
func (sf *SourceFile) IsFile() bool {
	return sf.Path != ""
}
