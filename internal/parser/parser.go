// Package parser turns uploaded files into plain text or markdown documents.
// Text and markdown files are read locally; everything else goes to the
// LlamaParse cloud service when an API key is configured.
package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedType is returned when no configured parser accepts the file.
var ErrUnsupportedType = errors.New("parser: unsupported file type")

// Document is the parsed text of one input file (or one page of it).
type Document struct {
	// Name is the originating file name.
	Name string
	// Text is the extracted content, markdown where the parser produces it.
	Text string
}

// Parser extracts documents from a file on disk.
type Parser interface {
	// Parse reads the file at path and returns its documents.
	Parse(ctx context.Context, path string) ([]Document, error)
}

// localExts are the extensions the local parser reads directly.
var localExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// Local reads UTF-8 text and markdown files.
type Local struct{}

// Parse returns the file content as a single document.
func (Local) Parse(_ context.Context, path string) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !localExts[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("parser: %s is not valid UTF-8 text", filepath.Base(path))
	}
	return []Document{{Name: filepath.Base(path), Text: string(data)}}, nil
}

// Router reads text files locally and sends everything else to Remote.
// With no Remote configured, non-text files fail with ErrUnsupportedType.
type Router struct {
	// Remote handles binary formats (PDF, DOCX, ...). May be nil.
	Remote Parser
}

// Parse dispatches on the file extension.
func (r Router) Parse(ctx context.Context, path string) ([]Document, error) {
	if localExts[strings.ToLower(filepath.Ext(path))] {
		return Local{}.Parse(ctx, path)
	}
	if r.Remote == nil {
		return nil, fmt.Errorf("%w: %s (set LLAMA_CLOUD_API_KEY to parse this format)",
			ErrUnsupportedType, filepath.Ext(path))
	}
	return r.Remote.Parse(ctx, path)
}
