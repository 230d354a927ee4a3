// Package workspace holds a client's local view of the shared project:
// a flat path-to-file mapping with folder semantics derived from "/"
// separators. Nothing here touches the network; the session client
// decides when a mutation is echoed to the room.
package workspace

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrEmptyPath indicates a create or delete with no path.
	ErrEmptyPath = errors.New("workspace: path must not be empty")
	// ErrFileExists indicates a create targeting an occupied path.
	ErrFileExists = errors.New("workspace: file already exists")
	// ErrFileNotFound indicates a delete with no matching node.
	ErrFileNotFound = errors.New("workspace: no file at path")
)

// File is one entry in the set. Path doubles as the primary key and may
// contain "/" separators denoting virtual folders.
type File struct {
	Path     string
	Language string
	Content  string
}

// FileSet maps paths to files. Not safe for concurrent use; the owning
// session serializes local and remote mutations.
type FileSet struct {
	files map[string]File
}

// New returns an empty FileSet.
func New() *FileSet {
	return &FileSet{files: make(map[string]File)}
}

// NewDefault returns a FileSet seeded with the starter files every fresh
// editor opens with.
func NewDefault() *FileSet {
	set := New()
	set.files["script.js"] = File{Path: "script.js", Language: "javascript", Content: "// Write your JS code here\nconsole.log('Hello World');"}
	set.files["style.css"] = File{Path: "style.css", Language: "css", Content: "/* Write your CSS code here */\nbody { background: #000; }"}
	set.files["index.html"] = File{Path: "index.html", Language: "html", Content: "\n<div></div>"}
	return set
}

// Create inserts a new file at path, deriving its language from the
// extension. A collision is rejected so the caller can surface the error
// to the user; nothing is auto-renamed.
func (s *FileSet) Create(path, content string) (File, error) {
	if strings.TrimSpace(path) == "" {
		return File{}, ErrEmptyPath
	}
	if _, occupied := s.files[path]; occupied {
		return File{}, fmt.Errorf("%w: %s", ErrFileExists, path)
	}
	file := File{Path: path, Language: LanguageForPath(path), Content: content}
	s.files[path] = file
	return file, nil
}

// Insert adds a file only if its path is absent, reporting whether it was
// stored. Remote creations route through here so a replayed or racing
// file_created never overwrites existing content.
func (s *FileSet) Insert(file File) bool {
	if strings.TrimSpace(file.Path) == "" {
		return false
	}
	if _, occupied := s.files[file.Path]; occupied {
		return false
	}
	s.files[file.Path] = file
	return true
}

// SetContent replaces the whole content of an existing file, reporting
// whether the path was known. Content for an unknown path is dropped:
// the event race with a concurrent creation resolves when the creation
// arrives, and the next edit carries full content anyway.
func (s *FileSet) SetContent(path, content string) bool {
	file, known := s.files[path]
	if !known {
		return false
	}
	file.Content = content
	s.files[path] = file
	return true
}

// Delete removes the node at path and, treating path as a folder, every
// entry underneath it. The removed paths are returned so the caller can
// reconcile its active selection.
func (s *FileSet) Delete(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	prefix := path + "/"
	removed := make([]string, 0, 1)
	for candidate := range s.files {
		if candidate == path || strings.HasPrefix(candidate, prefix) {
			removed = append(removed, candidate)
		}
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	for _, candidate := range removed {
		delete(s.files, candidate)
	}
	sort.Strings(removed)
	return removed, nil
}

// Get returns the file stored at path.
func (s *FileSet) Get(path string) (File, bool) {
	file, known := s.files[path]
	return file, known
}

// Contains reports whether a file exists at path.
func (s *FileSet) Contains(path string) bool {
	_, known := s.files[path]
	return known
}

// Len returns the number of files.
func (s *FileSet) Len() int {
	return len(s.files)
}

// Snapshot returns the files sorted by path for deterministic iteration.
func (s *FileSet) Snapshot() []File {
	files := make([]File, 0, len(s.files))
	for _, file := range s.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// LanguageForPath maps a file extension to its language tag. Unknown
// extensions fall back to javascript, the editor's generic default.
func LanguageForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".java"):
		return "java"
	case strings.HasSuffix(path, ".cpp"):
		return "cpp"
	case strings.HasSuffix(path, ".css"):
		return "css"
	case strings.HasSuffix(path, ".html"):
		return "html"
	default:
		return "javascript"
	}
}
