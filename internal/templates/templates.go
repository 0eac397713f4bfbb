// Package templates manages the on-disk store of nuclei YAML templates.
package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("template not found")
	ErrExists   = errors.New("template already exists")
)

// Metadata is the identifying information read from a template's id
// and info block.
type Metadata struct {
	ID          string
	Name        string
	Severity    string
	Tags        []string
	Description string
	Path        string
}

// tagList accepts both YAML forms seen in the wild: a sequence and a
// comma separated scalar.
type tagList []string

func (t *tagList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*t = items
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*t = items
	default:
		return fmt.Errorf("tags: unsupported yaml node kind %v", value.Kind)
	}
	return nil
}

type document struct {
	ID   string `yaml:"id"`
	Info struct {
		Name        string  `yaml:"name"`
		Severity    string  `yaml:"severity"`
		Description string  `yaml:"description"`
		Tags        tagList `yaml:"tags"`
	} `yaml:"info"`
}

// Parse extracts template metadata from YAML content.
func Parse(content []byte, path string) (Metadata, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return Metadata{}, fmt.Errorf("parsing template yaml: %w", err)
	}
	if doc.ID == "" {
		return Metadata{}, errors.New("template must include an id field")
	}

	meta := Metadata{
		ID:          doc.ID,
		Name:        doc.Info.Name,
		Severity:    doc.Info.Severity,
		Tags:        doc.Info.Tags,
		Description: doc.Info.Description,
		Path:        path,
	}
	if meta.Name == "" {
		meta.Name = meta.ID
	}
	if meta.Severity == "" {
		meta.Severity = "info"
	}
	return meta, nil
}

// Store is a directory of template files, one yaml file per template.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the template directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating template directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// List walks the store and returns metadata of every readable valid
// template, sorted by file path. Unreadable or invalid files are
// skipped.
func (s *Store) List() []Metadata {
	var out []Metadata
	_ = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isYAML(path) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		meta, err := Parse(content, path)
		if err != nil {
			return nil
		}
		out = append(out, meta)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Load returns the raw content of the template with the given id.
func (s *Store) Load(id string) (string, error) {
	path, err := s.PathFor(id)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading template %s: %w", id, err)
	}
	return string(content), nil
}

// Save overwrites the template with the given id. The content's own id
// must match.
func (s *Store) Save(id string, content string) (string, error) {
	meta, err := Parse([]byte(content), "")
	if err != nil {
		return "", err
	}
	if meta.ID != id {
		return "", fmt.Errorf("template id mismatch: content says %q, want %q", meta.ID, id)
	}
	path := filepath.Join(s.dir, id+".yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing template %s: %w", id, err)
	}
	return path, nil
}

// Create stores a new template; it refuses to overwrite an existing id.
func (s *Store) Create(content string) (Metadata, error) {
	meta, err := Parse([]byte(content), "")
	if err != nil {
		return Metadata{}, err
	}
	path := filepath.Join(s.dir, meta.ID+".yaml")
	if _, err := os.Stat(path); err == nil {
		return Metadata{}, fmt.Errorf("template %s: %w", meta.ID, ErrExists)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Metadata{}, fmt.Errorf("writing template %s: %w", meta.ID, err)
	}
	meta.Path = path
	return meta, nil
}

// Delete removes the template with the given id.
func (s *Store) Delete(id string) error {
	path, err := s.PathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting template %s: %w", id, err)
	}
	return nil
}

// Import copies every valid template under source into the store,
// skipping invalid files and already present ids. Returns the paths of
// imported templates.
func (s *Store) Import(source string) ([]string, error) {
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("template source %s: %w", source, err)
	}

	var imported []string
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isYAML(path) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		meta, err := Parse(content, path)
		if err != nil {
			return nil
		}
		target := filepath.Join(s.dir, meta.ID+".yaml")
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("importing template %s: %w", meta.ID, err)
		}
		imported = append(imported, target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imported, nil
}

// PathFor resolves a template id to its file path: the direct filename
// first, then a metadata scan of the whole store.
func (s *Store) PathFor(id string) (string, error) {
	candidate := filepath.Join(s.dir, id+".yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	for _, meta := range s.List() {
		if meta.ID == id {
			return meta.Path, nil
		}
	}
	return "", fmt.Errorf("template %s: %w", id, ErrNotFound)
}

func isYAML(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
