package course

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a course file: the course plus its chapters.
type Definition struct {
	Course   `yaml:",inline"`
	Chapters []Chapter `yaml:"chapters"`
}

// Loader reads course definitions from YAML files on the filesystem.
type Loader struct {
	rootDir     string
	definitions map[string]Definition
}

// NewLoader creates a loader and parses every course file under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:     rootDir,
		definitions: make(map[string]Definition),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading courses: %w", err)
	}

	slog.Info("courses loaded", "courses", len(l.definitions))
	return l, nil
}

// Definitions returns the loaded courses ordered by id.
func (l *Loader) Definitions() []Definition {
	out := make([]Definition, 0, len(l.definitions))
	for _, d := range l.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Seed writes every loaded course into the store.
func (l *Loader) Seed(ctx context.Context, store Store) error {
	for _, d := range l.Definitions() {
		if err := store.PutCourse(ctx, d.Course, d.Chapters); err != nil {
			return fmt.Errorf("seed course %s: %w", d.ID, err)
		}
	}
	return nil
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.rootDir); os.IsNotExist(err) {
		slog.Warn("course directory missing, nothing to load", "path", l.rootDir)
		return nil
	}
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadCourse(path)
		}
		return nil
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}

	if def.ID == "" || len(def.Chapters) == 0 {
		return nil // Not a course file
	}
	if _, dup := l.definitions[def.ID]; dup {
		return fmt.Errorf("duplicate course id %s in %s", def.ID, path)
	}

	l.definitions[def.ID] = def
	return nil
}
