package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
	"github.com/hugo-lorenzo-mato/flowforge/internal/logging"
)

// definitionFile is the on-disk YAML shape of a workflow definition.
type definitionFile struct {
	ID    string          `yaml:"id"`
	Name  string          `yaml:"name"`
	Steps []core.StepSpec `yaml:"steps"`
}

// DefinitionLoader reads workflow definition YAML files into the store.
// Definitions are content-addressed: reloading an unchanged file is a no-op,
// a changed file becomes a new version. Running executions keep the version
// they pinned at start.
type DefinitionLoader struct {
	store  core.WorkflowStore
	logger *logging.Logger
}

// NewDefinitionLoader creates a loader.
func NewDefinitionLoader(store core.WorkflowStore, logger *logging.Logger) *DefinitionLoader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DefinitionLoader{store: store, logger: logger}
}

// LoadDir loads every *.yaml/*.yml file in dir. Files that fail to parse or
// validate are skipped with a log line; one bad file must not take down the
// rest of the registry.
func (l *DefinitionLoader) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		changed, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.Error("skipping definition file", "path", path, "error", err)
			continue
		}
		if changed {
			loaded++
		}
	}
	return loaded, nil
}

// LoadFile loads one definition file, saving a new version when the step
// list changed. Returns whether a new version was stored.
func (l *DefinitionLoader) LoadFile(ctx context.Context, path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading definition file: %w", err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return false, fmt.Errorf("parsing definition file: %w", err)
	}
	if file.ID == "" {
		file.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if file.Name == "" {
		file.Name = file.ID
	}
	for i := range file.Steps {
		if err := file.Steps[i].Normalize(); err != nil {
			return false, err
		}
	}

	def := &core.WorkflowDefinition{
		ID:        file.ID,
		Version:   1,
		Name:      file.Name,
		Steps:     file.Steps,
		CreatedAt: time.Now().UTC(),
	}
	if err := def.Validate(); err != nil {
		return false, err
	}

	latest, err := l.store.LatestDefinition(ctx, def.ID)
	switch {
	case err == nil:
		if latest.Fingerprint() == def.Fingerprint() {
			return false, nil
		}
		def.Version = latest.Version + 1
	case core.IsCategory(err, core.ErrCatNotFound):
		// First version of this definition.
	default:
		return false, err
	}

	if err := l.store.SaveDefinition(ctx, def); err != nil {
		return false, err
	}
	l.logger.Info("definition loaded", "id", def.ID, "version", def.Version, "steps", len(def.Steps))
	return true, nil
}

// Watch reloads definition files as they change until ctx is cancelled.
func (l *DefinitionLoader) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating definitions watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching definitions directory: %w", err)
	}
	l.logger.Info("watching definitions", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if _, err := l.LoadFile(ctx, event.Name); err != nil {
				l.logger.Error("reloading definition failed", "path", event.Name, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("definitions watcher error", "error", err)
		}
	}
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
