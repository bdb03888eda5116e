// Package file provides file-based persistence for pipelines and runs.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kbforge/kbforge/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	pipelineRepo *PipelineRepository
	runRepo      *RunRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	store := &jsonStore{root: cleanRoot}

	return &Persistence{
		root:         cleanRoot,
		pipelineRepo: &PipelineRepository{store: store},
		runRepo:      &RunRepository{store: store},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) PipelineRepository() persistence.PipelineRepository {
	return fp.pipelineRepo
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

// jsonStore keeps one JSON document per record under <root>/<kind>/<id>.json.
type jsonStore struct {
	root string
	mu   sync.RWMutex
}

func (s *jsonStore) path(kind, id string) string {
	return filepath.Join(s.root, kind, filepath.Base(id)+".json")
}

// read returns fs.ErrNotExist when the record is missing.
func (s *jsonStore) read(kind, id string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

func (s *jsonStore) write(kind, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.root, kind), 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	target := s.path(kind, id)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return os.Rename(tmp, target)
}

// remove reports whether a record was deleted.
func (s *jsonStore) remove(kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(kind, id))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// ids lists the record ids of a kind.
func (s *jsonStore) ids(kind string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := fs.Glob(os.DirFS(filepath.Join(s.root, kind)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(match, ".json"))
	}

	return ids, nil
}
