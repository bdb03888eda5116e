// Package modelregistry reports which embedding and reranker models are usable.
package modelregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kbforge/kbforge/pkg/protocol"
)

const (
	DefaultEmbeddingModel = "all-MiniLM-L6-v2"
	DefaultRerankerModel  = "ms-marco-MiniLM-L-6-v2"
)

var ErrEmptyModelID = errors.New("model id is empty")

// Local scans a models directory. A model is available when <dir>/<id> is a
// directory, downloading while <dir>/<id>.partial exists (its content may hold
// the progress as a 0..1 fraction) and broken when <dir>/<id>.error exists
// (its content is the message). Bundled models are always available.
type Local struct {
	dir     string
	bundled map[string]bool
	logger  *slog.Logger
}

func NewLocal(logger *slog.Logger, dir string) *Local {
	return &Local{
		dir:     strings.Replace(dir, "file://", "", 1),
		bundled: map[string]bool{DefaultEmbeddingModel: true},
		logger:  logger,
	}
}

func (l *Local) GetModelStatus(ctx context.Context, modelID string) (protocol.ModelStatus, error) {
	if modelID == "" {
		return protocol.ModelStatus{}, ErrEmptyModelID
	}

	if l.bundled[modelID] {
		return protocol.ModelStatus{State: protocol.ModelStateAvailable}, nil
	}

	base := filepath.Join(l.dir, dirName(modelID))

	if data, err := os.ReadFile(base + ".error"); err == nil {
		return protocol.ModelStatus{State: protocol.ModelStateError, Message: strings.TrimSpace(string(data))}, nil
	}

	if data, err := os.ReadFile(base + ".partial"); err == nil {
		progress, _ := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)

		return protocol.ModelStatus{State: protocol.ModelStateDownloading, Progress: progress}, nil
	}

	info, err := os.Stat(base)
	if err == nil && info.IsDir() {
		return protocol.ModelStatus{State: protocol.ModelStateAvailable}, nil
	}

	if err != nil && !os.IsNotExist(err) {
		return protocol.ModelStatus{}, fmt.Errorf("failed to stat model %s: %w", modelID, err)
	}

	l.logger.DebugContext(ctx, "Model not downloaded", "model", modelID, "dir", l.dir)

	return protocol.ModelStatus{State: protocol.ModelStateNotDownloaded}, nil
}

func (l *Local) GetFallbackModel(_ context.Context, modelType protocol.ModelType) (string, error) {
	return fallbackFor(modelType)
}

// Static is an in-memory registry. Unknown models are not downloaded.
type Static struct {
	mu       sync.RWMutex
	statuses map[string]protocol.ModelStatus
}

func NewStatic() *Static {
	return &Static{statuses: make(map[string]protocol.ModelStatus)}
}

// Set records the status reported for modelID.
func (s *Static) Set(modelID string, status protocol.ModelStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[modelID] = status
}

func (s *Static) GetModelStatus(_ context.Context, modelID string) (protocol.ModelStatus, error) {
	if modelID == "" {
		return protocol.ModelStatus{}, ErrEmptyModelID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[modelID]
	if !ok {
		return protocol.ModelStatus{State: protocol.ModelStateNotDownloaded}, nil
	}

	return status, nil
}

func (s *Static) GetFallbackModel(_ context.Context, modelType protocol.ModelType) (string, error) {
	return fallbackFor(modelType)
}

func fallbackFor(modelType protocol.ModelType) (string, error) {
	switch modelType {
	case protocol.ModelTypeEmbedding:
		return DefaultEmbeddingModel, nil
	case protocol.ModelTypeReranker:
		return DefaultRerankerModel, nil
	default:
		return "", fmt.Errorf("no fallback for model type %q", modelType)
	}
}

// dirName maps hub style ids such as org/model to a single path element.
func dirName(modelID string) string {
	return strings.ReplaceAll(modelID, "/", "--")
}
