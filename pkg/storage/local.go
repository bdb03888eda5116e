// Package storage provides the local blob store used for source files and packaged artifacts.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
)

var ErrPathOutsideRoot = errors.New("path escapes storage root")

// Local stores blobs below a root directory with an optional byte quota.
type Local struct {
	root   string
	quota  int64
	logger *slog.Logger
	mu     sync.Mutex
}

// NewLocal creates the root directory when missing. A quota of 0 disables the limit.
func NewLocal(logger *slog.Logger, root string, quotaBytes int64) (*Local, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0o755); err != nil {
		return nil, models.WrapError(models.ErrStorage, "failed to create storage root", err)
	}

	return &Local{root: cleanRoot, quota: quotaBytes, logger: logger}, nil
}

// Root returns the storage root directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(l.root, path)
}

// Walk visits regular files below root. Relative roots are resolved against the storage root.
func (l *Local) Walk(ctx context.Context, root string, fn func(protocol.FileInfo) error) error {
	base := l.resolve(root)

	return filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		return fn(protocol.FileInfo{Path: rel, Size: info.Size()})
	})
}

func (l *Local) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.resolve(path))
	if err != nil {
		return nil, models.WrapError(models.ErrIO, fmt.Sprintf("failed to read %s", path), err)
	}

	return data, nil
}

// Store writes data to relPath under the root after checking the quota and
// returns its sha256 checksum.
func (l *Local) Store(ctx context.Context, relPath string, data []byte) (*protocol.FileMetadata, error) {
	target, err := l.inside(relPath)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.quota > 0 {
		used, err := l.usage(ctx)
		if err != nil {
			return nil, err
		}

		if existing, statErr := os.Stat(target); statErr == nil {
			used -= existing.Size()
		}

		if used+int64(len(data)) > l.quota {
			return nil, models.NewResourceLimitError(
				fmt.Sprintf("storage quota of %d bytes exceeded storing %s (%d bytes in use)", l.quota, relPath, used))
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, models.WrapError(models.ErrStorage, "failed to create directory", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, models.WrapError(models.ErrStorage, fmt.Sprintf("failed to write %s", relPath), err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)

		return nil, models.WrapError(models.ErrStorage, fmt.Sprintf("failed to move %s into place", relPath), err)
	}

	sum := sha256.Sum256(data)

	l.logger.DebugContext(ctx, "Stored blob", "path", relPath, "size", len(data))

	return &protocol.FileMetadata{
		Path:      filepath.ToSlash(relPath),
		Size:      int64(len(data)),
		Checksum:  hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Delete removes relPath. Missing files are not an error.
func (l *Local) Delete(_ context.Context, relPath string) error {
	target, err := l.inside(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return models.WrapError(models.ErrStorage, fmt.Sprintf("failed to delete %s", relPath), err)
	}

	return nil
}

// Usage returns the bytes currently stored below the root.
func (l *Local) Usage(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.usage(ctx)
}

func (l *Local) usage(ctx context.Context) (int64, error) {
	var total int64

	err := l.Walk(ctx, l.root, func(info protocol.FileInfo) error {
		total += info.Size

		return nil
	})
	if err != nil {
		return 0, models.WrapError(models.ErrStorage, "failed to compute usage", err)
	}

	return total, nil
}

func (l *Local) inside(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", models.WrapError(models.ErrStorage, relPath, ErrPathOutsideRoot)
	}

	target := filepath.Join(l.root, relPath)

	rel, err := filepath.Rel(l.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", models.WrapError(models.ErrStorage, relPath, ErrPathOutsideRoot)
	}

	return target, nil
}
