package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kbforge/kbforge/pkg/models"
)

// clone shallow-clones cfg.Repo into a temporary directory and reads it like a local folder.
func (s *Step) clone(ctx context.Context, cfg Config) (map[string]any, int, error) {
	dir, err := os.MkdirTemp("", "kbforge-clone-*")
	if err != nil {
		return nil, 0, models.WrapError(models.ErrIO, "failed to create clone directory", err)
	}
	defer os.RemoveAll(dir)

	args := []string{"clone", "--depth", "1"}
	if cfg.Branch != "" {
		args = append(args, "--branch", cfg.Branch)
	}

	args = append(args, cfg.Repo, dir)

	out, err := exec.CommandContext(ctx, s.git, args...).CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}

		return nil, 0, models.WrapError(models.ErrIO,
			fmt.Sprintf("git clone %s failed: %s", cfg.Repo, strings.TrimSpace(string(out))), err)
	}

	docs, totalSize, err := s.readTree(ctx, dir, cfg)
	if err != nil {
		return nil, 0, err
	}

	kept := docs[:0]
	for _, doc := range docs {
		if !strings.HasPrefix(doc.Path, ".git/") {
			kept = append(kept, doc)
		}
	}

	return map[string]any{
		"source_type": SourceGitClone,
		"repository":  cfg.Repo,
		"files":       kept,
		"total_files": len(kept),
		"total_size":  totalSize,
	}, len(kept), nil
}
