package results

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MrWong99/vocaledge/pkg/types"
)

// FileStore persists results as JSON lines in a local file. Turn audio is not
// stored. Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore that writes to path. The file and its
// directory are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends r to the file.
func (s *FileStore) Save(_ context.Context, r *types.SessionResult) error {
	if err := validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("results: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("results: create directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("results: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("results: write: %w", err)
	}
	return nil
}

// Recent reads the file and returns the newest results first. When an ID
// appears more than once the last line wins. Malformed lines are skipped.
func (s *FileStore) Recent(_ context.Context, limit int) ([]types.SessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("results: open file: %w", err)
	}
	defer f.Close()

	var (
		all   []types.SessionResult
		index = map[string]int{}
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r types.SessionResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			slog.Warn("results: skipping malformed line", "path", s.path, "line", line, "err", err)
			continue
		}
		if i, ok := index[r.ID]; ok {
			all[i] = r
			continue
		}
		index[r.ID] = len(all)
		all = append(all, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("results: read: %w", err)
	}

	slices.SortStableFunc(all, func(a, b types.SessionResult) int {
		return b.Date.Compare(a.Date)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
