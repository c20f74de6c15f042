package files

import (
	"context"
	"io"
	"io/ioutil"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// MemoryStore keeps files in memory. URLs are baseURL + "/" + path.
type MemoryStore struct {
	baseURL string

	mu    sync.RWMutex
	files map[string][]byte
}

var _ core.FileStore = (*MemoryStore)(nil) // interface compliance check

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), files: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, path string, r io.Reader) (string, error) {
	if path == "" {
		return "", errors.New("file path is required")
	}
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", path)
	}
	s.mu.Lock()
	s.files[path] = b
	s.mu.Unlock()
	return s.baseURL + "/" + path, nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.files, path)
	s.mu.Unlock()
	return nil
}

// Get returns the content stored at path.
func (s *MemoryStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[path]
	return b, ok
}

// Paths lists every stored path, in no particular order.
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	return paths
}
