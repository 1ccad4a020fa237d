package repository

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-registry/pkg/storage"
)

// flakyStore wraps a real store and fails writes while failWrites is set.
type flakyStore struct {
	mu         sync.Mutex
	inner      documentStore
	failWrites bool
	writes     int
}

func (s *flakyStore) Read(name string) (string, error) {
	return s.inner.Read(name)
}

func (s *flakyStore) Write(name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrites {
		return errors.New("disk full")
	}
	return s.inner.Write(name, content)
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

func newTestStore(t *testing.T) *storage.JSONStore {
	t.Helper()
	store, err := storage.NewJSONStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	return &flakyStore{inner: newTestStore(t)}
}

func testOptions() Options {
	return Options{LockTimeout: time.Second, Logger: zap.NewNop()}
}

func shortTimeoutOptions() Options {
	return Options{LockTimeout: 50 * time.Millisecond, Logger: zap.NewNop()}
}
