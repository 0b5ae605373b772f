package evidence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/apperr"
)

var uploadNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failOn    string
	block     bool
	removeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, f File) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.failOn != "" && f.Name == s.failOn {
		return "", errors.New("bucket unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = f.Data
	return "mem://" + key, nil
}

func (s *fakeStore) Remove(_ context.Context, key string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func TestUploadAllSuccess(t *testing.T) {
	store := newFakeStore()
	files := []File{{Name: "a.pdf", Data: []byte("a")}, {Name: "b.png", Data: []byte("b")}}

	stored, err := UploadAll(context.Background(), store, files, time.Second, uploadNow)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Len(t, store.objects, 2)
	for _, u := range URLs(stored) {
		assert.True(t, strings.HasPrefix(u, "mem://2025/03/"), u)
	}
}

func TestUploadAllNoFiles(t *testing.T) {
	stored, err := UploadAll(context.Background(), nil, nil, time.Second, uploadNow)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Nil(t, URLs(stored))
}

func TestUploadAllFailureRollsBack(t *testing.T) {
	store := newFakeStore()
	store.failOn = "b.png"
	files := []File{{Name: "a.pdf", Data: []byte("a")}, {Name: "b.png", Data: []byte("b")}}

	stored, err := UploadAll(context.Background(), store, files, time.Second, uploadNow)
	assert.Nil(t, stored)
	assert.Equal(t, apperr.KindUploadError, apperr.KindOf(err))
	assert.Empty(t, store.objects, "earlier uploads must be removed")
}

func TestUploadAllReportsFailedRollback(t *testing.T) {
	store := newFakeStore()
	store.failOn = "b.png"
	store.removeErr = errors.New("permission denied")
	files := []File{{Name: "a.pdf", Data: []byte("a")}, {Name: "b.png", Data: []byte("b")}}

	_, err := UploadAll(context.Background(), store, files, time.Second, uploadNow)
	assert.Equal(t, apperr.KindUploadError, apperr.KindOf(err))
	assert.ErrorIs(t, err, store.removeErr)
	assert.Len(t, store.objects, 1)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	stored, err := UploadAll(ctx, store, []File{{Name: "a.pdf", Data: []byte("a")}, {Name: "b.pdf", Data: []byte("b")}}, time.Second, uploadNow)
	require.NoError(t, err)

	store.removeErr = errors.New("bucket unavailable")
	err = Discard(ctx, store, stored)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.removeErr)
	for _, s := range stored {
		assert.Contains(t, err.Error(), s.Key)
	}
	assert.Len(t, store.objects, 2)

	store.removeErr = nil
	require.NoError(t, Discard(ctx, store, stored))
	assert.Empty(t, store.objects)
	assert.NoError(t, Discard(ctx, putOnly{}, stored), "stores without Remove are skipped")
}

type putOnly struct{}

func (putOnly) Put(context.Context, string, File) (string, error) { return "", nil }

func TestUploadAllTimeout(t *testing.T) {
	store := newFakeStore()
	store.block = true

	_, err := UploadAll(context.Background(), store, []File{{Name: "slow.pdf", Data: []byte("x")}}, 20*time.Millisecond, uploadNow)
	assert.Equal(t, apperr.KindUploadTimeout, apperr.KindOf(err))
}

func TestUploadAllRejectsEmptyFile(t *testing.T) {
	_, err := UploadAll(context.Background(), newFakeStore(), []File{{Name: "empty.txt"}}, time.Second, uploadNow)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestObjectKeySanitizes(t *testing.T) {
	key := ObjectKey(`..\..\etc/pass wd?.pdf`, uploadNow)
	assert.True(t, strings.HasPrefix(key, "2025/03/"), key)
	assert.True(t, strings.HasSuffix(key, "-pass_wd_.pdf"), key)
	assert.NotContains(t, key, "..")
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "https://files.example.com/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "2025/03/abc-report.pdf", File{Name: "report.pdf", Data: []byte("pdf")})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/2025/03/abc-report.pdf", url)

	data, err := os.ReadFile(filepath.Join(dir, "2025", "03", "abc-report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))

	require.NoError(t, store.Remove(context.Background(), "2025/03/abc-report.pdf"))
	_, err = os.Stat(filepath.Join(dir, "2025", "03", "abc-report.pdf"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Remove(context.Background(), "2025/03/abc-report.pdf"))
}

func TestLocalStoreFileURL(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(store.URL("k.pdf"), "file://"))
}
