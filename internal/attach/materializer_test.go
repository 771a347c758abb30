package attach

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	blobs map[string][]byte
	err   error
}

func (s *memStore) Write(name string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.blobs == nil {
		s.blobs = map[string][]byte{}
	}
	s.blobs[name] = data
	return nil
}

func newTestMaterializer(store BlobStore) *Materializer {
	m := NewMaterializer(store, zap.NewNop().Sugar())
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }
	m.suffix = func() string { return "abcd1234" }
	return m
}

func dataURL(body []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(body)
}

func TestMaterializeStoresDecodedPayload(t *testing.T) {
	store := &memStore{}
	m := newTestMaterializer(store)

	ref, err := m.Materialize("cat.png", dataURL([]byte("png bytes")))
	require.NoError(t, err)

	assert.Equal(t, "1700000000000-abcd1234.png", ref)
	assert.Equal(t, []byte("png bytes"), store.blobs[ref])
}

func TestMaterializeExtension(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     string
	}{
		{"plain extension", "cat.png", "1700000000000-abcd1234.png"},
		{"multi dot keeps last segment", "archive.tar.gz", "1700000000000-abcd1234.gz"},
		{"no extension", "README", "1700000000000-abcd1234"},
		{"trailing dot", "weird.", "1700000000000-abcd1234"},
		{"path is flattened", "../secret/cat.png", "1700000000000-abcd1234.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMaterializer(&memStore{})
			ref, err := m.Materialize(tt.fileName, dataURL([]byte("x")))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestMaterializeRejectsMalformedDataURL(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing data scheme", "image/png;base64,aGk="},
		{"missing base64 marker", "data:image/png,aGk="},
		{"missing comma", "data:image/png;base64"},
		{"invalid base64 body", "data:image/png;base64,!!!"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			m := newTestMaterializer(store)
			_, err := m.Materialize("cat.png", tt.data)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Empty(t, store.blobs)
		})
	}
}

func TestMaterializeReportsWriteFailure(t *testing.T) {
	m := newTestMaterializer(&memStore{err: errors.New("disk full")})
	_, err := m.Materialize("cat.png", dataURL([]byte("x")))
	assert.ErrorIs(t, err, ErrWrite)
}

func TestDirStoreWritesIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Write("blob.png", []byte("payload")))

	data, err := os.ReadFile(filepath.Join(dir, "blob.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestDirStoreFlattensPaths(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Write("../escape.png", []byte("payload")))

	_, err = os.Stat(filepath.Join(dir, "escape.png"))
	assert.NoError(t, err)
}

func TestDirStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
