// Package attach turns inline-encoded file payloads into stored blobs with a
// stable reference name that chat messages can carry.
package attach

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrDecode is returned when the inline data is not a valid
	// base64-encoded data URL.
	ErrDecode = errors.New("attach: invalid inline data")
	// ErrWrite is returned when persisting the decoded bytes fails.
	ErrWrite = errors.New("attach: blob write failed")
)

// Materializer decodes inline file payloads and writes them through a
// BlobStore, returning the reference name of the stored blob.
type Materializer struct {
	blobs BlobStore
	log   *zap.SugaredLogger

	// Injectable for tests.
	now    func() time.Time
	suffix func() string
}

// NewMaterializer creates a Materializer backed by the given store.
func NewMaterializer(blobs BlobStore, log *zap.SugaredLogger) *Materializer {
	return &Materializer{
		blobs:  blobs,
		log:    log,
		now:    time.Now,
		suffix: func() string { return uuid.NewString()[:8] },
	}
}

// Materialize decodes a data URL and stores its bytes. The returned reference
// is derived from the receipt time plus a random suffix, keeping the original
// file's extension when it has one.
func (m *Materializer) Materialize(name, dataURL string) (string, error) {
	payload, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}

	ref := fmt.Sprintf("%d-%s%s", m.now().UnixMilli(), m.suffix(), extension(name))
	if err := m.blobs.Write(ref, payload); err != nil {
		return "", errors.Wrap(ErrWrite, err.Error())
	}
	m.log.Infow("attachment stored", "ref", ref, "bytes", len(payload))
	return ref, nil
}

// decodeDataURL extracts and decodes the base64 body of a
// "data:<mediatype>;base64,<body>" URL.
func decodeDataURL(dataURL string) ([]byte, error) {
	header, body, found := strings.Cut(dataURL, ",")
	if !found || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, ErrDecode
	}

	payload, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	return payload, nil
}

// extension returns the trailing dot-segment of name including the dot, or
// an empty string when the name has no extension.
func extension(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "." {
		return ""
	}
	return ext
}
