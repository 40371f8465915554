// Package artifact is the blobstore boundary. The rest of the
// director deals only in opaque refs and checksums; what a ref points
// at, and where the bytes live, is this package's concern.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("artifact not found")

// Store moves artifact bytes in and out of a blobstore. Refs are
// opaque to callers and stable for identical content.
type Store interface {
	// Fetch materialises the artifact locally and returns its path.
	Fetch(ctx context.Context, ref string) (string, error)
	// Store uploads the file and returns a ref for it.
	Store(ctx context.Context, localPath string) (string, error)
}

// Dir is a content-addressed Store rooted at a directory. The ref is
// the hex sha256 of the content, so storing the same bytes twice
// yields the same ref and one file.
type Dir struct {
	Root string
}

func (d *Dir) Fetch(_ context.Context, ref string) (string, error) {
	path := filepath.Join(d.Root, ref)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", ErrNotFound
	} else if err != nil {
		return "", errors.Wrap(err, "locating artifact")
	}
	return path, nil
}

func (d *Dir) Store(_ context.Context, localPath string) (string, error) {
	content, err := ioutil.ReadFile(localPath)
	if err != nil {
		return "", errors.Wrap(err, "reading artifact")
	}
	sum := sha256.Sum256(content)
	ref := hex.EncodeToString(sum[:])
	dst := filepath.Join(d.Root, ref)
	if _, err := os.Stat(dst); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(d.Root, 0700); err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(dst, content, 0600); err != nil {
		return "", errors.Wrap(err, "writing artifact")
	}
	return ref, nil
}

// InMem keeps artifacts in a map; for tests.
type InMem struct {
	mtx   sync.Mutex
	blobs map[string][]byte
	dir   string
}

func NewInMem() *InMem {
	return &InMem{blobs: map[string][]byte{}}
}

func (s *InMem) Fetch(_ context.Context, ref string) (string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	content, ok := s.blobs[ref]
	if !ok {
		return "", ErrNotFound
	}
	if s.dir == "" {
		dir, err := ioutil.TempDir("", "artifacts")
		if err != nil {
			return "", err
		}
		s.dir = dir
	}
	path := filepath.Join(s.dir, ref)
	if err := ioutil.WriteFile(path, content, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func (s *InMem) Store(_ context.Context, localPath string) (string, error) {
	content, err := ioutil.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	return s.StoreBytes(content)
}

// StoreBytes is a test convenience; refs match Store for the same
// content.
func (s *InMem) StoreBytes(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	ref := hex.EncodeToString(sum[:])
	s.mtx.Lock()
	s.blobs[ref] = append([]byte(nil), content...)
	s.mtx.Unlock()
	return ref, nil
}
