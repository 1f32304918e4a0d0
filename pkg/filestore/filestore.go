// Package filestore implements a content-addressed blob cache on local disk: every blob is
// named by its SHA-256 digest, written via a temp-file-then-rename so a reader never observes a
// partial write, and stored under a two-level hex-prefix shard (`xx/yy/<hash>`) to keep any one
// directory from growing without bound.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
)

// Store is a content-addressed blob store rooted at Dir.
type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Digest is a lowercase-hex SHA-256 digest identifying a blob.
type Digest string

func digestOf(sum [sha256.Size]byte) Digest {
	return Digest(hex.EncodeToString(sum[:]))
}

func (s *Store) pathFor(digest Digest) string {
	str := string(digest)
	if len(str) < 4 {
		return filepath.Join(s.Dir, "blobs", str)
	}
	return filepath.Join(s.Dir, "blobs", str[0:2], str[2:4], str)
}

// Has reports whether digest is already present in the store.
func (s *Store) Has(digest Digest) bool {
	_, err := os.Stat(s.pathFor(digest))
	return err == nil
}

// Open returns a reader for the blob named by digest.
func (s *Store) Open(digest Digest) (io.ReadCloser, error) {
	return os.Open(s.pathFor(digest))
}

// Path returns the on-disk path of the blob named by digest, for callers (like archive/zip) that
// need random access rather than a stream.
func (s *Store) Path(digest Digest) string {
	return s.pathFor(digest)
}

// Put streams src into the store, computing its digest as it goes, and returns that digest
// together with the blob's size. It is safe to call concurrently, including with itself for the
// same content: the final os.Rename is atomic, so two writers racing to land the same digest
// simply clobber each other with identical bytes.
func (s *Store) Put(ctx context.Context, src io.Reader) (Digest, int64, error) {
	shardDir := filepath.Join(s.Dir, "blobs")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("filestore.Put: %w", err)
	}

	tmp, err := os.CreateTemp(shardDir, "tmp-*")
	if err != nil {
		return "", 0, fmt.Errorf("filestore.Put: %w", err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(src, hasher))
	if err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("filestore.Put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("filestore.Put: %w", err)
	}

	var sum [sha256.Size]byte
	copy(sum[:], hasher.Sum(nil))
	digest := digestOf(sum)

	dst := s.pathFor(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("filestore.Put: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("filestore.Put: rename into place: %w", err)
	}
	removeTmp = false

	dlog.Debugf(ctx, "filestore: stored %s (%d bytes)", digest, size)
	return digest, size, nil
}

// PutBytes is a convenience wrapper around Put for already-in-memory content.
func (s *Store) PutBytes(ctx context.Context, content []byte) (Digest, error) {
	digest, _, err := s.Put(ctx, newBytesReader(content))
	return digest, err
}

func newBytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// Remove deletes the blob named by digest, if present. It is not an error for the blob to already
// be absent.
func (s *Store) Remove(digest Digest) error {
	err := os.Remove(s.pathFor(digest))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore.Remove: %w", err)
	}
	return nil
}
