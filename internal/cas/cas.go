// Package cas is the content-addressable metadata store. Objects are keyed
// by the sha256 of their payload and live under <common-git-dir>/attrib/objects.
package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/jensroland/git-attrib/internal/errs"
)

// zstd frame magic, little endian 0xFD2FB528.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Store is a directory of immutable objects.
type Store struct {
	dir      string
	compress bool
}

// Open returns a store rooted at dir. The directory is created lazily.
func Open(dir string, compress bool) *Store {
	return &Store{dir: dir, compress: compress}
}

// Dir returns the objects directory.
func (s *Store) Dir() string { return s.dir }

// Hash returns the address data would be stored under.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash[:2], hash[2:])
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// Put stores data and returns its hash. Storing the same payload twice only
// refreshes the object's mtime, which restarts its prune grace period.
// Concurrent writers of the same payload race safely because the final step
// is an atomic rename.
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)
	path := s.path(hash)
	now := time.Now()
	if err := os.Chtimes(path, now, now); !errors.Is(err, fs.ErrNotExist) {
		// Present, possibly on a read-only share where the touch fails.
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("cas put: %w", err)
	}

	payload := data
	if s.compress {
		payload = encoder.EncodeAll(data, make([]byte, 0, len(data)/2+64))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+hash[2:10]+"-*")
	if err != nil {
		return "", fmt.Errorf("cas put: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("cas put: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("cas put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("cas put: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		// Another writer may have won the race on a platform where rename
		// does not replace.
		if _, statErr := os.Stat(path); statErr == nil {
			return hash, nil
		}
		return "", fmt.Errorf("cas put: %w", err)
	}
	return hash, nil
}

// Get returns the payload stored under hash. Missing objects are NotFound;
// objects whose content does not hash back to their address are Corrupt.
func (s *Store) Get(hash string) ([]byte, error) {
	const op = "cas.Get"
	if !validHash(hash) {
		return nil, errs.NotFound(op, fmt.Errorf("invalid object id %q", hash))
	}
	raw, err := os.ReadFile(s.path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFound(op, fmt.Errorf("object %s", hash))
		}
		return nil, err
	}

	data := raw
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := decoder.DecodeAll(raw, nil)
		if err == nil && Hash(dec) == hash {
			return dec, nil
		}
		// Fall through: a raw payload may legitimately start with the magic.
	}
	if Hash(data) != hash {
		return nil, errs.Corrupt(op, fmt.Errorf("object %s does not match its hash", hash))
	}
	return data, nil
}

// Has reports whether an object exists.
func (s *Store) Has(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Walk calls fn for every stored object.
func (s *Store) Walk(fn func(hash string, info fs.FileInfo) error) error {
	fans, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, fan := range fans {
		if !fan.IsDir() || len(fan.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.dir, fan.Name()))
		if err != nil {
			return err
		}
		for _, e := range entries {
			hash := fan.Name() + e.Name()
			if e.IsDir() || !validHash(hash) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if err := fn(hash, info); err != nil {
				return err
			}
		}
	}
	return nil
}

// Prune removes objects that live does not report and that are older than
// grace. Leftover temp files older than grace are removed too. This is the
// only way objects are ever deleted.
func (s *Store) Prune(live func(hash string) bool, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)
	removed := 0
	err := s.Walk(func(hash string, info fs.FileInfo) error {
		if live(hash) || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(s.path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}

	stale, _ := filepath.Glob(filepath.Join(s.dir, "??", ".tmp-*"))
	for _, p := range stale {
		if info, err := os.Stat(p); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(p)
		}
	}
	return removed, nil
}
