// Package `artifactcache` keeps zstd-compressed local copies of published
// artifacts, keyed by content hash.
//
// The archive service only guarantees eventual availability of a snapshot.
// Keeping the exact bytes that were hashed and published makes a bad
// upstream capture diagnosable later without archive.org.
package artifactcache

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

const fileExt = ".zst"

var sha256HexRgx = regexp.MustCompile(`^[0-9a-f]{64}$`)

type Logger interface {
	Infow(msg string, kv ...interface{})
}

type Store struct {
	lg  Logger
	dir string
	// `keep` bounds the number of cached artifacts; `Prune()` drops the
	// oldest beyond it.  Zero disables pruning.
	keep int
}

func New(lg Logger, dir string, keep int) *Store {
	return &Store{lg: lg, dir: dir, keep: keep}
}

func (s *Store) path(sha256hex string) string {
	return filepath.Join(s.dir, sha256hex+fileExt)
}

// `Put()` stores an artifact under its content hash.  The write goes
// through a temp file and rename, so a crashed run never leaves a torn
// cache entry.
func (s *Store) Put(sha256hex string, data []byte) error {
	if !sha256HexRgx.MatchString(sha256hex) {
		return fmt.Errorf("malformed content hash `%s`", sha256hex)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	z, err := compress(data)
	if err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(s.dir, "put-*"+fileExt)
	if err != nil {
		return err
	}
	_, werr := tmp.Write(z)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Rename(tmp.Name(), s.path(sha256hex)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	s.lg.Infow(
		"Cached artifact.",
		"sha256", sha256hex,
		"bytes", len(data),
		"compressedBytes", len(z),
	)
	return nil
}

// `Open()` returns the decompressed artifact bytes for a content hash.
func (s *Store) Open(sha256hex string) ([]byte, error) {
	if !sha256HexRgx.MatchString(sha256hex) {
		return nil, fmt.Errorf("malformed content hash `%s`", sha256hex)
	}
	z, err := ioutil.ReadFile(s.path(sha256hex))
	if err != nil {
		return nil, err
	}
	return decompress(z)
}

// `Prune()` removes the oldest cache entries beyond the configured bound.
func (s *Store) Prune() error {
	if s.keep <= 0 {
		return nil
	}
	infos, err := ioutil.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []os.FileInfo
	for _, inf := range infos {
		if inf.Mode().IsRegular() &&
			filepath.Ext(inf.Name()) == fileExt {
			entries = append(entries, inf)
		}
	}
	if len(entries) <= s.keep {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime().Before(entries[j].ModTime())
	})
	for _, inf := range entries[:len(entries)-s.keep] {
		if err := os.Remove(filepath.Join(s.dir, inf.Name())); err != nil {
			return err
		}
		s.lg.Infow("Pruned cached artifact.", "name", inf.Name())
	}
	return nil
}
