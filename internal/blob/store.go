package blob

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	"github.com/zeebo/blake3"
)

// Badger keyspace:
//
//	blob:<hash>:meta      JSON metadata (manifest, byte size)
//	blob:<hash>:f:<path>  file bytes
const (
	keyPrefix  = "blob:"
	metaSuffix = ":meta"
	fileInfix  = ":f:"

	// HashTree output is hex-encoded BLAKE3, always 64 characters. Key
	// parsing relies on this fixed width: stored file paths may themselves
	// contain ":meta", so suffix matching alone cannot identify meta keys.
	hashLen = 64
)

// Meta describes a stored tree. Paths are sorted.
type Meta struct {
	Paths    []string `json:"paths"`
	ByteSize int64    `json:"byteSize"`
}

// RefCounter reports how many versions reference a content hash. The
// registry implements it; Delete consults it as a defensive double-check so
// a miscoordinated caller cannot drop reachable content.
type RefCounter interface {
	CountRefs(hash string) (int64, error)
}

// Store is a content-addressed blob store over badger. Trees are immutable
// once stored: Put never rewrites an existing hash, so concurrent identical
// uploads are idempotent and readers never observe partial writes.
type Store struct {
	db *badger.DB
}

func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	opts.Logger = nil // badger's own logging is too chatty for the serving path
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store backed by an in-memory badger instance.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func metaKey(hash string) []byte {
	return []byte(keyPrefix + hash + metaSuffix)
}

func fileKey(hash, relPath string) []byte {
	return []byte(keyPrefix + hash + fileInfix + relPath)
}

// HashTree computes the stable content hash of a tree: BLAKE3 over the
// sorted paths with length-framed contents. Identical trees always hash
// identically regardless of upload order.
func HashTree(tree Tree) string {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	hasher := blake3.New()
	var frame [8]byte
	for _, p := range paths {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
		binary.BigEndian.PutUint64(frame[:], uint64(len(tree[p])))
		hasher.Write(frame[:])
		hasher.Write(tree[p])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Put stores a tree and returns its content hash, total byte size and asset
// count. When a blob with the same hash already exists the stored bytes are
// left untouched and the existing hash is returned.
func (s *Store) Put(tree Tree) (string, int64, int, error) {
	hash := HashTree(tree)

	paths := make([]string, 0, len(tree))
	var size int64
	for p, data := range tree {
		paths = append(paths, p)
		size += int64(len(data))
	}
	sort.Strings(paths)

	exists, err := s.Has(hash)
	if err != nil {
		return "", 0, 0, err
	}
	if exists {
		return hash, size, len(paths), nil
	}

	meta, err := json.Marshal(Meta{Paths: paths, ByteSize: size})
	if err != nil {
		return "", 0, 0, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, p := range paths {
			if err := txn.Set(fileKey(hash, p), tree[p]); err != nil {
				return err
			}
		}
		// Meta written last: its presence marks the blob complete.
		return txn.Set(metaKey(hash), meta)
	})
	if err != nil {
		return "", 0, 0, err
	}
	return hash, size, len(paths), nil
}

// Has reports whether a complete blob exists for hash.
func (s *Store) Has(hash string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(hash))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get resolves a relative path within the stored tree. Paths that escape the
// tree root fail with an invalid-path error before any lookup.
func (s *Store) Get(hash, relPath string) ([]byte, error) {
	clean, err := CleanPath(relPath)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(hash, clean))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.NotFound("content", hash+"/"+clean)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a blob and all its files. It refuses with a
// still-referenced error while any version references the hash; callers
// must retire references through the registry first.
func (s *Store) Delete(hash string, refs RefCounter) error {
	if refs != nil {
		n, err := refs.CountRefs(hash)
		if err != nil {
			return err
		}
		if n > 0 {
			return types.StillReferenced(hash)
		}
	}

	prefix := []byte(keyPrefix + hash + ":")
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListHashes enumerates every stored blob hash. Used by the startup orphan
// sweep: the registry is the source of truth, so any hash without a
// referencing version is immediately collectible.
func (s *Store) ListHashes() ([]string, error) {
	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{Prefix: []byte(keyPrefix)}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			// Meta keys are exactly <hash>:meta; anything longer is a file
			// key, whatever its path ends in.
			if len(rest) != hashLen+len(metaSuffix) || rest[hashLen:] != metaSuffix {
				continue
			}
			hashes = append(hashes, rest[:hashLen])
		}
		return nil
	})
	return hashes, err
}

// CleanPath normalizes a request-relative path and rejects traversal.
func CleanPath(relPath string) (string, error) {
	if strings.Contains(relPath, "\x00") {
		return "", types.InvalidPath(relPath)
	}
	trimmed := strings.TrimPrefix(relPath, "/")
	clean := path.Clean("/" + trimmed)
	if clean == "/" || strings.HasPrefix(clean, "/..") {
		return "", types.InvalidPath(relPath)
	}
	// Reject explicit traversal attempts even when Clean would resolve them
	// inside the root; a request carrying ".." is never legitimate.
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == ".." {
			return "", types.InvalidPath(relPath)
		}
	}
	return strings.TrimPrefix(clean, "/"), nil
}
