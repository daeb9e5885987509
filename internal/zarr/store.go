package zarr

import (
	"context"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned by Store.Get for a missing key.
	ErrNotFound = errors.New("key not found")
	// ErrExists is returned when the destination already holds data and
	// overwriting was not requested.
	ErrExists = errors.New("destination exists")
)

// Store is a flat key/value space holding one Zarr group.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Target is a Store being written by one conversion. Nothing written to it
// is visible at the destination before Commit returns.
type Target interface {
	Store
	// Commit publishes everything written so far.
	Commit(ctx context.Context) error
	// Abort discards everything written so far.
	Abort(ctx context.Context) error
	// Location describes the destination for logs.
	Location() string
}

// Create opens a Target for location, which is either a directory path, a
// file:// URL, or a blob URL (gs://, s3://, azblob://, mem://).
func Create(ctx context.Context, location string, overwrite bool, log logrus.FieldLogger) (Target, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return CreateDir(location, overwrite)
	}
	if u.Scheme == "file" {
		return CreateDir(filepath.FromSlash(u.Path), overwrite)
	}
	bucket, err := OpenBucket(ctx, u)
	if err != nil {
		return nil, err
	}
	return CreateBlob(ctx, bucket, location, overwrite, log)
}

// Open opens location for reading.
func Open(ctx context.Context, location string) (Store, func() error, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return NewDirStore(location), func() error { return nil }, nil
	}
	if u.Scheme == "file" {
		return NewDirStore(filepath.FromSlash(u.Path)), func() error { return nil }, nil
	}
	bucket, err := OpenBucket(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return NewBlobStore(bucket), bucket.Close, nil
}

// DirStore keeps every key as a file below a root directory.
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

func (s *DirStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes data under key, creating parent directories.
func (s *DirStore) Put(_ context.Context, key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", key)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	return nil
}

// Get reads key.
func (s *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return b, nil
}

// Keys returns every key in the store in lexical order.
func (s *DirStore) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.root)
	}
	sort.Strings(keys)
	return keys, nil
}

// dirTarget stages a store in a hidden sibling directory of the destination
// and renames it into place on Commit.
type dirTarget struct {
	*DirStore
	dest string
}

// CreateDir returns a Target publishing a directory store at dest.
func CreateDir(dest string, overwrite bool) (Target, error) {
	dest = filepath.Clean(dest)
	if _, err := os.Stat(dest); err == nil && !overwrite {
		return nil, errors.Wrap(ErrExists, dest)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "stat %s", dest)
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", parent)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".tmp-")
	if err != nil {
		return nil, errors.Wrap(err, "create staging directory")
	}
	return &dirTarget{DirStore: NewDirStore(tmp), dest: dest}, nil
}

func (t *dirTarget) Location() string {
	return t.dest
}

// Commit swaps the staged directory in. A previous store at the destination
// is moved aside first and removed once the new one is in place.
func (t *dirTarget) Commit(context.Context) error {
	var old string
	if _, err := os.Stat(t.dest); err == nil {
		old = filepath.Join(filepath.Dir(t.root), strings.Replace(filepath.Base(t.root), ".tmp-", ".old-", 1))
		if err := os.Rename(t.dest, old); err != nil {
			return errors.Wrapf(err, "move %s aside", t.dest)
		}
	}
	if err := os.Rename(t.root, t.dest); err != nil {
		if old != "" {
			if rerr := os.Rename(old, t.dest); rerr != nil {
				return errors.Wrapf(err, "publish %s (previous store left at %s)", t.dest, old)
			}
		}
		return errors.Wrapf(err, "publish %s", t.dest)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			return errors.Wrapf(err, "remove previous store %s", old)
		}
	}
	return nil
}

func (t *dirTarget) Abort(context.Context) error {
	return os.RemoveAll(t.root)
}
