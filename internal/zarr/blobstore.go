package zarr

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// maxRetries bounds the attempts made for one object operation.
const maxRetries = 5

// OpenBucket opens the bucket named by u and narrows it to the key prefix
// given by u's path.
func OpenBucket(ctx context.Context, u *url.URL) (*blob.Bucket, error) {
	prefix := strings.Trim(u.Path, "/")
	root := *u
	root.Path = ""
	bucket, err := blob.OpenBucket(ctx, root.String())
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", root.Redacted())
	}
	if prefix == "" {
		return bucket, nil
	}
	return blob.PrefixedBucket(bucket, prefix+"/"), nil
}

func retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}

// permanent marks errors that retrying cannot fix.
func permanent(err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound, gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.Unimplemented:
		return backoff.Permanent(err)
	}
	return err
}

// BlobStore keeps keys as objects of a bucket.
type BlobStore struct {
	bucket *blob.Bucket
}

// NewBlobStore wraps bucket.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

// Put uploads data under key, retrying transient failures.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	err := retry(ctx, func() error {
		return permanent(s.bucket.WriteAll(ctx, key, data, nil))
	})
	return errors.Wrapf(err, "put %s", key)
}

// Get downloads key.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := retry(ctx, func() error {
		var err error
		b, err = s.bucket.ReadAll(ctx, key)
		return permanent(err)
	})
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return b, nil
}

// Keys lists every key in the bucket in lexical order.
func (s *BlobStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	it := s.bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "list objects")
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *BlobStore) delete(ctx context.Context, key string) error {
	err := retry(ctx, func() error {
		return permanent(s.bucket.Delete(ctx, key))
	})
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return errors.Wrapf(err, "delete %s", key)
}

// blobTarget writes straight into the destination prefix. Object stores have
// no rename, so publication is approximated: the consolidated metadata of a
// replaced store is deleted before the first write, the new one is written
// last, and keys left over from the replaced store are removed on Commit.
type blobTarget struct {
	*BlobStore
	location string
	log      logrus.FieldLogger

	mu      sync.Mutex
	stale   map[string]bool
	written map[string]bool
}

// CreateBlob returns a Target writing into bucket.
func CreateBlob(ctx context.Context, bucket *blob.Bucket, location string, overwrite bool, log logrus.FieldLogger) (Target, error) {
	s := NewBlobStore(bucket)
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 && !overwrite {
		return nil, errors.Wrap(ErrExists, location)
	}
	t := &blobTarget{
		BlobStore: s,
		location:  location,
		log:       log,
		stale:     make(map[string]bool, len(keys)),
		written:   make(map[string]bool),
	}
	for _, k := range keys {
		t.stale[k] = true
	}
	if t.stale[ConsolidatedKey] {
		if err := s.delete(ctx, ConsolidatedKey); err != nil {
			return nil, err
		}
		delete(t.stale, ConsolidatedKey)
	}
	return t, nil
}

func (t *blobTarget) Location() string {
	return t.location
}

func (t *blobTarget) Put(ctx context.Context, key string, data []byte) error {
	if err := t.BlobStore.Put(ctx, key, data); err != nil {
		return err
	}
	t.mu.Lock()
	t.written[key] = true
	t.mu.Unlock()
	return nil
}

// Commit removes keys of a replaced store that the new store did not write.
func (t *blobTarget) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.written[ConsolidatedKey] {
		return errors.Errorf("commit %s: consolidated metadata was not written", t.location)
	}
	var removed int
	for _, k := range sortedKeys(t.stale) {
		if t.written[k] {
			continue
		}
		if err := t.delete(ctx, k); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		t.log.WithField("objects", removed).Debug("removed stale objects")
	}
	return t.bucket.Close()
}

// Abort deletes everything this target wrote. Objects of a replaced store
// that were overwritten are lost.
func (t *blobTarget) Abort(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, k := range sortedKeys(t.written) {
		if err := t.delete(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.bucket.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
