// Package s3 implements store.Table on an S3-compatible object store such as
// MinIO. Each value is one object at <prefix>/<table>/<key>.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/store"
)

// Config holds the object store connection settings.
type Config struct {
	// Endpoint is the server address, e.g. "localhost:9000".
	Endpoint string

	// Bucket holds every table. It is created on Open if missing.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL enables HTTPS.
	UseSSL bool

	// Prefix namespaces all object keys.
	Prefix string

	// Client is an optional pre-configured client. When set, Endpoint and the
	// credentials are ignored.
	Client *minio.Client
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// Client is a validated connection shared by the tables of one cache.
type Client struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewClient validates cfg and builds a client. No request is made.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid s3 config")
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to create s3 client")
		}
	}

	return &Client{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Table returns the table name backed by c.
func (c *Client) Table(name string) *Table {
	return &Table{c: c, name: name}
}

// Tables returns the content, access and schedule tables.
func (c *Client) Tables() (content, access, schedule *Table) {
	return c.Table(store.ContentTable), c.Table(store.AccessTable), c.Table(store.ScheduleTable)
}

// Table is a store.Table stored as objects under a common prefix.
type Table struct {
	c    *Client
	name string

	mu   sync.RWMutex
	open bool
}

var (
	_ store.Table = (*Table)(nil)
	_ store.Sizer = (*Table)(nil)
)

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// dir returns the object prefix for the table, ending in "/".
func (t *Table) dir() string {
	if t.c.prefix == "" {
		return t.name + "/"
	}
	return t.c.prefix + "/" + t.name + "/"
}

func (t *Table) objectKey(key string) (string, error) {
	if key == "" || strings.Contains(key, "/") {
		return "", errors.WithContext(
			errors.New(errors.CodeInvalidInput, "invalid table key"), "key", key)
	}
	return t.dir() + key, nil
}

// Open ensures the bucket exists.
func (t *Table) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return nil
	}

	exists, err := t.c.client.BucketExists(ctx, t.c.bucket)
	if err != nil {
		return translate(err, "check bucket")
	}
	if !exists {
		if err := t.c.client.MakeBucket(ctx, t.c.bucket, minio.MakeBucketOptions{}); err != nil {
			// Another table may have created it concurrently.
			if minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
				return translate(err, "create bucket")
			}
		}
	}
	t.open = true
	return nil
}

// IsOpen reports whether the table is open.
func (t *Table) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// Close marks the table closed.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

func (t *Table) check() error {
	if !t.IsOpen() {
		return store.ErrNotOpen
	}
	return nil
}

// Get returns the value stored under key.
func (t *Table) Get(ctx context.Context, key string) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	objectKey, err := t.objectKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := t.c.client.GetObject(ctx, t.c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, "get object")
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err, "read object")
	}
	return data, nil
}

// Put uploads value under key.
func (t *Table) Put(ctx context.Context, key string, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	objectKey, err := t.objectKey(key)
	if err != nil {
		return err
	}

	_, err = t.c.client.PutObject(ctx, t.c.bucket, objectKey,
		bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return translate(err, "put object")
	}
	return nil
}

// Delete removes key. Removing a missing object is not an error.
func (t *Table) Delete(ctx context.Context, key string) error {
	if err := t.check(); err != nil {
		return err
	}
	objectKey, err := t.objectKey(key)
	if err != nil {
		return err
	}

	if err := t.c.client.RemoveObject(ctx, t.c.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		err = translate(err, "remove object")
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Contains reports whether key exists.
func (t *Table) Contains(ctx context.Context, key string) (bool, error) {
	_, err := t.Size(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Size returns the object size for key.
func (t *Table) Size(ctx context.Context, key string) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	objectKey, err := t.objectKey(key)
	if err != nil {
		return 0, err
	}

	info, err := t.c.client.StatObject(ctx, t.c.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return 0, translate(err, "stat object")
	}
	return info.Size, nil
}

// Keys lists every key in the table.
func (t *Table) Keys(ctx context.Context) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	dir := t.dir()
	var keys []string
	for object := range t.c.client.ListObjects(ctx, t.c.bucket, minio.ListObjectsOptions{Prefix: dir}) {
		if object.Err != nil {
			return nil, translate(object.Err, "list objects")
		}
		key := strings.TrimPrefix(object.Key, dir)
		if key == "" || strings.Contains(key, "/") {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear removes every object in the table.
func (t *Table) Clear(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectsCh := make(chan minio.ObjectInfo, 100)
	var listErr error
	go func() {
		defer close(objectsCh)
		for object := range t.c.client.ListObjects(ctx, t.c.bucket, minio.ListObjectsOptions{
			Prefix:    t.dir(),
			Recursive: true,
		}) {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			select {
			case objectsCh <- object:
			case <-ctx.Done():
				return
			}
		}
	}()

	var firstErr error
	for result := range t.c.client.RemoveObjects(ctx, t.c.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil && firstErr == nil {
			firstErr = result.Err
		}
	}

	if listErr != nil {
		return translate(listErr, "list objects")
	}
	if firstErr != nil {
		return translate(firstErr, "remove objects")
	}
	return nil
}

// translate maps object store errors onto the cache error codes.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return store.ErrNotFound
	case "NoSuchBucket":
		return errors.Wrap(err, errors.CodeStorage, op+": bucket does not exist")
	case "AccessDenied":
		return errors.Wrap(err, errors.CodeInvalidConfig, op+": access denied")
	}
	return errors.Wrap(err, errors.CodeStorage, op)
}
