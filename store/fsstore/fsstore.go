// Package fsstore implements store.Table on a go-billy filesystem.
//
// Each table is a directory holding one file per key. Files are written to a
// temporary file and renamed into place, so readers never observe a partial
// value. Every file starts with a SHA-256 checksum line that is verified on
// read; a mismatch is reported as CORRUPTED.
package fsstore

import (
	"context"
	_ "crypto/sha256" // registers SHA-256 for go-digest
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/opencontainers/go-digest"

	"github.com/jmgilman/go/contentcache/errors"
	"github.com/jmgilman/go/contentcache/store"
)

const (
	tempDirName = ".tmp"
	dirPerm     = 0o755
	// headerLen is the checksum line: an encoded SHA-256 digest and a newline.
	headerLen = 64 + 1
)

const checksumAlgorithm = digest.SHA256

// Table is a store.Table persisted as files under a directory.
type Table struct {
	fs   billy.Filesystem
	name string

	// mu guards open and serializes filesystem mutations; memfs is not
	// safe for concurrent writers.
	mu   sync.RWMutex
	open bool
}

var (
	_ store.Table = (*Table)(nil)
	_ store.Sizer = (*Table)(nil)
)

// New returns a table named name stored in the directory of the same name at
// the root of fs.
func New(fs billy.Filesystem, name string) *Table {
	return &Table{fs: fs, name: name}
}

// NewOS returns a table stored under dir on the local filesystem.
func NewOS(dir, name string) *Table {
	return New(osfs.New(dir), name)
}

// NewMemory returns a table backed by a fresh in-memory filesystem.
func NewMemory(name string) *Table {
	return New(memfs.New(), name)
}

// NewTables returns the content, access and schedule tables sharing fs.
func NewTables(fs billy.Filesystem) (content, access, schedule *Table) {
	return New(fs, store.ContentTable), New(fs, store.AccessTable), New(fs, store.ScheduleTable)
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Open creates the table directory if needed.
func (t *Table) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return nil
	}
	if err := t.fs.MkdirAll(path.Join(t.name, tempDirName), dirPerm); err != nil {
		return errors.Wrapf(err, errors.CodeStorage, "failed to create table directory %q", t.name)
	}
	t.open = true
	return nil
}

// IsOpen reports whether Open has been called.
func (t *Table) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// Close marks the table closed. Files are left in place.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

func (t *Table) filePath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", errors.WithContext(
			errors.New(errors.CodeInvalidInput, "invalid table key"), "key", key)
	}
	return path.Join(t.name, key), nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeTimeout, "context done")
	}
	return nil
}

// Get returns the value stored under key after verifying its checksum.
func (t *Table) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	p, err := t.filePath(key)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.open {
		return nil, store.ErrNotOpen
	}

	raw, err := util.ReadFile(t.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrapf(err, errors.CodeStorage, "failed to read %q", p)
	}
	data, err := verify(raw)
	if err != nil {
		return nil, errors.WithContext(errors.WithContext(err, "table", t.name), "key", key)
	}
	return data, nil
}

// Put writes value under key atomically.
func (t *Table) Put(ctx context.Context, key string, value []byte) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	p, err := t.filePath(key)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return store.ErrNotOpen
	}

	tmp, err := t.fs.TempFile(path.Join(t.name, tempDirName), "put-")
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if err := writeWithChecksum(tmp, value); err != nil {
		_ = tmp.Close()
		_ = t.fs.Remove(tmpName)
		return errors.Wrapf(err, errors.CodeStorage, "failed to write %q", p)
	}
	if err := tmp.Close(); err != nil {
		_ = t.fs.Remove(tmpName)
		return errors.Wrapf(err, errors.CodeStorage, "failed to close %q", tmpName)
	}

	if err := t.fs.Rename(tmpName, p); err != nil {
		_ = t.fs.Remove(tmpName)
		return errors.Wrapf(err, errors.CodeStorage, "failed to rename into %q", p)
	}
	return nil
}

// Delete removes key. Missing keys are ignored.
func (t *Table) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	p, err := t.filePath(key)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return store.ErrNotOpen
	}

	if err := t.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.CodeStorage, "failed to remove %q", p)
	}
	return nil
}

// Contains reports whether key exists.
func (t *Table) Contains(ctx context.Context, key string) (bool, error) {
	_, err := t.stat(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Size returns the size of the value stored under key, without its header.
func (t *Table) Size(ctx context.Context, key string) (int64, error) {
	info, err := t.stat(ctx, key)
	if err != nil {
		return 0, err
	}
	n := info.Size() - headerLen
	if n < 0 {
		return 0, errors.WithContext(errors.New(errors.CodeCorrupted, "file shorter than checksum header"), "key", key)
	}
	return n, nil
}

func (t *Table) stat(ctx context.Context, key string) (os.FileInfo, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	p, err := t.filePath(key)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.open {
		return nil, store.ErrNotOpen
	}

	info, err := t.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrapf(err, errors.CodeStorage, "failed to stat %q", p)
	}
	return info, nil
}

// Keys lists the keys in the table.
func (t *Table) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.open {
		return nil, store.ErrNotOpen
	}

	infos, err := t.fs.ReadDir(t.name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeStorage, "failed to list %q", t.name)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		keys = append(keys, info.Name())
	}
	return keys, nil
}

// Clear removes every key and any leftover temporary files.
func (t *Table) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return store.ErrNotOpen
	}

	infos, err := t.fs.ReadDir(t.name)
	if err != nil {
		return errors.Wrapf(err, errors.CodeStorage, "failed to list %q", t.name)
	}
	for _, info := range infos {
		p := path.Join(t.name, info.Name())
		if info.IsDir() {
			if info.Name() != tempDirName {
				continue
			}
			if err := util.RemoveAll(t.fs, p); err != nil {
				return errors.Wrap(err, errors.CodeStorage, "failed to clear temp files")
			}
			if err := t.fs.MkdirAll(p, dirPerm); err != nil {
				return errors.Wrap(err, errors.CodeStorage, "failed to recreate temp directory")
			}
			continue
		}
		if err := t.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, errors.CodeStorage, "failed to remove %q", p)
		}
	}
	return nil
}

func writeWithChecksum(w io.Writer, data []byte) error {
	if _, err := io.WriteString(w, checksumAlgorithm.FromBytes(data).Encoded()+"\n"); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func verify(raw []byte) ([]byte, error) {
	if len(raw) < headerLen || raw[headerLen-1] != '\n' {
		return nil, errors.New(errors.CodeCorrupted, "missing checksum header")
	}
	want := digest.NewDigestFromEncoded(checksumAlgorithm, string(raw[:headerLen-1]))
	if err := want.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCorrupted, "malformed checksum header")
	}
	data := raw[headerLen:]

	verifier := want.Verifier()
	_, _ = verifier.Write(data)
	if !verifier.Verified() {
		return nil, errors.New(errors.CodeCorrupted, "checksum mismatch")
	}
	return data, nil
}
