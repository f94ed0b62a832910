// Package stagingcache implements the per-open-path local scratch-file
// cache that bridges POSIX byte-range I/O onto WebHDFS's whole-file
// CREATE/OPEN semantics.
package stagingcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rascalking/javanicus/internal/webhdfs"
)

// ErrAlreadyOpen is returned by OpenEntry when an entry for path
// already exists. The adapter is responsible for the errno
// translation; this package just reports the precondition violation.
var ErrAlreadyOpen = errors.New("stagingcache: path already has an open entry")

// ErrNotOpen is returned by any per-path operation on a path with no
// entry.
var ErrNotOpen = errors.New("stagingcache: path has no open entry")

// Entry is one currently-open path's local mirror.
type Entry struct {
	Path         string
	StagingPath  string
	File         *os.File
	LastChecksum *webhdfs.Checksum
	Dirty        bool
}

// Remote is the subset of *webhdfs.Client the cache needs. Defined here so
// tests can fake it without standing up an HTTP server.
type Remote interface {
	Checksum(ctx context.Context, path, asUser string) (*webhdfs.Checksum, error)
	Get(ctx context.Context, path, asUser string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, perm *int, asUser string) (int64, error)
}

// Cache owns the scratch directory and the map of currently-open
// entries.
type Cache struct {
	root    string
	remote  Remote
	entries map[string]*Entry
	log     *logrus.Entry
}

// New creates the process-private scratch directory beneath base (the
// system temporary root) and returns a Cache rooted there. The
// directory name carries a uuid suffix so two mounts never collide.
func New(base string, remote Remote) (*Cache, error) {
	root := filepath.Join(base, "javanicusfs-"+uuid.NewString())
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating scratch directory %s: %w", root, err)
	}
	return &Cache{
		root:    root,
		remote:  remote,
		entries: make(map[string]*Entry),
		log:     logrus.WithField("component", "stagingcache"),
	}, nil
}

// Root returns the scratch directory's absolute path.
func (c *Cache) Root() string { return c.root }

// Has reports whether path currently has an open entry.
func (c *Cache) Has(path string) bool {
	_, ok := c.entries[path]
	return ok
}

// Get returns the entry for path, if any.
func (c *Cache) Get(path string) (*Entry, bool) {
	e, ok := c.entries[path]
	return e, ok
}

// stagingPath mirrors a remote path beneath the scratch root.
func (c *Cache) stagingPath(path string) string {
	return filepath.Join(c.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

// OpenEntry creates or truncates the staging file for path, opens it
// read/write, and inserts a CacheEntry with an empty checksum and
// dirty=false. Precondition: no entry exists for path.
func (c *Cache) OpenEntry(path string) (*Entry, error) {
	if c.Has(path) {
		return nil, ErrAlreadyOpen
	}
	sp := c.stagingPath(path)
	if err := os.MkdirAll(filepath.Dir(sp), 0o700); err != nil {
		return nil, fmt.Errorf("creating staging parent dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(sp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening staging file for %s: %w", path, err)
	}
	e := &Entry{
		Path:        path,
		StagingPath: sp,
		File:        f,
		Dirty:       false,
	}
	c.entries[path] = e
	c.log.Debugf("opened staging entry for %s at %s", path, sp)
	return e, nil
}

// SetChecksum fetches the remote checksum for path and records it on the
// entry.
func (c *Cache) SetChecksum(ctx context.Context, path, asUser string) error {
	e, ok := c.entries[path]
	if !ok {
		return ErrNotOpen
	}
	sum, err := c.remote.Checksum(ctx, path, asUser)
	if err != nil {
		return err
	}
	e.LastChecksum = sum
	return nil
}

// Refresh fetches the remote checksum; if unchanged, it is a no-op;
// otherwise the server wins: any local dirty bytes are discarded, the
// staging file is overwritten with the remote's current content, and
// the checksum is re-recorded.
func (c *Cache) Refresh(ctx context.Context, path, asUser string) error {
	e, ok := c.entries[path]
	if !ok {
		return ErrNotOpen
	}
	remoteSum, err := c.remote.Checksum(ctx, path, asUser)
	if err != nil {
		return err
	}
	if remoteSum.Equal(e.LastChecksum) {
		return nil
	}

	c.log.Debugf("refresh: %s changed remotely, server wins, discarding local writes", path)
	e.Dirty = false

	data, err := c.remote.Get(ctx, path, asUser)
	if err != nil {
		return err
	}
	if err := e.File.Truncate(0); err != nil {
		return fmt.Errorf("truncating staging file for %s: %w", path, err)
	}
	if _, err := e.File.WriteAt(data, 0); err != nil {
		return fmt.Errorf("writing refreshed content for %s: %w", path, err)
	}
	c.log.Debugf("refresh: fetched %s for %s", humanize.Bytes(uint64(len(data))), path)

	// The post-write checksum is conservatively adopted; it may differ
	// from remoteSum if the remote raced.
	return c.SetChecksum(ctx, path, asUser)
}

// PushIfDirty pushes the full staging file contents to the remote if the
// entry is dirty, then clears dirty and re-records the checksum.
func (c *Cache) PushIfDirty(ctx context.Context, path, asUser string) error {
	e, ok := c.entries[path]
	if !ok {
		return ErrNotOpen
	}
	if !e.Dirty {
		return nil
	}
	data, err := readAll(e.File)
	if err != nil {
		return fmt.Errorf("reading staging file for %s: %w", path, err)
	}
	if _, err := c.remote.Put(ctx, path, data, nil, asUser); err != nil {
		return err
	}
	e.Dirty = false
	c.log.Debugf("pushed %s for %s", humanize.Bytes(uint64(len(data))), path)
	return c.SetChecksum(ctx, path, asUser)
}

// MarkDirty flags path's entry as locally modified.
func (c *Cache) MarkDirty(path string) error {
	e, ok := c.entries[path]
	if !ok {
		return ErrNotOpen
	}
	e.Dirty = true
	return nil
}

// Remove closes the staging handle, unlinks the staging file, and drops
// the entry.
func (c *Cache) Remove(path string) error {
	e, ok := c.entries[path]
	if !ok {
		return nil
	}
	delete(c.entries, path)
	if err := e.File.Close(); err != nil {
		c.log.Warnf("closing staging file for %s: %v", path, err)
	}
	if err := os.Remove(e.StagingPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staging file for %s: %w", path, err)
	}
	return nil
}

// AssertNonePrefixedBy logs a warning if any open entry's path begins
// with prefix. Under the single-open invariant this should never
// trigger in a correctly operating mount, so a violation is surfaced
// as a log line rather than a panic.
func (c *Cache) AssertNonePrefixedBy(prefix string) {
	for p := range c.entries {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			c.log.Warnf("invariant violated: %s is cached while removing/renaming %s", p, prefix)
		}
	}
}

// Close removes the scratch directory and everything beneath it.
func (c *Cache) Close() error {
	for path, e := range c.entries {
		_ = e.File.Close()
		delete(c.entries, path)
	}
	return os.RemoveAll(c.root)
}

func readAll(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}
