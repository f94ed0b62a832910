// Package adapter turns POSIX upcalls into calls against a
// webhdfs.Client and a stagingcache.Cache, performing identity and
// permission translation and emitting POSIX errno values a kernel
// filesystem dispatcher (the three cmd/ FUSE bindings) can hand
// straight back to the kernel.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rascalking/javanicus/internal/identity"
	"github.com/rascalking/javanicus/internal/posix"
	"github.com/rascalking/javanicus/internal/stagingcache"
	"github.com/rascalking/javanicus/internal/webhdfs"
)

// Remote is the subset of *webhdfs.Client the adapter needs directly (the
// rest goes through Cache). Declared as an interface so tests can supply a
// fake.
type Remote interface {
	stagingcache.Remote
	GetFileStatus(ctx context.Context, path, asUser string) (*webhdfs.FileStatus, error)
	List(ctx context.Context, path, asUser string) ([]webhdfs.FileStatus, error)
	Mkdir(ctx context.Context, path string, perm *int, asUser string) error
	Delete(ctx context.Context, path string, recursive bool, asUser string) error
	Rename(ctx context.Context, oldPath, newPath, asUser string) error
	Chmod(ctx context.Context, path string, perm int, asUser string) error
	Chown(ctx context.Context, path, user, group, asUser string) error
	Utime(ctx context.Context, path string, atimeMs, mtimeMs int64, asUser string) error
	Create(ctx context.Context, path string, perm int, asUser string) error
	Close() error
}

// Cache is the subset of *stagingcache.Cache the adapter needs.
type Cache interface {
	Has(path string) bool
	Get(path string) (*stagingcache.Entry, bool)
	OpenEntry(path string) (*stagingcache.Entry, error)
	SetChecksum(ctx context.Context, path, asUser string) error
	Refresh(ctx context.Context, path, asUser string) error
	PushIfDirty(ctx context.Context, path, asUser string) error
	MarkDirty(path string) error
	Remove(path string) error
	AssertNonePrefixedBy(prefix string)
	Close() error
}

// Adapter is one instance per mount, owning the remote client and the
// staging cache. No process-wide singletons.
//
// mu serializes every upcall: the core is single-threaded cooperative by
// design, one in-flight kernel upcall at a time, regardless of whether
// the FUSE binding in front of it happens to dispatch concurrently.
type Adapter struct {
	mu     sync.Mutex
	remote Remote
	cache  Cache
	log    *logrus.Entry
}

// New constructs an Adapter over remote and cache.
func New(remote Remote, cache Cache) *Adapter {
	return &Adapter{
		remote: remote,
		cache:  cache,
		log:    logrus.WithField("component", "adapter"),
	}
}

// asUser derives the remote username for a caller: the local user
// database entry for the caller's uid, or "root" when unresolvable.
// This username accompanies every remote call.
func asUser(caller identity.Identity) string {
	return identity.NameOfUID(caller.UID)
}

func statFromFileStatus(fs *webhdfs.FileStatus) (*posix.Stat, error) {
	perm, err := parseOctalPermission(fs.Permission)
	if err != nil {
		return nil, fmt.Errorf("parsing permission %q: %w", fs.Permission, err)
	}
	var typeBits uint32
	switch fs.Type {
	case webhdfs.TypeDirectory:
		typeBits = posix.ModeDir
	case webhdfs.TypeSymlink:
		typeBits = posix.ModeSymlink
	default:
		typeBits = posix.ModeRegular
	}
	return &posix.Stat{
		Mode:  typeBits | perm,
		UID:   identity.UIDOfName(fs.Owner),
		GID:   identity.GIDOfName(fs.Group),
		Size:  fs.Length,
		Atime: float64(fs.AccessTime) / 1000,
		Mtime: float64(fs.ModificationTime) / 1000,
	}, nil
}

func parseOctalPermission(s string) (uint32, error) {
	var perm uint32
	_, err := fmt.Sscanf(s, "%o", &perm)
	return perm, err
}

// Getattr fetches and translates a single path's attributes.
func (a *Adapter) Getattr(ctx context.Context, caller identity.Identity, path string) (*posix.Stat, syscall.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getattr(ctx, caller, path)
}

func (a *Adapter) getattr(ctx context.Context, caller identity.Identity, path string) (*posix.Stat, syscall.Errno) {
	fs, err := a.remote.GetFileStatus(ctx, path, asUser(caller))
	if err != nil {
		return nil, errnoForRemote(a.log.Errorf, "getattr", err)
	}
	stat, err := statFromFileStatus(fs)
	if err != nil {
		a.log.Errorf("getattr %s: %v", path, err)
		return nil, syscall.EIO
	}
	return stat, 0
}

// Access checks the requested permission bits against a path's
// attributes.
func (a *Adapter) Access(ctx context.Context, caller identity.Identity, path string, amode uint32) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	stat, errno := a.getattr(ctx, caller, path)
	if errno != 0 {
		return errno
	}
	if !checkAccess(stat, caller, amode) {
		return syscall.EACCES
	}
	return 0
}

// Readdir lists a directory's immediate children, prefixed with "."
// and "..".
func (a *Adapter) Readdir(ctx context.Context, caller identity.Identity, path string) ([]string, syscall.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.remote.List(ctx, path, asUser(caller))
	if err != nil {
		return nil, errnoForRemote(a.log.Errorf, "readdir", err)
	}
	names := make([]string, 0, len(entries)+2)
	names = append(names, ".", "..")
	for _, e := range entries {
		names = append(names, e.PathSuffix)
	}
	return names, 0
}

// Mkdir creates a remote directory.
func (a *Adapter) Mkdir(ctx context.Context, caller identity.Identity, path string, mode uint32) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	perm := int(mode & 0o7777)
	err := a.remote.Mkdir(ctx, path, &perm, asUser(caller))
	return errnoForRemote(a.log.Errorf, "mkdir", err)
}

// Rmdir removes an empty remote directory.
func (a *Adapter) Rmdir(ctx context.Context, caller identity.Identity, path string) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.remote.Delete(ctx, path, false, asUser(caller))
	errno := errnoForRemote(a.log.Errorf, "rmdir", err)
	a.cache.AssertNonePrefixedBy(path)
	return errno
}

// Unlink removes a remote file.
func (a *Adapter) Unlink(ctx context.Context, caller identity.Identity, path string) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unlink(ctx, caller, path)
}

func (a *Adapter) unlink(ctx context.Context, caller identity.Identity, path string) syscall.Errno {
	err := a.remote.Delete(ctx, path, false, asUser(caller))
	return errnoForRemote(a.log.Errorf, "unlink", err)
}

// Rename moves a path to a new location, unlinking any existing
// file at newPath first.
func (a *Adapter) Rename(ctx context.Context, caller identity.Identity, oldPath, newPath string) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	user := asUser(caller)
	if _, err := a.remote.GetFileStatus(ctx, newPath, user); err == nil {
		if errno := a.unlink(ctx, caller, newPath); errno != 0 {
			return errno
		}
	}
	err := a.remote.Rename(ctx, oldPath, newPath, user)
	errno := errnoForRemote(a.log.Errorf, "rename", err)
	a.cache.AssertNonePrefixedBy(oldPath)
	a.cache.AssertNonePrefixedBy(newPath)
	return errno
}

// Chmod sets a path's permission bits.
func (a *Adapter) Chmod(ctx context.Context, caller identity.Identity, path string, mode uint32) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.remote.Chmod(ctx, path, int(mode&0o7777), asUser(caller))
	return errnoForRemote(a.log.Errorf, "chmod", err)
}

// Chown sets a path's owner and group. Both the uid and the gid
// arguments are resolved through the user database, reproducing a
// known upstream quirk rather than silently fixing it.
func (a *Adapter) Chown(ctx context.Context, caller identity.Identity, path string, uid, gid uint32) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	user := identity.NameOfUID(uid)
	group := identity.NameOfGID(gid)
	err := a.remote.Chown(ctx, path, user, group, asUser(caller))
	return errnoForRemote(a.log.Errorf, "chown", err)
}

// Utimens sets a path's access and modification times. If either is
// nil, both are set to the current wall-clock time.
func (a *Adapter) Utimens(ctx context.Context, caller identity.Identity, path string, atime, mtime *time.Time) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	var a1, m1 time.Time
	if atime != nil && mtime != nil {
		a1, m1 = *atime, *mtime
	} else {
		now := time.Now()
		a1, m1 = now, now
	}
	err := a.remote.Utime(ctx, path, a1.UnixMilli(), m1.UnixMilli(), asUser(caller))
	return errnoForRemote(a.log.Errorf, "utimens", err)
}

// Create makes a new remote file and opens a staging entry for it.
// Precondition: no cache entry already exists for path.
func (a *Adapter) Create(ctx context.Context, caller identity.Identity, path string, mode uint32) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.Has(path) {
		return syscall.EIO
	}
	user := asUser(caller)
	if err := a.remote.Create(ctx, path, int(mode&0o7777), user); err != nil {
		return errnoForRemote(a.log.Errorf, "create", err)
	}
	if _, err := a.cache.OpenEntry(path); err != nil {
		return errnoForCache(err)
	}
	if err := a.cache.SetChecksum(ctx, path, user); err != nil {
		return errnoForRemote(a.log.Errorf, "create", err)
	}
	return 0
}

// Open stages a path's content locally. A second open on an
// already-cached path fails EIO: only one open per path is allowed at
// a time.
func (a *Adapter) Open(ctx context.Context, caller identity.Identity, path string, flags int) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache.Has(path) {
		return syscall.EIO
	}
	if _, err := a.cache.OpenEntry(path); err != nil {
		return errnoForCache(err)
	}
	if err := a.cache.Refresh(ctx, path, asUser(caller)); err != nil {
		_ = a.cache.Remove(path)
		return errnoForRemote(a.log.Errorf, "open", err)
	}
	return 0
}

// Read serves a read from the staging file. Short reads near EOF are
// permitted.
func (a *Adapter) Read(ctx context.Context, caller identity.Identity, path string, buf []byte, offset int64) (int, syscall.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.cache.Refresh(ctx, path, asUser(caller)); err != nil {
		return 0, errnoForRemote(a.log.Errorf, "read", err)
	}
	e, ok := a.cache.Get(path)
	if !ok {
		return 0, syscall.EIO
	}
	n, err := e.File.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		if os.IsNotExist(err) {
			return 0, syscall.ENOENT
		}
		return 0, syscall.EIO
	}
	return n, 0
}

// Write applies a write to the staging file and marks it dirty.
func (a *Adapter) Write(ctx context.Context, caller identity.Identity, path string, data []byte, offset int64) (int, syscall.Errno) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.cache.Refresh(ctx, path, asUser(caller)); err != nil {
		return 0, errnoForRemote(a.log.Errorf, "write", err)
	}
	e, ok := a.cache.Get(path)
	if !ok {
		return 0, syscall.EIO
	}
	n, err := e.File.WriteAt(data, offset)
	if err != nil {
		return n, syscall.EIO
	}
	if err := a.cache.MarkDirty(path); err != nil {
		return n, errnoForCache(err)
	}
	return n, 0
}

// Truncate resizes a path's content, covering both the already-open
// and the truncate-without-prior-open cases. The transient branch
// guarantees the cache entry it opens is removed on every exit path
// via defer.
func (a *Adapter) Truncate(ctx context.Context, caller identity.Identity, path string, length int64) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	user := asUser(caller)

	if a.cache.Has(path) {
		return a.truncateCached(ctx, path, length, user)
	}

	if _, err := a.cache.OpenEntry(path); err != nil {
		return errnoForCache(err)
	}
	defer func() { _ = a.cache.Remove(path) }()
	return a.truncateCached(ctx, path, length, user)
}

func (a *Adapter) truncateCached(ctx context.Context, path string, length int64, user string) syscall.Errno {
	if err := a.cache.Refresh(ctx, path, user); err != nil {
		return errnoForRemote(a.log.Errorf, "truncate", err)
	}
	e, ok := a.cache.Get(path)
	if !ok {
		return syscall.EIO
	}
	if err := e.File.Truncate(length); err != nil {
		return syscall.EIO
	}
	if err := a.cache.MarkDirty(path); err != nil {
		return errnoForCache(err)
	}
	if err := a.cache.PushIfDirty(ctx, path, user); err != nil {
		return errnoForRemote(a.log.Errorf, "truncate", err)
	}
	return 0
}

// Flush refreshes against the remote (server wins) then pushes if
// still dirty.
func (a *Adapter) Flush(ctx context.Context, caller identity.Identity, path string) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshThenPush(ctx, caller, path, "flush")
}

// Fsync follows the same server-wins ordering as Flush.
func (a *Adapter) Fsync(ctx context.Context, caller identity.Identity, path string, datasync bool) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshThenPush(ctx, caller, path, "fsync")
}

func (a *Adapter) refreshThenPush(ctx context.Context, caller identity.Identity, path, op string) syscall.Errno {
	user := asUser(caller)
	if err := a.cache.Refresh(ctx, path, user); err != nil {
		return errnoForRemote(a.log.Errorf, op, err)
	}
	if err := a.cache.PushIfDirty(ctx, path, user); err != nil {
		return errnoForRemote(a.log.Errorf, op, err)
	}
	return 0
}

// Release pushes any dirty content and drops the staging entry.
func (a *Adapter) Release(ctx context.Context, caller identity.Identity, path string) syscall.Errno {
	a.mu.Lock()
	defer a.mu.Unlock()
	user := asUser(caller)
	if err := a.cache.PushIfDirty(ctx, path, user); err != nil {
		errno := errnoForRemote(a.log.Errorf, "release", err)
		_ = a.cache.Remove(path)
		return errno
	}
	if err := a.cache.Remove(path); err != nil {
		a.log.Errorf("release %s: %v", path, err)
		return syscall.EIO
	}
	return 0
}

// Statfs returns a fixed statvfs-style answer: WebHDFS exposes no
// real capacity or inode accounting this could be backed by.
func (a *Adapter) Statfs() posix.StatFS {
	return posix.DefaultStatFS
}

// Destroy closes the remote client and removes the scratch directory
// recursively.
func (a *Adapter) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.remote.Close(); err != nil {
		a.log.Warnf("closing remote client: %v", err)
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warnf("removing scratch directory: %v", err)
	}
}
