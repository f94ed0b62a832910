// Package mount2 binds the core adapter to hanwen/go-fuse/v2's pathfs
// layer. Like cmount it dispatches on raw paths, but nodefs.File gives
// read/write/flush/release their own type instead of routing through
// the filesystem object directly.
package mount2

import (
	"context"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/rascalking/javanicus/cmd/mountlib"
	"github.com/rascalking/javanicus/internal/adapter"
	"github.com/rascalking/javanicus/internal/identity"
	"github.com/rascalking/javanicus/internal/posix"
)

// FileSystem implements pathfs.FileSystem by forwarding every call to an
// *adapter.Adapter. It embeds pathfs.NewDefaultFileSystem() so symlinks,
// xattrs, and hard links, none of which the remote supports, fall back
// to ENOSYS without extra code.
type FileSystem struct {
	pathfs.FileSystem

	adapter *adapter.Adapter
}

// New wraps an adapter in a pathfs.FileSystem.
func New(a *adapter.Adapter) *FileSystem {
	return &FileSystem{FileSystem: pathfs.NewDefaultFileSystem(), adapter: a}
}

func callerOf(ctx *fuse.Context) identity.Identity {
	if ctx == nil {
		return identity.Identity{}
	}
	return identity.Identity{UID: ctx.Owner.Uid, GID: ctx.Owner.Gid, PID: ctx.Pid}
}

func statToAttr(s *posix.Stat, out *fuse.Attr) {
	out.Mode = s.Mode
	out.Size = uint64(s.Size)
	out.Owner = fuse.Owner{Uid: s.UID, Gid: s.GID}
	out.Atime = uint64(s.Atime)
	out.Mtime = uint64(s.Mtime)
}

func errnoStatus(errno uint32) fuse.Status {
	if errno == 0 {
		return fuse.OK
	}
	return fuse.Status(errno)
}

func withPath(p string) string {
	if p == "" {
		return "/"
	}
	return "/" + p
}

// GetAttr implements pathfs.FileSystem.
func (fsys *FileSystem) GetAttr(name string, ctx *fuse.Context) (*fuse.Attr, fuse.Status) {
	s, errno := fsys.adapter.Getattr(context.Background(), callerOf(ctx), withPath(name))
	if errno != 0 {
		return nil, errnoStatus(uint32(errno))
	}
	attr := &fuse.Attr{}
	statToAttr(s, attr)
	return attr, fuse.OK
}

// Access implements pathfs.FileSystem.
func (fsys *FileSystem) Access(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Access(context.Background(), callerOf(ctx), withPath(name), mode)
	return errnoStatus(uint32(errno))
}

// OpenDir implements pathfs.FileSystem.
func (fsys *FileSystem) OpenDir(name string, ctx *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	names, errno := fsys.adapter.Readdir(context.Background(), callerOf(ctx), withPath(name))
	if errno != 0 {
		return nil, errnoStatus(uint32(errno))
	}
	var entries []fuse.DirEntry
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		entries = append(entries, fuse.DirEntry{Name: n})
	}
	return entries, fuse.OK
}

// Mkdir implements pathfs.FileSystem.
func (fsys *FileSystem) Mkdir(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Mkdir(context.Background(), callerOf(ctx), withPath(name), mode)
	return errnoStatus(uint32(errno))
}

// Rmdir implements pathfs.FileSystem.
func (fsys *FileSystem) Rmdir(name string, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Rmdir(context.Background(), callerOf(ctx), withPath(name))
	return errnoStatus(uint32(errno))
}

// Unlink implements pathfs.FileSystem.
func (fsys *FileSystem) Unlink(name string, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Unlink(context.Background(), callerOf(ctx), withPath(name))
	return errnoStatus(uint32(errno))
}

// Rename implements pathfs.FileSystem.
func (fsys *FileSystem) Rename(oldName string, newName string, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Rename(context.Background(), callerOf(ctx), withPath(oldName), withPath(newName))
	return errnoStatus(uint32(errno))
}

// Chmod implements pathfs.FileSystem.
func (fsys *FileSystem) Chmod(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Chmod(context.Background(), callerOf(ctx), withPath(name), mode)
	return errnoStatus(uint32(errno))
}

// Chown implements pathfs.FileSystem.
func (fsys *FileSystem) Chown(name string, uid uint32, gid uint32, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Chown(context.Background(), callerOf(ctx), withPath(name), uid, gid)
	return errnoStatus(uint32(errno))
}

// Utimens implements pathfs.FileSystem.
func (fsys *FileSystem) Utimens(name string, atime *time.Time, mtime *time.Time, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Utimens(context.Background(), callerOf(ctx), withPath(name), atime, mtime)
	return errnoStatus(uint32(errno))
}

// Truncate implements pathfs.FileSystem.
func (fsys *FileSystem) Truncate(name string, size uint64, ctx *fuse.Context) fuse.Status {
	errno := fsys.adapter.Truncate(context.Background(), callerOf(ctx), withPath(name), int64(size))
	return errnoStatus(uint32(errno))
}

// Create implements pathfs.FileSystem.
func (fsys *FileSystem) Create(name string, flags uint32, mode uint32, ctx *fuse.Context) (nodefs.File, fuse.Status) {
	caller := callerOf(ctx)
	errno := fsys.adapter.Create(context.Background(), caller, withPath(name), mode)
	if errno != 0 {
		return nil, errnoStatus(uint32(errno))
	}
	return newFile(fsys.adapter, withPath(name), caller), fuse.OK
}

// Open implements pathfs.FileSystem.
func (fsys *FileSystem) Open(name string, flags uint32, ctx *fuse.Context) (nodefs.File, fuse.Status) {
	caller := callerOf(ctx)
	errno := fsys.adapter.Open(context.Background(), caller, withPath(name), int(flags))
	if errno != 0 {
		return nil, errnoStatus(uint32(errno))
	}
	return newFile(fsys.adapter, withPath(name), caller), fuse.OK
}

// StatFs implements pathfs.FileSystem.
func (fsys *FileSystem) StatFs(name string) *fuse.StatfsOut {
	s := fsys.adapter.Statfs()
	return &fuse.StatfsOut{
		Blocks:  s.Blocks,
		Bfree:   s.Bfree,
		Bavail:  s.Bavail,
		Files:   s.Files,
		Ffree:   s.Ffree,
		Bsize:   s.Bsize,
		NameLen: s.NameLen,
	}
}

// OnUnmount implements pathfs.FileSystem.
func (fsys *FileSystem) OnUnmount() {
	fsys.adapter.Destroy()
}

// file wraps an already-open path with the nodefs.File methods the
// staging cache backs directly: Read, Write, Flush, Fsync, Release and
// Truncate. All other File methods fall back to nodefs.NewDefaultFile.
// caller is the identity resolved at Open/Create time, since none of
// these per-handle methods carry a *fuse.Context of their own.
type file struct {
	nodefs.File

	adapter *adapter.Adapter
	path    string
	caller  identity.Identity
}

func newFile(a *adapter.Adapter, path string, caller identity.Identity) nodefs.File {
	return &file{File: nodefs.NewDefaultFile(), adapter: a, path: path, caller: caller}
}

func (f *file) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, errno := f.adapter.Read(context.Background(), f.caller, f.path, dest, off)
	if errno != 0 {
		return nil, errnoStatus(uint32(errno))
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *file) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, errno := f.adapter.Write(context.Background(), f.caller, f.path, data, off)
	if errno != 0 {
		return 0, errnoStatus(uint32(errno))
	}
	return uint32(n), fuse.OK
}

func (f *file) Flush() fuse.Status {
	return errnoStatus(uint32(f.adapter.Flush(context.Background(), f.caller, f.path)))
}

func (f *file) Fsync(flags int) fuse.Status {
	return errnoStatus(uint32(f.adapter.Fsync(context.Background(), f.caller, f.path, flags != 0)))
}

func (f *file) Release() {
	_ = f.adapter.Release(context.Background(), f.caller, f.path)
}

func (f *file) Truncate(size uint64) fuse.Status {
	return errnoStatus(uint32(f.adapter.Truncate(context.Background(), f.caller, f.path, int64(size))))
}

// Mount builds an adapter, mounts it under the pathfs binding, and
// serves until the filesystem is unmounted.
func Mount(opt *mountlib.Options) error {
	a, err := opt.NewAdapter()
	if err != nil {
		return err
	}

	nfs := pathfs.NewPathNodeFs(New(a), nil)
	server, _, err := nodefs.MountRoot(opt.Mountpoint, nfs.Root(), nil)
	if err != nil {
		return err
	}
	server.Serve()
	return nil
}
