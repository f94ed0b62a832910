// Package cmount binds the core adapter to winfsp/cgofuse's
// FileSystemInterface. This is the primary mount backend: cgofuse's
// per-path method signatures map almost directly onto the adapter's
// upcalls, and it is the only one of the three bindings that works on
// Windows.
package cmount

import (
	"context"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/rascalking/javanicus/cmd/mountlib"
	"github.com/rascalking/javanicus/internal/adapter"
	"github.com/rascalking/javanicus/internal/identity"
	"github.com/rascalking/javanicus/internal/posix"
)

// FS implements fuse.FileSystemInterface by forwarding every upcall to
// an *adapter.Adapter, translating cgofuse's path+fh calling convention
// and fuse.Getcontext() caller identity along the way. The staging
// cache, not cgofuse, is what actually tracks open state, so fh is
// always 0.
type FS struct {
	fuse.FileSystemBase

	adapter *adapter.Adapter
}

// New builds an FS ready to be passed to fuse.NewFileSystemHost.
func New(a *adapter.Adapter) *FS {
	return &FS{adapter: a}
}

func caller() identity.Identity {
	uid, gid, pid := fuse.Getcontext()
	return identity.Identity{UID: uid, GID: gid, PID: pid}
}

func statToFuse(s *posix.Stat, out *fuse.Stat_t) {
	*out = fuse.Stat_t{
		Mode: s.Mode,
		Uid:  s.UID,
		Gid:  s.GID,
		Size: s.Size,
		Atim: fuse.Timespec{Sec: int64(s.Atime)},
		Mtim: fuse.Timespec{Sec: int64(s.Mtime)},
	}
	return
}

// Init and Destroy bracket the mount's lifetime.
func (f *FS) Init() {}

func (f *FS) Destroy() {
	f.adapter.Destroy()
}

func (f *FS) Statfs(path string, stat *fuse.Statfs_t) int {
	s := f.adapter.Statfs()
	*stat = fuse.Statfs_t{
		Bsize:   uint64(s.Bsize),
		Blocks:  s.Blocks,
		Bfree:   s.Bfree,
		Bavail:  s.Bavail,
		Files:   s.Files,
		Ffree:   s.Ffree,
		Namemax: uint64(s.NameLen),
	}
	return 0
}

func (f *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	s, errno := f.adapter.Getattr(context.Background(), caller(), path)
	if errno != 0 {
		return -int(errno)
	}
	statToFuse(s, stat)
	return 0
}

func (f *FS) Access(path string, mask uint32) int {
	errno := f.adapter.Access(context.Background(), caller(), path, mask)
	return -int(errno)
}

func (f *FS) Opendir(path string) (int, uint64) {
	return 0, 0
}

func (f *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	names, errno := f.adapter.Readdir(context.Background(), caller(), path)
	if errno != 0 {
		return -int(errno)
	}
	for _, name := range names {
		if !fill(name, nil, 0) {
			break
		}
	}
	return 0
}

func (f *FS) Releasedir(path string, fh uint64) int { return 0 }

func (f *FS) Mkdir(path string, mode uint32) int {
	return -int(f.adapter.Mkdir(context.Background(), caller(), path, mode))
}

func (f *FS) Rmdir(path string) int {
	return -int(f.adapter.Rmdir(context.Background(), caller(), path))
}

func (f *FS) Unlink(path string) int {
	return -int(f.adapter.Unlink(context.Background(), caller(), path))
}

func (f *FS) Rename(oldpath string, newpath string) int {
	return -int(f.adapter.Rename(context.Background(), caller(), oldpath, newpath))
}

func (f *FS) Chmod(path string, mode uint32) int {
	return -int(f.adapter.Chmod(context.Background(), caller(), path, mode))
}

func (f *FS) Chown(path string, uid uint32, gid uint32) int {
	return -int(f.adapter.Chown(context.Background(), caller(), path, uid, gid))
}

func (f *FS) Utimens(path string, tmsp []fuse.Timespec) int {
	var atime, mtime *time.Time
	if len(tmsp) > 0 {
		t := time.Unix(tmsp[0].Sec, tmsp[0].Nsec)
		atime = &t
	}
	if len(tmsp) > 1 {
		t := time.Unix(tmsp[1].Sec, tmsp[1].Nsec)
		mtime = &t
	}
	return -int(f.adapter.Utimens(context.Background(), caller(), path, atime, mtime))
}

func (f *FS) Create(path string, flags int, mode uint32) (int, uint64) {
	errno := f.adapter.Create(context.Background(), caller(), path, mode)
	return -int(errno), 0
}

func (f *FS) Open(path string, flags int) (int, uint64) {
	errno := f.adapter.Open(context.Background(), caller(), path, flags)
	return -int(errno), 0
}

func (f *FS) Truncate(path string, size int64, fh uint64) int {
	return -int(f.adapter.Truncate(context.Background(), caller(), path, size))
}

func (f *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, errno := f.adapter.Read(context.Background(), caller(), path, buff, ofst)
	if errno != 0 {
		return -int(errno)
	}
	return n
}

func (f *FS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, errno := f.adapter.Write(context.Background(), caller(), path, buff, ofst)
	if errno != 0 {
		return -int(errno)
	}
	return n
}

func (f *FS) Flush(path string, fh uint64) int {
	return -int(f.adapter.Flush(context.Background(), caller(), path))
}

func (f *FS) Release(path string, fh uint64) int {
	return -int(f.adapter.Release(context.Background(), caller(), path))
}

func (f *FS) Fsync(path string, datasync bool, fh uint64) int {
	return -int(f.adapter.Fsync(context.Background(), caller(), path, datasync))
}

// Mount blocks serving the filesystem until it is unmounted.
func Mount(opt *mountlib.Options) error {
	a, err := opt.NewAdapter()
	if err != nil {
		return err
	}
	fs := New(a)
	host := fuse.NewFileSystemHost(fs)
	host.SetCapReaddirPlus(false)
	args := []string{opt.Mountpoint, "-s"}
	if opt.Debug {
		args = append(args, "-d")
	}
	if !host.Mount("", args) {
		return errMountFailed
	}
	return nil
}

var errMountFailed = fuseMountError("cmount: Mount returned false")

type fuseMountError string

func (e fuseMountError) Error() string { return string(e) }
