// Package mount binds the core adapter to bazil.org/fuse. Unlike
// cgofuse's flat path dispatch, bazil.org/fuse models a node tree, so
// this backend wraps every path in a stateless Node that re-resolves
// itself against the adapter on every call rather than caching any
// FUSE-side state. The staging cache is the only place state lives.
package mount

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/rascalking/javanicus/cmd/mountlib"
	"github.com/rascalking/javanicus/internal/adapter"
	"github.com/rascalking/javanicus/internal/identity"
	"github.com/rascalking/javanicus/internal/posix"
)

// FS is the bazil.org/fuse filesystem root.
type FS struct {
	adapter *adapter.Adapter
}

// Root implements fusefs.FS.
func (f *FS) Root() (fusefs.Node, error) {
	return &Node{fs: f, path: "/"}, nil
}

// Node is a path keyed into the shared adapter; it carries no state of
// its own beyond the path, so two Nodes for the same path are
// interchangeable.
type Node struct {
	fs   *FS
	path string
}

func callerOf(h fuse.Header) identity.Identity {
	return identity.Identity{UID: h.Uid, GID: h.Gid, PID: uint32(h.Pid)}
}

func childPath(parent string, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func applyStat(a *fuse.Attr, s *posix.Stat) {
	a.Size = uint64(s.Size)
	a.Mode = os.FileMode(s.Mode & 0o777)
	if s.Mode&posix.ModeDir != 0 {
		a.Mode |= os.ModeDir
	}
	a.Uid = s.UID
	a.Gid = s.GID
	a.Atime = time.Unix(int64(s.Atime), 0)
	a.Mtime = time.Unix(int64(s.Mtime), 0)
	a.Ctime = a.Mtime
}

// Attr implements fusefs.Node.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	s, errno := n.fs.adapter.Getattr(ctx, identity.Identity{}, n.path)
	if errno != 0 {
		return errno
	}
	applyStat(a, s)
	return nil
}

// Lookup implements fusefs.NodeStringLookuper.
func (n *Node) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	child := childPath(n.path, name)
	if _, errno := n.fs.adapter.Getattr(ctx, identity.Identity{}, child); errno != 0 {
		return nil, errno
	}
	return &Node{fs: n.fs, path: child}, nil
}

// ReadDirAll implements fusefs.HandleReadDirAller.
func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, errno := n.fs.adapter.Readdir(ctx, identity.Identity{}, n.path)
	if errno != 0 {
		return nil, errno
	}
	var dirents []fuse.Dirent
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		dirents = append(dirents, fuse.Dirent{Name: name})
	}
	return dirents, nil
}

// Access implements fusefs.NodeAccesser.
func (n *Node) Access(ctx context.Context, req *fuse.AccessRequest) error {
	errno := n.fs.adapter.Access(ctx, callerOf(req.Header), n.path, req.Mask)
	if errno != 0 {
		return errno
	}
	return nil
}

// Mkdir implements fusefs.NodeMkdirer.
func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child := childPath(n.path, req.Name)
	if errno := n.fs.adapter.Mkdir(ctx, callerOf(req.Header), child, uint32(req.Mode.Perm())); errno != 0 {
		return nil, errno
	}
	return &Node{fs: n.fs, path: child}, nil
}

// Remove implements fusefs.NodeRemover, handling both unlink and rmdir.
func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child := childPath(n.path, req.Name)
	caller := callerOf(req.Header)
	var errno syscall.Errno
	if req.Dir {
		errno = n.fs.adapter.Rmdir(ctx, caller, child)
	} else {
		errno = n.fs.adapter.Unlink(ctx, caller, child)
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// Rename implements fusefs.NodeRenamer.
func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	newParent, ok := newDir.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	oldPath := childPath(n.path, req.OldName)
	newPath := childPath(newParent.path, req.NewName)
	if errno := n.fs.adapter.Rename(ctx, callerOf(req.Header), oldPath, newPath); errno != 0 {
		return errno
	}
	return nil
}

// Setattr implements fusefs.NodeSetattrer: chmod, chown, utimens and
// truncate all arrive through a single bazil.org/fuse request, so they
// are dispatched individually depending on req.Valid.
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	caller := callerOf(req.Header)

	if req.Valid.Mode() {
		if errno := n.fs.adapter.Chmod(ctx, caller, n.path, uint32(req.Mode.Perm())); errno != 0 {
			return errno
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		if errno := n.fs.adapter.Chown(ctx, caller, n.path, req.Uid, req.Gid); errno != 0 {
			return errno
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		var atime, mtime *time.Time
		if req.Valid.Atime() {
			atime = &req.Atime
		}
		if req.Valid.Mtime() {
			mtime = &req.Mtime
		}
		if errno := n.fs.adapter.Utimens(ctx, caller, n.path, atime, mtime); errno != 0 {
			return errno
		}
	}
	if req.Valid.Size() {
		if errno := n.fs.adapter.Truncate(ctx, caller, n.path, int64(req.Size)); errno != 0 {
			return errno
		}
	}

	s, errno := n.fs.adapter.Getattr(ctx, caller, n.path)
	if errno != 0 {
		return errno
	}
	applyStat(&resp.Attr, s)
	return nil
}

// Create implements fusefs.NodeCreater.
func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child := childPath(n.path, req.Name)
	caller := callerOf(req.Header)
	if errno := n.fs.adapter.Create(ctx, caller, child, uint32(req.Mode.Perm())); errno != 0 {
		return nil, nil, errno
	}
	node := &Node{fs: n.fs, path: child}
	return node, node, nil
}

// Open implements fusefs.NodeOpener.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if errno := n.fs.adapter.Open(ctx, callerOf(req.Header), n.path, int(req.Flags)); errno != 0 {
		return nil, errno
	}
	return n, nil
}

// Read implements fusefs.HandleReader.
func (n *Node) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	nread, errno := n.fs.adapter.Read(ctx, callerOf(req.Header), n.path, buf, req.Offset)
	if errno != 0 {
		return errno
	}
	resp.Data = buf[:nread]
	return nil
}

// Write implements fusefs.HandleWriter.
func (n *Node) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	nwritten, errno := n.fs.adapter.Write(ctx, callerOf(req.Header), n.path, req.Data, req.Offset)
	if errno != 0 {
		return errno
	}
	resp.Size = nwritten
	return nil
}

// Flush implements fusefs.HandleFlusher.
func (n *Node) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	if errno := n.fs.adapter.Flush(ctx, callerOf(req.Header), n.path); errno != 0 {
		return errno
	}
	return nil
}

// Fsync implements fusefs.NodeFsyncer.
func (n *Node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	if errno := n.fs.adapter.Fsync(ctx, callerOf(req.Header), n.path, req.Flags != 0); errno != 0 {
		return errno
	}
	return nil
}

// Release implements fusefs.HandleReleaser.
func (n *Node) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if errno := n.fs.adapter.Release(ctx, callerOf(req.Header), n.path); errno != 0 {
		return errno
	}
	return nil
}

// Mount attaches the filesystem, serves until unmount or a termination
// signal, then tears the adapter down.
func Mount(opt *mountlib.Options) error {
	a, err := opt.NewAdapter()
	if err != nil {
		return err
	}

	c, err := fuse.Mount(opt.Mountpoint, fuse.FSName("javanicus"), fuse.Subtype("javanicusfs"))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = fuse.Unmount(opt.Mountpoint)
	}()

	filesys := &FS{adapter: a}
	if err := fusefs.Serve(c, filesys); err != nil {
		a.Destroy()
		return err
	}

	<-c.Ready
	a.Destroy()
	return c.MountError
}
